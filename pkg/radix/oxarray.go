// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package radix

import (
	"github.com/daviszhen/radixmerge/pkg/util"
)

// oxArray is one logical (order, key) array stored as fixed size batches.
// Every batch but the last holds exactly batchSize rows.
type oxArray struct {
	_o         [][]int64
	_x         [][]byte
	_batchSize int
	_keySize   int
	_n         int64
}

func newOXArray(n int64, batchSize int, keySize int) *oxArray {
	a := &oxArray{_batchSize: batchSize, _keySize: keySize, _n: n}
	if n == 0 {
		return a
	}
	nb := util.BatchCount(n, batchSize)
	for k := 0; k < nb; k++ {
		rows := batchSize
		if k == nb-1 {
			rows = util.LastBatchSize(n, batchSize)
		}
		a._o = append(a._o, make([]int64, rows))
		a._x = append(a._x, make([]byte, rows*keySize))
	}
	return a
}

// contiguousOXArray wraps plain slices as a single batch array.
func contiguousOXArray(o []int64, x []byte, keySize int) *oxArray {
	return &oxArray{
		_o:         [][]int64{o},
		_x:         [][]byte{x},
		_batchSize: max(len(o), 1),
		_keySize:   keySize,
		_n:         int64(len(o)),
	}
}

// oxArrayFromBatches checks that the batches follow the fixed size layout.
func oxArrayFromBatches(batches []*OXBatch, batchSize int, keySize int) (*oxArray, error) {
	a := &oxArray{_batchSize: batchSize, _keySize: keySize}
	for k, batch := range batches {
		if k < len(batches)-1 && batch.Len() != batchSize {
			return nil, invariantf("batch %d of %d has %d rows, batch size %d",
				k, len(batches), batch.Len(), batchSize)
		}
		a._o = append(a._o, batch.Order)
		a._x = append(a._x, batch.Keys)
		a._n += int64(batch.Len())
	}
	return a, nil
}

func (a *oxArray) Len() int64 {
	return a._n
}

func (a *oxArray) locate(i int64) (int, int) {
	return int(i / int64(a._batchSize)), int(i % int64(a._batchSize))
}

func (a *oxArray) order(i int64) int64 {
	b, off := a.locate(i)
	return a._o[b][off]
}

func (a *oxArray) key(i int64) []byte {
	b, off := a.locate(i)
	ks := a._keySize
	return a._x[b][off*ks : (off+1)*ks]
}

func (a *oxArray) set(i int64, order int64, key []byte) {
	b, off := a.locate(i)
	ks := a._keySize
	a._o[b][off] = order
	copy(a._x[b][off*ks:(off+1)*ks], key)
}

func (a *oxArray) batches() []*OXBatch {
	ret := make([]*OXBatch, len(a._o))
	for k := range a._o {
		ret[k] = &OXBatch{Order: a._o[k], Keys: a._x[k]}
	}
	return ret
}

// runCopy copies n rows from src[srcFrom:] to dst[dstFrom:]. Either range
// may straddle batch boundaries.
func runCopy(dst *oxArray, dstFrom int64, src *oxArray, srcFrom int64, n int64) error {
	util.AssertFunc(dst._keySize == src._keySize)
	if dstFrom < 0 || srcFrom < 0 || n < 0 ||
		dstFrom+n > dst._n || srcFrom+n > src._n {
		return invariantf("copy of %d rows from %d/%d to %d/%d out of range",
			n, srcFrom, src._n, dstFrom, dst._n)
	}
	ks := dst._keySize
	for n > 0 {
		db, di := dst.locate(dstFrom)
		sb, si := src.locate(srcFrom)
		cnt := min(n, int64(len(dst._o[db])-di), int64(len(src._o[sb])-si))
		if cnt <= 0 {
			return invariantf("batch boundary at %d/%d gives copy of %d rows", dstFrom, srcFrom, cnt)
		}
		c := int(cnt)
		copy(dst._o[db][di:di+c], src._o[sb][si:si+c])
		copy(dst._x[db][di*ks:(di+c)*ks], src._x[sb][si*ks:(si+c)*ks])
		dstFrom += cnt
		srcFrom += cnt
		n -= cnt
	}
	return nil
}
