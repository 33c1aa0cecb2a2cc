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
	"bytes"
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// bucketSorter is a most significant byte first radix sort over an
// oxArray. Equal keys keep their order.
type bucketSorter struct {
	_a   *oxArray
	_tmp *oxArray
	_io  []int64
	_ix  []byte
}

func newBucketSorter(a *oxArray) *bucketSorter {
	return &bucketSorter{_a: a}
}

func (s *bucketSorter) scratch() *oxArray {
	if s._tmp == nil {
		s._tmp = newOXArray(s._a._n, s._a._batchSize, s._a._keySize)
	}
	return s._tmp
}

// sort orders rows [from,from+n) whose keys agree before byte b.
func (s *bucketSorter) sort(from, n int64, b int) error {
	a := s._a
	ks := a._keySize
	if n < 2 || b >= ks {
		return nil
	}
	if n < INSERTION_SORT_THRESHOLD {
		return s.insert(from, n, b)
	}
	var counts [NBUCKET]int64
	for i := from; i < from+n; i++ {
		counts[a.key(i)[b]]++
	}
	var sum int64
	for _, cnt := range counts {
		if cnt == n {
			return s.sort(from, n, b+1)
		}
		sum += cnt
	}
	if sum != n {
		return invariantf("byte %d histogram sums to %d of %d rows", b, sum, n)
	}
	var pos [NBUCKET]int64
	acc := from
	for c, cnt := range counts {
		pos[c] = acc
		acc += cnt
	}
	tmp := s.scratch()
	for i := from; i < from+n; i++ {
		key := a.key(i)
		c := key[b]
		tmp.set(pos[c], a.order(i), key)
		pos[c]++
	}
	if err := runCopy(a, from, tmp, from, n); err != nil {
		return err
	}
	acc = from
	for _, cnt := range counts {
		if cnt > 1 {
			if err := s.sort(acc, cnt, b+1); err != nil {
				return err
			}
		}
		acc += cnt
	}
	return nil
}

// insert sorts a small partition. A partition that straddles a batch
// boundary is sorted in contiguous scratch and copied back.
func (s *bucketSorter) insert(from, n int64, b int) error {
	a := s._a
	ks := a._keySize
	first, off := a.locate(from)
	last, _ := a.locate(from + n - 1)
	if first == last {
		c := int(n)
		insertSort(a._o[first][off:off+c], a._x[first][off*ks:(off+c)*ks], ks, b)
		return nil
	}
	if cap(s._io) < int(n) {
		s._io = make([]int64, INSERTION_SORT_THRESHOLD)
		s._ix = make([]byte, INSERTION_SORT_THRESHOLD*ks)
	}
	scratch := contiguousOXArray(s._io[:n], s._ix[:int(n)*ks], ks)
	if err := runCopy(scratch, 0, a, from, n); err != nil {
		return err
	}
	insertSort(scratch._o[0], scratch._x[0], ks, b)
	return runCopy(a, from, scratch, 0, n)
}

// insertSort sorts by key bytes [b,ks). Only strictly greater keys move.
func insertSort(o []int64, x []byte, ks int, b int) {
	tmp := make([]byte, ks)
	for i := 1; i < len(o); i++ {
		if bytes.Compare(x[(i-1)*ks+b:i*ks], x[i*ks+b:(i+1)*ks]) <= 0 {
			continue
		}
		ov := o[i]
		copy(tmp, x[i*ks:(i+1)*ks])
		j := i - 1
		for ; j >= 0 && bytes.Compare(x[j*ks+b:(j+1)*ks], tmp[b:]) > 0; j-- {
			o[j+1] = o[j]
			copy(x[(j+1)*ks:(j+2)*ks], x[j*ks:(j+1)*ks])
		}
		o[j+1] = ov
		copy(x[(j+1)*ks:(j+2)*ks], tmp)
	}
}

// countGroups counts distinct keys of a sorted array.
func countGroups(a *oxArray) int64 {
	if a._n == 0 {
		return 0
	}
	groups := int64(1)
	for i := int64(1); i < a._n; i++ {
		if !bytes.Equal(a.key(i-1), a.key(i)) {
			groups++
		}
	}
	return groups
}

// verifySorted checks key order and, among equal keys, row order.
func verifySorted(a *oxArray) error {
	for i := int64(1); i < a._n; i++ {
		cmp := bytes.Compare(a.key(i-1), a.key(i))
		if cmp > 0 {
			return invariantf("keys out of order at %d", i)
		}
		if cmp == 0 && a.order(i-1) >= a.order(i) {
			return invariantf("equal keys lost row order at %d: %d before %d", i, a.order(i-1), a.order(i))
		}
	}
	return nil
}

type contribution struct {
	chunk int
	node  int
	rows  int64
}

// sortBuckets sorts every non empty bucket on its owner.
func (op *operation) sortBuckets(ctx context.Context, st *sideState) error {
	var futs cluster.Futures
	for b := 0; b < NBUCKET; b++ {
		if st._bucketRows[b] == 0 {
			continue
		}
		msb := b
		futs.Add(op._cl.RunOn(ctx, owner(msb, op._nodes), func(ctx context.Context, node *cluster.Node) error {
			hdr, err := op.sortBucket(ctx, node, st, msb)
			if err != nil {
				return err
			}
			st._sorted[msb] = hdr
			return nil
		}))
	}
	return remoteErr(futs.BlockForPending())
}

// sortBucket reassembles bucket msb from all contributing nodes in global
// chunk order, sorts it and publishes the sorted batches.
func (op *operation) sortBucket(ctx context.Context, node *cluster.Node, st *sideState, msb int) (*OXHeader, error) {
	if err := util.Trigger(util.FAULTS_SCOPE_RADIX, "radix.sort.bucket"); err != nil {
		return nil, err
	}
	enc := st._enc
	bs := enc.BatchSize()
	ks := enc.KeySize()
	vec := st.keyChunkVec()

	var pieces []contribution
	sources := make(map[int]*oxArray)
	for n := 0; n < op._nodes; n++ {
		nodeRows := st._nodeRows[n][msb]
		if nodeRows == 0 {
			continue
		}
		blob, ok, err := op._cl.GetAndRemove(ctx, oxHeaderKey(op._id, st._side, msb, n, op._nodes))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invariantf("bucket %d misses the header of node %d", msb, n)
		}
		hdr, err := decodeMSBNodeHeader(blob)
		if err != nil {
			return nil, err
		}
		local := vec.LocalChunks(n)
		if len(hdr.ChunkCounts) != len(local) {
			return nil, invariantf("bucket %d node %d header has %d chunks, node holds %d",
				msb, n, len(hdr.ChunkCounts), len(local))
		}
		if sum := util.Sum(hdr.ChunkCounts); sum != nodeRows {
			return nil, invariantf("bucket %d node %d sent %d rows, histogram %d", msb, n, sum, nodeRows)
		}
		nb := util.BatchCount(nodeRows, bs)
		batches := make([]*OXBatch, nb)
		for k := range batches {
			blob, ok, err = op._cl.GetAndRemove(ctx, oxBatchKey(op._id, st._side, msb, n, k, op._nodes))
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, invariantf("bucket %d misses batch %d of node %d", msb, k, n)
			}
			if batches[k], err = decodeOXBatch(blob, ks); err != nil {
				return nil, err
			}
		}
		src, err := oxArrayFromBatches(batches, bs, ks)
		if err != nil {
			return nil, err
		}
		if src.Len() != nodeRows {
			return nil, invariantf("bucket %d node %d batches hold %d rows, histogram %d",
				msb, n, src.Len(), nodeRows)
		}
		sources[n] = src
		for i, cnt := range hdr.ChunkCounts {
			if cnt > 0 {
				pieces = append(pieces, contribution{chunk: local[i], node: n, rows: cnt})
			}
		}
	}
	sort.Slice(pieces, func(i, j int) bool {
		return pieces[i].chunk < pieces[j].chunk
	})

	total := st._bucketRows[msb]
	a := newOXArray(total, bs, ks)
	srcPos := make(map[int]int64, len(sources))
	dstPos := int64(0)
	for _, p := range pieces {
		if err := runCopy(a, dstPos, sources[p.node], srcPos[p.node], p.rows); err != nil {
			return nil, err
		}
		srcPos[p.node] += p.rows
		dstPos += p.rows
	}
	if dstPos != total {
		return nil, invariantf("bucket %d reassembled %d rows of %d", msb, dstPos, total)
	}

	// byte 0 is fixed by the bucket.
	if err := newBucketSorter(a).sort(0, total, 1); err != nil {
		return nil, err
	}
	if op._opts.Verify {
		if err := verifySorted(a); err != nil {
			return nil, err
		}
	}
	hdr := &OXHeader{
		NBatch:    int32(len(a._o)),
		NumRows:   total,
		BatchSize: int32(bs),
		NGroup:    countGroups(a),
	}

	var futs cluster.Futures
	for k, batch := range a.batches() {
		blob, err := encodeOXBatch(batch)
		if err != nil {
			_ = futs.BlockForPending()
			return nil, err
		}
		futs.Add(op._cl.Put(ctx, sortedBatchKey(op._id, st._side, msb, k, op._nodes), blob))
	}
	futs.Add(op._cl.Put(ctx, sortedHeaderKey(op._id, st._side, msb, op._nodes), encodeOXHeader(hdr)))
	if err := futs.BlockForPending(); err != nil {
		return nil, err
	}
	op._opts.Metrics.bucketSorted()
	util.Debug("bucket sorted",
		zap.String("op", op._id),
		zap.Stringer("side", st._side),
		zap.Int("msb", msb),
		zap.Int("node", node.Idx()),
		zap.Int64("rows", total),
		zap.Int64("groups", hdr.NGroup))
	return hdr, nil
}

// readSorted fetches and deletes the sorted batches of a bucket.
func (op *operation) readSorted(ctx context.Context, st *sideState, msb int) (*oxArray, error) {
	enc := st._enc
	if st._bucketRows[msb] == 0 {
		return newOXArray(0, enc.BatchSize(), enc.KeySize()), nil
	}
	blob, ok, err := op._cl.GetAndRemove(ctx, sortedHeaderKey(op._id, st._side, msb, op._nodes))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invariantf("sorted header of bucket %d missing", msb)
	}
	hdr, err := decodeOXHeader(blob)
	if err != nil {
		return nil, err
	}
	batches := make([]*OXBatch, hdr.NBatch)
	for k := range batches {
		blob, ok, err = op._cl.GetAndRemove(ctx, sortedBatchKey(op._id, st._side, msb, k, op._nodes))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invariantf("sorted batch %d of bucket %d missing", k, msb)
		}
		if batches[k], err = decodeOXBatch(blob, enc.KeySize()); err != nil {
			return nil, err
		}
	}
	a, err := oxArrayFromBatches(batches, int(hdr.BatchSize), enc.KeySize())
	if err != nil {
		return nil, err
	}
	if a.Len() != hdr.NumRows {
		return nil, invariantf("sorted bucket %d holds %d rows, header %d", msb, a.Len(), hdr.NumRows)
	}
	return a, nil
}
