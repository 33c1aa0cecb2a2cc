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
	"context"
	"math"
	"math/big"

	"github.com/huandu/go-clone"

	"github.com/daviszhen/radixmerge/pkg/common"
	"github.com/daviszhen/radixmerge/pkg/frame"
)

// KeyColumn is the encoding of one key column.
//
// A value v is first mapped to a signed key value x: integers and codes
// map to v, or -v when descending. Doubles map through an order preserving
// bit pattern of v, or -v when descending. Left categorical codes are first
// translated through IDMap. The encoded field is x-Base+1 in BytesUsed big
// endian bytes. 0 is NA. The bucket of a row is field>>Shift of the first
// key column.
type KeyColumn struct {
	Col       int
	Kind      common.LTypeId
	Ascending bool
	Base      *big.Int
	Shift     int
	BytesUsed int
	IDMap     []int

	_base int64
}

func (kc *KeyColumn) value(chk *frame.Chunk, i int) int64 {
	switch kc.Kind {
	case common.LTID_BIGINT:
		v := chk.At8(i)
		if !kc.Ascending {
			v = -v
		}
		return v
	case common.LTID_ENUM:
		v := chk.At8(i)
		if kc.IDMap != nil {
			v = int64(kc.IDMap[v])
		}
		if !kc.Ascending {
			v = -v
		}
		return v
	case common.LTID_DOUBLE:
		d := chk.AtD(i)
		if !kc.Ascending {
			d = -d
		}
		return orderedDouble(d)
	default:
		panic("usp key kind " + kc.Kind.String())
	}
}

func (kc *KeyColumn) field(chk *frame.Chunk, i int) uint64 {
	if chk.IsNA(i) {
		return 0
	}
	return uint64(kc.value(chk, i)) - uint64(kc._base) + 1
}

// orderedDouble maps doubles to int64 keeping the order. -0 equals 0.
func orderedDouble(d float64) int64 {
	if d == 0 {
		d = 0
	}
	bits := math.Float64bits(d)
	if bits>>63 != 0 {
		bits ^= math.MaxInt64
	}
	return int64(bits)
}

// computeShift derives base and shift for the range [lo,hi]. chk is the
// bucket count the pair yields, which must stay below 256.
func computeShift(lo, hi *big.Int, extra int) (base *big.Int, shift int, chk *big.Int) {
	rng := new(big.Int).Sub(hi, lo)
	rng.Add(rng, big.NewInt(1))
	shift = max(rng.BitLen()-8+extra, 0)
	base = new(big.Int).Rsh(lo, uint(shift))
	base.Lsh(base, uint(shift))
	chk = new(big.Int).Sub(hi, base)
	chk.Add(chk, big.NewInt(2))
	chk.Rsh(chk, uint(shift))
	return
}

// fitColumn finds the encoding of [lo,hi]. When aligning base down to a
// multiple of 2^shift pushes the range over 256 buckets, it retries once
// with one more bit.
func fitColumn(kc *KeyColumn, lo, hi *big.Int) error {
	limit := big.NewInt(NBUCKET)
	for extra := 0; extra < 2; extra++ {
		base, shift, chk := computeShift(lo, hi, extra)
		if chk.Cmp(limit) >= 0 {
			continue
		}
		bytesUsed := (shift + 15) / 8
		if bytesUsed > MAX_FIELD_BYTES {
			return configErrorf("key column %d range [%s,%s] needs %d bytes",
				kc.Col, lo, hi, bytesUsed)
		}
		kc.Base = base
		kc.Shift = shift
		kc.BytesUsed = bytesUsed
		kc._base = base.Int64()
		return nil
	}
	return configErrorf("key column %d range [%s,%s] does not fit 256 buckets", kc.Col, lo, hi)
}

// keyRange is the range of key values of a column. ok is false when every
// row is NA.
func keyRange(ctx context.Context, vec *frame.Vec, kc *KeyColumn) (lo, hi *big.Int, ok bool, err error) {
	stats, err := vec.RollupStats(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	if stats.AllNA() {
		return nil, nil, false, nil
	}
	var l, h int64
	switch kc.Kind {
	case common.LTID_BIGINT:
		l, h = stats.MinInt, stats.MaxInt
	case common.LTID_ENUM:
		l, h = stats.MinInt, stats.MaxInt
		if l < 0 {
			return nil, nil, false, configErrorf("key column %d has negative code %d", kc.Col, l)
		}
		if kc.IDMap != nil {
			if h >= int64(len(kc.IDMap)) {
				return nil, nil, false, configErrorf("key column %d code %d outside id map of %d",
					kc.Col, h, len(kc.IDMap))
			}
			l, h = math.MaxInt64, math.MinInt64
			for c := stats.MinInt; c <= stats.MaxInt; c++ {
				l = min(l, int64(kc.IDMap[c]))
				h = max(h, int64(kc.IDMap[c]))
			}
		}
	case common.LTID_DOUBLE:
		dl, dh := stats.Min, stats.Max
		if !kc.Ascending {
			dl, dh = -dh, -dl
		}
		return big.NewInt(orderedDouble(dl)), big.NewInt(orderedDouble(dh)), true, nil
	}
	lo, hi = big.NewInt(l), big.NewInt(h)
	if !kc.Ascending {
		lo, hi = hi.Neg(hi), lo.Neg(lo)
	}
	return lo, hi, true, nil
}

// keyEncoder builds composite keys for one frame.
type keyEncoder struct {
	_cols      []*KeyColumn
	_offsets   []int
	_keySize   int
	_batchSize int
}

func newKeyEncoder(cols []*KeyColumn, maxBatchBytes int) *keyEncoder {
	enc := &keyEncoder{_cols: cols}
	for _, kc := range cols {
		enc._offsets = append(enc._offsets, enc._keySize)
		enc._keySize += kc.BytesUsed
	}
	enc._batchSize = max(maxBatchBytes/max(enc._keySize, 8), 1)
	return enc
}

func (enc *keyEncoder) KeySize() int {
	return enc._keySize
}

func (enc *keyEncoder) BatchSize() int {
	return enc._batchSize
}

func (enc *keyEncoder) Columns() []*KeyColumn {
	return enc._cols
}

func (enc *keyEncoder) msb(chk *frame.Chunk, i int) int {
	kc := enc._cols[0]
	return int(kc.field(chk, i) >> kc.Shift)
}

// encode writes the composite key of row i into dst. chks holds the chunk
// of every key column, in key order. It returns the bucket.
func (enc *keyEncoder) encode(dst []byte, chks []*frame.Chunk, i int) int {
	msb := 0
	for j, kc := range enc._cols {
		field := kc.field(chks[j], i)
		if j == 0 {
			msb = int(field >> kc.Shift)
		}
		off := enc._offsets[j]
		for b := kc.BytesUsed - 1; b >= 0; b-- {
			dst[off+b] = byte(field)
			field >>= 8
		}
	}
	return msb
}

// hasNA reports a key with any NA field.
func (enc *keyEncoder) hasNA(key []byte) bool {
	for j, kc := range enc._cols {
		off := enc._offsets[j]
		zero := true
		for _, b := range key[off : off+kc.BytesUsed] {
			if b != 0 {
				zero = false
				break
			}
		}
		if zero {
			return true
		}
	}
	return false
}

func validateKeys(fr *frame.Frame, cols []int, asc []bool, what string) error {
	if len(cols) == 0 {
		return configErrorf("%s: empty key column list", what)
	}
	if asc != nil && len(asc) != len(cols) {
		return configErrorf("%s: %d ascending flags for %d key columns", what, len(asc), len(cols))
	}
	for _, c := range cols {
		if c < 0 || c >= fr.NumCols() {
			return configErrorf("%s: key column %d out of range [0,%d)", what, c, fr.NumCols())
		}
		if kind := fr.Vec(c).Kind(); !kind.IsKeyable() {
			return configErrorf("%s: key column %q has kind %s", what, fr.Names()[c], kind)
		}
	}
	return nil
}

func newKeyColumns(fr *frame.Frame, cols []int, asc []bool) []*KeyColumn {
	kcs := make([]*KeyColumn, len(cols))
	for i, c := range cols {
		kcs[i] = &KeyColumn{
			Col:       c,
			Kind:      fr.Vec(c).Kind(),
			Ascending: asc == nil || asc[i],
		}
	}
	return kcs
}

// newOrderEncoder encodes the key columns of one frame.
func newOrderEncoder(ctx context.Context, fr *frame.Frame, ks KeySpec, opts Options) (*keyEncoder, error) {
	if err := validateKeys(fr, ks.Cols, ks.Ascending, "order"); err != nil {
		return nil, err
	}
	kcs := newKeyColumns(fr, ks.Cols, ks.Ascending)
	for _, kc := range kcs {
		lo, hi, ok, err := keyRange(ctx, fr.Vec(kc.Col), kc)
		if err != nil {
			return nil, err
		}
		if !ok {
			lo, hi = big.NewInt(0), big.NewInt(0)
		}
		if err = fitColumn(kc, lo, hi); err != nil {
			return nil, err
		}
	}
	return newKeyEncoder(kcs, opts.MaxBatchBytes), nil
}

// newMergeEncoders encodes both sides of a join over the union of their
// ranges, so equal keys encode to equal bytes and bucket b covers the same
// key interval on both sides.
func newMergeEncoders(
	ctx context.Context,
	left, right *frame.Frame,
	spec MergeSpec,
	opts Options) (*keyEncoder, *keyEncoder, error) {
	if err := validateKeys(left, spec.LeftCols, spec.Ascending, "merge left"); err != nil {
		return nil, nil, err
	}
	if err := validateKeys(right, spec.RightCols, spec.Ascending, "merge right"); err != nil {
		return nil, nil, err
	}
	if len(spec.LeftCols) != len(spec.RightCols) {
		return nil, nil, configErrorf("merge: %d left keys vs %d right keys",
			len(spec.LeftCols), len(spec.RightCols))
	}
	if spec.LeftIDMaps != nil && len(spec.LeftIDMaps) != len(spec.LeftCols) {
		return nil, nil, configErrorf("merge: %d id maps for %d keys",
			len(spec.LeftIDMaps), len(spec.LeftCols))
	}
	lcols := newKeyColumns(left, spec.LeftCols, spec.Ascending)
	rcols := newKeyColumns(right, spec.RightCols, spec.Ascending)
	for i := range lcols {
		lkc, rkc := lcols[i], rcols[i]
		if lkc.Kind != rkc.Kind {
			return nil, nil, configErrorf("merge: key %d kinds differ, %s vs %s", i, lkc.Kind, rkc.Kind)
		}
		if lkc.Kind == common.LTID_ENUM {
			lvec, rvec := left.Vec(lkc.Col), right.Vec(rkc.Col)
			var idMap []int
			if spec.LeftIDMaps != nil {
				idMap = spec.LeftIDMaps[i]
			}
			if idMap == nil {
				idMap = MatchDomains(lvec.Domain(), rvec.Domain())
			}
			if len(idMap) < lvec.Cardinality() {
				return nil, nil, configErrorf("merge: key %d id map has %d entries, left domain %d",
					i, len(idMap), lvec.Cardinality())
			}
			lkc.IDMap = clone.Clone(idMap).([]int)
			sentinel := rvec.Cardinality()
			for c, v := range lkc.IDMap {
				if v < 0 || v >= sentinel {
					lkc.IDMap[c] = sentinel
				}
			}
		}
		llo, lhi, lok, err := keyRange(ctx, left.Vec(lkc.Col), lkc)
		if err != nil {
			return nil, nil, err
		}
		rlo, rhi, rok, err := keyRange(ctx, right.Vec(rkc.Col), rkc)
		if err != nil {
			return nil, nil, err
		}
		lo, hi := big.NewInt(0), big.NewInt(0)
		switch {
		case lok && rok:
			lo = bigMin(llo, rlo)
			hi = bigMax(lhi, rhi)
		case lok:
			lo, hi = llo, lhi
		case rok:
			lo, hi = rlo, rhi
		}
		if err = fitColumn(lkc, lo, hi); err != nil {
			return nil, nil, err
		}
		rkc.Base, rkc.Shift, rkc.BytesUsed, rkc._base = lkc.Base, lkc.Shift, lkc.BytesUsed, lkc._base
	}
	return newKeyEncoder(lcols, opts.MaxBatchBytes), newKeyEncoder(rcols, opts.MaxBatchBytes), nil
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func bigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// MatchDomains maps every left level to the index of the same level in
// right, or -1.
func MatchDomains(left, right []string) []int {
	pos := make(map[string]int, len(right))
	for i, level := range right {
		if _, has := pos[level]; !has {
			pos[level] = i
		}
	}
	ret := make([]int, len(left))
	for i, level := range left {
		if p, has := pos[level]; has {
			ret[i] = p
		} else {
			ret[i] = -1
		}
	}
	return ret
}
