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
package frame

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"

	"github.com/daviszhen/radixmerge/pkg/common"
	"github.com/daviszhen/radixmerge/pkg/util"
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
}

// Chunk is the decoded view of one column chunk.
// BIGINT and ENUM keep int64 values, DOUBLE keeps float64 with NaN as NA,
// VARCHAR keeps strings. NA of BIGINT, ENUM and VARCHAR lives in the mask.
type Chunk struct {
	_kind common.LTypeId
	_len  int
	_i64  []int64
	_f64  []float64
	_str  []string
	_mask util.Bitmap
}

func (chk *Chunk) Kind() common.LTypeId {
	return chk._kind
}

func (chk *Chunk) Len() int {
	return chk._len
}

func (chk *Chunk) IsNA(i int) bool {
	if chk._kind == common.LTID_DOUBLE {
		return math.IsNaN(chk._f64[i])
	}
	return !chk._mask.RowIsValid(uint64(i))
}

// At8 returns the integer value, or NAInt64 for NA.
func (chk *Chunk) At8(i int) int64 {
	switch chk._kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		if !chk._mask.RowIsValid(uint64(i)) {
			return common.NAInt64
		}
		return chk._i64[i]
	case common.LTID_DOUBLE:
		v := chk._f64[i]
		if math.IsNaN(v) {
			return common.NAInt64
		}
		return int64(v)
	default:
		panic("usp at8 on " + chk._kind.String())
	}
}

// AtD returns the value as double, or NaN for NA.
func (chk *Chunk) AtD(i int) float64 {
	switch chk._kind {
	case common.LTID_DOUBLE:
		return chk._f64[i]
	case common.LTID_BIGINT, common.LTID_ENUM:
		if !chk._mask.RowIsValid(uint64(i)) {
			return common.NADouble()
		}
		return float64(chk._i64[i])
	default:
		panic("usp atd on " + chk._kind.String())
	}
}

func (chk *Chunk) AtStr(i int) string {
	util.AssertFunc(chk._kind == common.LTID_VARCHAR)
	return chk._str[i]
}

// Value returns the row as a go value. NA is nil.
func (chk *Chunk) Value(i int) any {
	if chk.IsNA(i) {
		return nil
	}
	switch chk._kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		return chk._i64[i]
	case common.LTID_DOUBLE:
		return chk._f64[i]
	case common.LTID_VARCHAR:
		return chk._str[i]
	default:
		panic("usp kind " + chk._kind.String())
	}
}

// Encode serializes the chunk and compresses it with zstd.
func (chk *Chunk) Encode() ([]byte, error) {
	serial := util.NewMemSerialize(chk._len*8 + 64)
	err := util.Write[int32](int32(chk._kind), serial)
	if err != nil {
		return nil, err
	}
	err = util.Write[uint32](uint32(chk._len), serial)
	if err != nil {
		return nil, err
	}
	err = util.WriteSlice[uint8](chk._mask.Bits, serial)
	if err != nil {
		return nil, err
	}
	switch chk._kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		err = util.WriteSlice[int64](chk._i64, serial)
	case common.LTID_DOUBLE:
		err = util.WriteSlice[float64](chk._f64, serial)
	case common.LTID_VARCHAR:
		for _, s := range chk._str {
			if err = util.WriteString(s, serial); err != nil {
				break
			}
		}
	default:
		err = errors.Newf("usp chunk kind %s", chk._kind)
	}
	if err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(serial.Bytes(), nil), nil
}

func DecodeChunk(blob []byte) (*Chunk, error) {
	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompress chunk")
	}
	deserial := util.NewMemDeserialize(raw)
	var kind int32
	var cnt uint32
	if err = util.Read[int32](&kind, deserial); err != nil {
		return nil, err
	}
	if err = util.Read[uint32](&cnt, deserial); err != nil {
		return nil, err
	}
	chk := &Chunk{_kind: common.LTypeId(kind), _len: int(cnt)}
	bits, err := util.ReadSlice[uint8](deserial)
	if err != nil {
		return nil, err
	}
	if len(bits) != 0 {
		chk._mask.Bits = bits
	}
	switch chk._kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		chk._i64, err = util.ReadSlice[int64](deserial)
	case common.LTID_DOUBLE:
		chk._f64, err = util.ReadSlice[float64](deserial)
	case common.LTID_VARCHAR:
		chk._str = make([]string, cnt)
		for i := range chk._str {
			if chk._str[i], err = util.ReadString(deserial); err != nil {
				break
			}
		}
	default:
		err = errors.Newf("usp chunk kind %d", kind)
	}
	if err != nil {
		return nil, err
	}
	return chk, nil
}

// storedChunk is what a node keeps: the compressed blob, decoded on first use.
type storedChunk struct {
	_blob []byte
	_once sync.Once
	_chk  *Chunk
	_err  error
}

func (sc *storedChunk) chunk() (*Chunk, error) {
	sc._once.Do(func() {
		sc._chk, sc._err = DecodeChunk(sc._blob)
	})
	return sc._chk, sc._err
}

func (sc *storedChunk) size() int {
	return len(sc._blob)
}

// ChunkBuilder accumulates one column chunk row by row.
type ChunkBuilder struct {
	_chk *Chunk
}

func NewChunkBuilder(kind common.LTypeId, capacity int) *ChunkBuilder {
	chk := &Chunk{_kind: kind}
	switch kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		chk._i64 = make([]int64, 0, capacity)
	case common.LTID_DOUBLE:
		chk._f64 = make([]float64, 0, capacity)
	case common.LTID_VARCHAR:
		chk._str = make([]string, 0, capacity)
	default:
		panic("usp kind " + kind.String())
	}
	return &ChunkBuilder{_chk: chk}
}

func (b *ChunkBuilder) Len() int {
	return b._chk._len
}

func (b *ChunkBuilder) grow() {
	b._chk._len++
	b._chk._mask.Grow(b._chk._len)
}

// AddNum appends an integer. NAInt64 is stored as NA.
func (b *ChunkBuilder) AddNum(v int64) {
	if v == common.NAInt64 {
		b.AddNA()
		return
	}
	chk := b._chk
	switch chk._kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		chk._i64 = append(chk._i64, v)
	case common.LTID_DOUBLE:
		chk._f64 = append(chk._f64, float64(v))
	default:
		panic("usp addnum on " + chk._kind.String())
	}
	b.grow()
}

// AddDouble appends a double. NaN is stored as NA.
func (b *ChunkBuilder) AddDouble(v float64) {
	if math.IsNaN(v) {
		b.AddNA()
		return
	}
	chk := b._chk
	switch chk._kind {
	case common.LTID_DOUBLE:
		chk._f64 = append(chk._f64, v)
	case common.LTID_BIGINT, common.LTID_ENUM:
		chk._i64 = append(chk._i64, int64(v))
	default:
		panic("usp adddouble on " + chk._kind.String())
	}
	b.grow()
}

func (b *ChunkBuilder) AddStr(s string) {
	chk := b._chk
	util.AssertFunc(chk._kind == common.LTID_VARCHAR)
	chk._str = append(chk._str, s)
	b.grow()
}

func (b *ChunkBuilder) AddNA() {
	chk := b._chk
	switch chk._kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		chk._i64 = append(chk._i64, 0)
	case common.LTID_DOUBLE:
		chk._f64 = append(chk._f64, common.NADouble())
		b.grow()
		return
	case common.LTID_VARCHAR:
		chk._str = append(chk._str, "")
	}
	idx := chk._len
	b.grow()
	chk._mask.SetInvalid(uint64(idx), chk._len)
}

// Add appends a go value. nil is NA.
func (b *ChunkBuilder) Add(v any) error {
	switch val := v.(type) {
	case nil:
		b.AddNA()
	case int:
		b.AddNum(int64(val))
	case int32:
		b.AddNum(int64(val))
	case int64:
		b.AddNum(val)
	case float32:
		b.AddDouble(float64(val))
	case float64:
		b.AddDouble(val)
	case string:
		if b._chk._kind != common.LTID_VARCHAR {
			return errors.Newf("string value for %s column", b._chk._kind)
		}
		b.AddStr(val)
	default:
		return errors.Newf("usp value type %T", v)
	}
	return nil
}

// Build hands out the chunk. The builder must not be used afterwards.
func (b *ChunkBuilder) Build() *Chunk {
	chk := b._chk
	b._chk = nil
	return chk
}
