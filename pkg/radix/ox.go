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
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// OXBatch is a bounded slice of a bucket: global row indexes and their
// composite keys, keySize bytes each.
type OXBatch struct {
	Order []int64
	Keys  []byte
}

func newOXBatch(rows int, keySize int) *OXBatch {
	return &OXBatch{
		Order: make([]int64, rows),
		Keys:  make([]byte, rows*keySize),
	}
}

func (batch *OXBatch) Len() int {
	return len(batch.Order)
}

// OXHeader describes the sorted batches of one bucket.
type OXHeader struct {
	NBatch    int32
	NumRows   int64
	BatchSize int32
	NGroup    int64
}

// MSBNodeHeader holds, for one bucket and one contributing node, the rows
// every local chunk of that node put into the bucket, in ascending chunk
// order. Chunks that put nothing count 0.
type MSBNodeHeader struct {
	ChunkCounts []int64
}

// nodeHist is the histogram of one node: for every local chunk in
// ascending order its bucket counts. Counts are nil for empty chunks.
type nodeHist struct {
	Chunks []int32
	Counts [][]int64
}

func opPrefix(op string) string {
	return "radix/" + op + "/"
}

func histKey(op string, side Side, node int) cluster.Key {
	return cluster.Key{
		Name: fmt.Sprintf("%s%s/hist/%04d", opPrefix(op), side, node),
		Home: node,
	}
}

func oxHeaderKey(op string, side Side, msb, from, nodes int) cluster.Key {
	return cluster.Key{
		Name: fmt.Sprintf("%s%s/ox/%03d/%04d/hdr", opPrefix(op), side, msb, from),
		Home: owner(msb, nodes),
	}
}

func oxBatchKey(op string, side Side, msb, from, batch, nodes int) cluster.Key {
	return cluster.Key{
		Name: fmt.Sprintf("%s%s/ox/%03d/%04d/%06d", opPrefix(op), side, msb, from, batch),
		Home: owner(msb, nodes),
	}
}

func sortedHeaderKey(op string, side Side, msb, nodes int) cluster.Key {
	return cluster.Key{
		Name: fmt.Sprintf("%s%s/sorted/%03d/hdr", opPrefix(op), side, msb),
		Home: owner(msb, nodes),
	}
}

func sortedBatchKey(op string, side Side, msb, batch, nodes int) cluster.Key {
	return cluster.Key{
		Name: fmt.Sprintf("%s%s/sorted/%03d/%06d", opPrefix(op), side, msb, batch),
		Home: owner(msb, nodes),
	}
}

func outChunkKey(op string, msb, col, batch, nodes int) cluster.Key {
	return cluster.Key{
		Name: fmt.Sprintf("%sout/%03d/%04d/%06d", opPrefix(op), msb, col, batch),
		Home: owner(msb, nodes),
	}
}

// sealPayload compresses raw with snappy and appends an xxhash of the
// compressed bytes.
func sealPayload(raw []byte) []byte {
	compressed := snappy.Encode(nil, raw)
	blob := make([]byte, len(compressed)+8)
	copy(blob, compressed)
	binary.LittleEndian.PutUint64(blob[len(compressed):], xxhash.Sum64(compressed))
	return blob
}

func openPayload(blob []byte) ([]byte, error) {
	if len(blob) < 8 {
		return nil, invariantf("payload of %d bytes has no checksum", len(blob))
	}
	compressed := blob[:len(blob)-8]
	want := binary.LittleEndian.Uint64(blob[len(compressed):])
	if got := xxhash.Sum64(compressed); got != want {
		return nil, invariantf("payload checksum mismatch %x vs %x", got, want)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, invariantf("payload decompress: %v", err)
	}
	return raw, nil
}

func encodeOXBatch(batch *OXBatch) ([]byte, error) {
	serial := util.NewMemSerialize(len(batch.Order)*8 + len(batch.Keys) + 8)
	if err := util.WriteSlice[int64](batch.Order, serial); err != nil {
		return nil, err
	}
	if err := util.WriteSlice[byte](batch.Keys, serial); err != nil {
		return nil, err
	}
	return sealPayload(serial.Bytes()), nil
}

func decodeOXBatch(blob []byte, keySize int) (*OXBatch, error) {
	raw, err := openPayload(blob)
	if err != nil {
		return nil, err
	}
	deserial := util.NewMemDeserialize(raw)
	batch := &OXBatch{}
	if batch.Order, err = util.ReadSlice[int64](deserial); err != nil {
		return nil, err
	}
	if batch.Keys, err = util.ReadSlice[byte](deserial); err != nil {
		return nil, err
	}
	if len(batch.Keys) != len(batch.Order)*keySize {
		return nil, invariantf("ox batch with %d rows has %d key bytes, key size %d",
			len(batch.Order), len(batch.Keys), keySize)
	}
	return batch, nil
}

func encodeOXHeader(hdr *OXHeader) []byte {
	serial := util.NewMemSerialize(32)
	_ = util.Write[OXHeader](*hdr, serial)
	return sealPayload(serial.Bytes())
}

func decodeOXHeader(blob []byte) (*OXHeader, error) {
	raw, err := openPayload(blob)
	if err != nil {
		return nil, err
	}
	hdr := &OXHeader{}
	if err = util.Read[OXHeader](hdr, util.NewMemDeserialize(raw)); err != nil {
		return nil, err
	}
	return hdr, nil
}

func encodeMSBNodeHeader(hdr *MSBNodeHeader) []byte {
	serial := util.NewMemSerialize(len(hdr.ChunkCounts)*8 + 4)
	_ = util.WriteSlice[int64](hdr.ChunkCounts, serial)
	return sealPayload(serial.Bytes())
}

func decodeMSBNodeHeader(blob []byte) (*MSBNodeHeader, error) {
	raw, err := openPayload(blob)
	if err != nil {
		return nil, err
	}
	counts, err := util.ReadSlice[int64](util.NewMemDeserialize(raw))
	if err != nil {
		return nil, err
	}
	return &MSBNodeHeader{ChunkCounts: counts}, nil
}

func encodeNodeHist(hist *nodeHist) []byte {
	serial := util.NewMemSerialize(len(hist.Chunks) * (NBUCKET*8 + 8))
	_ = util.WriteSlice[int32](hist.Chunks, serial)
	for _, counts := range hist.Counts {
		_ = util.WriteSlice[int64](counts, serial)
	}
	return sealPayload(serial.Bytes())
}

func decodeNodeHist(blob []byte) (*nodeHist, error) {
	raw, err := openPayload(blob)
	if err != nil {
		return nil, err
	}
	deserial := util.NewMemDeserialize(raw)
	hist := &nodeHist{}
	if hist.Chunks, err = util.ReadSlice[int32](deserial); err != nil {
		return nil, err
	}
	hist.Counts = make([][]int64, len(hist.Chunks))
	for i := range hist.Counts {
		counts, err := util.ReadSlice[int64](deserial)
		if err != nil {
			return nil, err
		}
		if len(counts) != 0 {
			if len(counts) != NBUCKET {
				return nil, invariantf("histogram of chunk %d has %d buckets", hist.Chunks[i], len(counts))
			}
			hist.Counts[i] = counts
		}
	}
	return hist, nil
}
