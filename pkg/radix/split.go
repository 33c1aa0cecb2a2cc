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
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

const shuffleParallelism = 16

// split builds the composite key of every local row, writes it into the
// node's per bucket OX batches and ships them to the bucket owners.
func (op *operation) split(ctx context.Context, st *sideState) error {
	err := op._cl.Broadcast(ctx, func(ctx context.Context, node *cluster.Node) error {
		return op.splitNode(ctx, node, st)
	})
	return remoteErr(err)
}

func (op *operation) splitNode(ctx context.Context, node *cluster.Node, st *sideState) error {
	blob, ok, err := op._cl.GetAndRemove(ctx, histKey(op._id, st._side, node.Idx()))
	if err != nil {
		return err
	}
	if !ok {
		return invariantf("histogram of node %d missing", node.Idx())
	}
	hist, err := decodeNodeHist(blob)
	if err != nil {
		return err
	}
	local := st.keyChunkVec().LocalChunks(node.Idx())
	if len(local) != len(hist.Chunks) {
		return invariantf("node %d histogram has %d chunks, node holds %d",
			node.Idx(), len(hist.Chunks), len(local))
	}

	enc := st._enc
	bs := enc.BatchSize()
	ks := enc.KeySize()

	// offsets[i][b] is where local chunk i starts writing bucket b.
	var totals [NBUCKET]int64
	offsets := make([][]int64, len(local))
	for i, counts := range hist.Counts {
		if int(hist.Chunks[i]) != local[i] {
			return invariantf("node %d histogram chunk %d vs %d", node.Idx(), hist.Chunks[i], local[i])
		}
		if counts == nil {
			continue
		}
		offsets[i] = make([]int64, NBUCKET)
		for b, cnt := range counts {
			offsets[i][b] = totals[b]
			totals[b] += cnt
		}
	}
	if totals != st._nodeRows[node.Idx()] {
		return invariantf("node %d histogram totals changed between passes", node.Idx())
	}

	var batches [NBUCKET][]*OXBatch
	for b, total := range totals {
		if total == 0 {
			continue
		}
		nb := util.BatchCount(total, bs)
		batches[b] = make([]*OXBatch, nb)
		for k := 0; k < nb-1; k++ {
			batches[b][k] = newOXBatch(bs, ks)
		}
		batches[b][nb-1] = newOXBatch(util.LastBatchSize(total, bs), ks)
	}

	wg, _ := errgroup.WithContext(ctx)
	for i, cidx := range local {
		if hist.Counts[i] == nil {
			continue
		}
		i, cidx := i, cidx
		wg.Go(func() error {
			return op.splitChunk(st, cidx, hist.Counts[i], offsets[i], &batches)
		})
	}
	if err = wg.Wait(); err != nil {
		return err
	}

	return op.shuffle(ctx, node, st, hist, &batches)
}

// splitChunk writes one chunk. The chunk owns the offsets it was given, so
// chunks never share a slot.
func (op *operation) splitChunk(
	st *sideState,
	cidx int,
	counts []int64,
	start []int64,
	batches *[NBUCKET][]*OXBatch) error {
	enc := st._enc
	bs := int64(enc.BatchSize())
	ks := enc.KeySize()
	chks := make([]*frame.Chunk, len(enc._cols))
	for j, kc := range enc._cols {
		chk, err := st._fr.Vec(kc.Col).Chunk(cidx)
		if err != nil {
			return err
		}
		chks[j] = chk
	}
	rowBase := st.keyChunkVec().ESPC()[cidx]
	pos := make([]int64, NBUCKET)
	copy(pos, start)
	key := make([]byte, ks)
	for r := 0; r < chks[0].Len(); r++ {
		msb := enc.encode(key, chks, r)
		if msb >= NBUCKET || pos[msb]-start[msb] >= counts[msb] {
			return invariantf("chunk %d row %d overflows bucket %d", cidx, r, msb)
		}
		p := pos[msb]
		pos[msb]++
		batch := batches[msb][p/bs]
		wi := int(p % bs)
		batch.Order[wi] = rowBase + int64(r)
		copy(batch.Keys[wi*ks:(wi+1)*ks], key)
	}
	for b := range pos {
		if pos[b]-start[b] != counts[b] {
			return invariantf("chunk %d wrote %d rows into bucket %d, histogram %d",
				cidx, pos[b]-start[b], b, counts[b])
		}
	}
	return nil
}

// shuffle puts the header and the batches of every non empty bucket on its
// owner.
func (op *operation) shuffle(
	ctx context.Context,
	node *cluster.Node,
	st *sideState,
	hist *nodeHist,
	batches *[NBUCKET][]*OXBatch) error {
	var (
		rows  atomic.Int64
		bytes atomic.Int64
	)
	wg, _ := errgroup.WithContext(ctx)
	wg.SetLimit(shuffleParallelism)
	for b := range batches {
		if batches[b] == nil {
			continue
		}
		b := b
		wg.Go(func() error {
			hdr := &MSBNodeHeader{ChunkCounts: make([]int64, len(hist.Chunks))}
			for i, counts := range hist.Counts {
				if counts != nil {
					hdr.ChunkCounts[i] = counts[b]
				}
			}
			var futs cluster.Futures
			futs.Add(op._cl.Put(ctx, oxHeaderKey(op._id, st._side, b, node.Idx(), op._nodes), encodeMSBNodeHeader(hdr)))
			for k, batch := range batches[b] {
				blob, err := encodeOXBatch(batch)
				if err != nil {
					_ = futs.BlockForPending()
					return err
				}
				rows.Add(int64(batch.Len()))
				bytes.Add(int64(len(blob)))
				futs.Add(op._cl.Put(ctx, oxBatchKey(op._id, st._side, b, node.Idx(), k, op._nodes), blob))
				batches[b][k] = nil
			}
			return futs.BlockForPending()
		})
	}
	err := wg.Wait()
	op._opts.Metrics.addShuffled(rows.Load(), int(bytes.Load()))
	return err
}
