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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// histogram counts, per local chunk, the rows of every bucket and stores the
// table of each node under its own key.
func (op *operation) histogram(ctx context.Context, st *sideState) error {
	vec := st.keyChunkVec()
	enc := st._enc
	err := op._cl.Broadcast(ctx, func(ctx context.Context, node *cluster.Node) error {
		local := vec.LocalChunks(node.Idx())
		hist := &nodeHist{
			Chunks: make([]int32, len(local)),
			Counts: make([][]int64, len(local)),
		}
		wg, _ := errgroup.WithContext(ctx)
		for i, cidx := range local {
			hist.Chunks[i] = int32(cidx)
			if vec.ChunkLen(cidx) == 0 {
				continue
			}
			i, cidx := i, cidx
			wg.Go(func() error {
				chk, err := vec.Chunk(cidx)
				if err != nil {
					return err
				}
				counts := make([]int64, NBUCKET)
				for r := 0; r < chk.Len(); r++ {
					msb := enc.msb(chk, r)
					if msb >= NBUCKET {
						return invariantf("chunk %d row %d in bucket %d", cidx, r, msb)
					}
					counts[msb]++
				}
				hist.Counts[i] = counts
				return nil
			})
		}
		if err := wg.Wait(); err != nil {
			return err
		}
		totals := &st._nodeRows[node.Idx()]
		for _, counts := range hist.Counts {
			for b, cnt := range counts {
				totals[b] += cnt
			}
		}
		return op._cl.Put(ctx, histKey(op._id, st._side, node.Idx()), encodeNodeHist(hist)).Wait()
	})
	if err != nil {
		return remoteErr(err)
	}

	var total int64
	for n := range st._nodeRows {
		for b, cnt := range st._nodeRows[n] {
			st._bucketRows[b] += cnt
			total += cnt
		}
	}
	if total != st._fr.NumRows() {
		return invariantf("histogram counted %d rows of %d", total, st._fr.NumRows())
	}
	op.checkBalance(st)
	return nil
}

// checkBalance warns when one owner receives far more rows than the mean.
func (op *operation) checkBalance(st *sideState) {
	if op._nodes < 2 {
		return
	}
	perOwner := make([]int64, op._nodes)
	var total int64
	for b, cnt := range st._bucketRows {
		perOwner[owner(b, op._nodes)] += cnt
		total += cnt
	}
	mean := total / int64(op._nodes)
	for n, cnt := range perOwner {
		if mean > 0 && cnt > 2*mean {
			util.Warn("bucket load on node not balanced",
				zap.String("op", op._id),
				zap.Stringer("side", st._side),
				zap.Int("node", n),
				zap.Int64("rows", cnt),
				zap.Int64("mean", mean))
		}
	}
}
