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

	"github.com/google/uuid"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

type outChunk struct {
	msb   int
	batch int
	home  int
}

// stitch lays the output chunks of all buckets out in bucket order and
// moves each from the store into the chunk store of its node.
func (op *operation) stitch(ctx context.Context, plan *outPlan, bucketOut *[NBUCKET]int64) (*frame.Frame, error) {
	chunkRows := op._opts.OutputChunkRows
	var chunks []outChunk
	espc := []int64{0}
	var homes []int
	for b, n := range bucketOut {
		if n == 0 {
			continue
		}
		nb := util.BatchCount(n, chunkRows)
		for k := 0; k < nb; k++ {
			rows := chunkRows
			if k == nb-1 {
				rows = util.LastBatchSize(n, chunkRows)
			}
			chunks = append(chunks, outChunk{msb: b, batch: k, home: owner(b, op._nodes)})
			espc = append(espc, espc[len(espc)-1]+int64(rows))
			homes = append(homes, owner(b, op._nodes))
		}
	}

	ids := make([]string, len(plan.cols))
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	err := op._cl.Broadcast(ctx, func(ctx context.Context, node *cluster.Node) error {
		for g, c := range chunks {
			if c.home != node.Idx() {
				continue
			}
			for ci := range plan.cols {
				blob, ok, err := op._cl.GetAndRemove(ctx, outChunkKey(op._id, c.msb, ci, c.batch, op._nodes))
				if err != nil {
					return err
				}
				if !ok {
					return invariantf("output chunk %d of column %d in bucket %d missing", c.batch, ci, c.msb)
				}
				frame.PutBlob(node, ids[ci], g, blob)
			}
		}
		return nil
	})
	if err != nil {
		for n := 0; n < op._nodes; n++ {
			for _, id := range ids {
				op._cl.Node(n).RemoveChunksByPrefix(id + "/")
			}
		}
		return nil, remoteErr(err)
	}

	names := make([]string, len(plan.cols))
	vecs := make([]*frame.Vec, len(plan.cols))
	for ci, oc := range plan.cols {
		names[ci] = oc.name
		vecs[ci] = frame.VecFromStore(op._cl, ids[ci], oc.vec.Kind(), oc.vec.Domain(), espc, homes)
	}
	return frame.NewFrame(names, vecs)
}
