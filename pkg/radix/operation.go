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
	"time"

	"go.uber.org/zap"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// operation is the driver state of one sort or merge call.
type operation struct {
	_id    string
	_cl    *cluster.Cluster
	_opts  Options
	_nodes int
}

// sideState is one keyed frame on its way through the passes.
type sideState struct {
	_side Side
	_fr   *frame.Frame
	_enc  *keyEncoder
	// rows each node holds per bucket.
	_nodeRows [][NBUCKET]int64
	// rows per bucket over the cluster.
	_bucketRows [NBUCKET]int64
	// published buckets.
	_sorted [NBUCKET]*OXHeader
}

func newOperation(cl *cluster.Cluster, opts Options) *operation {
	opts = opts.normalize()
	return &operation{
		_id:    opts.OpID,
		_cl:    cl,
		_opts:  opts,
		_nodes: cl.Size(),
	}
}

func (op *operation) newSide(side Side, fr *frame.Frame, enc *keyEncoder) *sideState {
	return &sideState{
		_side:     side,
		_fr:       fr,
		_enc:      enc,
		_nodeRows: make([][NBUCKET]int64, op._nodes),
	}
}

func (st *sideState) keyChunkVec() *frame.Vec {
	return st._fr.Vec(st._enc._cols[0].Col)
}

// run executes one stage and attaches the stage to its error.
func (op *operation) run(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	op._opts.Metrics.observeStage(stage, start)
	if err != nil {
		util.Error("radix stage failed",
			zap.String("op", op._id),
			zap.Stringer("stage", stage),
			zap.Error(err))
		return withStage(stage, err)
	}
	util.Debug("radix stage done",
		zap.String("op", op._id),
		zap.Stringer("stage", stage),
		zap.Duration("cost", time.Since(start)))
	return nil
}

// cleanup drops every transient key of the operation on reachable nodes.
func (op *operation) cleanup() {
	cnt := op._cl.RemoveByPrefix(opPrefix(op._id))
	util.Info("radix cleanup",
		zap.String("op", op._id),
		zap.Int("keys", cnt))
}

// prepare computes histograms, shuffles and sorts every bucket of a side.
func (op *operation) prepare(ctx context.Context, st *sideState) error {
	err := op.run(STAGE_HISTOGRAM, func() error {
		return op.histogram(ctx, st)
	})
	if err != nil {
		return err
	}
	err = op.run(STAGE_SPLIT, func() error {
		return op.split(ctx, st)
	})
	if err != nil {
		return err
	}
	return op.run(STAGE_SORT, func() error {
		return op.sortBuckets(ctx, st)
	})
}
