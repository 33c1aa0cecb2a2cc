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

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// Index is the sort order of a frame.
type Index struct {
	_perm       []int64
	_nGroup     int64
	_bucketRows [NBUCKET]int64
}

// Perm lists global row indexes in key order.
func (idx *Index) Perm() []int64 {
	return idx._perm
}

// NumGroups is the number of distinct keys. All NA keys of one shape form
// one group.
func (idx *Index) NumGroups() int64 {
	return idx._nGroup
}

func (idx *Index) IsUnique() bool {
	return idx._nGroup == int64(len(idx._perm))
}

func (idx *Index) BucketRows() [NBUCKET]int64 {
	return idx._bucketRows
}

func checkFrame(fr *frame.Frame, what string) error {
	if fr == nil || fr.NumCols() == 0 {
		return configErrorf("%s: empty frame", what)
	}
	return nil
}

// BuildIndex sorts the key columns of fr across the cluster.
func BuildIndex(ctx context.Context, fr *frame.Frame, ks KeySpec, opts Options) (_ *Index, err error) {
	if err = checkFrame(fr, "order"); err != nil {
		return nil, withStage(STAGE_ENCODE, err)
	}
	op := newOperation(fr.Cluster(), opts)
	defer func() {
		if err != nil {
			op.cleanup()
		}
	}()
	st, err := op.encodeOrder(ctx, fr, ks)
	if err != nil {
		return nil, err
	}
	if err = op.prepare(ctx, st); err != nil {
		return nil, err
	}
	idx := &Index{
		_bucketRows: st._bucketRows,
		_perm:       make([]int64, 0, fr.NumRows()),
	}
	err = op.run(STAGE_MERGE, func() error {
		for b := 0; b < NBUCKET; b++ {
			if st._bucketRows[b] == 0 {
				continue
			}
			a, err := op.readSorted(ctx, st, b)
			if err != nil {
				return remoteErr(err)
			}
			for _, o := range a._o {
				idx._perm = append(idx._perm, o...)
			}
			idx._nGroup += st._sorted[b].NGroup
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	util.Info("radix order",
		zap.String("op", op._id),
		zap.Int64("rows", fr.NumRows()),
		zap.Int64("groups", idx._nGroup))
	return idx, nil
}

// Order returns the permutation that sorts fr by the key columns. Rows with
// equal keys keep their original order. NA sorts first.
func Order(ctx context.Context, fr *frame.Frame, ks KeySpec, opts Options) ([]int64, error) {
	idx, err := BuildIndex(ctx, fr, ks, opts)
	if err != nil {
		return nil, err
	}
	return idx.Perm(), nil
}

// Sort returns a new frame holding the rows of fr in key order.
func Sort(ctx context.Context, fr *frame.Frame, ks KeySpec, opts Options) (_ *frame.Frame, err error) {
	if err = checkFrame(fr, "sort"); err != nil {
		return nil, withStage(STAGE_ENCODE, err)
	}
	op := newOperation(fr.Cluster(), opts)
	defer func() {
		if err != nil {
			op.cleanup()
		}
	}()
	st, err := op.encodeOrder(ctx, fr, ks)
	if err != nil {
		return nil, err
	}
	if err = op.prepare(ctx, st); err != nil {
		return nil, err
	}
	plan := newSortPlan(fr)
	var bucketOut [NBUCKET]int64
	err = op.run(STAGE_MATERIALIZE, func() error {
		var futs cluster.Futures
		for b := 0; b < NBUCKET; b++ {
			if st._bucketRows[b] == 0 {
				continue
			}
			msb := b
			futs.Add(op._cl.RunOn(ctx, owner(msb, op._nodes), func(ctx context.Context, node *cluster.Node) error {
				a, err := op.readSorted(ctx, st, msb)
				if err != nil {
					return err
				}
				rows := newOutRows(a.Len(), op._opts.OutputChunkRows, false)
				for i := int64(0); i < a.Len(); i++ {
					k, off := i/int64(op._opts.OutputChunkRows), i%int64(op._opts.OutputChunkRows)
					rows._left[k][off] = a.order(i)
				}
				if err = op.materializeBucket(ctx, plan, msb, rows); err != nil {
					return err
				}
				bucketOut[msb] = rows._n
				return nil
			}))
		}
		return remoteErr(futs.BlockForPending())
	})
	if err != nil {
		return nil, err
	}
	var out *frame.Frame
	err = op.run(STAGE_STITCH, func() error {
		out, err = op.stitch(ctx, plan, &bucketOut)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (op *operation) encodeOrder(ctx context.Context, fr *frame.Frame, ks KeySpec) (*sideState, error) {
	var enc *keyEncoder
	err := op.run(STAGE_ENCODE, func() error {
		var err error
		enc, err = newOrderEncoder(ctx, fr, ks, op._opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	util.Debug("radix keys encoded",
		zap.String("op", op._id),
		zap.Int("keySize", enc.KeySize()),
		zap.Int("batchSize", enc.BatchSize()))
	return op.newSide(SIDE_LEFT, fr, enc), nil
}
