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

	"go.uber.org/zap"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// joinWalker walks the sorted keys of one bucket of both sides.
type joinWalker struct {
	_l        *oxArray
	_r        *oxArray
	_enc      *keyEncoder
	_allLeft  bool
	_allRight bool
}

func runEnd(a *oxArray, i int64) int64 {
	key := a.key(i)
	j := i + 1
	for j < a._n && bytes.Equal(a.key(j), key) {
		j++
	}
	return j
}

// walk calls emit for every output row in key order. Equal key runs emit
// their cross product, left row major. Keys holding an NA never match.
func (w *joinWalker) walk(emit func(l, r int64)) {
	l, r := w._l, w._r
	left := func(from, to int64) {
		if w._allLeft {
			for i := from; i < to; i++ {
				emit(l.order(i), -1)
			}
		}
	}
	right := func(from, to int64) {
		if w._allRight {
			for j := from; j < to; j++ {
				emit(-1, r.order(j))
			}
		}
	}
	i, j := int64(0), int64(0)
	for i < l._n && j < r._n {
		cmp := bytes.Compare(l.key(i), r.key(j))
		switch {
		case cmp < 0:
			left(i, i+1)
			i++
		case cmp > 0:
			right(j, j+1)
			j++
		default:
			i2, j2 := runEnd(l, i), runEnd(r, j)
			if w._enc.hasNA(l.key(i)) {
				left(i, i2)
				right(j, j2)
			} else {
				for a := i; a < i2; a++ {
					for b := j; b < j2; b++ {
						emit(l.order(a), r.order(b))
					}
				}
			}
			i, j = i2, j2
		}
	}
	left(i, l._n)
	right(j, r._n)
}

// rows counts the output first, then fills exactly sized batches.
func (w *joinWalker) rows(chunkRows int) *outRows {
	var n int64
	w.walk(func(_, _ int64) {
		n++
	})
	rows := newOutRows(n, chunkRows, true)
	var p int64
	w.walk(func(l, r int64) {
		k, off := p/int64(chunkRows), p%int64(chunkRows)
		rows._left[k][off] = l
		rows._right[k][off] = r
		p++
	})
	return rows
}

// Merge joins left and right on equal keys. The result holds every left
// column then every right column. Unmatched rows are kept when AllLeft or
// AllRight is set, with the other side NA.
func Merge(
	ctx context.Context,
	left, right *frame.Frame,
	spec MergeSpec,
	opts Options) (_ *frame.Frame, err error) {
	if err = checkFrame(left, "merge left"); err != nil {
		return nil, withStage(STAGE_ENCODE, err)
	}
	if err = checkFrame(right, "merge right"); err != nil {
		return nil, withStage(STAGE_ENCODE, err)
	}
	if left.Cluster() != right.Cluster() {
		return nil, withStage(STAGE_ENCODE, configErrorf("merge: frames live on different clusters"))
	}
	op := newOperation(left.Cluster(), opts)
	defer func() {
		if err != nil {
			op.cleanup()
		}
	}()

	var lenc, renc *keyEncoder
	err = op.run(STAGE_ENCODE, func() error {
		var err error
		lenc, renc, err = newMergeEncoders(ctx, left, right, spec, op._opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	lst := op.newSide(SIDE_LEFT, left, lenc)
	rst := op.newSide(SIDE_RIGHT, right, renc)
	if err = op.prepare(ctx, lst); err != nil {
		return nil, err
	}
	if err = op.prepare(ctx, rst); err != nil {
		return nil, err
	}

	plan := newMergePlan(left, right)
	var bucketOut [NBUCKET]int64
	err = op.run(STAGE_MERGE, func() error {
		var futs cluster.Futures
		for b := 0; b < NBUCKET; b++ {
			if lst._bucketRows[b] == 0 && rst._bucketRows[b] == 0 {
				continue
			}
			msb := b
			futs.Add(op._cl.RunOn(ctx, owner(msb, op._nodes), func(ctx context.Context, node *cluster.Node) error {
				n, err := op.mergeBucket(ctx, lst, rst, spec, plan, msb)
				if err != nil {
					return err
				}
				bucketOut[msb] = n
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
	util.Info("radix merge",
		zap.String("op", op._id),
		zap.Int64("left", left.NumRows()),
		zap.Int64("right", right.NumRows()),
		zap.Int64("rows", out.NumRows()))
	return out, nil
}

func (op *operation) mergeBucket(
	ctx context.Context,
	lst, rst *sideState,
	spec MergeSpec,
	plan *outPlan,
	msb int) (int64, error) {
	la, err := op.readSorted(ctx, lst, msb)
	if err != nil {
		return 0, err
	}
	ra, err := op.readSorted(ctx, rst, msb)
	if err != nil {
		return 0, err
	}
	walker := &joinWalker{
		_l:        la,
		_r:        ra,
		_enc:      lst._enc,
		_allLeft:  spec.AllLeft,
		_allRight: spec.AllRight,
	}
	rows := walker.rows(op._opts.OutputChunkRows)
	if err = op.materializeBucket(ctx, plan, msb, rows); err != nil {
		return 0, withStage(STAGE_MATERIALIZE, err)
	}
	return rows._n, nil
}
