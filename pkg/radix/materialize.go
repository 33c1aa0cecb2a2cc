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
	"fmt"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/common"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// outColumn is one column of the result, read from vec of side.
type outColumn struct {
	name string
	vec  *frame.Vec
	side Side
}

type outPlan struct {
	cols []outColumn
}

func newSortPlan(fr *frame.Frame) *outPlan {
	plan := &outPlan{}
	for i, name := range fr.Names() {
		plan.cols = append(plan.cols, outColumn{name: name, vec: fr.Vec(i), side: SIDE_LEFT})
	}
	return plan
}

// newMergePlan lists every left column then every right column. Right
// names already taken get a suffix.
func newMergePlan(left, right *frame.Frame) *outPlan {
	plan := &outPlan{}
	used := make(map[string]bool)
	for i, name := range left.Names() {
		plan.cols = append(plan.cols, outColumn{name: name, vec: left.Vec(i), side: SIDE_LEFT})
		used[name] = true
	}
	for i, name := range right.Names() {
		out := name
		for k := 1; used[out]; k++ {
			if k == 1 {
				out = name + "_right"
			} else {
				out = fmt.Sprintf("%s_right%d", name, k)
			}
		}
		used[out] = true
		plan.cols = append(plan.cols, outColumn{name: out, vec: right.Vec(i), side: SIDE_RIGHT})
	}
	return plan
}

// outRows holds, per output batch of a bucket, the source rows of both
// sides. -1 is a missing row.
type outRows struct {
	_left  [][]int64
	_right [][]int64
	_n     int64
}

func newOutRows(n int64, chunkRows int, withRight bool) *outRows {
	rows := &outRows{_n: n}
	if n == 0 {
		return rows
	}
	nb := util.BatchCount(n, chunkRows)
	for k := 0; k < nb; k++ {
		cnt := chunkRows
		if k == nb-1 {
			cnt = util.LastBatchSize(n, chunkRows)
		}
		rows._left = append(rows._left, make([]int64, cnt))
		if withRight {
			rows._right = append(rows._right, make([]int64, cnt))
		}
	}
	return rows
}

func (rows *outRows) nBatch() int {
	return len(rows._left)
}

// wireColumn is a column slice in transit. BIGINT and ENUM use NAInt64 for
// NA, DOUBLE uses NaN and VARCHAR uses the NA flags.
type wireColumn struct {
	Kind common.LTypeId
	I64  []int64
	F64  []float64
	Str  []string
	NA   []bool
}

func newWireColumn(kind common.LTypeId, n int) *wireColumn {
	w := &wireColumn{Kind: kind}
	switch kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		w.I64 = make([]int64, n)
		for i := range w.I64 {
			w.I64[i] = common.NAInt64
		}
	case common.LTID_DOUBLE:
		w.F64 = make([]float64, n)
		for i := range w.F64 {
			w.F64[i] = common.NADouble()
		}
	case common.LTID_VARCHAR:
		w.Str = make([]string, n)
		w.NA = make([]bool, n)
		for i := range w.NA {
			w.NA[i] = true
		}
	}
	return w
}

func (w *wireColumn) set(i int, chk *frame.Chunk, off int) {
	switch w.Kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		w.I64[i] = chk.At8(off)
	case common.LTID_DOUBLE:
		w.F64[i] = chk.AtD(off)
	case common.LTID_VARCHAR:
		if !chk.IsNA(off) {
			w.Str[i] = chk.AtStr(off)
			w.NA[i] = false
		}
	}
}

// scatter places got[j] at position pos[j].
func (w *wireColumn) scatter(pos []int, got *wireColumn) {
	for j, p := range pos {
		switch w.Kind {
		case common.LTID_BIGINT, common.LTID_ENUM:
			w.I64[p] = got.I64[j]
		case common.LTID_DOUBLE:
			w.F64[p] = got.F64[j]
		case common.LTID_VARCHAR:
			w.Str[p] = got.Str[j]
			w.NA[p] = got.NA[j]
		}
	}
}

func (w *wireColumn) build(n int) *frame.Chunk {
	b := frame.NewChunkBuilder(w.Kind, n)
	for i := 0; i < n; i++ {
		switch w.Kind {
		case common.LTID_BIGINT, common.LTID_ENUM:
			b.AddNum(w.I64[i])
		case common.LTID_DOUBLE:
			b.AddDouble(w.F64[i])
		case common.LTID_VARCHAR:
			if w.NA[i] {
				b.AddNA()
			} else {
				b.AddStr(w.Str[i])
			}
		}
	}
	return b.Build()
}

func encodeWire(w *wireColumn) ([]byte, error) {
	serial := util.NewMemSerialize(len(w.I64)*8 + len(w.F64)*8 + 16)
	if err := util.Write[int32](int32(w.Kind), serial); err != nil {
		return nil, err
	}
	var err error
	switch w.Kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		err = util.WriteSlice[int64](w.I64, serial)
	case common.LTID_DOUBLE:
		err = util.WriteSlice[float64](w.F64, serial)
	case common.LTID_VARCHAR:
		if err = util.WriteSlice[bool](w.NA, serial); err != nil {
			return nil, err
		}
		for _, s := range w.Str {
			if err = util.WriteString(s, serial); err != nil {
				return nil, err
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return sealPayload(serial.Bytes()), nil
}

func decodeWire(blob []byte) (*wireColumn, error) {
	raw, err := openPayload(blob)
	if err != nil {
		return nil, err
	}
	deserial := util.NewMemDeserialize(raw)
	var kind int32
	if err = util.Read[int32](&kind, deserial); err != nil {
		return nil, err
	}
	w := &wireColumn{Kind: common.LTypeId(kind)}
	switch w.Kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		w.I64, err = util.ReadSlice[int64](deserial)
	case common.LTID_DOUBLE:
		w.F64, err = util.ReadSlice[float64](deserial)
	case common.LTID_VARCHAR:
		if w.NA, err = util.ReadSlice[bool](deserial); err != nil {
			return nil, err
		}
		w.Str = make([]string, len(w.NA))
		for i := range w.Str {
			if w.Str[i], err = util.ReadString(deserial); err != nil {
				return nil, err
			}
		}
	default:
		err = invariantf("wire column of kind %d", kind)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// fetchRows runs on the home node of rows and returns their values.
func fetchRows(node *cluster.Node, vec *frame.Vec, rows []int64) ([]byte, error) {
	if err := util.Trigger(util.FAULTS_SCOPE_RADIX, "radix.fetch"); err != nil {
		return nil, err
	}
	w := newWireColumn(vec.Kind(), len(rows))
	espc := vec.ESPC()
	lastIdx := -1
	var chk *frame.Chunk
	for i, row := range rows {
		cidx := vec.ChunkIdx(row)
		if cidx != lastIdx {
			if vec.Home(cidx) != node.Idx() {
				return nil, invariantf("row %d lives on node %d, fetched from %d", row, vec.Home(cidx), node.Idx())
			}
			var err error
			if chk, err = vec.Chunk(cidx); err != nil {
				return nil, err
			}
			lastIdx = cidx
		}
		w.set(i, chk, int(row-espc[cidx]))
	}
	return encodeWire(w)
}

// gather builds the output chunk of vec for rows with one fetch per home
// node. Missing rows are NA.
func (op *operation) gather(ctx context.Context, vec *frame.Vec, rows []int64) (*frame.Chunk, error) {
	byNode := make(map[int][]int)
	for i, row := range rows {
		if row < 0 {
			continue
		}
		if row >= vec.Len() {
			return nil, invariantf("row %d beyond %d rows", row, vec.Len())
		}
		home := vec.Home(vec.ChunkIdx(row))
		byNode[home] = append(byNode[home], i)
	}
	w := newWireColumn(vec.Kind(), len(rows))
	var futs cluster.Futures
	for home, pos := range byNode {
		pos := pos
		req := make([]int64, len(pos))
		for j, p := range pos {
			req[j] = rows[p]
		}
		futs.Add(op._cl.RunLeaf(ctx, home, func(ctx context.Context, node *cluster.Node) error {
			blob, err := fetchRows(node, vec, req)
			if err != nil {
				return err
			}
			got, err := decodeWire(blob)
			if err != nil {
				return err
			}
			if got.len() != len(pos) {
				return invariantf("fetched %d rows of %d", got.len(), len(pos))
			}
			w.scatter(pos, got)
			return nil
		}))
	}
	if err := futs.BlockForPending(); err != nil {
		return nil, err
	}
	return w.build(len(rows)), nil
}

func (w *wireColumn) len() int {
	return max(len(w.I64), len(w.F64), len(w.NA))
}

// materializeBucket builds and stores the output chunks of one bucket,
// dropping each batch of source rows once it is stored.
func (op *operation) materializeBucket(ctx context.Context, plan *outPlan, msb int, rows *outRows) error {
	for k := 0; k < rows.nBatch(); k++ {
		for ci, oc := range plan.cols {
			src := rows._left[k]
			if oc.side == SIDE_RIGHT {
				src = rows._right[k]
			}
			chk, err := op.gather(ctx, oc.vec, src)
			if err != nil {
				return err
			}
			blob, err := chk.Encode()
			if err != nil {
				return err
			}
			err = op._cl.Put(ctx, outChunkKey(op._id, msb, ci, k, op._nodes), blob).Wait()
			if err != nil {
				return err
			}
		}
		rows._left[k] = nil
		if rows._right != nil {
			rows._right[k] = nil
		}
	}
	return nil
}
