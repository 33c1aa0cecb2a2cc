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
	"github.com/cockroachdb/errors"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/common"
)

// Layout places chunks of ChunkRows[i] rows on node Homes[i].
type Layout struct {
	ChunkRows []int
	Homes     []int
}

func (layout Layout) Rows() int64 {
	var n int64
	for _, r := range layout.ChunkRows {
		n += int64(r)
	}
	return n
}

// RoundRobinLayout deals fixed size chunks to the nodes in turn.
func RoundRobinLayout(nRows int64, chunkRows int, nodes int) Layout {
	var layout Layout
	for i := 0; int64(i)*int64(chunkRows) < nRows; i++ {
		rows := int64(chunkRows)
		if rem := nRows - int64(i)*int64(chunkRows); rem < rows {
			rows = rem
		}
		layout.ChunkRows = append(layout.ChunkRows, int(rows))
		layout.Homes = append(layout.Homes, i%nodes)
	}
	return layout
}

// ContiguousLayout gives each node one run of consecutive chunks.
func ContiguousLayout(nRows int64, chunkRows int, nodes int) Layout {
	layout := RoundRobinLayout(nRows, chunkRows, nodes)
	n := len(layout.Homes)
	for i := range layout.Homes {
		layout.Homes[i] = i * nodes / max(n, 1)
	}
	return layout
}

// Column is the in-memory source of one frame column. Exactly one of
// I64, F64 or Str is used, depending on Kind. NA marks missing rows.
type Column struct {
	Name   string
	Kind   common.LTypeId
	Domain []string
	I64    []int64
	F64    []float64
	Str    []string
	NA     []bool
}

func IntColumn(name string, vals ...int64) Column {
	return Column{Name: name, Kind: common.LTID_BIGINT, I64: vals}
}

func DoubleColumn(name string, vals ...float64) Column {
	return Column{Name: name, Kind: common.LTID_DOUBLE, F64: vals}
}

func StrColumn(name string, vals ...string) Column {
	return Column{Name: name, Kind: common.LTID_VARCHAR, Str: vals}
}

func EnumColumn(name string, domain []string, codes ...int64) Column {
	return Column{Name: name, Kind: common.LTID_ENUM, Domain: domain, I64: codes}
}

func (col Column) Len() int {
	switch col.Kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		return len(col.I64)
	case common.LTID_DOUBLE:
		return len(col.F64)
	case common.LTID_VARCHAR:
		return len(col.Str)
	}
	return 0
}

func (col Column) isNA(i int) bool {
	return len(col.NA) != 0 && col.NA[i]
}

func (col Column) add(b *ChunkBuilder, i int) {
	if col.isNA(i) {
		b.AddNA()
		return
	}
	switch col.Kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		b.AddNum(col.I64[i])
	case common.LTID_DOUBLE:
		b.AddDouble(col.F64[i])
	case common.LTID_VARCHAR:
		b.AddStr(col.Str[i])
	}
}

// FromColumns cuts the columns into chunks by layout and stores them on
// their home nodes.
func FromColumns(cl *cluster.Cluster, layout Layout, cols ...Column) (*Frame, error) {
	if len(layout.ChunkRows) != len(layout.Homes) {
		return nil, errors.Newf("layout has %d chunk sizes and %d homes",
			len(layout.ChunkRows), len(layout.Homes))
	}
	names := make([]string, 0, len(cols))
	vecs := make([]*Vec, 0, len(cols))
	for _, col := range cols {
		if !col.Kind.IsKeyable() && col.Kind != common.LTID_VARCHAR {
			return nil, errors.Newf("column %q: usp kind %d", col.Name, col.Kind)
		}
		if int64(col.Len()) != layout.Rows() {
			return nil, errors.Wrapf(ErrLayoutMismatch, "column %q has %d rows, layout %d",
				col.Name, col.Len(), layout.Rows())
		}
		chunks := make([]*Chunk, len(layout.ChunkRows))
		row := 0
		for cidx, cnt := range layout.ChunkRows {
			b := NewChunkBuilder(col.Kind, cnt)
			for i := 0; i < cnt; i++ {
				col.add(b, row)
				row++
			}
			chunks[cidx] = b.Build()
		}
		homes := append([]int(nil), layout.Homes...)
		vec, err := NewVec(cl, col.Kind, col.Domain, chunks, homes)
		if err != nil {
			return nil, err
		}
		names = append(names, col.Name)
		vecs = append(vecs, vec)
	}
	return NewFrame(names, vecs)
}
