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
	"context"

	"github.com/cockroachdb/errors"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/common"
)

var ErrLayoutMismatch = errors.New("columns do not share one chunk layout")

// Frame is a set of named columns sharing one chunk layout.
type Frame struct {
	_names []string
	_vecs  []*Vec
}

func NewFrame(names []string, vecs []*Vec) (*Frame, error) {
	if len(names) != len(vecs) {
		return nil, errors.Newf("%d names for %d columns", len(names), len(vecs))
	}
	for i := 1; i < len(vecs); i++ {
		if !sameLayout(vecs[0], vecs[i]) {
			return nil, errors.Wrapf(ErrLayoutMismatch, "column %q vs %q", names[0], names[i])
		}
	}
	return &Frame{_names: names, _vecs: vecs}, nil
}

func sameLayout(a, b *Vec) bool {
	if len(a._espc) != len(b._espc) {
		return false
	}
	for i := range a._espc {
		if a._espc[i] != b._espc[i] {
			return false
		}
	}
	for i := range a._homes {
		if a._homes[i] != b._homes[i] {
			return false
		}
	}
	return true
}

func (fr *Frame) NumCols() int {
	return len(fr._vecs)
}

func (fr *Frame) NumRows() int64 {
	if len(fr._vecs) == 0 {
		return 0
	}
	return fr._vecs[0].Len()
}

func (fr *Frame) Names() []string {
	return fr._names
}

func (fr *Frame) Vec(i int) *Vec {
	return fr._vecs[i]
}

func (fr *Frame) Vecs() []*Vec {
	return fr._vecs
}

// AnyVec is the column that carries the layout.
func (fr *Frame) AnyVec() *Vec {
	if len(fr._vecs) == 0 {
		return nil
	}
	return fr._vecs[0]
}

func (fr *Frame) Cluster() *cluster.Cluster {
	if len(fr._vecs) == 0 {
		return nil
	}
	return fr._vecs[0]._cl
}

func (fr *Frame) ChunkIdx(row int64) int {
	return fr._vecs[0].ChunkIdx(row)
}

// Rows reads the whole frame into go values, row major. NA is nil.
func (fr *Frame) Rows(ctx context.Context) ([][]any, error) {
	n := fr.NumRows()
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = make([]any, len(fr._vecs))
	}
	for j, vec := range fr._vecs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for cidx := 0; cidx < vec.NChunks(); cidx++ {
			chk, err := vec.Chunk(cidx)
			if err != nil {
				return nil, err
			}
			start := vec._espc[cidx]
			for i := 0; i < chk.Len(); i++ {
				val := chk.Value(i)
				if val != nil && vec._kind == common.LTID_ENUM && len(vec._domain) != 0 {
					code := val.(int64)
					if code >= 0 && code < int64(len(vec._domain)) {
						val = vec._domain[code]
					}
				}
				rows[start+int64(i)][j] = val
			}
		}
	}
	return rows, nil
}

// Column reads one column into go values. ENUM columns return codes.
func (fr *Frame) Column(ctx context.Context, j int) ([]any, error) {
	vec := fr._vecs[j]
	ret := make([]any, 0, vec.Len())
	for cidx := 0; cidx < vec.NChunks(); cidx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chk, err := vec.Chunk(cidx)
		if err != nil {
			return nil, err
		}
		for i := 0; i < chk.Len(); i++ {
			ret = append(ret, chk.Value(i))
		}
	}
	return ret, nil
}

func (fr *Frame) Remove() {
	for _, vec := range fr._vecs {
		vec.Remove()
	}
}
