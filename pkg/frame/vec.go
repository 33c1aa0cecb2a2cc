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
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/common"
)

// RollupStats summarizes a column over all chunks.
type RollupStats struct {
	Rows  int64
	NACnt int64
	// exact bounds for BIGINT and ENUM.
	MinInt int64
	MaxInt int64
	// bounds for DOUBLE. -0 is folded into 0.
	Min   float64
	Max   float64
	IsInt bool
}

// AllNA reports that no value is present.
func (stats *RollupStats) AllNA() bool {
	return stats.NACnt == stats.Rows
}

func (stats *RollupStats) merge(o *RollupStats) {
	stats.Rows += o.Rows
	stats.NACnt += o.NACnt
	stats.MinInt = min(stats.MinInt, o.MinInt)
	stats.MaxInt = max(stats.MaxInt, o.MaxInt)
	stats.Min = math.Min(stats.Min, o.Min)
	stats.Max = math.Max(stats.Max, o.Max)
	stats.IsInt = stats.IsInt && o.IsInt
}

func chunkStats(chk *Chunk) *RollupStats {
	stats := emptyStats()
	stats.Rows = int64(chk.Len())
	for i := 0; i < chk.Len(); i++ {
		if chk.IsNA(i) {
			stats.NACnt++
			continue
		}
		switch chk.Kind() {
		case common.LTID_BIGINT, common.LTID_ENUM:
			v := chk._i64[i]
			stats.MinInt = min(stats.MinInt, v)
			stats.MaxInt = max(stats.MaxInt, v)
			stats.Min = math.Min(stats.Min, float64(v))
			stats.Max = math.Max(stats.Max, float64(v))
		case common.LTID_DOUBLE:
			v := chk._f64[i]
			if v == 0 {
				v = 0
			}
			stats.Min = math.Min(stats.Min, v)
			stats.Max = math.Max(stats.Max, v)
			if v != math.Trunc(v) || math.IsInf(v, 0) {
				stats.IsInt = false
			}
		}
	}
	return stats
}

// Vec is one distributed column. Its chunks live in the chunk stores of
// their home nodes. espc[i] is the global index of the first row of chunk i.
type Vec struct {
	_id     string
	_cl     *cluster.Cluster
	_kind   common.LTypeId
	_domain []string
	_espc   []int64
	_homes  []int

	_statsMu sync.Mutex
	_stats   *RollupStats
}

// NewVec persists chunks on their home nodes and returns the column.
func NewVec(
	cl *cluster.Cluster,
	kind common.LTypeId,
	domain []string,
	chunks []*Chunk,
	homes []int) (*Vec, error) {
	if len(chunks) != len(homes) {
		return nil, errors.Newf("%d chunks with %d homes", len(chunks), len(homes))
	}
	vec := &Vec{
		_id:     uuid.NewString(),
		_cl:     cl,
		_kind:   kind,
		_domain: domain,
		_espc:   make([]int64, len(chunks)+1),
		_homes:  homes,
	}
	for i, chk := range chunks {
		if chk.Kind() != kind {
			return nil, errors.Newf("chunk %d has kind %s, column is %s", i, chk.Kind(), kind)
		}
		if homes[i] < 0 || homes[i] >= cl.Size() {
			return nil, errors.Newf("chunk %d home %d out of range", i, homes[i])
		}
		blob, err := chk.Encode()
		if err != nil {
			return nil, err
		}
		vec._espc[i+1] = vec._espc[i] + int64(chk.Len())
		cl.Node(homes[i]).PutChunk(vec.chunkName(i), &storedChunk{_blob: blob})
	}
	return vec, nil
}

// VecFromStore wraps chunks that were already placed into node stores with
// PutBlob under id.
func VecFromStore(
	cl *cluster.Cluster,
	id string,
	kind common.LTypeId,
	domain []string,
	espc []int64,
	homes []int) *Vec {
	return &Vec{
		_id:     id,
		_cl:     cl,
		_kind:   kind,
		_domain: domain,
		_espc:   espc,
		_homes:  homes,
	}
}

// PutBlob places an encoded chunk of column id into the node store.
func PutBlob(node *cluster.Node, id string, cidx int, blob []byte) {
	node.PutChunk(chunkName(id, cidx), &storedChunk{_blob: blob})
}

func chunkName(id string, cidx int) string {
	return fmt.Sprintf("%s/%d", id, cidx)
}

func (vec *Vec) chunkName(cidx int) string {
	return chunkName(vec._id, cidx)
}

func (vec *Vec) ID() string {
	return vec._id
}

func (vec *Vec) Kind() common.LTypeId {
	return vec._kind
}

func (vec *Vec) Domain() []string {
	return vec._domain
}

func (vec *Vec) Cardinality() int {
	return len(vec._domain)
}

func (vec *Vec) NChunks() int {
	return len(vec._homes)
}

func (vec *Vec) Len() int64 {
	return vec._espc[len(vec._espc)-1]
}

func (vec *Vec) ESPC() []int64 {
	return vec._espc
}

func (vec *Vec) Homes() []int {
	return vec._homes
}

func (vec *Vec) Home(cidx int) int {
	return vec._homes[cidx]
}

func (vec *Vec) ChunkLen(cidx int) int {
	return int(vec._espc[cidx+1] - vec._espc[cidx])
}

// ChunkIdx finds the chunk holding global row.
func (vec *Vec) ChunkIdx(row int64) int {
	return chunkIdx(vec._espc, row)
}

func chunkIdx(espc []int64, row int64) int {
	// first chunk whose end is beyond row. empty chunks are skipped.
	return sort.Search(len(espc)-1, func(i int) bool {
		return espc[i+1] > row
	})
}

// LocalChunks lists the chunk indexes homed on node, ascending.
func (vec *Vec) LocalChunks(node int) []int {
	var ret []int
	for i, h := range vec._homes {
		if h == node {
			ret = append(ret, i)
		}
	}
	return ret
}

// Chunk reads chunk cidx from its home node store.
func (vec *Vec) Chunk(cidx int) (*Chunk, error) {
	home := vec._homes[cidx]
	node := vec._cl.Node(home)
	if !node.Available() {
		return nil, errors.Wrapf(cluster.ErrNodeUnavailable, "read chunk %d of %s on node %d", cidx, vec._id, home)
	}
	val, ok := node.GetChunk(vec.chunkName(cidx))
	if !ok {
		return nil, errors.Newf("chunk %d of %s missing on node %d", cidx, vec._id, home)
	}
	return val.(*storedChunk).chunk()
}

// CompressedSize sums the stored blob sizes.
func (vec *Vec) CompressedSize() int64 {
	var total int64
	for i, h := range vec._homes {
		if val, ok := vec._cl.Node(h).GetChunk(vec.chunkName(i)); ok {
			total += int64(val.(*storedChunk).size())
		}
	}
	return total
}

// RollupStats computes the column summary with one pass per node and caches it.
func (vec *Vec) RollupStats(ctx context.Context) (*RollupStats, error) {
	vec._statsMu.Lock()
	defer vec._statsMu.Unlock()
	if vec._stats != nil {
		return vec._stats, nil
	}
	perNode := make([]*RollupStats, vec._cl.Size())
	err := vec._cl.Broadcast(ctx, func(ctx context.Context, node *cluster.Node) error {
		local := vec.LocalChunks(node.Idx())
		perChunk := make([]*RollupStats, len(local))
		wg := errgroup.Group{}
		for i, cidx := range local {
			i, cidx := i, cidx
			wg.Go(func() error {
				chk, err := vec.Chunk(cidx)
				if err != nil {
					return err
				}
				perChunk[i] = chunkStats(chk)
				return nil
			})
		}
		if err := wg.Wait(); err != nil {
			return err
		}
		acc := emptyStats()
		for _, s := range perChunk {
			acc.merge(s)
		}
		perNode[node.Idx()] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	total := emptyStats()
	for _, s := range perNode {
		total.merge(s)
	}
	vec._stats = total
	return total, nil
}

func emptyStats() *RollupStats {
	return &RollupStats{
		MinInt: math.MaxInt64,
		MaxInt: math.MinInt64,
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
		IsInt:  true,
	}
}

// Remove drops every chunk of the column.
func (vec *Vec) Remove() {
	for i, h := range vec._homes {
		vec._cl.Node(h).RemoveChunk(vec.chunkName(i))
	}
}
