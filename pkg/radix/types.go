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
	"github.com/google/uuid"

	"github.com/daviszhen/radixmerge/pkg/util"
)

const (
	NBUCKET = 256
	// partitions smaller than this are insertion sorted.
	INSERTION_SORT_THRESHOLD = 200
	// widest encoded key field.
	MAX_FIELD_BYTES = 8
)

type Side int

const (
	SIDE_LEFT Side = iota
	SIDE_RIGHT
)

func (side Side) String() string {
	if side == SIDE_LEFT {
		return "left"
	}
	return "right"
}

// Options tunes one operation.
type Options struct {
	// OpID namespaces all transient keys. A random id is used when empty.
	OpID string
	// MaxBatchBytes bounds the key bytes of one OX batch.
	MaxBatchBytes int
	// OutputChunkRows bounds the rows of one output chunk.
	OutputChunkRows int
	// Verify re-checks the order of every sorted bucket.
	Verify  bool
	Metrics *Metrics
}

func OptionsFromConfig(cfg *util.RadixConfig) Options {
	return Options{
		MaxBatchBytes:   cfg.MaxBatchBytes,
		OutputChunkRows: cfg.OutputChunkRows,
		Verify:          cfg.Verify,
	}
}

func (opts Options) normalize() Options {
	if opts.OpID == "" {
		opts.OpID = uuid.NewString()
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = util.DefaultMaxBatchBytes
	}
	if opts.OutputChunkRows <= 0 {
		opts.OutputChunkRows = util.DefaultOutputChunkRows
	}
	return opts
}

// KeySpec names the key columns of one frame. A nil Ascending sorts every
// column ascending.
type KeySpec struct {
	Cols      []int
	Ascending []bool
}

func (ks KeySpec) ascending(i int) bool {
	if ks.Ascending == nil {
		return true
	}
	return ks.Ascending[i]
}

// MergeSpec describes an equi-join of two frames.
type MergeSpec struct {
	LeftCols  []int
	RightCols []int
	// Ascending orders the output. nil is all ascending.
	Ascending []bool
	// LeftIDMaps[i] maps left categorical codes of key i to right codes,
	// -1 for levels the right side does not have. A nil entry for a
	// categorical key is derived from the two domains.
	LeftIDMaps [][]int
	// AllLeft keeps unmatched left rows, AllRight unmatched right rows.
	AllLeft  bool
	AllRight bool
}

func owner(msb int, nodes int) int {
	return msb % nodes
}
