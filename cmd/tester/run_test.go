package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/radixmerge/pkg/util"
)

func testConfig() *util.Config {
	cfg := util.DefaultConfig()
	cfg.Cluster.Nodes = 3
	cfg.Cluster.WorkersPerNode = 2
	cfg.Radix.MaxBatchBytes = 1024
	cfg.Radix.OutputChunkRows = 100
	cfg.Radix.Verify = true
	cfg.Debug.PrintResult = true
	cfg.Debug.PrintStats = true
	cfg.Debug.MaxOutputRowCount = 5
	for _, data := range []*util.DataConfig{&cfg.Left, &cfg.Right} {
		data.Rows = 2000
		data.ChunkRows = 128
		data.KeySpan = 300
		data.NARate = 0.01
	}
	cfg.Right.Layout = "contiguous"
	return cfg
}

func Test_verifyPermutation(t *testing.T) {
	assert.NoError(t, verifyPermutation([]int64{2, 0, 1}, 3))
	assert.Error(t, verifyPermutation([]int64{2, 0}, 3))
	assert.Error(t, verifyPermutation([]int64{2, 0, 0}, 3))
	assert.Error(t, verifyPermutation([]int64{2, 0, 3}, 3))
}

func Test_runSort(t *testing.T) {
	var out bytes.Buffer
	err := runSort(context.Background(), testConfig(), []int{0, 2}, []bool{false, true}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "sorted 2000 rows")
	assert.Contains(t, out.String(), "KEY")
	assert.Contains(t, out.String(), "bucket rows")
	assert.Contains(t, out.String(), "radix_rows_shuffled_total")
}

func Test_runMerge(t *testing.T) {
	var out bytes.Buffer
	args := mergeOptions{leftKeys: []int{0}, rightKeys: []int{0}, allLeft: true}
	err := runMerge(context.Background(), testConfig(), args, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "merged 2000 x 2000 rows")
	assert.Contains(t, out.String(), "KEY RIGHT")
	assert.Contains(t, out.String(), "output rows")
}

func Test_loadFrameErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Left.Layout = "diagonal"
	var out bytes.Buffer
	assert.Error(t, runSort(context.Background(), cfg, []int{0}, nil, &out))

	cfg = testConfig()
	cfg.Left.Path = "data.json"
	cfg.Left.Format = "json"
	assert.Error(t, runSort(context.Background(), cfg, []int{0}, nil, &out))
}
