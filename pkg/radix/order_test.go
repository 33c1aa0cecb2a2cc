package radix

import (
	"context"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/radixmerge/pkg/frame"
)

func Test_orderTwoNodes(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	fr, err := frame.FromColumns(cl,
		frame.Layout{ChunkRows: []int{2, 3}, Homes: []int{0, 1}},
		frame.IntColumn("k", 5, 3, 3, 1, 4))
	require.NoError(t, err)

	perm, err := Order(ctx, fr, KeySpec{Cols: []int{0}}, Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2, 4, 0}, perm)
	requireNoTransientKeys(t, cl)

	sorted, err := Sort(ctx, fr, KeySpec{Cols: []int{0}}, Options{})
	require.NoError(t, err)
	col, err := sorted.Column(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(3), int64(3), int64(4), int64(5)}, col)
	requireNoTransientKeys(t, cl)
}

func Test_orderDescendingWithNA(t *testing.T) {
	cl := newTestCluster(t, 3)
	ctx := context.Background()
	col := frame.IntColumn("k", 2, 0, 7, 2, 0, -4)
	col.NA = []bool{false, true, false, false, false, false}
	fr, err := frame.FromColumns(cl, frame.RoundRobinLayout(6, 2, 3), col)
	require.NoError(t, err)

	perm, err := Order(ctx, fr, KeySpec{Cols: []int{0}, Ascending: []bool{false}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 0, 3, 4, 5}, perm)

	perm, err = Order(ctx, fr, KeySpec{Cols: []int{0}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 4, 0, 3, 2}, perm)
	requireNoTransientKeys(t, cl)
}

func Test_orderRandom(t *testing.T) {
	ctx := context.Background()
	domain := []string{"a", "b", "c", "d", "e"}
	type tcase struct {
		name     string
		nodes    int
		rows     int
		keys     []int
		asc      []bool
		maxBatch int
	}
	cases := []tcase{
		{name: "int", nodes: 2, rows: 3000, keys: []int{0}, maxBatch: 1 << 20},
		{name: "int small batches", nodes: 3, rows: 3000, keys: []int{0}, maxBatch: 56},
		{name: "double", nodes: 4, rows: 2000, keys: []int{1}, maxBatch: 400},
		{name: "int double enum", nodes: 3, rows: 2500, keys: []int{0, 1, 2}, asc: []bool{true, false, true}, maxBatch: 333},
		{name: "enum int", nodes: 1, rows: 1500, keys: []int{2, 0}, asc: []bool{false, true}, maxBatch: 1 << 20},
		{name: "wide int", nodes: 2, rows: 1200, keys: []int{3, 1}, maxBatch: 512},
	}
	for i, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(int64(100 + i)))
			cl := newTestCluster(t, c.nodes)
			wide := randomIntColumn(rnd, "w", c.rows, 1<<40, 0.02)
			cols := []frame.Column{
				randomIntColumn(rnd, "i", c.rows, 10, 0.05),
				randomDoubleColumn(rnd, "d", c.rows, 0.05),
				randomEnumColumn(rnd, "e", c.rows, domain, 0.05),
				wide,
				randomStrColumn(rnd, "s", c.rows),
			}
			fr, err := frame.FromColumns(cl, frame.RoundRobinLayout(int64(c.rows), 113, c.nodes), cols...)
			require.NoError(t, err)

			idx, err := BuildIndex(ctx, fr, KeySpec{Cols: c.keys, Ascending: c.asc},
				Options{MaxBatchBytes: c.maxBatch, Verify: true})
			require.NoError(t, err)
			assert.Equal(t, referenceOrder(cols, c.keys, c.asc), idx.Perm())
			requireNoTransientKeys(t, cl)
		})
	}
}

func Test_orderGroups(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	fr, err := frame.FromColumns(cl, frame.RoundRobinLayout(6, 2, 2),
		frame.IntColumn("a", 1, 2, 1, 2, 3, 1),
		frame.IntColumn("b", 1, 1, 1, 2, 2, 2))
	require.NoError(t, err)
	idx, err := BuildIndex(ctx, fr, KeySpec{Cols: []int{0, 1}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), idx.NumGroups())
	assert.False(t, idx.IsUnique())
	assert.Equal(t, int64(6), sumBuckets(idx.BucketRows()))
	assert.Equal(t, []int64{0, 2, 5, 1, 3, 4}, idx.Perm())
}

func sumBuckets(rows [NBUCKET]int64) int64 {
	var s int64
	for _, r := range rows {
		s += r
	}
	return s
}

// the same rows under many chunk layouts must give the same stable order.
func Test_orderRandomLayouts(t *testing.T) {
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(42))
	for trial := 0; trial < 25; trial++ {
		nodes := 1 + rnd.Intn(4)
		rows := 1 + rnd.Intn(900)
		cl := newTestCluster(t, nodes)
		cols := []frame.Column{
			randomIntColumn(rnd, "i", rows, 4, 0.1),
			randomIntColumn(rnd, "j", rows, 3, 0),
		}
		layout := randomLayout(rnd, rows, nodes)
		fr, err := frame.FromColumns(cl, layout, cols...)
		require.NoError(t, err)
		perm, err := Order(ctx, fr, KeySpec{Cols: []int{0}}, Options{MaxBatchBytes: 8 * (1 + rnd.Intn(40)), Verify: true})
		require.NoError(t, err)
		require.Equal(t, referenceOrder(cols, []int{0}, nil), perm, "trial %d layout %v", trial, layout)
		requireNoTransientKeys(t, cl)
	}
}

// buckets of exactly, one under and one over a multiple of the batch size
// sort the same.
func Test_orderBatchBoundaries(t *testing.T) {
	ctx := context.Background()
	const batch = 50
	for _, n := range []int{5 * batch, 5*batch - 1, 5*batch + 1} {
		rnd := rand.New(rand.NewSource(int64(n)))
		cl := newTestCluster(t, 2)
		k := frame.IntColumn("k", make([]int64, n)...)
		v := randomIntColumn(rnd, "v", n, 200, 0)
		fr, err := frame.FromColumns(cl, frame.RoundRobinLayout(int64(n), 17, 2), k, v)
		require.NoError(t, err)
		perm, err := Order(ctx, fr, KeySpec{Cols: []int{0, 1}}, Options{MaxBatchBytes: batch * 8, Verify: true})
		require.NoError(t, err)
		assert.Equal(t, referenceOrder([]frame.Column{k, v}, []int{0, 1}, nil), perm, "n=%d", n)
		requireNoTransientKeys(t, cl)
	}
}

func Test_sortMaterialized(t *testing.T) {
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(5))
	cl := newTestCluster(t, 3)
	n := 700
	cols := []frame.Column{
		randomIntColumn(rnd, "i", n, 30, 0.05),
		randomDoubleColumn(rnd, "d", n, 0.1),
		randomEnumColumn(rnd, "e", n, []string{"x", "y"}, 0.1),
		randomStrColumn(rnd, "s", n),
	}
	cols[3].NA = make([]bool, n)
	cols[3].NA[7] = true
	fr, err := frame.FromColumns(cl, frame.ContiguousLayout(int64(n), 64, 3), cols...)
	require.NoError(t, err)

	sorted, err := Sort(ctx, fr, KeySpec{Cols: []int{0, 1}}, Options{OutputChunkRows: 37, MaxBatchBytes: 800})
	require.NoError(t, err)
	assert.Equal(t, fr.Names(), sorted.Names())
	assert.Equal(t, int64(n), sorted.NumRows())
	for _, vec := range sorted.Vecs() {
		for cidx := 0; cidx < vec.NChunks(); cidx++ {
			assert.LessOrEqual(t, vec.ChunkLen(cidx), 37)
		}
	}

	in := frameRows(t, fr)
	out := frameRows(t, sorted)
	perm := referenceOrder(cols, []int{0, 1}, nil)
	for i, p := range perm {
		require.Equal(t, in[p], out[i], "row %d", i)
	}
	requireNoTransientKeys(t, cl)
}

func Test_orderMetrics(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	fr, err := frame.FromColumns(cl, frame.RoundRobinLayout(5, 2, 2), frame.IntColumn("k", 5, 3, 3, 1, 4))
	require.NoError(t, err)
	_, err = Order(ctx, fr, KeySpec{Cols: []int{0}}, Options{Metrics: m})
	require.NoError(t, err)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BucketsSorted))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RowsShuffled))
	assert.Greater(t, testutil.ToFloat64(m.BytesShuffled), 0.0)
	assert.Equal(t, 5, testutil.CollectAndCount(m.StageSeconds))
}

func Test_orderEmptyFrame(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	fr, err := frame.FromColumns(cl, frame.RoundRobinLayout(0, 4, 2), frame.IntColumn("k"))
	require.NoError(t, err)
	perm, err := Order(ctx, fr, KeySpec{Cols: []int{0}}, Options{})
	require.NoError(t, err)
	assert.Empty(t, perm)
	sorted, err := Sort(ctx, fr, KeySpec{Cols: []int{0}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sorted.NumRows())
}
