package radix

import (
	"context"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/radixmerge/pkg/frame"
)

func Test_mergeInner(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	left, err := frame.FromColumns(cl, frame.RoundRobinLayout(2, 1, 2),
		frame.IntColumn("k", 1, 2),
		frame.StrColumn("s", "a", "b"))
	require.NoError(t, err)
	right, err := frame.FromColumns(cl, frame.RoundRobinLayout(3, 2, 2),
		frame.IntColumn("k", 2, 2, 3),
		frame.StrColumn("s", "x", "y", "z"))
	require.NoError(t, err)

	out, err := Merge(ctx, left, right, MergeSpec{LeftCols: []int{0}, RightCols: []int{0}}, Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "s", "k_right", "s_right"}, out.Names())
	assert.Equal(t, [][]any{
		{int64(2), "b", int64(2), "x"},
		{int64(2), "b", int64(2), "y"},
	}, frameRows(t, out))
	requireNoTransientKeys(t, cl)
}

func Test_mergeNameClash(t *testing.T) {
	cl := newTestCluster(t, 1)
	left, err := frame.FromColumns(cl, frame.RoundRobinLayout(1, 1, 1),
		frame.IntColumn("k", 1),
		frame.IntColumn("k_right", 1))
	require.NoError(t, err)
	right, err := frame.FromColumns(cl, frame.RoundRobinLayout(1, 1, 1),
		frame.IntColumn("k", 1))
	require.NoError(t, err)
	plan := newMergePlan(left, right)
	var names []string
	for _, oc := range plan.cols {
		names = append(names, oc.name)
	}
	assert.Equal(t, []string{"k", "k_right", "k_right2"}, names)
}

func Test_mergeOuter(t *testing.T) {
	ctx := context.Background()
	type tcase struct {
		name     string
		allLeft  bool
		allRight bool
	}
	cases := []tcase{
		{name: "inner"},
		{name: "left", allLeft: true},
		{name: "right", allRight: true},
		{name: "full", allLeft: true, allRight: true},
	}
	for i, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(int64(7 + i)))
			nodes := 1 + i
			cl := newTestCluster(t, nodes)
			nl, nr := 300, 250
			left, err := frame.FromColumns(cl, randomLayout(rnd, nl, nodes),
				randomIntColumn(rnd, "k", nl, 20, 0.05),
				randomDoubleColumn(rnd, "v", nl, 0.1))
			require.NoError(t, err)
			right, err := frame.FromColumns(cl, randomLayout(rnd, nr, nodes),
				randomStrColumn(rnd, "w", nr),
				randomIntColumn(rnd, "k", nr, 26, 0.05))
			require.NoError(t, err)

			spec := MergeSpec{LeftCols: []int{0}, RightCols: []int{1}, AllLeft: c.allLeft, AllRight: c.allRight}
			out, err := Merge(ctx, left, right, spec, Options{OutputChunkRows: 29, MaxBatchBytes: 160, Verify: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"k", "v", "w", "k_right"}, out.Names())
			want := referenceJoin(frameRows(t, left), frameRows(t, right), []int{0}, []int{1}, c.allLeft, c.allRight)
			assert.Equal(t, want, rowStrings(frameRows(t, out)))
			requireNoTransientKeys(t, cl)
		})
	}
}

func Test_mergeMultiKey(t *testing.T) {
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(11))
	cl := newTestCluster(t, 3)
	nl, nr := 400, 350
	lcols := []frame.Column{
		randomIntColumn(rnd, "a", nl, 6, 0.02),
		randomEnumColumn(rnd, "e", nl, []string{"a", "b", "c", "q"}, 0.02),
		randomDoubleColumn(rnd, "d", nl, 0.02),
	}
	rcols := []frame.Column{
		randomEnumColumn(rnd, "e", nr, []string{"c", "b", "a", "r"}, 0.02),
		randomDoubleColumn(rnd, "d", nr, 0.02),
		randomIntColumn(rnd, "a", nr, 8, 0.02),
	}
	left, err := frame.FromColumns(cl, frame.RoundRobinLayout(int64(nl), 31, 3), lcols...)
	require.NoError(t, err)
	right, err := frame.FromColumns(cl, frame.ContiguousLayout(int64(nr), 40, 3), rcols...)
	require.NoError(t, err)

	for _, asc := range [][]bool{nil, {false, true, false}} {
		spec := MergeSpec{
			LeftCols:  []int{0, 1, 2},
			RightCols: []int{2, 0, 1},
			Ascending: asc,
			AllLeft:   true,
		}
		out, err := Merge(ctx, left, right, spec, Options{MaxBatchBytes: 256})
		require.NoError(t, err)
		want := referenceJoin(frameRows(t, left), frameRows(t, right), []int{0, 1, 2}, []int{2, 0, 1}, true, false)
		assert.Equal(t, want, rowStrings(frameRows(t, out)))
		requireNoTransientKeys(t, cl)
	}
}

func Test_mergeEnumByDomain(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	left, err := frame.FromColumns(cl, frame.RoundRobinLayout(4, 2, 2),
		frame.EnumColumn("c", []string{"red", "green", "blue"}, 0, 1, 2, 1))
	require.NoError(t, err)
	right, err := frame.FromColumns(cl, frame.RoundRobinLayout(3, 2, 2),
		frame.EnumColumn("c", []string{"green", "red", "pink"}, 0, 1, 2),
		frame.IntColumn("n", 10, 20, 30))
	require.NoError(t, err)

	out, err := Merge(ctx, left, right, MergeSpec{LeftCols: []int{0}, RightCols: []int{0}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[green green 10]",
		"[green green 10]",
		"[red red 20]",
	}, rowStrings(frameRows(t, out)))

	// an explicit map overrides the domains.
	spec := MergeSpec{LeftCols: []int{0}, RightCols: []int{0}, LeftIDMaps: [][]int{{2, -1, -1}}}
	out, err = Merge(ctx, left, right, spec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"[red pink 30]"}, rowStrings(frameRows(t, out)))
	requireNoTransientKeys(t, cl)
}

func Test_mergeNAKeys(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	lk := frame.IntColumn("k", 0, 1, 0)
	lk.NA = []bool{true, false, true}
	rk := frame.IntColumn("k", 0, 1)
	rk.NA = []bool{true, false}
	left, err := frame.FromColumns(cl, frame.RoundRobinLayout(3, 2, 2), lk)
	require.NoError(t, err)
	right, err := frame.FromColumns(cl, frame.RoundRobinLayout(2, 1, 2), rk)
	require.NoError(t, err)

	out, err := Merge(ctx, left, right, MergeSpec{LeftCols: []int{0}, RightCols: []int{0}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), int64(1)}}, frameRows(t, out))

	spec := MergeSpec{LeftCols: []int{0}, RightCols: []int{0}, AllLeft: true, AllRight: true}
	out, err = Merge(ctx, left, right, spec, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[1 1]",
		"[<nil> <nil>]",
		"[<nil> <nil>]",
		"[<nil> <nil>]",
	}, rowStrings(frameRows(t, out)))
	requireNoTransientKeys(t, cl)
}

func Test_mergeEmptyRight(t *testing.T) {
	cl := newTestCluster(t, 2)
	ctx := context.Background()
	left, err := frame.FromColumns(cl, frame.RoundRobinLayout(3, 2, 2),
		frame.IntColumn("k", 3, 1, 2))
	require.NoError(t, err)
	right, err := frame.FromColumns(cl, frame.RoundRobinLayout(0, 2, 2),
		frame.IntColumn("k"),
		frame.StrColumn("s"))
	require.NoError(t, err)

	out, err := Merge(ctx, left, right, MergeSpec{LeftCols: []int{0}, RightCols: []int{0}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.NumRows())

	out, err = Merge(ctx, left, right, MergeSpec{LeftCols: []int{0}, RightCols: []int{0}, AllLeft: true}, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{int64(1), nil, nil},
		{int64(2), nil, nil},
		{int64(3), nil, nil},
	}, frameRows(t, out))
	requireNoTransientKeys(t, cl)
}

func Test_mergeKindMismatch(t *testing.T) {
	cl := newTestCluster(t, 1)
	ctx := context.Background()
	left, err := frame.FromColumns(cl, frame.RoundRobinLayout(1, 1, 1), frame.IntColumn("k", 1))
	require.NoError(t, err)
	right, err := frame.FromColumns(cl, frame.RoundRobinLayout(1, 1, 1), frame.DoubleColumn("k", 1))
	require.NoError(t, err)
	_, err = Merge(ctx, left, right, MergeSpec{LeftCols: []int{0}, RightCols: []int{0}}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	stage, ok := FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, STAGE_ENCODE, stage)
	requireNoTransientKeys(t, cl)
}
