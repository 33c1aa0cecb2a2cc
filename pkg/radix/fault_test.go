package radix

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

var errInjected = errors.New("injected")

func injectRadixFault(t *testing.T, name string) {
	util.Open(util.FAULTS_SCOPE_RADIX)
	t.Cleanup(func() {
		util.Close(util.FAULTS_SCOPE_RADIX)
	})
	util.Register(util.FAULTS_SCOPE_RADIX, name, nil, func([]string) error {
		return errInjected
	})
}

func faultFrame(t *testing.T, cl *cluster.Cluster) *frame.Frame {
	fr, err := frame.FromColumns(cl, frame.RoundRobinLayout(500, 40, cl.Size()),
		frame.IntColumn("k", seq(500, 37)...),
		frame.StrColumn("s", make([]string, 500)...))
	require.NoError(t, err)
	return fr
}

func seq(n int, mod int64) []int64 {
	ret := make([]int64, n)
	for i := range ret {
		ret[i] = int64(i*7) % mod
	}
	return ret
}

func Test_sortBucketFault(t *testing.T) {
	cl := newTestCluster(t, 3)
	fr := faultFrame(t, cl)
	injectRadixFault(t, "radix.sort.bucket")

	_, err := Order(context.Background(), fr, KeySpec{Cols: []int{0}}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))
	assert.True(t, errors.Is(err, ErrRemote))
	stage, ok := FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, STAGE_SORT, stage)
	requireNoTransientKeys(t, cl)
}

func Test_fetchFault(t *testing.T) {
	cl := newTestCluster(t, 2)
	fr := faultFrame(t, cl)
	chunksBefore := cl.Node(0).ChunkCount() + cl.Node(1).ChunkCount()
	injectRadixFault(t, "radix.fetch")

	_, err := Sort(context.Background(), fr, KeySpec{Cols: []int{0}}, Options{OutputChunkRows: 64})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))
	stage, ok := FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, STAGE_MATERIALIZE, stage)
	requireNoTransientKeys(t, cl)

	_, err = Merge(context.Background(), fr, fr, MergeSpec{LeftCols: []int{0}, RightCols: []int{0}}, Options{})
	require.Error(t, err)
	stage, ok = FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, STAGE_MATERIALIZE, stage)
	requireNoTransientKeys(t, cl)
	assert.Equal(t, chunksBefore, cl.Node(0).ChunkCount()+cl.Node(1).ChunkCount())
}

func Test_unavailableNodeFails(t *testing.T) {
	cl := newTestCluster(t, 2)
	fr := faultFrame(t, cl)
	util.Open(util.FAULTS_SCOPE_CLUSTER)
	defer util.Close(util.FAULTS_SCOPE_CLUSTER)
	util.Register(util.FAULTS_SCOPE_CLUSTER, cluster.UnavailableFault(1), nil, nil)

	_, err := Order(context.Background(), fr, KeySpec{Cols: []int{0}}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cluster.ErrNodeUnavailable))
	stage, ok := FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, STAGE_ENCODE, stage)
	requireNoTransientKeys(t, cl)
}

func Test_cancelledContext(t *testing.T) {
	cl := newTestCluster(t, 2)
	fr := faultFrame(t, cl)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Order(ctx, fr, KeySpec{Cols: []int{0}}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	requireNoTransientKeys(t, cl)
}
