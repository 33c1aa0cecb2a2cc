package radix

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomOXArray(rnd *rand.Rand, n int64, batchSize, keySize int, span int) *oxArray {
	a := newOXArray(n, batchSize, keySize)
	key := make([]byte, keySize)
	for i := int64(0); i < n; i++ {
		for j := range key {
			key[j] = byte(rnd.Intn(span))
		}
		a.set(i, i, key)
	}
	return a
}

func expectedOrder(a *oxArray) []int64 {
	type row struct {
		order int64
		key   []byte
	}
	rows := make([]row, a.Len())
	for i := range rows {
		rows[i] = row{order: a.order(int64(i)), key: append([]byte(nil), a.key(int64(i))...)}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return bytes.Compare(rows[i].key, rows[j].key) < 0
	})
	ret := make([]int64, len(rows))
	for i, r := range rows {
		ret[i] = r.order
	}
	return ret
}

func orders(a *oxArray) []int64 {
	ret := make([]int64, 0, a.Len())
	for i := int64(0); i < a.Len(); i++ {
		ret = append(ret, a.order(i))
	}
	return ret
}

func Test_insertSort(t *testing.T) {
	ks := 2
	o := []int64{0, 1, 2, 3, 4}
	x := []byte{
		9, 3,
		9, 1,
		9, 3,
		9, 0,
		9, 1,
	}
	insertSort(o, x, ks, 1)
	assert.Equal(t, []int64{3, 1, 4, 0, 2}, o)
	assert.Equal(t, []byte{9, 0, 9, 1, 9, 1, 9, 3, 9, 3}, x)
}

func Test_bucketSorter(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for _, n := range []int64{0, 1, 2, 150, 199, 200, 201, 1000, 5000} {
		for _, bs := range []int{1, 7, 64, 10000} {
			a := randomOXArray(rnd, n, bs, 3, 5)
			want := expectedOrder(a)
			require.NoError(t, newBucketSorter(a).sort(0, n, 0))
			assert.Equal(t, want, orders(a), "n=%d bs=%d", n, bs)
			require.NoError(t, verifySorted(a))
		}
	}
}

func Test_bucketSorterSkipsSharedBytes(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	a := newOXArray(600, 50, 4)
	for i := int64(0); i < a.Len(); i++ {
		// bytes 0 and 1 are shared by every row.
		a.set(i, i, []byte{1, 2, byte(rnd.Intn(3)), byte(rnd.Intn(256))})
	}
	want := expectedOrder(a)
	require.NoError(t, newBucketSorter(a).sort(0, a.Len(), 1))
	assert.Equal(t, want, orders(a))
	assert.LessOrEqual(t, countGroups(a), int64(3*256))
}

func Test_countGroups(t *testing.T) {
	a := newOXArray(5, 2, 1)
	for i, k := range []byte{1, 1, 2, 3, 3} {
		a.set(int64(i), int64(i), []byte{k})
	}
	assert.Equal(t, int64(3), countGroups(a))
	assert.Equal(t, int64(0), countGroups(newOXArray(0, 2, 1)))
}

func Test_verifySorted(t *testing.T) {
	a := newOXArray(3, 2, 1)
	a.set(0, 0, []byte{1})
	a.set(1, 2, []byte{2})
	a.set(2, 1, []byte{2})
	err := verifySorted(a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
}

func Test_runCopy(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	src := randomOXArray(rnd, 23, 5, 2, 256)
	dst := newOXArray(30, 4, 2)
	require.NoError(t, runCopy(dst, 3, src, 2, 20))
	for i := int64(0); i < 20; i++ {
		assert.Equal(t, src.order(2+i), dst.order(3+i))
		assert.Equal(t, src.key(2+i), dst.key(3+i))
	}
	err := runCopy(dst, 15, src, 0, 16)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
	err = runCopy(dst, -1, src, 0, 1)
	assert.True(t, errors.Is(err, ErrInvariant))
}

func Test_oxPayload(t *testing.T) {
	batch := &OXBatch{Order: []int64{4, 9, 1}, Keys: []byte{1, 2, 3, 4, 5, 6}}
	blob, err := encodeOXBatch(batch)
	require.NoError(t, err)
	got, err := decodeOXBatch(blob, 2)
	require.NoError(t, err)
	assert.Equal(t, batch, got)

	_, err = decodeOXBatch(blob, 3)
	assert.True(t, errors.Is(err, ErrInvariant))

	blob[0] ^= 0xFF
	_, err = decodeOXBatch(blob, 2)
	assert.True(t, errors.Is(err, ErrInvariant))

	hdr := &OXHeader{NBatch: 3, NumRows: 1001, BatchSize: 500, NGroup: 17}
	gotHdr, err := decodeOXHeader(encodeOXHeader(hdr))
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)

	hist := &nodeHist{Chunks: []int32{2, 5}, Counts: [][]int64{nil, make([]int64, NBUCKET)}}
	hist.Counts[1][7] = 3
	gotHist, err := decodeNodeHist(encodeNodeHist(hist))
	require.NoError(t, err)
	assert.Equal(t, hist, gotHist)
}
