package radix

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/common"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/util"
)

func newTestCluster(t *testing.T, n int) *cluster.Cluster {
	cl, err := cluster.NewCluster(util.ClusterConfig{Nodes: n, WorkersPerNode: 3})
	require.NoError(t, err)
	t.Cleanup(cl.Close)
	return cl
}

func requireNoTransientKeys(t *testing.T, cl *cluster.Cluster) {
	require.Equal(t, 0, cl.KeyCount("radix/"))
}

func cellValue(col frame.Column, i int) any {
	if len(col.NA) != 0 && col.NA[i] {
		return nil
	}
	switch col.Kind {
	case common.LTID_BIGINT, common.LTID_ENUM:
		return col.I64[i]
	case common.LTID_DOUBLE:
		return col.F64[i]
	default:
		return col.Str[i]
	}
}

// compareCell orders one key cell. NA sorts first in both directions.
func compareCell(a, b any, asc bool) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	var c int
	switch av := a.(type) {
	case int64:
		bv := b.(int64)
		if av < bv {
			c = -1
		} else if av > bv {
			c = 1
		}
	case float64:
		bv := b.(float64)
		if av < bv {
			c = -1
		} else if av > bv {
			c = 1
		}
	}
	if !asc {
		c = -c
	}
	return c
}

// referenceOrder sorts row indexes stably by the key columns.
func referenceOrder(cols []frame.Column, keys []int, asc []bool) []int64 {
	n := cols[0].Len()
	perm := make([]int64, n)
	for i := range perm {
		perm[i] = int64(i)
	}
	sort.SliceStable(perm, func(x, y int) bool {
		for k, c := range keys {
			a := cellValue(cols[c], int(perm[x]))
			b := cellValue(cols[c], int(perm[y]))
			ascK := asc == nil || asc[k]
			if cmp := compareCell(a, b, ascK); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return perm
}

func randomIntColumn(rnd *rand.Rand, name string, n int, span int64, naRate float64) frame.Column {
	col := frame.IntColumn(name, make([]int64, n)...)
	col.NA = make([]bool, n)
	for i := range col.I64 {
		col.I64[i] = rnd.Int63n(span) - span/2
		col.NA[i] = rnd.Float64() < naRate
	}
	return col
}

func randomDoubleColumn(rnd *rand.Rand, name string, n int, naRate float64) frame.Column {
	col := frame.DoubleColumn(name, make([]float64, n)...)
	col.NA = make([]bool, n)
	for i := range col.F64 {
		col.F64[i] = math.Round((rnd.Float64()*20-10)*2) / 2
		col.NA[i] = rnd.Float64() < naRate
	}
	return col
}

func randomEnumColumn(rnd *rand.Rand, name string, n int, domain []string, naRate float64) frame.Column {
	col := frame.EnumColumn(name, domain, make([]int64, n)...)
	col.NA = make([]bool, n)
	for i := range col.I64 {
		col.I64[i] = rnd.Int63n(int64(len(domain)))
		col.NA[i] = rnd.Float64() < naRate
	}
	return col
}

func randomStrColumn(rnd *rand.Rand, name string, n int) frame.Column {
	col := frame.StrColumn(name, make([]string, n)...)
	for i := range col.Str {
		col.Str[i] = fmt.Sprintf("s%d", rnd.Intn(1000))
	}
	return col
}

// randomLayout cuts n rows into chunks of random sizes, empty ones
// included, on random nodes.
func randomLayout(rnd *rand.Rand, n int, nodes int) frame.Layout {
	var layout frame.Layout
	left := n
	for left > 0 {
		rows := rnd.Intn(min(left, 97) + 1)
		layout.ChunkRows = append(layout.ChunkRows, rows)
		layout.Homes = append(layout.Homes, rnd.Intn(nodes))
		left -= rows
	}
	return layout
}

func frameRows(t *testing.T, fr *frame.Frame) [][]any {
	rows, err := fr.Rows(context.Background())
	require.NoError(t, err)
	return rows
}

// referenceJoin is a nested loop equi-join over go values. NA never
// matches.
func referenceJoin(lrows, rrows [][]any, lkeys, rkeys []int, allLeft, allRight bool) []string {
	var out []string
	nl, nr := 0, 0
	if len(lrows) > 0 {
		nl = len(lrows[0])
	}
	if len(rrows) > 0 {
		nr = len(rrows[0])
	}
	rMatched := make([]bool, len(rrows))
	for _, l := range lrows {
		matched := false
		for j, r := range rrows {
			eq := true
			for k := range lkeys {
				a, b := l[lkeys[k]], r[rkeys[k]]
				if a == nil || b == nil || a != b {
					eq = false
					break
				}
			}
			if eq {
				matched = true
				rMatched[j] = true
				out = append(out, fmt.Sprint(append(append([]any{}, l...), r...)))
			}
		}
		if !matched && allLeft {
			out = append(out, fmt.Sprint(append(append([]any{}, l...), make([]any, nr)...)))
		}
	}
	if allRight {
		for j, r := range rrows {
			if !rMatched[j] {
				out = append(out, fmt.Sprint(append(make([]any, nl), r...)))
			}
		}
	}
	sort.Strings(out)
	return out
}

func rowStrings(rows [][]any) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = fmt.Sprint(row)
	}
	sort.Strings(out)
	return out
}
