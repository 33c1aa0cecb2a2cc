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

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/common"
	"github.com/daviszhen/radixmerge/pkg/frame"
	"github.com/daviszhen/radixmerge/pkg/radix"
	"github.com/daviszhen/radixmerge/pkg/util"
)

type mergeOptions struct {
	leftKeys  []int
	rightKeys []int
	allLeft   bool
	allRight  bool
}

var genDomain = []string{"a", "b", "c", "d", "e", "f", "g", "h"}

func loadFrame(cl *cluster.Cluster, data *util.DataConfig) (*frame.Frame, error) {
	if data.Path == "" {
		return generateFrame(cl, data)
	}
	switch data.Format {
	case "csv":
		return frame.LoadCSV(cl, data.Path, data.ChunkRows, ',')
	case "parquet":
		return frame.LoadParquet(cl, data.Path, data.ChunkRows)
	default:
		return nil, errors.Newf("usp data format %q", data.Format)
	}
}

// generateFrame makes a frame with an int key, a double, a categorical and
// a string column.
func generateFrame(cl *cluster.Cluster, data *util.DataConfig) (*frame.Frame, error) {
	var layout frame.Layout
	switch data.Layout {
	case "", "roundrobin":
		layout = frame.RoundRobinLayout(data.Rows, data.ChunkRows, cl.Size())
	case "contiguous":
		layout = frame.ContiguousLayout(data.Rows, data.ChunkRows, cl.Size())
	default:
		return nil, errors.Newf("usp layout %q", data.Layout)
	}
	n := int(data.Rows)
	span := max(data.KeySpan, 1)
	rnd := rand.New(rand.NewSource(data.Seed))
	key := frame.IntColumn("key", make([]int64, n)...)
	val := frame.DoubleColumn("val", make([]float64, n)...)
	cat := frame.EnumColumn("cat", genDomain, make([]int64, n)...)
	tag := frame.StrColumn("tag", make([]string, n)...)
	key.NA = make([]bool, n)
	for i := 0; i < n; i++ {
		key.I64[i] = rnd.Int63n(span)
		key.NA[i] = rnd.Float64() < data.NARate
		val.F64[i] = rnd.NormFloat64() * 100
		cat.I64[i] = rnd.Int63n(int64(len(genDomain)))
		tag.Str[i] = fmt.Sprintf("t%d", i)
	}
	return frame.FromColumns(cl, layout, key, val, cat, tag)
}

func radixOptions(cfg *util.Config, reg *prometheus.Registry) radix.Options {
	opts := radix.OptionsFromConfig(&cfg.Radix)
	opts.Metrics = radix.NewMetrics(reg)
	return opts
}

func ascending(desc []bool) []bool {
	if len(desc) == 0 {
		return nil
	}
	asc := make([]bool, len(desc))
	for i, d := range desc {
		asc[i] = !d
	}
	return asc
}

// verifyPermutation checks that perm holds every row of [0,n) exactly once.
func verifyPermutation(perm []int64, n int64) error {
	if int64(len(perm)) != n {
		return errors.Newf("permutation has %d rows, frame %d", len(perm), n)
	}
	bm := roaring64.NewBitmap()
	for i, p := range perm {
		if p < 0 || p >= n {
			return errors.Newf("permutation entry %d is %d, out of [0,%d)", i, p, n)
		}
		bm.Add(uint64(p))
	}
	if bm.GetCardinality() != uint64(n) {
		return errors.Newf("permutation covers %d distinct rows of %d", bm.GetCardinality(), n)
	}
	return nil
}

func runSort(ctx context.Context, cfg *util.Config, keys []int, desc []bool, w io.Writer) error {
	cl, err := cluster.NewCluster(cfg.Cluster)
	if err != nil {
		return err
	}
	defer cl.Close()
	fr, err := loadFrame(cl, &cfg.Left)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	opts := radixOptions(cfg, reg)
	ks := radix.KeySpec{Cols: keys, Ascending: ascending(desc)}
	start := time.Now()
	idx, err := radix.BuildIndex(ctx, fr, ks, opts)
	if err != nil {
		return err
	}
	if err = verifyPermutation(idx.Perm(), fr.NumRows()); err != nil {
		return err
	}
	sorted, err := radix.Sort(ctx, fr, ks, opts)
	if err != nil {
		return err
	}
	util.Info("sort done",
		zap.Int64("rows", fr.NumRows()),
		zap.Duration("cost", time.Since(start)))

	fmt.Fprintf(w, "sorted %d rows, %d groups, unique %v\n", sorted.NumRows(), idx.NumGroups(), idx.IsUnique())
	if cfg.Debug.PrintResult {
		if err = printRows(w, sorted, cfg.Debug.MaxOutputRowCount); err != nil {
			return err
		}
	}
	if cfg.Debug.PrintStats {
		perNode := make([]int64, cl.Size())
		bucketRows := idx.BucketRows()
		for b, n := range bucketRows {
			perNode[b%cl.Size()] += n
		}
		printStats(w, fmt.Sprintf("sort %d rows on %d nodes", fr.NumRows(), cl.Size()), reg, "bucket rows", perNode)
	}
	return nil
}

func runMerge(ctx context.Context, cfg *util.Config, args mergeOptions, w io.Writer) error {
	cl, err := cluster.NewCluster(cfg.Cluster)
	if err != nil {
		return err
	}
	defer cl.Close()
	left, err := loadFrame(cl, &cfg.Left)
	if err != nil {
		return err
	}
	right, err := loadFrame(cl, &cfg.Right)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	spec := radix.MergeSpec{
		LeftCols:  args.leftKeys,
		RightCols: args.rightKeys,
		AllLeft:   args.allLeft,
		AllRight:  args.allRight,
	}
	out, err := radix.Merge(ctx, left, right, spec, radixOptions(cfg, reg))
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "merged %d x %d rows into %d rows\n", left.NumRows(), right.NumRows(), out.NumRows())
	if cfg.Debug.PrintResult {
		if err = printRows(w, out, cfg.Debug.MaxOutputRowCount); err != nil {
			return err
		}
	}
	if cfg.Debug.PrintStats {
		perNode := make([]int64, cl.Size())
		if out.NumCols() > 0 {
			vec := out.AnyVec()
			for cidx := 0; cidx < vec.NChunks(); cidx++ {
				perNode[vec.Home(cidx)] += int64(vec.ChunkLen(cidx))
			}
		}
		title := fmt.Sprintf("merge %d x %d rows on %d nodes", left.NumRows(), right.NumRows(), cl.Size())
		printStats(w, title, reg, "output rows", perNode)
	}
	return nil
}

func cellString(vec *frame.Vec, val any) string {
	if val == nil {
		return "NA"
	}
	if vec.Kind() == common.LTID_ENUM {
		code := val.(int64)
		if code >= 0 && code < int64(vec.Cardinality()) {
			return vec.Domain()[code]
		}
	}
	return fmt.Sprint(val)
}

// headRows reads at most limit leading rows.
func headRows(fr *frame.Frame, limit int) ([][]string, error) {
	n := int(min(int64(limit), fr.NumRows()))
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = make([]string, fr.NumCols())
	}
	for j, vec := range fr.Vecs() {
		row := 0
		for cidx := 0; cidx < vec.NChunks() && row < n; cidx++ {
			chk, err := vec.Chunk(cidx)
			if err != nil {
				return nil, err
			}
			for i := 0; i < chk.Len() && row < n; i++ {
				rows[row][j] = cellString(vec, chk.Value(i))
				row++
			}
		}
	}
	return rows, nil
}

func printRows(w io.Writer, fr *frame.Frame, limit int) error {
	rows, err := headRows(fr, limit)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(fr.Names())
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func printStats(w io.Writer, title string, reg *prometheus.Registry, nodeLabel string, perNode []int64) {
	tree := treeprint.NewWithRoot(title)
	families, err := reg.Gather()
	if err != nil {
		util.Warn("gather metrics failed", zap.Error(err))
	}
	stages := tree.AddBranch("stages")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case "radix_stage_seconds":
				stage := ""
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "stage" {
						stage = lp.GetValue()
					}
				}
				h := m.GetHistogram()
				stages.AddMetaNode(stage, fmt.Sprintf("%d runs %.4fs", h.GetSampleCount(), h.GetSampleSum()))
			default:
				tree.AddMetaNode(mf.GetName(), fmt.Sprintf("%.0f", m.GetCounter().GetValue()))
			}
		}
	}
	nodes := tree.AddBranch(nodeLabel)
	for n, cnt := range perNode {
		nodes.AddMetaNode(fmt.Sprintf("node %d", n), cnt)
	}
	fmt.Fprintln(w, tree.String())
}
