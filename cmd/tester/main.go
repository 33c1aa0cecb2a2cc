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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/radixmerge/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRootFlags()
	initSortCmd()
	initMergeCmd()
}

var testerCfg = util.DefaultConfig()

///root cmd

var info = "tester"
var RootCmd = &cobra.Command{
	Use:          "tester",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tester --help or -h")
	},
}

var cfgFile string

func initRootFlags() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file path")
	flags.Int("nodes", testerCfg.Cluster.Nodes, "simulated cluster nodes")
	flags.Int("workers", testerCfg.Cluster.WorkersPerNode, "workers per node")
	flags.Int("max_batch_bytes", testerCfg.Radix.MaxBatchBytes, "key bytes per OX batch")
	flags.Int("output_chunk_rows", testerCfg.Radix.OutputChunkRows, "rows per output chunk")
	flags.Bool("verify", false, "verify every sorted bucket")
	flags.Bool("print_result", false, "print the first result rows")
	flags.Bool("print_stats", false, "print the stage and bucket summary")

	viper.BindPFlag("cluster.nodes", flags.Lookup("nodes"))
	viper.BindPFlag("cluster.workersPerNode", flags.Lookup("workers"))
	viper.BindPFlag("radix.maxBatchBytes", flags.Lookup("max_batch_bytes"))
	viper.BindPFlag("radix.outputChunkRows", flags.Lookup("output_chunk_rows"))
	viper.BindPFlag("radix.verify", flags.Lookup("verify"))
	viper.BindPFlag("debug.printResult", flags.Lookup("print_result"))
	viper.BindPFlag("debug.printStats", flags.Lookup("print_stats"))
}

func initCommonCfg() error {
	testerCfg.Cluster.Nodes = viper.GetInt("cluster.nodes")
	testerCfg.Cluster.WorkersPerNode = viper.GetInt("cluster.workersPerNode")
	testerCfg.Radix.MaxBatchBytes = viper.GetInt("radix.maxBatchBytes")
	testerCfg.Radix.OutputChunkRows = viper.GetInt("radix.outputChunkRows")
	testerCfg.Radix.Verify = viper.GetBool("radix.verify")
	testerCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	testerCfg.Debug.PrintStats = viper.GetBool("debug.printStats")
	if viper.IsSet("debug.maxOutputRowCount") {
		testerCfg.Debug.MaxOutputRowCount = viper.GetInt("debug.maxOutputRowCount")
	}
	if viper.IsSet("log.level") {
		testerCfg.Log.Level = viper.GetString("log.level")
		testerCfg.Log.Format = viper.GetString("log.format")
		testerCfg.Log.File = viper.GetString("log.file")
		testerCfg.Log.MaxSizeMB = viper.GetInt("log.maxSizeMB")
		testerCfg.Log.MaxBackups = viper.GetInt("log.maxBackups")
		testerCfg.Log.MaxAgeDays = viper.GetInt("log.maxAgeDays")
	}
	return util.InitLogger(&testerCfg.Log)
}

func bindDataFlags(cmd *cobra.Command, side string, data *util.DataConfig) {
	flags := cmd.Flags()
	flags.String(side+"_path", "", side+" input path. empty generates rows")
	flags.String(side+"_format", data.Format, side+" input format. csv, parquet")
	flags.Int64(side+"_rows", data.Rows, side+" generated rows")
	flags.Int(side+"_chunk_rows", data.ChunkRows, side+" rows per chunk")
	flags.Int64(side+"_key_span", data.KeySpan, side+" generated key span")
	flags.Float64(side+"_na_rate", data.NARate, side+" generated NA rate")
	flags.Int64(side+"_seed", data.Seed, side+" generator seed")
	flags.String(side+"_layout", data.Layout, side+" chunk layout. roundrobin, contiguous")

	viper.BindPFlag(side+".path", flags.Lookup(side+"_path"))
	viper.BindPFlag(side+".format", flags.Lookup(side+"_format"))
	viper.BindPFlag(side+".rows", flags.Lookup(side+"_rows"))
	viper.BindPFlag(side+".chunkRows", flags.Lookup(side+"_chunk_rows"))
	viper.BindPFlag(side+".keySpan", flags.Lookup(side+"_key_span"))
	viper.BindPFlag(side+".naRate", flags.Lookup(side+"_na_rate"))
	viper.BindPFlag(side+".seed", flags.Lookup(side+"_seed"))
	viper.BindPFlag(side+".layout", flags.Lookup(side+"_layout"))
}

func initDataCfg(side string, data *util.DataConfig) {
	data.Path = viper.GetString(side + ".path")
	data.Format = viper.GetString(side + ".format")
	data.Rows = viper.GetInt64(side + ".rows")
	data.ChunkRows = viper.GetInt(side + ".chunkRows")
	data.KeySpan = viper.GetInt64(side + ".keySpan")
	data.NARate = viper.GetFloat64(side + ".naRate")
	data.Seed = viper.GetInt64(side + ".seed")
	data.Layout = viper.GetString(side + ".layout")
}

//sort cmd

var sortKeys []int
var sortDesc []bool

var sortInfo = "sort one frame by key columns"
var sortCmd = &cobra.Command{
	Use:   "sort",
	Short: sortInfo,
	Long:  sortInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommonCfg(); err != nil {
			return err
		}
		initDataCfg("left", &testerCfg.Left)
		return runSort(cmd.Context(), testerCfg, sortKeys, sortDesc, os.Stdout)
	},
}

func initSortCmd() {
	RootCmd.AddCommand(sortCmd)
	sortCmd.Flags().IntSliceVar(&sortKeys, "keys", []int{0}, "key column indexes")
	sortCmd.Flags().BoolSliceVar(&sortDesc, "desc", nil, "descending flag per key column")
	bindDataFlags(sortCmd, "left", &testerCfg.Left)
}

//merge cmd

var mergeArgs mergeOptions

var mergeInfo = "join two frames on equal keys"
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: mergeInfo,
	Long:  mergeInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initCommonCfg(); err != nil {
			return err
		}
		initDataCfg("left", &testerCfg.Left)
		initDataCfg("right", &testerCfg.Right)
		return runMerge(cmd.Context(), testerCfg, mergeArgs, os.Stdout)
	},
}

func initMergeCmd() {
	RootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().IntSliceVar(&mergeArgs.leftKeys, "left_keys", []int{0}, "left key column indexes")
	mergeCmd.Flags().IntSliceVar(&mergeArgs.rightKeys, "right_keys", []int{0}, "right key column indexes")
	mergeCmd.Flags().BoolVar(&mergeArgs.allLeft, "all_left", false, "keep unmatched left rows")
	mergeCmd.Flags().BoolVar(&mergeArgs.allRight, "all_right", false, "keep unmatched right rows")
	bindDataFlags(mergeCmd, "left", &testerCfg.Left)
	bindDataFlags(mergeCmd, "right", &testerCfg.Right)
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "tester.toml"

func loadConfig() {
	paths := make([]string, 0, len(defCfgFilePaths)+1)
	if cfgFile != "" {
		paths = append(paths, cfgFile)
	}
	for _, dirPath := range defCfgFilePaths {
		paths = append(paths, filepath.Join(dirPath, cfgFileName))
	}
	for _, fpath := range paths {
		if !util.FileIsValid(fpath) {
			continue
		}
		viper.SetConfigFile(fpath)
		err := viper.ReadInConfig()
		if err != nil {
			util.Error("viper load config file failed",
				zap.String("fpath", fpath),
				zap.Error(err))
			continue
		}
		return
	}
	if cfgFile != "" {
		util.Error("config file does not exist", zap.String("fpath", cfgFile))
		os.Exit(1)
	}
	util.Info("tester.toml does not exist, using defaults")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
