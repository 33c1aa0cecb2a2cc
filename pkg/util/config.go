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

package util

import (
	"github.com/BurntSushi/toml"
)

const (
	// one OX batch never holds more than this many bytes of keys.
	DefaultMaxBatchBytes   = 1 << 30
	DefaultOutputChunkRows = 1 << 16
	DefaultChunkRows       = 1 << 16
)

type ClusterConfig struct {
	Nodes          int `tag:"nodes" toml:"nodes"`
	WorkersPerNode int `tag:"workersPerNode" toml:"workersPerNode"`
}

type RadixConfig struct {
	MaxBatchBytes   int  `tag:"maxBatchBytes" toml:"maxBatchBytes"`
	OutputChunkRows int  `tag:"outputChunkRows" toml:"outputChunkRows"`
	Verify          bool `tag:"verify" toml:"verify"`
}

type LogConfig struct {
	Level      string `tag:"level" toml:"level"`
	Format     string `tag:"format" toml:"format"`
	File       string `tag:"file" toml:"file"`
	MaxSizeMB  int    `tag:"maxSizeMB" toml:"maxSizeMB"`
	MaxBackups int    `tag:"maxBackups" toml:"maxBackups"`
	MaxAgeDays int    `tag:"maxAgeDays" toml:"maxAgeDays"`
}

type DebugOptions struct {
	PrintResult       bool `tag:"printResult" toml:"printResult"`
	PrintStats        bool `tag:"printStats" toml:"printStats"`
	MaxOutputRowCount int  `tag:"maxOutputRowCount" toml:"maxOutputRowCount"`
}

// DataConfig describes one input frame. An empty Path generates rows.
// Layout is roundrobin or contiguous.
type DataConfig struct {
	Path      string  `tag:"path" toml:"path"`
	Format    string  `tag:"format" toml:"format"`
	Rows      int64   `tag:"rows" toml:"rows"`
	ChunkRows int     `tag:"chunkRows" toml:"chunkRows"`
	KeySpan   int64   `tag:"keySpan" toml:"keySpan"`
	NARate    float64 `tag:"naRate" toml:"naRate"`
	Seed      int64   `tag:"seed" toml:"seed"`
	Layout    string  `tag:"layout" toml:"layout"`
}

type Config struct {
	Cluster ClusterConfig `tag:"cluster" toml:"cluster"`
	Radix   RadixConfig   `tag:"radix" toml:"radix"`
	Log     LogConfig     `tag:"log" toml:"log"`
	Debug   DebugOptions  `tag:"debug" toml:"debug"`
	Left    DataConfig    `tag:"left" toml:"left"`
	Right   DataConfig    `tag:"right" toml:"right"`
}

func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Nodes:          1,
			WorkersPerNode: 4,
		},
		Radix: RadixConfig{
			MaxBatchBytes:   DefaultMaxBatchBytes,
			OutputChunkRows: DefaultOutputChunkRows,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Debug: DebugOptions{
			MaxOutputRowCount: 20,
		},
		Left:  defaultData(1),
		Right: defaultData(2),
	}
}

func defaultData(seed int64) DataConfig {
	return DataConfig{
		Format:    "csv",
		Rows:      100000,
		ChunkRows: DefaultChunkRows,
		KeySpan:   1000,
		Seed:      seed,
		Layout:    "roundrobin",
	}
}

// LoadConfig decodes a toml file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
