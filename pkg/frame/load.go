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
package frame

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	pqLocal "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	pqReader "github.com/xitongsys/parquet-go/reader"
	"go.uber.org/zap"

	"github.com/daviszhen/radixmerge/pkg/cluster"
	"github.com/daviszhen/radixmerge/pkg/common"
	"github.com/daviszhen/radixmerge/pkg/util"
)

// LoadCSV reads a csv file with a header line. Column kinds are inferred:
// BIGINT when every field parses as an integer, then DOUBLE, else VARCHAR.
// Empty fields are NA.
func LoadCSV(cl *cluster.Cluster, path string, chunkRows int, comma rune) (*Frame, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0755)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	reader := csv.NewReader(file)
	if comma != 0 {
		reader.Comma = comma
	}
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", path)
	}
	fields := make([][]string, len(header))
	for {
		line, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(line) != len(header) {
			return nil, errors.Newf("line has %d fields, header %d", len(line), len(header))
		}
		for j, field := range line {
			fields[j] = append(fields[j], field)
		}
	}
	cols := make([]Column, len(header))
	for j, name := range header {
		cols[j] = csvColumn(name, fields[j])
	}
	nRows := int64(0)
	if len(header) != 0 {
		nRows = int64(len(fields[0]))
	}
	util.Info("load csv",
		zap.String("path", path),
		zap.Int("cols", len(header)),
		zap.Int64("rows", nRows))
	return FromColumns(cl, RoundRobinLayout(nRows, chunkRows, cl.Size()), cols...)
}

func csvColumn(name string, fields []string) Column {
	col := Column{Name: name, NA: make([]bool, len(fields))}
	isInt, isDouble := true, true
	for i, f := range fields {
		if f == "" {
			col.NA[i] = true
			continue
		}
		if isInt {
			if _, err := strconv.ParseInt(f, 10, 64); err != nil {
				isInt = false
			}
		}
		if isDouble {
			if _, err := strconv.ParseFloat(f, 64); err != nil {
				isDouble = false
			}
		}
	}
	switch {
	case isInt:
		col.Kind = common.LTID_BIGINT
		col.I64 = make([]int64, len(fields))
		for i, f := range fields {
			if !col.NA[i] {
				col.I64[i], _ = strconv.ParseInt(f, 10, 64)
			}
		}
	case isDouble:
		col.Kind = common.LTID_DOUBLE
		col.F64 = make([]float64, len(fields))
		for i, f := range fields {
			if !col.NA[i] {
				col.F64[i], _ = strconv.ParseFloat(f, 64)
			}
		}
	default:
		col.Kind = common.LTID_VARCHAR
		col.Str = fields
	}
	return col
}

// LoadParquet reads every leaf column of a flat parquet file.
func LoadParquet(cl *cluster.Cluster, path string, chunkRows int) (*Frame, error) {
	file, err := pqLocal.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	reader, err := pqReader.NewParquetColumnReader(file, 1)
	if err != nil {
		return nil, err
	}
	defer reader.ReadStop()

	nRows := reader.GetNumRows()
	var cols []Column
	leaf := int64(0)
	for _, se := range reader.Footer.Schema {
		if se.Type == nil {
			continue
		}
		values, _, _, err := reader.ReadColumnByIndex(leaf, nRows)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "read column %s", se.GetName())
		}
		if int64(len(values)) != nRows {
			return nil, errors.Newf("column %s has %d values, file %d rows",
				se.GetName(), len(values), nRows)
		}
		col, err := parquetColumn(se, values)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		leaf++
	}
	util.Info("load parquet",
		zap.String("path", path),
		zap.Int("cols", len(cols)),
		zap.Int64("rows", nRows))
	return FromColumns(cl, RoundRobinLayout(nRows, chunkRows, cl.Size()), cols...)
}

func parquetColumn(se *parquet.SchemaElement, values []interface{}) (Column, error) {
	col := Column{Name: se.GetName(), NA: make([]bool, len(values))}
	switch se.GetType() {
	case parquet.Type_INT32, parquet.Type_INT64, parquet.Type_BOOLEAN:
		col.Kind = common.LTID_BIGINT
		col.I64 = make([]int64, len(values))
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		col.Kind = common.LTID_DOUBLE
		col.F64 = make([]float64, len(values))
	case parquet.Type_BYTE_ARRAY, parquet.Type_FIXED_LEN_BYTE_ARRAY:
		col.Kind = common.LTID_VARCHAR
		col.Str = make([]string, len(values))
	default:
		return col, errors.Newf("usp parquet type %s of %s", se.GetType(), se.GetName())
	}
	for i, v := range values {
		switch val := v.(type) {
		case nil:
			col.NA[i] = true
		case bool:
			if val {
				col.I64[i] = 1
			}
		case int32:
			col.I64[i] = int64(val)
		case int64:
			col.I64[i] = val
		case float32:
			col.F64[i] = float64(val)
		case float64:
			col.F64[i] = val
		case string:
			col.Str[i] = val
		default:
			return col, errors.Newf("usp parquet value %T in %s", v, se.GetName())
		}
	}
	return col, nil
}
