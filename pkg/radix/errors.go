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
package radix

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrConfig marks input that is rejected before distributed work starts,
	// including key ranges that cannot be encoded.
	ErrConfig = errors.New("radix: configuration error")
	// ErrInvariant marks internal consistency failures.
	ErrInvariant = errors.New("radix: invariant violation")
	// ErrRemote marks failures of another node or of the transport.
	ErrRemote = errors.New("radix: remote failure")
)

type Stage int

const (
	STAGE_ENCODE Stage = iota
	STAGE_HISTOGRAM
	STAGE_SPLIT
	STAGE_SORT
	STAGE_MERGE
	STAGE_MATERIALIZE
	STAGE_STITCH
)

var stageNames = []string{
	STAGE_ENCODE:      "encode",
	STAGE_HISTOGRAM:   "histogram",
	STAGE_SPLIT:       "split",
	STAGE_SORT:        "sort",
	STAGE_MERGE:       "merge",
	STAGE_MATERIALIZE: "materialize",
	STAGE_STITCH:      "stitch",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError carries the stage an operation failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("radix %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage extracts the stage of an operation error.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}

func withStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

func configErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfig)
}

func invariantf(format string, args ...interface{}) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrInvariant)
}

func remoteErr(err error) error {
	if err == nil || errors.Is(err, ErrInvariant) || errors.Is(err, ErrConfig) {
		return err
	}
	return errors.Mark(err, ErrRemote)
}
