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

package cluster

import (
	"sync"
)

// Future is the completion of one asynchronous remote operation.
type Future struct {
	_done chan struct{}
	_err  error
}

func newFuture() *Future {
	return &Future{_done: make(chan struct{})}
}

func doneFuture(err error) *Future {
	f := newFuture()
	f.finish(err)
	return f
}

func (f *Future) finish(err error) {
	f._err = err
	close(f._done)
}

func (f *Future) Wait() error {
	<-f._done
	return f._err
}

func (f *Future) Done() <-chan struct{} {
	return f._done
}

// Futures collects pending operations so they can be awaited in bulk.
type Futures struct {
	mu  sync.Mutex
	_fs []*Future
}

func (fs *Futures) Add(f *Future) {
	fs.mu.Lock()
	fs._fs = append(fs._fs, f)
	fs.mu.Unlock()
}

// BlockForPending waits for every added future and returns the first error.
func (fs *Futures) BlockForPending() error {
	fs.mu.Lock()
	pending := fs._fs
	fs._fs = nil
	fs.mu.Unlock()

	var first error
	for _, f := range pending {
		if err := f.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
