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
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/daviszhen/radixmerge/pkg/util"
)

var (
	ErrNodeUnavailable = errors.New("node unavailable")
	ErrDuplicateKey    = errors.New("dkv key already exists")
)

// Task runs on one node.
type Task func(ctx context.Context, node *Node) error

// UnavailableFault is the fault name that takes node idx offline.
func UnavailableFault(idx int) string {
	return fmt.Sprintf("node.unavailable.%d", idx)
}

type dkvItem struct {
	key string
	val []byte
}

func dkvItemLess(a, b dkvItem) bool {
	return a.key < b.key
}

// Node is one member of the simulated cluster. Work dispatched to a node
// runs on its task pool. Fetches and store operations run on the leaf pool
// and never dispatch further work, so a full task pool cannot starve them.
type Node struct {
	_idx      int
	_taskPool *ants.Pool
	_leafPool *ants.Pool

	_dkvMu sync.Mutex
	_dkv   *btree.BTreeG[dkvItem]

	_chunkMu sync.RWMutex
	_chunks  map[string]any
}

func newNode(idx int, workers int) (*Node, error) {
	panicHandler := func(v interface{}) {
		util.Error("node pool panic",
			zap.Int("node", idx),
			zap.Error(util.ConvertPanicError(v)))
	}
	taskPool, err := ants.NewPool(workers, ants.WithPanicHandler(panicHandler))
	if err != nil {
		return nil, err
	}
	leafPool, err := ants.NewPool(workers*2, ants.WithPanicHandler(panicHandler))
	if err != nil {
		taskPool.Release()
		return nil, err
	}
	return &Node{
		_idx:      idx,
		_taskPool: taskPool,
		_leafPool: leafPool,
		_dkv:      btree.NewBTreeG[dkvItem](dkvItemLess),
		_chunks:   make(map[string]any),
	}, nil
}

func (node *Node) Idx() int {
	return node._idx
}

func (node *Node) Available() bool {
	return util.Check(util.FAULTS_SCOPE_CLUSTER, UnavailableFault(node._idx)) == nil
}

func (node *Node) checkAvailable() error {
	if !node.Available() {
		return errors.Wrapf(ErrNodeUnavailable, "node %d", node._idx)
	}
	return nil
}

func (node *Node) submit(ctx context.Context, pool *ants.Pool, fn Task) *Future {
	if err := node.checkAvailable(); err != nil {
		return doneFuture(err)
	}
	if err := ctx.Err(); err != nil {
		return doneFuture(err)
	}
	fut := newFuture()
	err := pool.Submit(func() {
		var err error
		defer func() {
			if v := recover(); v != nil {
				err = util.ConvertPanicError(v)
			}
			fut.finish(err)
		}()
		if err = ctx.Err(); err != nil {
			return
		}
		err = fn(ctx, node)
	})
	if err != nil {
		return doneFuture(errors.Wrapf(err, "submit to node %d", node._idx))
	}
	return fut
}

func (node *Node) close() {
	node._taskPool.Release()
	node._leafPool.Release()
}

// PutChunk stores a chunk that lives on this node.
func (node *Node) PutChunk(name string, chunk any) {
	node._chunkMu.Lock()
	node._chunks[name] = chunk
	node._chunkMu.Unlock()
}

func (node *Node) GetChunk(name string) (any, bool) {
	node._chunkMu.RLock()
	defer node._chunkMu.RUnlock()
	chunk, ok := node._chunks[name]
	return chunk, ok
}

func (node *Node) RemoveChunk(name string) {
	node._chunkMu.Lock()
	delete(node._chunks, name)
	node._chunkMu.Unlock()
}

// RemoveChunksByPrefix drops every chunk whose name starts with prefix.
func (node *Node) RemoveChunksByPrefix(prefix string) int {
	node._chunkMu.Lock()
	defer node._chunkMu.Unlock()
	cnt := 0
	for name := range node._chunks {
		if strings.HasPrefix(name, prefix) {
			delete(node._chunks, name)
			cnt++
		}
	}
	return cnt
}

func (node *Node) ChunkCount() int {
	node._chunkMu.RLock()
	defer node._chunkMu.RUnlock()
	return len(node._chunks)
}

func (node *Node) put(name string, val []byte) error {
	node._dkvMu.Lock()
	defer node._dkvMu.Unlock()
	if _, ok := node._dkv.Get(dkvItem{key: name}); ok {
		return errors.Wrapf(ErrDuplicateKey, "%s on node %d", name, node._idx)
	}
	node._dkv.Set(dkvItem{key: name, val: val})
	return nil
}

func (node *Node) get(name string) ([]byte, bool) {
	item, ok := node._dkv.Get(dkvItem{key: name})
	return item.val, ok
}

func (node *Node) remove(name string) ([]byte, bool) {
	item, ok := node._dkv.Delete(dkvItem{key: name})
	return item.val, ok
}

func (node *Node) keysWithPrefix(prefix string) []string {
	var keys []string
	node._dkv.Ascend(dkvItem{key: prefix}, func(item dkvItem) bool {
		if !strings.HasPrefix(item.key, prefix) {
			return false
		}
		keys = append(keys, item.key)
		return true
	})
	return keys
}

func (node *Node) removeByPrefix(prefix string) int {
	node._dkvMu.Lock()
	defer node._dkvMu.Unlock()
	keys := node.keysWithPrefix(prefix)
	for _, key := range keys {
		node._dkv.Delete(dkvItem{key: key})
	}
	return len(keys)
}

func (node *Node) KeyCount() int {
	return node._dkv.Len()
}
