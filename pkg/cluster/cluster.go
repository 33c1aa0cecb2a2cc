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

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/radixmerge/pkg/util"
)

// Cluster is an in-process group of nodes. Every node has its own worker
// pools, key-value shard and chunk store.
type Cluster struct {
	_nodes []*Node
}

func NewCluster(cfg util.ClusterConfig) (*Cluster, error) {
	if cfg.Nodes <= 0 {
		return nil, errors.Newf("invalid node count %d", cfg.Nodes)
	}
	workers := cfg.WorkersPerNode
	if workers <= 0 {
		workers = 1
	}
	cl := &Cluster{}
	for i := 0; i < cfg.Nodes; i++ {
		node, err := newNode(i, workers)
		if err != nil {
			cl.Close()
			return nil, err
		}
		cl._nodes = append(cl._nodes, node)
	}
	return cl, nil
}

func (cl *Cluster) Size() int {
	return len(cl._nodes)
}

func (cl *Cluster) Node(idx int) *Node {
	return cl._nodes[idx]
}

func (cl *Cluster) Close() {
	for _, node := range cl._nodes {
		node.close()
	}
}

func (cl *Cluster) checkIdx(idx int) error {
	if idx < 0 || idx >= len(cl._nodes) {
		return errors.Newf("node index %d out of range [0,%d)", idx, len(cl._nodes))
	}
	return nil
}

// RunOn dispatches fn to the task pool of node idx.
func (cl *Cluster) RunOn(ctx context.Context, idx int, fn Task) *Future {
	if err := cl.checkIdx(idx); err != nil {
		return doneFuture(err)
	}
	node := cl._nodes[idx]
	return node.submit(ctx, node._taskPool, fn)
}

// RunLeaf dispatches fn to the leaf pool of node idx. fn must not wait on
// any other dispatched work.
func (cl *Cluster) RunLeaf(ctx context.Context, idx int, fn Task) *Future {
	if err := cl.checkIdx(idx); err != nil {
		return doneFuture(err)
	}
	node := cl._nodes[idx]
	return node.submit(ctx, node._leafPool, fn)
}

// Broadcast runs fn once on every node and waits for all of them.
func (cl *Cluster) Broadcast(ctx context.Context, fn Task) error {
	wg, gctx := errgroup.WithContext(ctx)
	for i := range cl._nodes {
		idx := i
		wg.Go(func() error {
			return cl.RunOn(gctx, idx, fn).Wait()
		})
	}
	return wg.Wait()
}
