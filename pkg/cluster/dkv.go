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
)

// Key names one value in the distributed key-value store. Home is the node
// holding it.
type Key struct {
	Name string
	Home int
}

func (key Key) String() string {
	return fmt.Sprintf("%s@%d", key.Name, key.Home)
}

// Put stores val under key on its home node. A key is written once.
func (cl *Cluster) Put(ctx context.Context, key Key, val []byte) *Future {
	return cl.RunLeaf(ctx, key.Home, func(_ context.Context, node *Node) error {
		return node.put(key.Name, val)
	})
}

func (cl *Cluster) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := cl.RunLeaf(ctx, key.Home, func(_ context.Context, node *Node) error {
		val, ok = node.get(key.Name)
		return nil
	}).Wait()
	if err != nil {
		return nil, false, err
	}
	return val, ok, nil
}

// GetAndRemove fetches the value and deletes it in one step.
func (cl *Cluster) GetAndRemove(ctx context.Context, key Key) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := cl.RunLeaf(ctx, key.Home, func(_ context.Context, node *Node) error {
		val, ok = node.remove(key.Name)
		return nil
	}).Wait()
	if err != nil {
		return nil, false, err
	}
	return val, ok, nil
}

func (cl *Cluster) Remove(ctx context.Context, key Key) *Future {
	return cl.RunLeaf(ctx, key.Home, func(_ context.Context, node *Node) error {
		node.remove(key.Name)
		return nil
	})
}

// RemoveByPrefix deletes every key starting with prefix on every reachable
// node and returns the number removed.
func (cl *Cluster) RemoveByPrefix(prefix string) int {
	cnt := 0
	for _, node := range cl._nodes {
		if !node.Available() {
			continue
		}
		cnt += node.removeByPrefix(prefix)
	}
	return cnt
}

// KeyCount counts the keys starting with prefix across the cluster.
func (cl *Cluster) KeyCount(prefix string) int {
	cnt := 0
	for _, node := range cl._nodes {
		cnt += len(node.keysWithPrefix(prefix))
	}
	return cnt
}
