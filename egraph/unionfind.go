// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package egraph

import (
	"fmt"

	"fortio.org/safecast"
)

// ClassID identifies an equivalence class.
// Only the canonical (root) ID of a class
// is meaningful after a union; use Find.
type ClassID uint32

// NodeID identifies a node in the arena.
type NodeID uint32

func classID(n int) ClassID {
	id, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("egraph: class id overflow: %w", err))
	}
	return ClassID(id)
}

func nodeID(n int) NodeID {
	id, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("egraph: node id overflow: %w", err))
	}
	return NodeID(id)
}

// unionfind is a disjoint-set forest over class IDs
// with union by size and path halving.
type unionfind struct {
	parent []ClassID
	size   []uint32
}

func (u *unionfind) add() ClassID {
	id := classID(len(u.parent))
	u.parent = append(u.parent, id)
	u.size = append(u.size, 1)
	return id
}

func (u *unionfind) find(c ClassID) ClassID {
	for u.parent[c] != c {
		u.parent[c] = u.parent[u.parent[c]]
		c = u.parent[c]
	}
	return c
}

// union links the roots a and b and returns
// (root, absorbed). The larger set wins; on
// equal size the lower ID wins.
func (u *unionfind) union(a, b ClassID) (ClassID, ClassID) {
	if u.size[a] < u.size[b] || (u.size[a] == u.size[b] && b < a) {
		a, b = b, a
	}
	u.parent[b] = a
	u.size[a] += u.size[b]
	return a, b
}
