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

package extract

import "github.com/SnellerInc/midend/egraph"

// queue is a min-heap of classes ordered by cost
type queue struct {
	ids  []egraph.ClassID
	cost []int64
}

func (q *queue) less(i, j int) bool {
	return q.cost[q.ids[i]] < q.cost[q.ids[j]]
}

func (q *queue) init(ids []egraph.ClassID) {
	q.ids = ids
	for i := len(ids) - 1; i >= 0; i-- {
		q.down(i)
	}
}

func (q *queue) len() int { return len(q.ids) }

// pop removes and returns the cheapest class
func (q *queue) pop() egraph.ClassID {
	ret := q.ids[0]
	last := len(q.ids) - 1
	q.ids[0], q.ids = q.ids[last], q.ids[:last]
	if len(q.ids) > 0 {
		q.down(0)
	}
	return ret
}

func (q *queue) down(i int) {
	for {
		left := 2*i + 1
		if left >= len(q.ids) {
			return
		}
		c := left
		if right := left + 1; right < len(q.ids) && q.less(right, left) {
			c = right
		}
		if !q.less(c, i) {
			return
		}
		q.ids[c], q.ids[i] = q.ids[i], q.ids[c]
		i = c
	}
}
