// Copyright 2026 The httpcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import "container/heap"

// task is one unit of work submitted to the pool, ordered by
// (priority desc, submission sequence asc).
type task struct {
	fn       func()
	handle   *Handle
	priority int
	seq      int64
}

// taskQueue is a container/heap priority queue. Unlike a FIFO channel, it
// lets a high-priority submission jump ahead of queued low-priority work
// that arrived earlier, while two equal-priority tasks keep FIFO order via
// the submission sequence tiebreak.
type taskQueue struct {
	items []*task
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (q *taskQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *taskQueue) Push(x any) {
	q.items = append(q.items, x.(*task))
}

func (q *taskQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return item
}

var _ heap.Interface = (*taskQueue)(nil)
