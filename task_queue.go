package sarfs

import (
	"sync"

	"github.com/meigma/sarfs/sar"
)

// taskQueue holds fetch requests until the worker drains them. A path queued
// more than once keeps its highest priority.
type taskQueue struct {
	mu    sync.Mutex
	tasks map[sar.FilePath]Priority
}

func newTaskQueue() *taskQueue {
	return &taskQueue{tasks: make(map[sar.FilePath]Priority)}
}

func (q *taskQueue) fetch(path sar.FilePath, p Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.add(path, p)
}

func (q *taskQueue) fetchAll(paths []sar.FilePath, p Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, path := range paths {
		q.add(path, p)
	}
}

func (q *taskQueue) add(path sar.FilePath, p Priority) {
	if cur, ok := q.tasks[path]; !ok || p > cur {
		q.tasks[path] = p
	}
}

func (q *taskQueue) hasEntries() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) > 0
}

// popAll returns every queued task and empties the queue.
func (q *taskQueue) popAll() map[sar.FilePath]Priority {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = make(map[sar.FilePath]Priority)
	return tasks
}
