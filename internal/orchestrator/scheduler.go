// Package orchestrator coordinates task attempts across a bounded pool
// of concurrency slots.
package orchestrator

import (
	"container/heap"
	"sync"
	"time"
)

// queuedTask is one admission queue entry.
type queuedTask struct {
	taskID     string
	admittedAt time.Time
	seq        uint64

	// Index in the heap (managed by heap.Interface)
	index int
}

// admissionQueue orders tasks by admission. The sequence number breaks
// ties between tasks admitted within the same clock tick, so admission
// order is strictly first-in-first-out.
type admissionQueue []*queuedTask

func (q admissionQueue) Len() int { return len(q) }

func (q admissionQueue) Less(i, j int) bool {
	if !q[i].admittedAt.Equal(q[j].admittedAt) {
		return q[i].admittedAt.Before(q[j].admittedAt)
	}
	return q[i].seq < q[j].seq
}

func (q admissionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *admissionQueue) Push(x any) {
	n := len(*q)
	item := x.(*queuedTask)
	item.index = n
	*q = append(*q, item)
}

func (q *admissionQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[0 : n-1]
	return item
}

// Scheduler is the FIFO admission queue. Priority scheduling is a
// documented future extension; this queue deliberately orders by
// admission time only.
type Scheduler struct {
	queue   admissionQueue
	running map[string]bool
	done    map[string]bool
	nextSeq uint64
	mu      sync.RWMutex
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		queue:   make(admissionQueue, 0),
		running: make(map[string]bool),
		done:    make(map[string]bool),
	}
	heap.Init(&s.queue)
	return s
}

// Enqueue adds a task to the back of the admission queue. Re-enqueueing
// a queued or running task is a no-op.
func (s *Scheduler) Enqueue(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[taskID] {
		return
	}
	for _, qt := range s.queue {
		if qt.taskID == taskID {
			return
		}
	}

	s.nextSeq++
	heap.Push(&s.queue, &queuedTask{
		taskID:     taskID,
		admittedAt: time.Now(),
		seq:        s.nextSeq,
	})
}

// Requeue returns a running task to the back of the queue, for retry
// after an attempt aborted before its process spawned.
func (s *Scheduler) Requeue(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, taskID)
	s.nextSeq++
	heap.Push(&s.queue, &queuedTask{
		taskID:     taskID,
		admittedAt: time.Now(),
		seq:        s.nextSeq,
	})
}

// Next pops the oldest queued task and marks it running.
func (s *Scheduler) Next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return "", false
	}
	qt := heap.Pop(&s.queue).(*queuedTask)
	s.running[qt.taskID] = true
	return qt.taskID, true
}

// Remove drops a task from the queue without running it. Returns false
// if the task was not queued.
func (s *Scheduler) Remove(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, qt := range s.queue {
		if qt.taskID == taskID {
			heap.Remove(&s.queue, qt.index)
			return true
		}
	}
	return false
}

// MarkFinished releases a task from the running set.
func (s *Scheduler) MarkFinished(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, taskID)
	s.done[taskID] = true
}

// RunningCount returns the number of running tasks.
func (s *Scheduler) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}

// QueueLength returns the number of queued tasks.
func (s *Scheduler) QueueLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Len()
}

// FinishedCount returns the number of tasks that have left the pool.
func (s *Scheduler) FinishedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.done)
}

// IsIdle reports whether nothing is queued or running.
func (s *Scheduler) IsIdle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Len() == 0 && len(s.running) == 0
}

// RunningTasks returns the IDs of currently running tasks.
func (s *Scheduler) RunningTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]string, 0, len(s.running))
	for id := range s.running {
		tasks = append(tasks, id)
	}
	return tasks
}
