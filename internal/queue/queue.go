// Package queue provides the prioritized work queue that collection tasks are
// drained through. A fixed-size worker pool bounds how many tasks execute at
// once; within the pool, higher priority tasks are always picked first and
// equal priorities run in arrival order.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/gammazero/workerpool"
	"gorm.io/gorm"

	"github.com/priyxstudio/curator/internal/models"
)

// Priority levels for queued tasks.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Task is a unit of collection work that can be queued and executed.
type Task interface {
	ID() string
	Name() string
	Module() string
	Priority() Priority
	Execute(ctx context.Context) error
}

// Stats is a snapshot of queue throughput counters.
type Stats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue drains prioritized tasks through a bounded worker pool. Task runs are
// persisted when a database is provided so throughput survives inspection
// across restarts.
type Queue struct {
	name string
	pool *workerpool.WorkerPool
	db   *gorm.DB

	mu   sync.Mutex
	heap taskHeap
	seq  uint64

	ctx    context.Context
	cancel context.CancelFunc

	pending   atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a queue draining tasks through the given number of workers.
// The db may be nil, in which case task runs are not persisted.
func New(name string, workers int, db *gorm.DB) *Queue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		name:   name,
		pool:   workerpool.New(workers),
		db:     db,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds a task to the queue. The call never blocks on task execution.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, &queued{task: t, seq: q.seq})
	q.mu.Unlock()

	q.pending.Add(1)
	q.persist(t, "pending", "")

	log.WithFields(log.Fields{
		"queue":    q.name,
		"task_id":  t.ID(),
		"task":     t.Name(),
		"module":   t.Module(),
		"priority": t.Priority(),
	}).Debug("task enqueued")

	// One pool submission per enqueued task keeps the drain count in sync
	// with the heap; the worker itself picks whichever task currently has the
	// highest priority.
	q.pool.Submit(q.runNext)
}

func (q *Queue) runNext() {
	q.mu.Lock()
	if q.heap.Len() == 0 {
		q.mu.Unlock()
		return
	}
	item := heap.Pop(&q.heap).(*queued)
	q.mu.Unlock()

	t := item.task
	q.pending.Add(-1)
	if q.ctx.Err() != nil {
		q.failed.Add(1)
		q.persist(t, "failed", "queue shut down before execution")
		return
	}

	q.running.Add(1)
	q.persist(t, "running", "")

	logger := log.WithFields(log.Fields{
		"queue":   q.name,
		"task_id": t.ID(),
		"task":    t.Name(),
		"module":  t.Module(),
	})

	err := t.Execute(q.ctx)
	q.running.Add(-1)
	if err != nil {
		q.failed.Add(1)
		q.persist(t, "failed", err.Error())
		logger.WithError(err).Error("task failed")
		return
	}

	q.completed.Add(1)
	q.persist(t, "completed", "")
	logger.Debug("task completed")
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pending:   q.pending.Load(),
		Running:   q.running.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}

// Stop cancels the execution context handed to tasks and waits for in-flight
// work to drain.
func (q *Queue) Stop() {
	q.cancel()
	q.pool.StopWait()
	log.WithField("queue", q.name).Info("task queue stopped")
}

func (q *Queue) persist(t Task, status, errMsg string) {
	if q.db == nil {
		return
	}

	var record models.TaskRun
	result := q.db.Where("task_id = ?", t.ID()).First(&record)

	record.TaskID = t.ID()
	record.Name = t.Name()
	record.Module = t.Module()
	record.Priority = int(t.Priority())
	record.Status = status
	record.Error = errMsg

	var err error
	if result.Error == gorm.ErrRecordNotFound {
		err = q.db.Create(&record).Error
	} else if result.Error != nil {
		err = result.Error
	} else {
		err = q.db.Save(&record).Error
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"queue":   q.name,
			"task_id": t.ID(),
		}).Warn("failed to persist task run")
	}
}

// queued wraps a task with its arrival sequence for stable ordering.
type queued struct {
	task Task
	seq  uint64
}

// taskHeap orders by priority first, then arrival order.
type taskHeap []*queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority() != h[j].task.Priority() {
		return h[i].task.Priority() > h[j].task.Priority()
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*queued))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
