// Package scheduler implements the per-model task scheduler: a bounded
// priority queue, a fixed-size worker pool, and the request-classification
// logic that derives a Task's (label, priority) from its message text.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KamdynS/marathon/apierr"
	"github.com/KamdynS/marathon/native"
	"github.com/KamdynS/marathon/promptmatch"
	"github.com/KamdynS/marathon/task"
	"github.com/KamdynS/marathon/telemetry"
)

const (
	pollTimeout     = 500 * time.Millisecond
	workerIdleLimit = 10 * time.Minute
	stopJoinTimeout = 5 * time.Second
)

// DefaultWorkerLabel is the classification label/priority for text that
// matches no configured prompt template.
const (
	DefaultWorkerLabel    = "DefaultWorker"
	DefaultWorkerPriority = 0
)

// Classify derives a Task's (label, priority) from the concatenation of a
// request's textual message content, per the configured prompt matcher and
// classification map (template key -> priority, default 1 when unlisted).
func Classify(matcher *promptmatch.Matcher, classification map[string]int, text string) (label string, priority int) {
	if matcher == nil {
		return DefaultWorkerLabel, DefaultWorkerPriority
	}
	result := matcher.Match(text)
	if !result.Matched {
		return DefaultWorkerLabel, DefaultWorkerPriority
	}
	suffix := "default"
	if v, ok := result.FirstPlaceholder(); ok && v != "" {
		suffix = v
	}
	label = fmt.Sprintf("%s_%s", result.Key, suffix)
	priority = 1
	if p, ok := classification[result.Key]; ok {
		priority = p
	}
	return label, priority
}

// Config sizes and bounds one Scheduler instance.
type Config struct {
	WorkerCount  int
	MaxQueueSize int
}

// Scheduler dispatches Tasks for one loaded model across a fixed-size
// worker pool, strictly by descending priority with FIFO tiebreak.
type Scheduler struct {
	adapter native.Adapter
	handle  native.Handle

	// ModelName and Hooks are optional; set after New for telemetry on
	// dispatch. A nil Hooks disables the callback.
	ModelName string
	Hooks     *telemetry.Hooks

	queueWaitTimeout time.Duration
	maxQueueSize     int
	workerCount      int

	mu      sync.Mutex
	running bool
	queue   priorityQueue
	tasks   map[string]*task.Task
	seq     uint64
	notify  chan struct{}

	wg sync.WaitGroup
}

// New creates a Scheduler for one model's adapter/handle pair.
func New(adapter native.Adapter, handle native.Handle, cfg Config, queueWaitTimeout time.Duration) *Scheduler {
	workerCount := cfg.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}
	return &Scheduler{
		adapter:          adapter,
		handle:           handle,
		queueWaitTimeout: queueWaitTimeout,
		maxQueueSize:     cfg.MaxQueueSize,
		workerCount:      workerCount,
		tasks:            make(map[string]*task.Task),
		notify:           make(chan struct{}, 1),
	}
}

// Start launches the worker pool. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(fmt.Sprintf("static-%d", i), false)
	}
}

// Stop signals every worker to finish its current task and exit, then waits
// up to stopJoinTimeout for them to join.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		log.Printf("scheduler: stop timed out after %s waiting for workers", stopJoinTimeout)
	}
}

// Submit registers the already-classified Task t and pushes its (priority,
// insertion sequence) entry into the bounded priority queue. Returns a
// scheduler error if the queue is full.
func (s *Scheduler) Submit(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxQueueSize > 0 && len(s.queue) >= s.maxQueueSize {
		return apierr.Scheduler("queue full (max %d)", s.maxQueueSize)
	}

	s.tasks[t.ID] = t
	s.seq++
	heap.Push(&s.queue, entry{priority: t.Priority, seq: s.seq, taskID: t.ID})

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) dequeue() (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	e := heap.Pop(&s.queue).(entry)
	t, ok := s.tasks[e.taskID]
	if !ok {
		return nil, false
	}
	delete(s.tasks, e.taskID)
	return t, true
}

// workerLoop is one worker's private event loop: poll, dequeue, run to
// completion, repeat. dynamic workers (not yet created by this scheduler;
// the static pool is the only policy currently exercised) self-terminate
// after sitting idle past workerIdleLimit.
func (s *Scheduler) workerLoop(name string, dynamic bool) {
	defer s.wg.Done()
	idleSince := time.Now()

	for s.isRunning() {
		t, ok := s.dequeue()
		if !ok {
			select {
			case <-s.notify:
			case <-time.After(pollTimeout):
			}
			if dynamic && time.Since(idleSince) > workerIdleLimit {
				log.Printf("scheduler: worker %s idle past limit, terminating", name)
				return
			}
			continue
		}
		idleSince = time.Now()
		s.Hooks.SafeTaskDispatch(context.Background(), s.ModelName, t.ID, t.Priority)
		t.Start(s.adapter, s.handle, s.queueWaitTimeout)
	}
}
