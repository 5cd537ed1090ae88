// Package taskqueue implements C5: a priority task queue with bounded
// worker concurrency, exponential-backoff retries, and persistence of
// pending tasks across restarts.
package taskqueue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/model"
)

// Handler executes one task's payload. progress reports fractional
// completion; ctx.Done() fires when the task is cooperatively cancelled or
// its timeout expires.
type Handler func(ctx context.Context, payload []byte, progress func(float64)) error

// HandlerRegistry maps a handler name to its implementation.
type HandlerRegistry map[string]Handler

// EventSink optionally fans task lifecycle events out of process, e.g. to
// Kafka, for cross-process observability. Implementations must not block
// the queue on slow consumers.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

type Event struct {
	TaskID string
	Type   string // enqueued, started, progress, completed, failed, retrying, cancelled
	Status model.TaskStatus
}

type Config struct {
	Workers      int
	MaxQueueSize int
	TaskTimeout  time.Duration
	MaxRetries   int
	PersistDir   string
}

// Queue is the priority queue plus its fixed-size worker pool.
type Queue struct {
	cfg      Config
	handlers HandlerRegistry
	sink     EventSink
	log      zerolog.Logger

	mu          sync.Mutex
	pending     priorityHeap
	tasks       map[string]*taskState
	seqCounter  int
	activeCount int

	slots   chan struct{}
	wake    chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type taskState struct {
	record   model.TaskRecord
	payload  []byte
	handler  string
	cancel   context.CancelFunc
	cancelled bool
}

func New(cfg Config, handlers HandlerRegistry, sink EventSink, log zerolog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10000
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	q := &Queue{
		cfg:      cfg,
		handlers: handlers,
		sink:     sink,
		log:      log,
		tasks:    make(map[string]*taskState),
		slots:    make(chan struct{}, cfg.Workers),
		wake:     make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	heap.Init(&q.pending)
	return q
}

// Start launches the worker loop goroutines and recovers persisted tasks.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.recover(ctx); err != nil {
		return err
	}
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx)
	}
	return nil
}

func (q *Queue) Stop() {
	close(q.closeCh)
	q.wg.Wait()
}

// Enqueue assigns a UUID, persists the task, and makes it eligible for
// dispatch. Rejects with QueueFull past cfg.MaxQueueSize.
func (q *Queue) Enqueue(ctx context.Context, handler string, priority model.Priority, payload []byte, timeout time.Duration) (string, error) {
	if _, ok := q.handlers[handler]; !ok {
		return "", apperr.New(apperr.BadConfig, fmt.Sprintf("no handler registered for %q", handler))
	}
	if timeout <= 0 {
		timeout = q.cfg.TaskTimeout
	}

	q.mu.Lock()
	if q.activeCount >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return "", apperr.New(apperr.QueueFull, "task queue is at capacity")
	}

	id := uuid.NewString()
	rec := model.TaskRecord{
		ID:         id,
		Type:       handler,
		Priority:   priority,
		Status:     model.TaskPending,
		CreatedAt:  timeNow(),
		MaxRetries: q.cfg.MaxRetries,
		Timeout:    timeout,
	}
	st := &taskState{record: rec, payload: payload, handler: handler}
	q.tasks[id] = st
	q.seqCounter++
	heap.Push(&q.pending, &queueItem{id: id, priority: priority, seq: q.seqCounter})
	q.activeCount++
	q.mu.Unlock()

	if err := q.persist(st); err != nil {
		q.log.Warn().Str("task_id", id).Err(err).Msg("persist task failed")
	}
	q.publish(ctx, id, "enqueued", model.TaskPending)
	q.signal()
	return id, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel marks a pending task cancelled before dispatch, or signals a
// running task's cooperative cancel.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.tasks[taskID]
	if !ok {
		return apperr.New(apperr.NotFound, fmt.Sprintf("task %q not found", taskID))
	}
	st.cancelled = true
	switch st.record.Status {
	case model.TaskPending:
		st.record.Status = model.TaskCancelled
		q.pending.removeID(taskID)
		q.activeCount--
	case model.TaskRunning:
		if st.cancel != nil {
			st.cancel()
		}
	}
	return nil
}

// Status returns a snapshot of a task's record.
func (q *Queue) Status(taskID string) (model.TaskRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.tasks[taskID]
	if !ok {
		return model.TaskRecord{}, false
	}
	return st.record, true
}

type Stats struct {
	QueueLengthByPriority map[model.Priority]int
	Running               int
	Completed             int
	Failed                int
	Cancelled             int
}

func (q *Queue) StatsSnapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{QueueLengthByPriority: make(map[model.Priority]int)}
	for _, it := range q.pending {
		s.QueueLengthByPriority[it.priority]++
	}
	for _, st := range q.tasks {
		switch st.record.Status {
		case model.TaskRunning:
			s.Running++
		case model.TaskCompleted:
			s.Completed++
		case model.TaskFailed:
			s.Failed++
		case model.TaskCancelled:
			s.Cancelled++
		}
	}
	return s
}

func (q *Queue) workerLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.closeCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		id, ok := q.popNext()
		if !ok {
			select {
			case <-q.wake:
			case <-time.After(time.Second):
			case <-q.closeCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		q.runTask(ctx, id)
	}
}

func (q *Queue) popNext() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&q.pending).(*queueItem)
	st, ok := q.tasks[item.id]
	if !ok || st.cancelled {
		return "", false
	}
	return item.id, true
}

func (q *Queue) runTask(ctx context.Context, id string) {
	q.mu.Lock()
	st, ok := q.tasks[id]
	if !ok || st.record.Status == model.TaskCancelled {
		q.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithTimeout(ctx, st.record.Timeout)
	st.cancel = cancel
	st.record.Status = model.TaskRunning
	st.record.StartedAt = timeNow()
	q.mu.Unlock()
	defer cancel()

	q.publish(ctx, id, "started", model.TaskRunning)

	handler := q.handlers[st.handler]
	err := handler(taskCtx, st.payload, func(frac float64) {
		q.mu.Lock()
		st.record.Progress = frac
		q.mu.Unlock()
		q.publish(ctx, id, "progress", model.TaskRunning)
	})

	q.mu.Lock()
	defer q.mu.Unlock()
	// Write the outcome to disk so recover only re-enqueues unfinished tasks.
	defer func() {
		if err := q.persist(st); err != nil {
			q.log.Warn().Str("task_id", id).Err(err).Msg("persist task failed")
		}
	}()

	if st.cancelled {
		st.record.Status = model.TaskCancelled
		q.activeCount--
		q.publish(ctx, id, "cancelled", model.TaskCancelled)
		return
	}
	if err == nil {
		st.record.Status = model.TaskCompleted
		st.record.CompletedAt = timeNow()
		st.record.Progress = 1.0
		q.activeCount--
		q.publish(ctx, id, "completed", model.TaskCompleted)
		return
	}

	if st.record.RetryCount < st.record.MaxRetries {
		st.record.RetryCount++
		st.record.Status = model.TaskRetrying
		delay := backoffDelay(st.record.RetryCount)
		q.publish(ctx, id, "retrying", model.TaskRetrying)
		go func() {
			time.Sleep(delay)
			q.mu.Lock()
			if st.record.Status == model.TaskRetrying {
				st.record.Status = model.TaskPending
				heap.Push(&q.pending, &queueItem{id: id, priority: st.record.Priority})
			}
			q.mu.Unlock()
			q.signal()
		}()
		return
	}

	st.record.Status = model.TaskFailed
	st.record.Error = err.Error()
	q.activeCount--
	q.publish(ctx, id, "failed", model.TaskFailed)
}

// backoffDelay implements min(2^retry_count, 60) seconds via
// cenkalti/backoff's exponential curve, capped per spec.md §4.5.
func backoffDelay(retryCount int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * time.Second
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = 60 * time.Second
	eb.MaxElapsedTime = 0
	eb.Reset()
	var d time.Duration
	for i := 0; i < retryCount; i++ {
		d = eb.NextBackOff()
	}
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

func (q *Queue) publish(ctx context.Context, id, eventType string, status model.TaskStatus) {
	if q.sink == nil {
		return
	}
	q.sink.Publish(ctx, Event{TaskID: id, Type: eventType, Status: status})
}

// persist writes {task info, payload} as one JSON metadata file and one
// payload blob under cfg.PersistDir, per spec.md §4.5.
func (q *Queue) persist(st *taskState) error {
	if q.cfg.PersistDir == "" {
		return nil
	}
	if err := os.MkdirAll(q.cfg.PersistDir, 0o755); err != nil {
		return err
	}
	meta, err := json.Marshal(st.record)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(q.cfg.PersistDir, st.record.ID+".json"), meta, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(q.cfg.PersistDir, st.record.ID+".blob"), st.payload, 0o644)
}

// recover enumerates persisted tasks at startup; any pending/running/
// retrying task is reset to pending and re-enqueued, per spec.md §4.5.
func (q *Queue) recover(ctx context.Context) error {
	if q.cfg.PersistDir == "" {
		return nil
	}
	entries, err := os.ReadDir(q.cfg.PersistDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "read task persist dir", err)
	}

	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(q.cfg.PersistDir, e.Name()))
		if err != nil {
			continue
		}
		var rec model.TaskRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.Status != model.TaskPending && rec.Status != model.TaskRunning && rec.Status != model.TaskRetrying {
			continue
		}
		payload, _ := os.ReadFile(filepath.Join(q.cfg.PersistDir, rec.ID+".blob"))
		rec.Status = model.TaskPending
		rec.RetryCount = 0

		q.mu.Lock()
		q.tasks[rec.ID] = &taskState{record: rec, payload: payload, handler: rec.Type}
		q.seqCounter++
		heap.Push(&q.pending, &queueItem{id: rec.ID, priority: rec.Priority, seq: q.seqCounter})
		q.activeCount++
		q.mu.Unlock()
		q.log.Info().Str("task_id", rec.ID).Msg("recovered persisted task")
	}
	return nil
}

func timeNow() time.Time { return time.Now() }
