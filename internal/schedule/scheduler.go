// Package schedule runs cancellable deferred actions keyed by owner and a
// per-owner sequence number.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("schedule: no such task")
	ErrClosed   = errors.New("schedule: scheduler is shut down")
)

// Action is the deferred work. ctx is cancelled if the scheduler shuts down
// before or while the action runs; actions should check it before
// performing their side effect.
type Action func(ctx context.Context)

type taskKey struct {
	owner string
	id    int
}

type task struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Scheduler holds in-flight tasks. Task ids are assigned from a per-owner
// counter of tasks ever created, so an id is never reused, even after the
// task is cancelled or has run.
//
// A task leaves the scheduler either when Cancel removes it or when its
// delay elapses. The two are decided under one lock: once a task has fired,
// Cancel reports ErrNotFound and the delivery stands.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[taskKey]*task
	created map[string]int
	closed  bool

	root   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	root, stop := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:   make(map[taskKey]*task),
		created: make(map[string]int),
		root:    root,
		stop:    stop,
		logger:  logger.Named("schedule"),
	}
}

// Schedule runs action once after delay unless the task is cancelled first.
// It returns the task id, unique for owner.
func (s *Scheduler) Schedule(owner string, delay time.Duration, action Action) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	id := s.created[owner]
	s.created[owner] = id + 1

	ctx, cancel := context.WithCancel(s.root)
	key := taskKey{owner: owner, id: id}
	t := &task{ctx: ctx, cancel: cancel}
	s.tasks[key] = t

	s.wg.Add(1)
	go s.run(key, t, delay, action)

	s.logger.Debug("task scheduled",
		zap.String("owner", owner),
		zap.Int("task_id", id),
		zap.Duration("delay", delay))
	return id, nil
}

func (s *Scheduler) run(key taskKey, t *task, delay time.Duration, action Action) {
	defer s.wg.Done()
	defer t.cancel()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.ctx.Done():
		return
	}

	s.mu.Lock()
	if t.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.mu.Unlock()

	s.logger.Debug("task firing", zap.String("owner", key.owner), zap.Int("task_id", key.id))
	action(t.ctx)
}

// Cancel stops owner's task id if it has not fired yet.
func (s *Scheduler) Cancel(owner string, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey{owner: owner, id: id}
	t, ok := s.tasks[key]
	if !ok {
		return ErrNotFound
	}
	t.cancel()
	delete(s.tasks, key)

	s.logger.Debug("task cancelled", zap.String("owner", owner), zap.Int("task_id", id))
	return nil
}

// Pending returns the ids of owner's tasks that have neither fired nor
// been cancelled, in ascending order.
func (s *Scheduler) Pending(owner string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int
	for id := 0; id < s.created[owner]; id++ {
		if _, ok := s.tasks[taskKey{owner: owner, id: id}]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of tasks waiting to fire.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every pending task and waits for running actions to
// return. Schedule fails with ErrClosed afterwards.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.tasks)
	s.tasks = make(map[taskKey]*task)
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()

	s.logger.Info("scheduler stopped", zap.Int("dropped_tasks", dropped))
}
