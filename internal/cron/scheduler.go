// Package cron runs the periodic maintenance jobs.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is the body of a scheduled job. The returned string is logged.
type JobFunc func(ctx context.Context) (string, error)

// JobState is the last-run state of a job.
type JobState struct {
	Name       string
	Expr       string
	LastRunAt  time.Time
	LastStatus string
	LastError  string
	Runs       int
}

type job struct {
	expr  string
	fn    JobFunc
	state JobState
}

// Scheduler runs named jobs on six-field cron expressions (with seconds).
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	entryMap map[string]rcron.EntryID
	cron     *rcron.Cron
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	logger   *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:     make(map[string]*job),
		entryMap: make(map[string]rcron.EntryID),
		cron:     rcron.New(rcron.WithSeconds()),
		logger:   logger.Named("cron"),
	}
}

// Add registers fn under name. The expression is validated immediately.
func (s *Scheduler) Add(name, expr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{expr: expr, fn: fn, state: JobState{Name: name, Expr: expr}}
	id, err := s.cron.AddFunc(expr, func() { s.execute(name) })
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, expr, err)
	}
	s.jobs[name] = j
	s.entryMap[name] = id
	return nil
}

// Remove unregisters a job and reports whether it existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entryMap[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entryMap, name)
	delete(s.jobs, name)
	return true
}

func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("started", zap.Int("jobs", n))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	close(stopCh)

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("stop timeout waiting for running jobs")
	}
	s.logger.Info("stopped")
}

// Run executes a job immediately, outside its schedule.
func (s *Scheduler) Run(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.execute(name)
	return nil
}

func (s *Scheduler) execute(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := j.fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.state.LastRunAt = time.Now()
	j.state.Runs++
	if err != nil {
		j.state.LastStatus = "error"
		j.state.LastError = err.Error()
		s.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	j.state.LastStatus = "ok"
	j.state.LastError = ""
	if result != "" {
		s.logger.Debug("job done", zap.String("job", name), zap.String("result", result))
	}
}

// Jobs returns the state of every job, sorted by name.
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.state)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
