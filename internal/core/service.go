package core

// service.go hosts import runs for the front-ends.
//
// The web server starts runs in the background and follows them over SSE;
// the CLI runs them in the foreground. Both go through the same Service so
// that one target never has two runs in flight and the total number of
// concurrent runs stays bounded by the RunLimiter.

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/qaimport/internal/logging"
)

// DefaultRunRetention is how long a finished run stays addressable by id.
const DefaultRunRetention = 5 * time.Minute

// DefaultHistorySize is the number of finished runs kept in History.
const DefaultHistorySize = 50

// ServiceOptions tunes a Service. Zero values select the defaults.
type ServiceOptions struct {
	MaxConcurrent int
	MaxWait       time.Duration

	// RunTimeout bounds every run; 0 means no limit.
	RunTimeout time.Duration

	// Retention is how long a finished run can still be looked up.
	Retention time.Duration

	HistorySize int
}

// Service runs imports for a fixed set of targets.
type Service struct {
	orch    *Orchestrator
	targets map[string]Target
	order   []string
	limiter *RunLimiter
	opts    ServiceOptions

	mu      sync.RWMutex
	runs    map[string]*activeRun
	busy    map[string]string // target id -> run id
	history []RunResult
}

type activeRun struct {
	ID       string
	TargetID string
	DryRun   bool
	Cancel   context.CancelFunc
	Done     chan struct{}

	mu        sync.Mutex
	progress  RunProgress
	result    *RunResult
	err       error
	listeners []chan RunProgress
}

// NewService creates a Service. Target ids must be unique.
func NewService(connect Connector, store ProgressStore, targets []Target, opts ServiceOptions) (*Service, error) {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRunRetention
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}

	s := &Service{
		orch:    NewOrchestrator(connect, store),
		targets: make(map[string]Target, len(targets)),
		limiter: NewRunLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:    opts,
		runs:    make(map[string]*activeRun),
		busy:    make(map[string]string),
	}
	for _, t := range targets {
		if _, dup := s.targets[t.ID]; dup {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		s.targets[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	return s, nil
}

// Targets returns the configured targets in configuration order.
func (s *Service) Targets() []Target {
	out := make([]Target, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.targets[id])
	}
	return out
}

// Target looks up a target by id.
func (s *Service) Target(id string) (Target, error) {
	t, ok := s.targets[id]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return t, nil
}

// Limiter exposes the run limiter for health reporting.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// Busy reports whether targetID has a run in flight.
func (s *Service) Busy(targetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.busy[targetID]
	return ok
}

// claim registers a new run for targetID, failing with ErrTargetBusy when
// one is already in flight.
func (s *Service) claim(targetID, runID string, cancel context.CancelFunc, dryRun bool) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running, ok := s.busy[targetID]; ok {
		return nil, fmt.Errorf("%w (target %s, run %s)", ErrTargetBusy, targetID, running)
	}
	run := &activeRun{
		ID:       runID,
		TargetID: targetID,
		DryRun:   dryRun,
		Cancel:   cancel,
		Done:     make(chan struct{}),
	}
	run.progress = RunProgress{RunID: run.ID, TargetID: targetID, Phase: PhaseIdle}
	s.busy[targetID] = run.ID
	s.runs[run.ID] = run
	return run, nil
}

// WithIdleTarget calls fn while holding targetID's run lock, so no run is
// in flight or can start while fn edits the target's stored progress.
//
// Returns ErrUnknownTarget, ErrTargetBusy, or the error from fn.
func (s *Service) WithIdleTarget(targetID string, fn func(Target) error) error {
	t, err := s.Target(targetID)
	if err != nil {
		return err
	}
	holder := "edit-" + uuid.New().String()
	s.mu.Lock()
	if running, ok := s.busy[targetID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w (target %s, run %s)", ErrTargetBusy, targetID, running)
	}
	s.busy[targetID] = holder
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.busy[targetID] == holder {
			delete(s.busy, targetID)
		}
		s.mu.Unlock()
	}()
	return fn(t)
}

// abandon undoes claim for a run that never started.
func (s *Service) abandon(run *activeRun) {
	run.Cancel()
	s.mu.Lock()
	delete(s.busy, run.TargetID)
	delete(s.runs, run.ID)
	s.mu.Unlock()
}

// runContext derives the run's context. Background runs pass a detached
// parent so the request that started them can finish first.
func (s *Service) runContext(parent context.Context, runID string) (context.Context, context.CancelFunc) {
	ctx := logging.WithRunID(parent, runID)
	if s.opts.RunTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// StartRun begins an asynchronous run and returns its id immediately.
// Use SubscribeProgress to follow it and GetRunResult to wait for it.
//
// Returns ErrUnknownTarget, ErrTargetBusy, or ErrTooManyRuns when no run
// slot frees up within the wait period.
func (s *Service) StartRun(ctx context.Context, targetID string, opts RunOptions) (string, error) {
	t, err := s.Target(targetID)
	if err != nil {
		return "", err
	}
	runID := uuid.New().String()
	runCtx, cancel := s.runContext(context.WithoutCancel(ctx), runID)
	run, err := s.claim(targetID, runID, cancel, opts.DryRun)
	if err != nil {
		cancel()
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		s.abandon(run)
		return "", err
	}

	go func() {
		defer s.limiter.Release()
		defer cancel()
		res, err := s.guardedExecute(runCtx, run, t, opts)
		s.finish(run, res, err)
	}()

	return run.ID, nil
}

// Run executes a run in the caller's goroutine and returns its result.
// It honors the same per-target lock and limiter as StartRun.
func (s *Service) Run(ctx context.Context, targetID string, opts RunOptions) (*RunResult, error) {
	t, err := s.Target(targetID)
	if err != nil {
		return nil, err
	}
	runID := uuid.New().String()
	runCtx, cancel := s.runContext(ctx, runID)
	defer cancel()
	run, err := s.claim(targetID, runID, cancel, opts.DryRun)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		s.abandon(run)
		return nil, err
	}
	defer s.limiter.Release()

	res, err := s.guardedExecute(runCtx, run, t, opts)
	s.finish(run, res, err)
	return res, err
}

// guardedExecute is execute with a panic turned into an aborted result, so
// the target lock is always released by finish.
func (s *Service) guardedExecute(ctx context.Context, run *activeRun, t Target, opts RunOptions) (res *RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in run", "run_id", run.ID, "target", t.ID, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
			res = &RunResult{
				RunID:    run.ID,
				TargetID: t.ID,
				Phase:    PhaseAborted,
				DryRun:   opts.DryRun,
				Error:    err.Error(),
			}
		}
	}()
	return s.execute(ctx, run, t, opts)
}

// execute runs the orchestrator with callbacks that feed the run's
// listeners before the caller's own callbacks.
func (s *Service) execute(ctx context.Context, run *activeRun, t Target, opts RunOptions) (*RunResult, error) {
	opts.RunID = run.ID
	onProgress, onStatus := opts.OnProgress, opts.OnStatus
	opts.OnProgress = func(p RunProgress) {
		run.update(func(cur *RunProgress) { *cur = p })
		if onProgress != nil {
			onProgress(p)
		}
	}
	opts.OnStatus = func(msg string) {
		run.update(func(cur *RunProgress) { cur.Message = msg })
		if onStatus != nil {
			onStatus(msg)
		}
	}
	return s.orch.Run(ctx, t, opts)
}

// finish publishes the result, releases the target and schedules the run
// for removal.
func (s *Service) finish(run *activeRun, res *RunResult, err error) {
	run.mu.Lock()
	run.result = res
	run.err = err
	run.progress.Phase = res.Phase
	if err != nil && run.progress.Error == "" {
		run.progress.Error = FormatUserError(err)
	}
	final := run.progress
	listeners := run.listeners
	run.listeners = nil
	run.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- final:
		default:
			// Full buffer: drop the oldest update so the final one lands.
			select {
			case <-ch:
			default:
			}
			ch <- final
		}
		close(ch)
	}
	close(run.Done)

	s.mu.Lock()
	if s.busy[run.TargetID] == run.ID {
		delete(s.busy, run.TargetID)
	}
	s.history = append([]RunResult{*res}, s.history...)
	if len(s.history) > s.opts.HistorySize {
		s.history = s.history[:s.opts.HistorySize]
	}
	s.mu.Unlock()

	time.AfterFunc(s.opts.Retention, func() {
		s.mu.Lock()
		delete(s.runs, run.ID)
		s.mu.Unlock()
	})
}

func (r *activeRun) update(fn func(*RunProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.progress)
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
		}
	}
}

func (s *Service) lookup(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// SubscribeProgress returns a channel that receives progress updates.
// The current progress is sent first and the channel is closed when the
// run finishes. Slow readers may miss intermediate updates but always
// receive the final one.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunProgress, 10)
	run.mu.Lock()
	defer run.mu.Unlock()
	ch <- run.progress
	if run.result != nil {
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	return ch, nil
}

// CancelRun asks a run to stop. The run finishes the record in flight,
// persists its cursor and ends in the cancelled phase.
func (s *Service) CancelRun(runID string) error {
	run, err := s.lookup(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// GetRunResult waits for a run to finish and returns its result together
// with the error the run stopped on.
func (s *Service) GetRunResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, run.err
}

// RunStatus is a non-blocking snapshot of a run.
type RunStatus struct {
	Progress RunProgress `json:"progress"`
	Done     bool        `json:"done"`
	Result   *RunResult  `json:"result,omitempty"`
}

// GetRunStatus returns the current state of a run without waiting.
func (s *Service) GetRunStatus(runID string) (RunStatus, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return RunStatus{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return RunStatus{Progress: run.progress, Done: run.result != nil, Result: run.result}, nil
}

// Active returns progress snapshots of the runs still in flight.
func (s *Service) Active() []RunProgress {
	s.mu.RLock()
	ids := make([]string, 0, len(s.busy))
	for _, id := range s.busy {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]RunProgress, 0, len(ids))
	for _, id := range ids {
		st, err := s.GetRunStatus(id)
		if err == nil && !st.Done {
			out = append(out, st.Progress)
		}
	}
	slices.SortFunc(out, func(a, b RunProgress) int { return cmp.Compare(a.TargetID, b.TargetID) })
	return out
}

// History returns finished runs, newest first.
func (s *Service) History() []RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// BatchResult pairs a target with the outcome of its run.
type BatchResult struct {
	TargetID string
	Result   *RunResult
	Err      error
}

// RunAll runs the given targets (all targets when ids is empty), at most
// parallel at a time. A failing target does not stop the others; the
// returned error joins every failure.
func (s *Service) RunAll(ctx context.Context, ids []string, opts RunOptions, parallel int) ([]BatchResult, error) {
	if len(ids) == 0 {
		ids = s.order
	}
	for _, id := range ids {
		if _, err := s.Target(id); err != nil {
			return nil, err
		}
	}
	if parallel <= 0 {
		parallel = s.limiter.MaxConcurrent()
	}

	results := make([]BatchResult, len(ids))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.Run(ctx, id, opts)
			results[i] = BatchResult{TargetID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", r.TargetID, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// Shutdown cancels every run in flight and waits for them to release
// their slots.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, id := range s.busy {
		if run, ok := s.runs[id]; ok {
			run.Cancel()
		}
	}
	s.mu.RUnlock()
	return s.limiter.WaitForDrain(ctx)
}
