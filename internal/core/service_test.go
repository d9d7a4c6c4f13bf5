package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// gateSubmitter blocks every submission until released or cancelled.
type gateSubmitter struct {
	entered chan string
	release chan struct{}
	once    sync.Once
}

func newGate() *gateSubmitter {
	return &gateSubmitter{entered: make(chan string, 100), release: make(chan struct{})}
}

func (g *gateSubmitter) Submit(ctx context.Context, targetID string, form Form) ([]byte, error) {
	v, _ := form.Value(0)
	g.entered <- targetID + "/" + v
	select {
	case <-g.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gateSubmitter) open() { g.once.Do(func() { close(g.release) }) }

func connectTo(sub Submitter) Connector {
	return func(context.Context) (Submitter, error) { return sub, nil }
}

func newTestService(t *testing.T, sub Submitter, store ProgressStore, opts ServiceOptions, ids ...string) *Service {
	t.Helper()
	targets := make([]Target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, Target{
			ID:     id,
			Name:   "Test list " + id,
			Source: &fakeSource{records: rowRecords(3)},
			Mapper: activeMapper(""),
		})
	}
	svc, err := NewService(connectTo(sub), store, targets, opts)
	require.NoError(t, err)
	return svc
}

func drain(ch <-chan RunProgress) RunProgress {
	var last RunProgress
	for p := range ch {
		last = p
	}
	return last
}

func TestService_StartRunCompletes(t *testing.T) {
	defer goleak.VerifyNone(t)

	sub := &fakeSubmitter{}
	store := newFakeStore()
	svc := newTestService(t, sub, store, ServiceOptions{}, "7")

	runID, err := svc.StartRun(context.Background(), "7", RunOptions{})
	require.NoError(t, err)

	ch, err := svc.SubscribeProgress(runID)
	require.NoError(t, err)
	last := drain(ch)
	assert.Equal(t, PhaseCompleted, last.Phase)

	res, err := svc.GetRunResult(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)
	assert.Equal(t, 3, res.Submitted)
	assert.Equal(t, RowCursor(4), store.cursors["7"])
	assert.False(t, svc.Busy("7"))

	st, err := svc.GetRunStatus(runID)
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Equal(t, PhaseCompleted, st.Progress.Phase)

	hist := svc.History()
	require.Len(t, hist, 1)
	assert.Equal(t, runID, hist[0].RunID)
}

func TestService_TargetBusy(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := newGate()
	svc := newTestService(t, gate, newFakeStore(), ServiceOptions{}, "7")

	runID, err := svc.StartRun(context.Background(), "7", RunOptions{})
	require.NoError(t, err)
	<-gate.entered
	assert.True(t, svc.Busy("7"))
	require.Len(t, svc.Active(), 1)

	_, err = svc.StartRun(context.Background(), "7", RunOptions{})
	assert.ErrorIs(t, err, ErrTargetBusy)
	_, err = svc.Run(context.Background(), "7", RunOptions{})
	assert.ErrorIs(t, err, ErrTargetBusy)

	gate.open()
	res, err := svc.GetRunResult(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, res.Phase)
	assert.Empty(t, svc.Active())
}

func TestService_CancelRunPersistsCursor(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := newGate()
	store := newFakeStore()
	svc := newTestService(t, gate, store, ServiceOptions{}, "7")

	runID, err := svc.StartRun(context.Background(), "7", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "7/1", <-gate.entered)

	require.NoError(t, svc.CancelRun(runID))
	res, err := svc.GetRunResult(context.Background(), runID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseCancelled, res.Phase)
	assert.Equal(t, RowCursor(2), store.cursors["7"])
	assert.False(t, svc.Busy("7"))
}

func TestService_TooManyRuns(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := newGate()
	svc := newTestService(t, gate, newFakeStore(), ServiceOptions{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond}, "1", "6")

	runID, err := svc.StartRun(context.Background(), "1", RunOptions{})
	require.NoError(t, err)
	<-gate.entered

	_, err = svc.StartRun(context.Background(), "6", RunOptions{})
	assert.ErrorIs(t, err, ErrTooManyRuns)
	assert.False(t, svc.Busy("6"), "rejected run must release its target")

	gate.open()
	_, err = svc.GetRunResult(context.Background(), runID)
	require.NoError(t, err)
}

func TestService_LookupErrors(t *testing.T) {
	svc := newTestService(t, &fakeSubmitter{}, newFakeStore(), ServiceOptions{}, "7")

	_, err := svc.StartRun(context.Background(), "99", RunOptions{})
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.ErrorIs(t, svc.CancelRun("nope"), ErrRunNotFound)
	_, err = svc.SubscribeProgress("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = svc.GetRunStatus("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = NewService(nil, nil, []Target{{ID: "1"}, {ID: "1"}}, ServiceOptions{})
	assert.Error(t, err)
}

func TestService_RunAllIsolatesFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	sub := &fakeSubmitter{}
	svc, err := NewService(connectTo(sub), store, []Target{
		{ID: "1", Source: &fakeSource{records: rowRecords(2)}, Mapper: activeMapper("")},
		{ID: "6", Source: &fakeSource{records: rowRecords(2)}, Mapper: activeMapper("Row 1")},
		{ID: "9", Source: &fakeSource{records: rowRecords(2)}, Mapper: activeMapper("")},
	}, ServiceOptions{MaxConcurrent: 3})
	require.NoError(t, err)

	results, err := svc.RunAll(context.Background(), nil, RunOptions{}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target 6")

	require.Len(t, results, 3)
	assert.Equal(t, "1", results[0].TargetID)
	assert.NoError(t, results[0].Err)
	var me *MappingError
	assert.True(t, errors.As(results[1].Err, &me))
	assert.Equal(t, PhaseCompleted, results[2].Result.Phase)
	assert.Equal(t, RowCursor(3), store.cursors["9"])
	assert.Equal(t, RowCursor(2), store.cursors["6"])

	_, err = svc.RunAll(context.Background(), []string{"1", "42"}, RunOptions{}, 1)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestService_WithIdleTarget(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := newGate()
	svc := newTestService(t, gate, newFakeStore(), ServiceOptions{}, "7")

	// Runs cannot start while the target is held.
	err := svc.WithIdleTarget("7", func(tgt Target) error {
		assert.Equal(t, "7", tgt.ID)
		assert.True(t, svc.Busy("7"))
		_, err := svc.StartRun(context.Background(), "7", RunOptions{})
		assert.ErrorIs(t, err, ErrTargetBusy)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, svc.Busy("7"))
	assert.Empty(t, svc.Active())

	wantErr := errors.New("disk full")
	assert.ErrorIs(t, svc.WithIdleTarget("7", func(Target) error { return wantErr }), wantErr)
	assert.False(t, svc.Busy("7"))
	assert.ErrorIs(t, svc.WithIdleTarget("42", func(Target) error { return nil }), ErrUnknownTarget)

	// A run in flight keeps the target.
	runID, err := svc.StartRun(context.Background(), "7", RunOptions{})
	require.NoError(t, err)
	<-gate.entered
	called := false
	err = svc.WithIdleTarget("7", func(Target) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrTargetBusy)
	assert.False(t, called)

	gate.open()
	_, err = svc.GetRunResult(context.Background(), runID)
	require.NoError(t, err)
}

type panicMapper struct{}

func (panicMapper) Map(Record) (Mapped, error) { panic("index out of range") }

func TestService_RunRecoversPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc, err := NewService(connectTo(&fakeSubmitter{}), newFakeStore(), []Target{
		{ID: "7", Source: &fakeSource{records: rowRecords(2)}, Mapper: panicMapper{}},
	}, ServiceOptions{})
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), "7", RunOptions{})
	require.ErrorContains(t, err, "internal error: index out of range")
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.False(t, svc.Busy("7"))

	results, err := svc.RunAll(context.Background(), []string{"7"}, RunOptions{}, 1)
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.NotErrorIs(t, results[0].Err, ErrTargetBusy)
	assert.False(t, svc.Busy("7"))
}

func TestService_HistoryIsBounded(t *testing.T) {
	svc := newTestService(t, &fakeSubmitter{}, newFakeStore(), ServiceOptions{HistorySize: 2}, "7")

	var last string
	for i := 0; i < 3; i++ {
		res, err := svc.Run(context.Background(), "7", RunOptions{DryRun: true})
		require.NoError(t, err)
		last = res.RunID
	}
	hist := svc.History()
	require.Len(t, hist, 2)
	assert.Equal(t, last, hist[0].RunID)
	assert.True(t, hist[0].DryRun)
}

func TestService_ShutdownCancelsRuns(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := newGate()
	svc := newTestService(t, gate, newFakeStore(), ServiceOptions{}, "7")
	runID, err := svc.StartRun(context.Background(), "7", RunOptions{})
	require.NoError(t, err)
	<-gate.entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	st, err := svc.GetRunStatus(runID)
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Equal(t, PhaseCancelled, st.Result.Phase)
}

func TestStartSyncScheduler(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newFakeStore()
	svc := newTestService(t, &fakeSubmitter{}, store, ServiceOptions{}, "1", "6")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.StartSyncScheduler(ctx, SyncConfig{Interval: time.Hour})
	}()

	require.Eventually(t, func() bool {
		return len(svc.History()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, RowCursor(4), store.cursors["1"])
	assert.Equal(t, RowCursor(4), store.cursors["6"])
}

func TestStartSyncScheduler_DisabledReturns(t *testing.T) {
	svc := newTestService(t, &fakeSubmitter{}, newFakeStore(), ServiceOptions{}, "1")
	svc.StartSyncScheduler(context.Background(), SyncConfig{})
	assert.Empty(t, svc.History())
}
