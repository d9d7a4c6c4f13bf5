package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JonMunkholm/qaimport/internal/config"
	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/progress"
)

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

type rowSource struct{ n int }

func (s rowSource) CursorKind() core.CursorKind { return core.CursorRow }

func (s rowSource) Open(_ context.Context, r core.Range) (core.Batch, error) {
	start, end := 1, s.n
	if !r.Start.IsZero() {
		start = r.Start.Row
	}
	if !r.End.IsZero() && r.End.Row < end {
		end = r.End.Row
	}
	b := &rowBatch{rng: core.Range{Start: core.RowCursor(start), End: core.RowCursor(end)}}
	for row := start; row <= end; row++ {
		b.records = append(b.records, core.Record{
			Ref:    fmt.Sprintf("Row %d", row),
			Cursor: core.RowCursor(row),
			Next:   core.RowCursor(row + 1),
			Cells:  []core.Cell{core.Number(float64(row))},
		})
	}
	return b, nil
}

type rowBatch struct {
	rng     core.Range
	records []core.Record
}

func (b *rowBatch) Len() int         { return len(b.records) }
func (b *rowBatch) Range() core.Range { return b.rng }
func (b *rowBatch) Close() error      { return nil }

func (b *rowBatch) Record(_ context.Context, i int) (core.Record, error) {
	return b.records[i], nil
}

type valueMapper struct{}

func (valueMapper) Map(rec core.Record) (core.Mapped, error) {
	f := core.NewForm()
	f.SetValue(0, rec.Cell(0).String())
	f.SetCounts(1)
	return core.Mapped{Form: f}, nil
}

// blockingSubmitter holds every submission until released or cancelled.
type blockingSubmitter struct {
	block   bool
	entered chan struct{}
	release chan struct{}
}

func newSubmitter(block bool) *blockingSubmitter {
	return &blockingSubmitter{block: block, entered: make(chan struct{}, 100), release: make(chan struct{})}
}

func (b *blockingSubmitter) Submit(ctx context.Context, _ string, _ core.Form) ([]byte, error) {
	if !b.block {
		return []byte("ok"), nil
	}
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return []byte("ok"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fixture struct {
	srv   *Server
	svc   *core.Service
	store *progress.MemoryStore
	sub   *blockingSubmitter
}

func newFixture(t *testing.T, block bool, sec config.SecurityConfig) *fixture {
	t.Helper()
	sub := newSubmitter(block)
	store := progress.NewMemoryStore()
	connect := func(context.Context) (core.Submitter, error) { return sub, nil }
	svc, err := core.NewService(connect, store, []core.Target{
		{ID: "7", Name: "CT <Daily>", Type: "xlsx", Source: rowSource{n: 3}, Mapper: valueMapper{}},
		{ID: "6", Name: "Linac", Type: "csv", Source: rowSource{n: 2}, Mapper: valueMapper{}},
	}, core.ServiceOptions{})
	require.NoError(t, err)

	srv := NewServer(svc, store, Options{
		Server:     config.ServerConfig{Host: "127.0.0.1", Port: 8090},
		Security:   sec,
		QATrackURL: "http://qatrack.test/",
	})
	return &fixture{srv: srv, svc: svc, store: store, sub: sub}
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ----------------------------------------------------------------------------
// Tests
// ----------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{})
	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, core.DefaultMaxConcurrentRuns, h.Runs.MaxConcurrent)
}

func TestListTargets(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{})
	require.NoError(t, f.store.Save(context.Background(), "7", core.RowCursor(5)))

	rec := f.do(http.MethodGet, "/api/targets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"id":"7","name":"CT <Daily>","type":"xlsx","cursorKind":"row","cursor":5,"busy":false},
		{"id":"6","name":"Linac","type":"csv","cursorKind":"row","cursor":null,"busy":false}
	]`, rec.Body.String())
}

func TestStartRunStreamsProgress(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, false, config.SecurityConfig{})

	rec := f.do(http.MethodPost, "/api/runs", `{"target":"7"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[StartRunResponse](t, rec)
	assert.Equal(t, "7", started.TargetID)
	assert.Equal(t, "/api/runs/"+started.RunID, rec.Header().Get("Location"))

	events := f.do(http.MethodGet, "/api/runs/"+started.RunID+"/events", "")
	assert.Equal(t, "text/event-stream", events.Header().Get("Content-Type"))
	body := events.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"phase":"completed"`)

	st := decode[core.RunStatus](t, f.do(http.MethodGet, "/api/runs/"+started.RunID, ""))
	assert.True(t, st.Done)
	require.NotNil(t, st.Result)
	assert.Equal(t, 3, st.Result.Submitted)

	assert.JSONEq(t, `{"7":4}`, f.do(http.MethodGet, "/api/progress", "").Body.String())

	runs := decode[RunsResponse](t, f.do(http.MethodGet, "/api/runs", ""))
	assert.Empty(t, runs.Active)
	require.Len(t, runs.History, 1)
	assert.Equal(t, started.RunID, runs.History[0].RunID)
}

func TestStartRunWithRangeAndDryRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, false, config.SecurityConfig{})

	rec := f.do(http.MethodPost, "/api/runs", `{"target":"7","start":"2","end":"2","dryRun":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[StartRunResponse](t, rec)

	res, err := f.svc.GetRunResult(context.Background(), started.RunID)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Submitted)

	all, err := f.store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "dry runs never persist progress")
}

func TestListRunsLimit(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{})
	for _, id := range []string{"7", "6"} {
		_, err := f.svc.Run(context.Background(), id, core.RunOptions{DryRun: true})
		require.NoError(t, err)
	}

	runs := decode[RunsResponse](t, f.do(http.MethodGet, "/api/runs?limit=1", ""))
	require.Len(t, runs.History, 1)
	assert.Equal(t, "6", runs.History[0].TargetID)

	runs = decode[RunsResponse](t, f.do(http.MethodGet, "/api/runs?limit=x", ""))
	assert.Len(t, runs.History, 2)
}

func TestStartRunErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"unknown target", `{"target":"99"}`, http.StatusNotFound, "RUN003"},
		{"bad start row", `{"target":"7","start":"B12"}`, http.StatusBadRequest, "CFG001"},
		{"end before start", `{"target":"7","start":"9","end":"3"}`, http.StatusBadRequest, "ERR000"},
		{"malformed body", `{"target":`, http.StatusBadRequest, "ERR000"},
		{"unknown field", `{"target":"7","rows":3}`, http.StatusBadRequest, "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false, config.SecurityConfig{})
			rec := f.do(http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantErr, resp.Code)
		})
	}
}

func TestStartRunBusyAndCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, true, config.SecurityConfig{})

	rec := f.do(http.MethodPost, "/api/runs", `{"target":"7"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID := decode[StartRunResponse](t, rec).RunID
	<-f.sub.entered

	rec = f.do(http.MethodPost, "/api/runs", `{"target":"7"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RUN001", decode[ErrorResponse](t, rec).Code)

	rec = f.do(http.MethodPut, "/api/progress/7", `{"cursor":"1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(http.MethodDelete, "/api/progress/7", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/runs/"+runID+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	res, err := f.svc.GetRunResult(context.Background(), runID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.PhaseCancelled, res.Phase)
}

func TestRunNotFound(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{})

	for _, rec := range []*httptest.ResponseRecorder{
		f.do(http.MethodGet, "/api/runs/nope", ""),
		f.do(http.MethodPost, "/api/runs/nope/cancel", ""),
		f.do(http.MethodGet, "/api/runs/nope/events", ""),
	} {
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "RUN002", decode[ErrorResponse](t, rec).Code)
	}
}

func TestSetAndResetProgress(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{})
	ctx := context.Background()

	rec := f.do(http.MethodPut, "/api/progress/7", `{"cursor":"12"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"7":12}`, rec.Body.String())

	c, ok, err := f.store.Load(ctx, "7", core.CursorRow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.RowCursor(12), c)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/progress/7", `{"cursor":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/progress/7", `{"cursor":"0"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/api/progress/99", `{"cursor":"3"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/progress/99", "").Code)
	assert.False(t, f.svc.Busy("7"))

	rec = f.do(http.MethodDelete, "/api/progress/7", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok, err = f.store.Load(ctx, "7", core.CursorRow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{EnableCSP: true})
	require.NoError(t, f.store.Save(context.Background(), "6", core.RowCursor(2)))

	rec := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	body := rec.Body.String()
	assert.Contains(t, body, "CT &lt;Daily&gt;")
	assert.NotContains(t, body, "CT <Daily>")
	assert.Contains(t, body, "source default")
	assert.Contains(t, body, "http://qatrack.test/")
	assert.Contains(t, body, "No imports running.")
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}})

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/targets", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/targets", "", "X-API-Key", "k2").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/targets", "", "X-API-Key", "k1").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/targets", "", "Authorization", "Bearer k1").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/targets?api_key=k1", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/runs/nope/events?api_key=k1", "").Code)
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestErrorPages(t *testing.T) {
	f := newFixture(t, false, config.SecurityConfig{})

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	f.srv.respondError(rec, req, core.ErrUnknownTarget, 0)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Code: RUN003")

	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.ErrTooManyRuns))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
