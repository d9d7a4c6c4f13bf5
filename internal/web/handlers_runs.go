package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/logging"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 64 * 1024

// StartRunRequest is the body of POST /api/runs. Start and End are rows
// ("57") or dates ("20150102"); empty means the stored cursor and the
// source default.
type StartRunRequest struct {
	Target string `json:"target"`
	Start  string `json:"start"`
	End    string `json:"end"`
	DryRun bool   `json:"dryRun"`
}

// StartRunResponse identifies a started run.
type StartRunResponse struct {
	RunID    string `json:"runId"`
	TargetID string `json:"targetId"`
}

// RunsResponse lists runs in flight and recent history.
type RunsResponse struct {
	Active  []core.RunProgress `json:"active"`
	History []core.RunResult   `json:"history"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// rangeFor parses the request range with the target's cursor kind.
func rangeFor(t core.Target, start, end string) (core.Range, error) {
	return core.ParseRange(t.Source.CursorKind(), start, end)
}

// handleStartRun starts a background run and returns its id.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	t, err := s.service.Target(req.Target)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	rng, err := rangeFor(t, req.Start, req.End)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	runID, err := s.service.StartRun(r.Context(), t.ID, core.RunOptions{Range: rng, DryRun: req.DryRun})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("run started",
		"run_id", runID, "target", t.ID, "range", rng.String(), "dry_run", req.DryRun)

	w.Header().Set("Location", "/api/runs/"+runID)
	writeJSON(w, http.StatusAccepted, StartRunResponse{RunID: runID, TargetID: t.ID})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// handleListRuns returns runs in flight and recent history, newest first.
// ?limit=N trims the history.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	history := s.service.History()
	if limit := parseIntParam(r, "limit", len(history)); limit < len(history) {
		history = history[:limit]
	}
	writeJSON(w, http.StatusOK, RunsResponse{
		Active:  s.service.Active(),
		History: history,
	})
}

// handleRunStatus returns a run's progress and, once finished, its result.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GetRunStatus(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCancelRun asks a run to stop after the record in flight.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.CancelRun(runID); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("run cancel requested", "run_id", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID, "status": "cancelling"})
}

// handleRunEvents streams run progress via Server-Sent Events.
//
// The event id is the number of records read so far. A reconnecting client
// sends it back (Last-Event-ID header or lastEventId query) and only gets
// events past that record.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				st, err := s.service.GetRunStatus(runID)
				if err != nil {
					fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				} else {
					data, _ := json.Marshal(st)
					fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				}
				flusher.Flush()
				return
			}

			if progress.Current < lastEventID && !progress.Phase.Terminal() {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Current, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
