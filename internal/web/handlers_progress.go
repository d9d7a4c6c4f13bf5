package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/logging"
)

// SetProgressRequest is the body of PUT /api/progress/{targetID}.
type SetProgressRequest struct {
	Cursor string `json:"cursor"`
}

// handleListProgress returns every stored cursor in progress file format.
func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.progress.All(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cursors)
}

// handleSetProgress overwrites a target's resume cursor. Targets with a run
// in flight are refused; the run would overwrite the cursor.
func (s *Server) handleSetProgress(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.Target(chi.URLParam(r, "targetID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	var req SetProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	c, err := core.ParseCursor(t.Source.CursorKind(), req.Cursor)
	if err == nil && c.IsZero() {
		err = errors.New("cursor is required")
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	err = s.service.WithIdleTarget(t.ID, func(core.Target) error {
		return s.progress.Save(r.Context(), t.ID, c)
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("progress set", "target", t.ID, "cursor", c.String())
	writeJSON(w, http.StatusOK, map[string]core.Cursor{t.ID: c})
}

// handleResetProgress removes a target's cursor so the next run starts at
// the source default.
func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "targetID")
	err := s.service.WithIdleTarget(id, func(t core.Target) error {
		return s.progress.Reset(r.Context(), t.ID)
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("progress reset", "target", id)
	w.WriteHeader(http.StatusNoContent)
}
