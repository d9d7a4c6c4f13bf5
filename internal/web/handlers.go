package web

import (
	"net/http"

	"github.com/JonMunkholm/qaimport/internal/core"
	"github.com/JonMunkholm/qaimport/internal/web/templates"
)

// TargetResponse describes one configured target.
type TargetResponse struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	CursorKind string      `json:"cursorKind"`
	Cursor     core.Cursor `json:"cursor"`
	Busy       bool        `json:"busy"`
}

// handleDashboard renders the main dashboard page. A progress store
// failure is shown on the page instead of failing the request.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := templates.DashboardData{
		QATrackURL: s.opts.QATrackURL,
		Active:     s.service.Active(),
		History:    s.service.History(),
	}

	cursors, err := s.progress.All(ctx)
	if err != nil {
		msg := core.MapError(err)
		data.Error = &msg
	}
	for _, t := range s.service.Targets() {
		data.Targets = append(data.Targets, templates.TargetCard{
			ID:     t.ID,
			Name:   t.Name,
			Type:   t.Type,
			Cursor: cursors[t.ID].String(),
			Busy:   s.service.Busy(t.ID),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	templates.Dashboard(data).Render(ctx, w)
}

// handleListTargets returns the configured targets with their resume cursors.
func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.progress.All(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	targets := s.service.Targets()
	out := make([]TargetResponse, 0, len(targets))
	for _, t := range targets {
		kind := t.Source.CursorKind()
		c := cursors[t.ID]
		if !c.IsZero() {
			if conv, err := c.As(kind); err == nil {
				c = conv
			}
		}
		out = append(out, TargetResponse{
			ID:         t.ID,
			Name:       t.Name,
			Type:       t.Type,
			CursorKind: kind.String(),
			Cursor:     c,
			Busy:       s.service.Busy(t.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HealthResponse reports liveness and run slot usage.
type HealthResponse struct {
	Status string                `json:"status"`
	Runs   core.RunLimiterStatus `json:"runs"`
}

// handleHealth reports liveness and run slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Runs:   s.service.Limiter().Status(),
	})
}
