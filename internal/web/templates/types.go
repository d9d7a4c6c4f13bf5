package templates

import "github.com/JonMunkholm/qaimport/internal/core"

// TargetCard is one configured target as shown on the dashboard.
type TargetCard struct {
	ID     string
	Name   string
	Type   string
	Cursor string // stored resume position, empty when none
	Busy   bool
}

// DashboardData is everything the dashboard renders.
type DashboardData struct {
	QATrackURL string
	Targets    []TargetCard
	Active     []core.RunProgress
	History    []core.RunResult
	Error      *core.UserMessage
}
