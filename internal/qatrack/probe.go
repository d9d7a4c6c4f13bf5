package qatrack

import (
	"time"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// ProbeForm builds the connectivity check submission: n test values of
// "1", approved, started now.
func ProbeForm(n int, now time.Time) core.Form {
	f := core.NewForm()
	for i := 0; i < n; i++ {
		f.SetValue(i, "1")
	}
	f[core.KeyWorkStarted] = now.Format(core.WorkTimeLayout)
	f[core.KeyWorkCompleted] = ""
	f[core.KeyStatus] = core.StatusApproved
	f.SetCounts(n)
	return f
}
