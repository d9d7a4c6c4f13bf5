package templates

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// Dashboard renders the main page: targets with their resume cursors, a
// run form per target, runs in flight and recent history. The status bar
// follows the selected run over server-sent events.
func Dashboard(d DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<title>QA Import</title><style>` + styles + `</style></head><body>`)
		p.raw(`<header><h1>QA Import</h1><span class="server">`)
		p.text(d.QATrackURL)
		p.raw(`</span></header><main>`)

		if d.Error != nil {
			if err := ErrorAlert(d.Error.Message, d.Error.Action, d.Error.Code).Render(ctx, w); err != nil {
				return err
			}
		}

		p.raw(`<section><h2>Targets</h2><table><thead><tr><th>ID</th><th>Name</th><th>Source</th><th>Resume at</th><th></th></tr></thead><tbody>`)
		for _, t := range d.Targets {
			targetRow(p, t)
		}
		p.raw(`</tbody></table></section>`)

		p.raw(`<section><h2>Running</h2><ul id="active">`)
		if len(d.Active) == 0 {
			p.raw(`<li class="muted">No imports running.</li>`)
		}
		for _, a := range d.Active {
			p.raw(`<li><a href="#" data-run="`)
			p.text(a.RunID)
			p.raw(`">`)
			p.text(a.TargetID)
			p.raw(`</a> `)
			p.text(string(a.Phase))
			p.printf(` %d/%d `, a.Current, a.Total)
			p.text(a.Message)
			p.raw(` <button data-cancel="`)
			p.text(a.RunID)
			p.raw(`">Cancel</button></li>`)
		}
		p.raw(`</ul></section>`)

		p.raw(`<section><h2>Recent runs</h2><table><thead><tr><th>Started</th><th>Target</th><th>Phase</th><th>Submitted</th><th>Skipped</th><th>Summary</th></tr></thead><tbody>`)
		for _, h := range d.History {
			historyRow(p, h)
		}
		p.raw(`</tbody></table></section></main>`)

		p.raw(`<footer id="status" class="status">Ready.</footer>`)
		p.raw(`<script>` + script + `</script></body></html>`)
		return p.err
	})
}

func targetRow(p *page, t TargetCard) {
	cursor := t.Cursor
	if cursor == "" {
		cursor = "source default"
	}
	p.raw(`<tr><td>`)
	p.text(t.ID)
	p.raw(`</td><td>`)
	p.text(t.Name)
	p.raw(`</td><td>`)
	p.text(t.Type)
	p.raw(`</td><td>`)
	p.text(cursor)
	p.raw(`</td><td><form class="run" data-target="`)
	p.text(t.ID)
	p.raw(`"><input name="start" placeholder="start" size="9"><input name="end" placeholder="end" size="9">`)
	p.raw(`<label><input type="checkbox" name="dryRun"> dry run</label>`)
	if t.Busy {
		p.raw(`<button disabled>Running</button>`)
	} else {
		p.raw(`<button>Import</button>`)
	}
	p.raw(`</form></td></tr>`)
}

func historyRow(p *page, h core.RunResult) {
	p.raw(`<tr class="`)
	p.text(string(h.Phase))
	p.raw(`"><td>`)
	p.text(h.StartedAt.Format(time.DateTime))
	p.raw(`</td><td>`)
	p.text(h.TargetID)
	p.raw(`</td><td>`)
	p.text(string(h.Phase))
	if h.DryRun {
		p.raw(` (dry run)`)
	}
	p.raw(`</td><td>`)
	p.raw(strconv.Itoa(h.Submitted))
	p.raw(`</td><td>`)
	p.raw(strconv.Itoa(h.Skipped))
	p.raw(`</td><td>`)
	if h.Error != "" {
		p.text(h.Error)
	} else {
		p.text(h.Summary)
	}
	p.raw(`</td></tr>`)
}
