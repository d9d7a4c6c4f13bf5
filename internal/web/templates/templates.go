// Package templates holds the HTML components of the web front-end.
//
// Components are plain templ.ComponentFunc values; every dynamic string
// goes through templ.EscapeString before it reaches the writer. The .templ
// files hold the same components in templ syntax; once generated with
// `templ generate`, the *_templ.go output replaces dashboard.go and the
// page helpers and ErrorAlert below.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// page collects writes and keeps the first error.
type page struct {
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) text(s string) { p.raw(templ.EscapeString(s)) }

func (p *page) printf(format string, args ...any) { p.raw(fmt.Sprintf(format, args...)) }

// ErrorAlert renders a user-facing error message with its code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw(`<div class="alert alert-error" role="alert"><strong>`)
		p.text(message)
		p.raw(`</strong>`)
		if action != "" {
			p.raw(`<p>`)
			p.text(action)
			p.raw(`</p>`)
		}
		p.raw(`<small>Code: `)
		p.text(code)
		p.raw(`</small></div>`)
		return p.err
	})
}
