package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"fixhunt/internal/backends"
	"fixhunt/internal/fixchain"
)

// TextReporter renders the classic indented tree:
//
//	net_sched: sch_sfq: don't allow 1 packet limit [b5bf0f5b16b9]
//	  ↳ fixed by 12c5377e5b1f : sch_sfq: correctly handle zero-length queues
type TextReporter struct {
	w io.Writer

	subject  lipgloss.Style
	hash     lipgloss.Style
	arrow    lipgloss.Style
	notFound lipgloss.Style
	failure  lipgloss.Style
}

// NewText creates a text reporter; color forces ANSI styling on or off
func NewText(w io.Writer, color bool) *TextReporter {
	renderer := lipgloss.NewRenderer(w)
	if color {
		renderer.SetColorProfile(termenv.ANSI256)
	} else {
		renderer.SetColorProfile(termenv.Ascii)
	}

	return &TextReporter{
		w:        w,
		subject:  renderer.NewStyle().Bold(true),
		hash:     renderer.NewStyle().Foreground(lipgloss.Color("214")),
		arrow:    renderer.NewStyle().Foreground(lipgloss.Color("241")),
		notFound: renderer.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		failure:  renderer.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Report implements fixchain.Reporter
func (r *TextReporter) Report(ev fixchain.Event) error {
	var line string
	switch ev.Kind {
	case fixchain.Found:
		line = fmt.Sprintf("%s [%s]", r.subject.Render(ev.Subject), r.hash.Render(backends.ShortHash(ev.Hash)))
	case fixchain.FixedBy:
		line = fmt.Sprintf("%s%s %s : %s",
			strings.Repeat("  ", ev.Depth),
			r.arrow.Render("↳ fixed by"),
			r.hash.Render(backends.ShortHash(ev.Hash)),
			ev.Title,
		)
	case fixchain.NotFound:
		line = fmt.Sprintf("%s %s", r.subject.Render(ev.Subject), r.notFound.Render("(not found)"))
	case fixchain.BranchError:
		where := ev.Subject
		if ev.Hash != "" {
			where = backends.ShortHash(ev.Hash)
		}
		line = strings.Repeat("  ", ev.Depth) + r.failure.Render(fmt.Sprintf("! %s: %s", where, ev.Message))
	default:
		return nil
	}

	_, err := fmt.Fprintln(r.w, line)
	return err
}
