// Package console prints run progress as plain lines, one per finished
// repository, for non-interactive terminals and CI logs.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/inovacc/tfsarchive/internal/archiver"
	"github.com/inovacc/tfsarchive/internal/model"
)

// Printer is an archiver.Observer writing progress lines to w.
type Printer struct {
	w       io.Writer
	verbose bool
	mu      sync.Mutex

	ok   *color.Color
	skip *color.Color
	fail *color.Color
	dim  *color.Color
}

// New returns a Printer. Colors follow color.NoColor, which is set when w
// is not a terminal or NO_COLOR is present.
func New(w io.Writer, verbose bool) *Printer {
	return &Printer{
		w:       w,
		verbose: verbose,
		ok:      color.New(color.FgGreen),
		skip:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed, color.Bold),
		dim:     color.New(color.FgHiBlack),
	}
}

func (p *Printer) OnEvent(e archiver.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case archiver.EventRunStarted:
		_, _ = fmt.Fprintf(p.w, "Archiving project %s\n", e.Message)
	case archiver.EventDiscovered:
		_, _ = fmt.Fprintf(p.w, "Discovered %d repositories\n", e.Total)
	case archiver.EventPlanned:
		_, _ = fmt.Fprintf(p.w, "[%d/%d] %-40s %s\n", e.Index, e.Total, e.Repo, p.dim.Sprint(e.Message))
	case archiver.EventStageStarted:
		if p.verbose {
			_, _ = fmt.Fprintf(p.w, "        %-40s %s\n", e.Repo, p.dim.Sprint(e.Stage.String()+"..."))
		}
	case archiver.EventOutput:
		if p.verbose {
			_, _ = fmt.Fprintf(p.w, "        %s\n", p.dim.Sprint(e.Message))
		}
	case archiver.EventTaskFinished:
		p.printTask(e)
	}
}

// printTask writes one line per finished repository.
func (p *Printer) printTask(e archiver.Event) {
	pct := 0.0
	if e.Total > 0 {
		pct = float64(e.Index) / float64(e.Total) * 100
	}

	var (
		status string
		detail string
		c      *color.Color
	)

	t := e.Task

	switch t.Status {
	case model.StatusSucceeded:
		status, c = "OK", p.ok

		if t.Empty {
			detail = " - empty repository"
		}
	case model.StatusSkipped:
		status, c = "SKIP", p.skip
		detail = " - " + t.SkipReason.String()
	default:
		status, c = "FAIL", p.fail
		detail = fmt.Sprintf(" - %s: %s", t.FailedStage, firstLine(t.ErrorDetail))

		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
	}

	retryInfo := ""
	if t.Attempts > 1 {
		retryInfo = fmt.Sprintf(" (retries: %d)", t.Attempts-1)
	}

	_, _ = fmt.Fprintf(p.w, "[%3.0f%%] [%s] %-40s%s%s\n", pct, c.Sprintf("%-5s", status), t.Descriptor.Name, detail, retryInfo)

	for _, w := range t.Warnings {
		_, _ = fmt.Fprintf(p.w, "        %s\n", p.skip.Sprint("warning: "+w))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}
