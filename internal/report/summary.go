package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/inovacc/tfsarchive/internal/model"
)

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════"
	ruleLight = "───────────────────────────────────────────────────────────"
)

// PrintSummary prints the totals of a run followed by every failed repository.
func PrintSummary(w io.Writer, report *model.RunReport) {
	var total uint64

	for i := range report.Tasks {
		if report.Tasks[i].Status == model.StatusSucceeded && report.Tasks[i].ArtifactSize > 0 {
			total += uint64(report.Tasks[i].ArtifactSize)
		}
	}

	title := "Archive Complete"
	if report.Cancelled {
		title = "Archive Cancelled"
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, ruleHeavy)
	_, _ = fmt.Fprintf(w, "  %s: %s\n", title, report.Project)
	_, _ = fmt.Fprintln(w, ruleHeavy)
	_, _ = fmt.Fprintf(w, "  Archived: %d (%s)\n", report.Summary.Succeeded, humanize.Bytes(total))
	_, _ = fmt.Fprintf(w, "  Skipped:  %d\n", report.Summary.Skipped)
	_, _ = fmt.Fprintf(w, "  Failed:   %d\n", report.Summary.Failed)
	_, _ = fmt.Fprintln(w, ruleLight)
	_, _ = fmt.Fprintf(w, "  Total:    %d repositories in %s\n",
		report.Summary.Total,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	if report.CSVPath != "" {
		_, _ = fmt.Fprintf(w, "  Report:   %s\n", report.CSVPath)
	}

	if report.LogPath != "" {
		_, _ = fmt.Fprintf(w, "  Log:      %s\n", report.LogPath)
	}

	_, _ = fmt.Fprintln(w, ruleHeavy)

	if report.Summary.Failed == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "\nFailed repositories:")

	for i := range report.Tasks {
		t := &report.Tasks[i]
		if t.Status != model.StatusFailed {
			continue
		}

		msg := t.ErrorDetail
		if len(msg) > 70 {
			msg = msg[:67] + "..."
		}

		_, _ = fmt.Fprintf(w, "  - %s [%s]: %s\n", t.Descriptor.Name, t.FailedStage, msg)
	}
}
