package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/inovacc/tfsarchive/internal/archiver"
	"github.com/inovacc/tfsarchive/internal/model"
)

const activityLen = 5

// ArchiveModel represents the state of the archive TUI. It only renders
// runner events; the run itself happens outside the program.
type ArchiveModel struct {
	project string
	cancel  context.CancelFunc

	// Progress tracking
	discovered int
	total      int
	current    int
	succeeded  int
	skipped    int
	failed     int
	bytes      int64

	// Repositories in flight, keyed by name
	active map[string]*activeOperation

	// Recent activity log (last N finished repositories)
	activity []activityItem

	// UI components
	spinner  spinner.Model
	progress progress.Model

	// State
	done       bool
	cancelling bool
	aborted    bool
	report     *model.RunReport
}

type activeOperation struct {
	stage     model.Stage
	startTime time.Time
	line      string
}

type activityItem struct {
	repo     string
	status   model.Status
	duration time.Duration
	message  string
	retries  int
}

type eventMsg struct {
	event archiver.Event
}

// NewArchiveModel creates a new archive TUI model. cancel is called when
// the user asks to stop the run.
func NewArchiveModel(project string, cancel context.CancelFunc) *ArchiveModel {
	m := &ArchiveModel{
		project:  project,
		cancel:   cancel,
		active:   make(map[string]*activeOperation),
		activity: make([]activityItem, 0, 10),
	}

	m.spinner = spinner.New()
	m.spinner.Spinner = spinner.Dot
	m.spinner.Style = spinnerStyle

	m.progress = progress.New(progress.WithDefaultGradient())

	return m
}

func (m *ArchiveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *ArchiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancelling || m.done {
				// second request: stop rendering right away
				m.aborted = !m.done
				return m, tea.Quit
			}

			m.cancelling = true
			if m.cancel != nil {
				m.cancel()
			}

			return m, nil
		}

	case tea.WindowSizeMsg:
		m.progress.Width = max(min(msg.Width-20, 80), 10)
		return m, nil

	case eventMsg:
		return m, m.handle(msg.event)

	case spinner.TickMsg:
		var cmd tea.Cmd

		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m *ArchiveModel) handle(e archiver.Event) tea.Cmd {
	switch e.Kind {
	case archiver.EventDiscovered:
		m.discovered = e.Total

	case archiver.EventStageStarted:
		m.total = e.Total

		op, ok := m.active[e.Repo]
		if !ok {
			op = &activeOperation{startTime: e.Time}
			m.active[e.Repo] = op
		}

		op.stage = e.Stage
		op.line = ""

	case archiver.EventOutput:
		if op, ok := m.active[e.Repo]; ok {
			op.line = e.Message
		}

	case archiver.EventTaskFinished:
		delete(m.active, e.Repo)

		m.total = e.Total
		m.current = e.Index

		if e.Task != nil {
			m.record(e.Task)
		}

	case archiver.EventPlanned:
		m.total = e.Total
		m.current = e.Index
		m.activity = append(m.activity, activityItem{repo: e.Repo, status: model.StatusPending, message: e.Message})

	case archiver.EventRunFinished:
		m.done = true
		m.report = e.Report

		return tea.Quit
	}

	return nil
}

func (m *ArchiveModel) record(t *model.ArchivalTask) {
	switch t.Status {
	case model.StatusSucceeded:
		m.succeeded++
		m.bytes += t.ArtifactSize
	case model.StatusSkipped:
		m.skipped++
	case model.StatusFailed:
		m.failed++
	}

	message := t.Message()
	if t.Status == model.StatusSucceeded {
		message = fmt.Sprintf("archived in %.1fs (%s)", t.Duration().Seconds(), humanize.Bytes(uint64(max(t.ArtifactSize, 0))))
	}

	m.activity = append(m.activity, activityItem{
		repo:     t.Descriptor.Name,
		status:   t.Status,
		duration: t.Duration(),
		message:  message,
		retries:  max(t.Attempts-1, 0),
	})
}

func (m *ArchiveModel) View() string {
	if m.done {
		return m.renderComplete()
	}

	var b strings.Builder

	// Header
	b.WriteString("\n")
	b.WriteString(boldStyle.Render(fmt.Sprintf("Archiving project: %s", m.project)))

	if m.discovered > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d repositories discovered)", m.discovered)))
	}

	b.WriteString("\n\n")

	// Status counters
	b.WriteString(boldStyle.Render("Status:"))
	b.WriteString("\n")
	b.WriteString(successStyle.Render(fmt.Sprintf("  Archived: %d", m.succeeded)))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" (%s)\n", humanize.Bytes(uint64(m.bytes)))))
	b.WriteString(warningStyle.Render(fmt.Sprintf("  Skipped:  %d\n", m.skipped)))
	b.WriteString(errorStyle.Render(fmt.Sprintf("  Failed:   %d\n", m.failed)))
	b.WriteString("\n")

	// Progress bar
	pct := 0.0
	if m.total > 0 {
		pct = float64(m.current) / float64(m.total)
	}

	b.WriteString(m.progress.ViewAs(pct))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" %d/%d\n\n", m.current, m.total)))

	// Active operations, sorted for a stable view
	if len(m.active) > 0 {
		b.WriteString(boldStyle.Render(fmt.Sprintf("Currently processing (%d):", len(m.active))))
		b.WriteString("\n")

		names := make([]string, 0, len(m.active))
		for name := range m.active {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			op := m.active[name]

			b.WriteString(infoStyle.Render(fmt.Sprintf("  [%s] %s - %s", m.spinner.View(), name, op.stage)))
			b.WriteString(dimStyle.Render(fmt.Sprintf(" %s\n", time.Since(op.startTime).Round(time.Second))))

			if op.line != "" {
				b.WriteString(dimStyle.Render("      " + truncate(op.line, 70)))
				b.WriteString("\n")
			}
		}

		b.WriteString("\n")
	}

	// Recent activity log
	if len(m.activity) > 0 {
		b.WriteString(boldStyle.Render("Recent activity:"))
		b.WriteString("\n")

		start := max(len(m.activity)-activityLen, 0)
		for _, item := range m.activity[start:] {
			b.WriteString(renderActivity(item))
		}

		b.WriteString("\n")
	}

	// Footer
	if m.cancelling {
		b.WriteString(warningStyle.Render("Cancelling: finishing the current stage, press 'q' again to quit now"))
	} else {
		b.WriteString(dimStyle.Render("Press 'q' to cancel"))
	}

	b.WriteString("\n")

	return b.String()
}

func renderActivity(item activityItem) string {
	var (
		statusIcon string
		style      lipgloss.Style
	)

	switch item.status {
	case model.StatusSucceeded:
		statusIcon = "[OK]"
		style = successStyle
	case model.StatusSkipped:
		statusIcon = "[SKIP]"
		style = warningStyle
	case model.StatusFailed:
		statusIcon = "[FAIL]"
		style = errorStyle
	default:
		statusIcon = "[PLAN]"
		style = infoStyle
	}

	retryInfo := ""
	if item.retries > 0 {
		retryInfo = fmt.Sprintf(" (retries: %d)", item.retries)
	}

	return style.Render(fmt.Sprintf("  %s %s", statusIcon, item.repo)) +
		dimStyle.Render(fmt.Sprintf(" - %s%s\n", truncate(item.message, 60), retryInfo))
}

func (m *ArchiveModel) renderComplete() string {
	var b strings.Builder

	b.WriteString("\n")

	switch {
	case m.report != nil && m.report.Cancelled:
		b.WriteString(warningStyle.Render("Archive run cancelled."))
	case m.failed > 0:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Archive run finished with %d failure(s).", m.failed)))
	default:
		b.WriteString(successStyle.Render("Archive run complete!"))
	}

	b.WriteString("\n\n")

	return b.String()
}

// Report returns the run report once the run finished.
func (m *ArchiveModel) Report() *model.RunReport {
	return m.report
}

// Aborted reports whether the user quit before the run finished.
func (m *ArchiveModel) Aborted() bool {
	return m.aborted
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}

// Observer forwards runner events to a running program.
type Observer struct {
	p *tea.Program
}

// NewObserver returns an archiver.Observer feeding p.
func NewObserver(p *tea.Program) *Observer {
	return &Observer{p: p}
}

func (o *Observer) OnEvent(e archiver.Event) {
	o.p.Send(eventMsg{event: e})
}
