package report

import (
	"time"

	"github.com/inovacc/tfsarchive/internal/common"
	"github.com/inovacc/tfsarchive/internal/encoding"
	"github.com/inovacc/tfsarchive/internal/model"
)

// Document is the JSON form of a run report.
type Document struct {
	RunID      string             `json:"run_id"`
	Project    string             `json:"project"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Cancelled  bool               `json:"cancelled"`
	ExitCode   int                `json:"exit_code"`
	Summary    model.Summary      `json:"summary"`
	Tasks      []model.TaskRecord `json:"tasks"`
}

// NewDocument converts a run report to its JSON form.
func NewDocument(report *model.RunReport) Document {
	doc := Document{
		RunID:      report.RunID,
		Project:    report.Project,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Cancelled:  report.Cancelled,
		ExitCode:   report.ExitCode(),
		Summary:    report.Summary,
		Tasks:      make([]model.TaskRecord, 0, len(report.Tasks)),
	}

	for i := range report.Tasks {
		t := &report.Tasks[i]
		doc.Tasks = append(doc.Tasks, t.Record(report.RunID, common.SanitizeGitURL(t.Descriptor.RemoteURL)))
	}

	return doc
}

// JSONSink writes the whole report once the run finishes.
type JSONSink struct {
	path string
}

// NewJSONSink returns a sink writing to path.
func NewJSONSink(path string) *JSONSink {
	return &JSONSink{path: path}
}

// Path returns the report file location.
func (s *JSONSink) Path() string {
	return s.path
}

func (s *JSONSink) Write(model.TaskRecord) error { return nil }

func (s *JSONSink) Finish(report *model.RunReport) error {
	return encoding.SaveJSON(s.path, NewDocument(report))
}

func (s *JSONSink) Close() error { return nil }
