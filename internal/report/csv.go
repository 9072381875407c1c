package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/inovacc/tfsarchive/internal/model"
)

// CSVHeader lists the report columns.
var CSVHeader = []string{
	"repo_name",
	"repo_id",
	"remote_url",
	"status",
	"stage_reached",
	"failed_stage",
	"artifact_path",
	"artifact_size_bytes",
	"sha256",
	"message",
	"duration_ms",
}

// CSVSink writes one semicolon separated row per task and flushes it
// immediately, so an interrupted run still leaves a readable report.
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// NewCSVSink creates path and writes the header.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create report %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	w.Comma = ';'

	s := &CSVSink{f: f, w: w, path: path}

	if err := s.writeRow(CSVHeader); err != nil {
		_ = f.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the report file location.
func (s *CSVSink) Path() string {
	return s.path
}

func (s *CSVSink) Write(rec model.TaskRecord) error {
	message := rec.Error
	switch {
	case rec.Status == model.StatusSkipped.String():
		message = "skipped: " + rec.SkipReason
	case message == "" && rec.Empty:
		message = "empty repository"
	}

	return s.writeRow([]string{
		rec.RepoName,
		rec.RepoID,
		rec.RemoteURL,
		rec.Status,
		rec.StageReached,
		rec.FailedStage,
		rec.ArtifactPath,
		strconv.FormatInt(rec.ArtifactSize, 10),
		rec.Checksum,
		message,
		strconv.FormatInt(rec.DurationMS, 10),
	})
}

func (s *CSVSink) writeRow(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Write(row); err != nil {
		return err
	}

	s.w.Flush()

	if err := s.w.Error(); err != nil {
		return err
	}

	return s.f.Sync()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()

	return s.f.Close()
}
