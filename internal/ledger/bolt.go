package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/inovacc/tfsarchive/internal/model"
)

const (
	boltBucketRepos = "repos" // key: project \x00 repo id -> Entry JSON
	boltBucketRuns  = "runs"  // key: started_at \x00 run id -> Run JSON
)

// Bolt is the default ledger backend.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the bbolt ledger at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(boltBucketRepos)); err != nil {
			return err
		}

		if _, err := tx.CreateBucketIfNotExists([]byte(boltBucketRuns)); err != nil {
			return err
		}

		return nil
	}); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Bolt{db: db}, nil
}

func entryKey(project, repoID string) []byte {
	return []byte(project + "\x00" + repoID)
}

func (b *Bolt) RecordTask(_ context.Context, project string, rec model.TaskRecord) error {
	data, err := json.Marshal(entryFromRecord(project, rec))
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketRepos)).Put(entryKey(project, repoKey(rec)), data)
	})
}

func (b *Bolt) RecordRun(_ context.Context, run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	key := []byte(formatTime(run.StartedAt) + "\x00" + run.RunID)

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketRuns)).Put(key, data)
	})
}

func (b *Bolt) LastStatus(_ context.Context, project, repoID string) (model.Status, bool, error) {
	var (
		entry Entry
		found bool
	)

	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(boltBucketRepos)).Get(entryKey(project, repoID))
		if data == nil {
			return nil
		}

		found = true

		return json.Unmarshal(data, &entry)
	})
	if err != nil || !found {
		return model.StatusPending, false, err
	}

	return model.ParseStatus(entry.Status), true, nil
}

func (b *Bolt) Entries(_ context.Context, project string) ([]Entry, error) {
	var entries []Entry

	prefix := []byte(project + "\x00")

	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketRepos)).Cursor()

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			entries = append(entries, e)
		}

		return nil
	})

	return entries, err
}

// Runs returns the most recent runs of project, newest first.
func (b *Bolt) Runs(_ context.Context, project string, limit int) ([]Run, error) {
	var runs []Run

	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketRuns)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			if project != "" && r.Project != project {
				continue
			}

			runs = append(runs, r)

			if limit > 0 && len(runs) >= limit {
				break
			}
		}

		return nil
	})

	return runs, err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
