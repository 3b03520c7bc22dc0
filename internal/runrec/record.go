// Package runrec persists the per-run configuration record and the run
// index in the run's output directory, so a later invocation pointed at
// the same directory can reproduce the run without repeating every flag.
package runrec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"convexsplat/internal/model"
	"convexsplat/internal/train"
)

const (
	recordFile = "cfg_args.json"
	indexFile  = "run_index.json"
)

// Record is the durable run configuration, written once at startup.
type Record struct {
	RunID        string       `json:"run_id"`
	CreatedAtUTC string       `json:"created_at_utc"`
	DatasetPath  string       `json:"dataset_path"`
	Light        bool         `json:"light"`
	Outdoor      bool         `json:"outdoor"`
	Config       train.Config `json:"config"`
}

// Write stores the record in dir, creating the directory if needed. A
// fresh invocation against the same directory overwrites the record.
func Write(dir string, rec Record) error {
	if dir == "" {
		return errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, recordFile), data, 0o644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// Load reads the record from dir. A missing record is not an error: the
// caller falls back to its own defaults, so resume-style flows degrade to
// fresh runs instead of failing.
func Load(dir string) (Record, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, recordFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read run record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode run record: %w", err)
	}
	return rec, true, nil
}

// AppendIndex adds one run summary to the directory's run index,
// creating the index on first use.
func AppendIndex(dir string, summary model.RunSummary) error {
	if dir == "" {
		return errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	entries, err := LoadIndex(dir)
	if err != nil {
		return err
	}
	entries = append(entries, summary)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("write run index: %w", err)
	}
	return nil
}

// LoadIndex returns every summary recorded in dir, oldest first. A
// missing index reads as empty.
func LoadIndex(dir string) ([]model.RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run index: %w", err)
	}
	var entries []model.RunSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	return entries, nil
}
