package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matzehuels/comfyaudit/pkg/audit"
	"github.com/matzehuels/comfyaudit/pkg/errors"
)

// FileStore keeps one pretty-printed JSON document per run in a local
// directory, so runs stay inspectable with nothing but a text editor.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created
// on the first Save, not here, so a read-only consumer never writes.
func NewFileStore(dir string) (*FileStore, error) {
	if err := errors.ValidatePath(dir); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory runs are stored in.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save writes the result to <dir>/<run_id>.json.
func (s *FileStore) Save(ctx context.Context, result *audit.Result) error {
	if err := validateRunID(result.RunID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(result.RunID), data, 0o644)
}

// List loads every stored run and returns summaries newest first.
func (s *FileStore) List(ctx context.Context, limit int) ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		result, err := s.load(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// Unreadable entries are skipped, not fatal: one corrupt
			// file should not hide the rest of the history.
			continue
		}
		records = append(records, Summarize(result))
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.After(records[j].StartedAt)
		}
		return records[i].RunID < records[j].RunID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Get returns the stored result for runID.
func (s *FileStore) Get(ctx context.Context, runID string) (*audit.Result, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	result, err := s.load(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeRunNotFound, "run %s not found", runID)
		}
		return nil, err
	}
	return result, nil
}

// Prune removes all but the newest keep runs.
func (s *FileStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	records, err := s.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	if len(records) <= keep {
		return 0, nil
	}

	removed := 0
	for _, rec := range records[keep:] {
		if err := os.Remove(s.path(rec.RunID)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load(path string) (*audit.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result audit.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

var _ Store = (*FileStore)(nil)
