// Package history persists audit runs so results can be compared over
// time and served back through the API.
//
// Two backends exist: FileStore keeps one JSON document per run under a
// local directory (the default), and MongoStore uses a MongoDB collection
// when config names a history.mongo_uri. Both store the full result and
// answer listings with lightweight Record summaries.
package history

import (
	"context"
	"regexp"
	"time"

	"github.com/matzehuels/comfyaudit/pkg/audit"
	"github.com/matzehuels/comfyaudit/pkg/errors"
)

// Record is the summary of one stored run, cheap enough to list in bulk.
type Record struct {
	RunID      string         `json:"run_id" bson:"run_id"`
	StartedAt  time.Time      `json:"started_at" bson:"started_at"`
	FinishedAt time.Time      `json:"finished_at" bson:"finished_at"`
	Root       string         `json:"root,omitempty" bson:"root,omitempty"`
	PipCommand string         `json:"pip_command,omitempty" bson:"pip_command,omitempty"`
	Packages   int            `json:"packages" bson:"packages"`
	Actions    int            `json:"actions" bson:"actions"`
	Counts     map[string]int `json:"counts" bson:"counts"`
}

// Store persists audit results and serves them back.
type Store interface {
	// Save stores a finished run keyed by its RunID.
	Save(ctx context.Context, result *audit.Result) error

	// List returns run summaries newest first, at most limit entries.
	// A non-positive limit means no limit.
	List(ctx context.Context, limit int) ([]Record, error)

	// Get returns the full stored result, or an ErrCodeRunNotFound error.
	Get(ctx context.Context, runID string) (*audit.Result, error)

	// Prune drops all but the newest keep runs and reports how many
	// were removed.
	Prune(ctx context.Context, keep int) (int, error)

	// Close releases backend resources.
	Close() error
}

// Summarize reduces a full result to its listing record.
func Summarize(result *audit.Result) Record {
	counts := make(map[string]int)
	for bucket, n := range result.Counts() {
		counts[string(bucket)] = n
	}
	return Record{
		RunID:      result.RunID,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Root:       result.Root,
		PipCommand: result.PipCommand,
		Packages:   len(result.Reports),
		Actions:    result.ActionCount(),
		Counts:     counts,
	}
}

var runIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateRunID keeps run IDs usable as file names and query values.
func validateRunID(runID string) error {
	if !runIDRegex.MatchString(runID) {
		return errors.New(errors.ErrCodeInvalidInput, "invalid run id: %q", runID)
	}
	return nil
}
