// Package backup takes scheduled snapshots of the call history file
// and ships them to configured targets. A snapshot is a timestamped
// copy of one JSON file kept for disaster recovery; the history store
// never reads from a target.
package backup

import (
	"context"
	"strings"
	"time"
)

const (
	snapshotPrefix     = "history-"
	snapshotExt        = ".json"
	snapshotTimeFormat = "20060102-150405"
)

// Snapshot describes one stored copy of the history file. The ID is
// the snapshot's file name on the target.
type Snapshot struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum,omitempty"`
}

// Target is a destination that stores snapshots. Implementations keep
// one flat directory of timestamped files and may ignore the checksum.
type Target interface {
	Name() string
	// Store uploads the staged file under snap.ID.
	Store(ctx context.Context, localPath string, snap Snapshot) error
	// List returns the snapshots currently held, in any order.
	List(ctx context.Context) ([]Snapshot, error)
	// Delete removes the snapshot with the given ID.
	Delete(ctx context.Context, id string) error
	// Validate checks that the target is reachable and writable.
	Validate(ctx context.Context) error
}

// snapshotName returns the file name for a snapshot taken at ts.
func snapshotName(ts time.Time) string {
	return snapshotPrefix + ts.UTC().Format(snapshotTimeFormat) + snapshotExt
}

// parseSnapshotName recovers the timestamp from a snapshot file name.
// Foreign files in a target directory fail the parse and are left
// alone by listing and retention.
func parseSnapshotName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
	ts, err := time.Parse(snapshotTimeFormat, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
