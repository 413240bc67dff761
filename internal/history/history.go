// Package history owns the durable call record set. Records live in a
// single versioned JSON file; live transitions mark the store dirty and
// a flusher goroutine persists in the background, so the dispatcher
// never waits on disk. Batch imports and soft deletes persist
// synchronously.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

// Status is the lifecycle state of a call record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// currentVersion is the history file format version.
const currentVersion = 2

// Namespace for deterministic record ids, never changes.
var callNamespace = uuid.MustParse("ca4ebe11-7a3d-4c5f-9b2e-8d1f6a0c4e72")

// RecordID derives the stable id for a call occurrence. The same
// code/start pair always maps to the same id, which is what makes
// re-imports idempotent.
func RecordID(code string, startedAt time.Time) string {
	name := code + "|" + startedAt.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(callNamespace, []byte(name)).String()
}

// Record is one durable call occurrence.
type Record struct {
	ID            string     `json:"id"`
	Direction     string     `json:"direction,omitempty"`
	Code          string     `json:"code"`
	Room          string     `json:"room,omitempty"`
	Bed           string     `json:"bed,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Status        Status     `json:"status"`
	DurationSec   *int64     `json:"durationSec,omitempty"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	DeletedReason string     `json:"deletedReason,omitempty"`

	// extra carries fields written by other readers of the file; they
	// round-trip untouched so a rewrite never loses them.
	extra map[string]json.RawMessage
}

var knownRecordFields = []string{
	"id", "direction", "code", "room", "bed", "startedAt", "endedAt",
	"status", "durationSec", "deletedAt", "deletedReason",
}

// recordAlias avoids marshal recursion into the custom methods.
type recordAlias Record

// UnmarshalJSON decodes the known fields and stashes everything else.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range knownRecordFields {
		delete(raw, key)
	}
	*r = Record(alias)
	if len(raw) > 0 {
		r.extra = raw
	}
	return nil
}

// MarshalJSON re-emits the known fields plus any preserved extras.
func (r Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(recordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range r.extra {
		if _, known := merged[key]; !known {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// open reports whether the record still awaits its response.
func (r *Record) open() bool {
	return r.Status != StatusCompleted && r.EndedAt == nil
}

// Container is the on-disk shape of the history file.
type Container struct {
	Version int      `json:"version"`
	Calls   []Record `json:"calls"`
}

// Filter narrows List results.
type Filter struct {
	Code           string
	From           *time.Time
	To             *time.Time
	IncludeDeleted bool
}

// FlushStats reports flusher activity.
type FlushStats struct {
	Flushes  uint64 `json:"flushes"`
	Failures uint64 `json:"failures"`
	Dirty    bool   `json:"dirty"`
}

// Store is the durable call history.
type Store struct {
	path   string
	logger *slog.Logger
	debug  bool

	mu      sync.Mutex
	records []Record
	index   map[string]int
	dirty   bool

	flushInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	flushes       atomic.Uint64
	flushFailures atomic.Uint64
}

// New loads the history file (an empty container on first run or on a
// damaged file) and starts the background flusher.
func New(cfg conf.HistorySettings) *Store {
	logger := logging.ForService("history")
	if logger == nil {
		logger = slog.Default()
	}

	interval := time.Duration(cfg.FlushMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	s := &Store{
		path:          cfg.Path,
		logger:        logger,
		debug:         cfg.Debug,
		index:         make(map[string]int),
		flushInterval: interval,
		stop:          make(chan struct{}),
	}
	s.load()

	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// load reads the durable set. A missing file is a first run; a damaged
// file is preserved aside and the store starts empty.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read history file, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var container Container
	if err := json.Unmarshal(data, &container); err != nil {
		aside := s.path + ".damaged-" + time.Now().Format("20060102-150405")
		if writeErr := os.WriteFile(aside, data, 0o600); writeErr == nil {
			s.logger.Error("history file is damaged, preserved aside and starting empty",
				"path", s.path, "preserved", aside)
		} else {
			s.logger.Error("history file is damaged and could not be preserved aside",
				"path", s.path, "error", writeErr)
		}
		_ = errors.New(err).
			Component("history").
			Category(errors.CategoryFileIO).
			Context("operation", "load_history").
			FileContext(s.path, int64(len(data))).
			Build()
		return
	}

	s.records = container.Calls
	s.reindex()
	s.logger.Info("history loaded", "path", s.path, "records", len(s.records), "version", container.Version)
}

// reindex rebuilds the id index. Caller holds mu or has exclusive use.
func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i := range s.records {
		s.index[s.records[i].ID] = i
	}
}

// StartCall appends an active record for a fresh trigger. Repeats of
// the same code/start pair are absorbed by the stable id.
func (s *Store) StartCall(code, room, bed string, startedAt time.Time) {
	startedAt = startedAt.UTC()
	id := RecordID(code, startedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[id]; exists {
		return
	}

	s.records = append(s.records, Record{
		ID:        id,
		Direction: "incoming",
		Code:      code,
		Room:      room,
		Bed:       bed,
		StartedAt: startedAt,
		Status:    StatusActive,
	})
	s.index[id] = len(s.records) - 1
	s.dirty = true

	if s.debug {
		s.logger.Debug("history record opened", "id", id, "code", code)
	}
}

// CompleteCall closes the most recent open record for code and returns
// its start time. Returns false when no open record exists.
func (s *Store) CompleteCall(code string, endedAt time.Time) (time.Time, bool) {
	endedAt = endedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		rec := &s.records[i]
		if rec.Code != code || !rec.open() || rec.DeletedAt != nil {
			continue
		}
		ended := endedAt
		rec.EndedAt = &ended
		rec.Status = StatusCompleted
		seconds := int64(endedAt.Sub(rec.StartedAt).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		rec.DurationSec = &seconds
		s.dirty = true

		if s.debug {
			s.logger.Debug("history record closed", "id", rec.ID, "code", code, "duration_sec", seconds)
		}
		return rec.StartedAt, true
	}
	return time.Time{}, false
}

// SoftDeleteRange marks records whose start time falls inside the
// inclusive range. Open bounds are expressed with nil. Already deleted
// records are left untouched. Persists before returning.
func (s *Store) SoftDeleteRange(from, to *time.Time, reason string) (int, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	marked := 0
	for i := range s.records {
		rec := &s.records[i]
		if rec.DeletedAt != nil {
			continue
		}
		if from != nil && rec.StartedAt.Before(from.UTC()) {
			continue
		}
		if to != nil && rec.StartedAt.After(to.UTC()) {
			continue
		}
		deleted := now
		rec.DeletedAt = &deleted
		rec.DeletedReason = reason
		marked++
	}
	if marked > 0 {
		s.dirty = true
	}
	err := s.flushLocked()
	s.mu.Unlock()

	if marked > 0 {
		s.logger.Info("history records soft-deleted", "count", marked, "reason", reason)
	}
	return marked, err
}

// Read returns a copy of the durable container.
func (s *Store) Read() Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Container{
		Version: currentVersion,
		Calls:   slices.Clone(s.records),
	}
}

// Active returns open, non-deleted records.
func (s *Store) Active() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for i := range s.records {
		rec := &s.records[i]
		if rec.open() && rec.DeletedAt == nil {
			out = append(out, *rec)
		}
	}
	return out
}

// List returns records matching the filter, soft-deleted ones excluded
// unless asked for.
func (s *Store) List(filter Filter) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for i := range s.records {
		rec := &s.records[i]
		if rec.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.Code != "" && rec.Code != filter.Code {
			continue
		}
		if filter.From != nil && rec.StartedAt.Before(filter.From.UTC()) {
			continue
		}
		if filter.To != nil && rec.StartedAt.After(filter.To.UTC()) {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Len returns the total record count including soft-deleted ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Flush persists now if there are unsaved changes.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// FlushStats reports flusher activity for diagnostics.
func (s *Store) FlushStats() FlushStats {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	return FlushStats{
		Flushes:  s.flushes.Load(),
		Failures: s.flushFailures.Load(),
		Dirty:    dirty,
	}
}

// Close stops the flusher and persists any remaining changes.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.Flush()
}

// flushLoop persists dirty state in the background. Failures keep the
// dirty flag set, so the next tick retries.
func (s *Store) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.flushLocked()
			s.mu.Unlock()
		}
	}
}

// flushLocked writes the container when dirty. Caller holds mu.
func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}

	container := Container{Version: currentVersion, Calls: s.records}
	data, err := json.MarshalIndent(&container, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("history").
			Category(errors.CategoryFileIO).
			Context("operation", "encode_history").
			Build()
	}

	if err := s.writeAtomic(data); err != nil {
		s.flushFailures.Add(1)
		return errors.New(err).
			Component("history").
			Category(errors.CategoryFileIO).
			Context("operation", "flush_history").
			FileContext(s.path, int64(len(data))).
			Build()
	}

	s.dirty = false
	s.flushes.Add(1)
	if s.debug {
		s.logger.Debug("history flushed", "records", len(s.records), "bytes", len(data))
	}
	return nil
}

// writeAtomic writes via a temp file in the target directory plus
// rename, with a plain write fallback if rename is not possible.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "history-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return os.WriteFile(s.path, data, 0o600)
	}
	return nil
}
