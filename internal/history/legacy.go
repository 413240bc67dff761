package history

import (
	"strconv"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/carebell/carebell-go/internal/errors"
)

// ImportStats summarizes one legacy import batch.
type ImportStats struct {
	Inserted int `json:"inserted"`
	Merged   int `json:"merged"`
	Skipped  int `json:"skipped"`
}

// Legacy exports vary in shape: some are bare arrays, some wrap the
// records in a storage object under one of these keys.
var legacyArrayKeys = []string{"callHistoryStorage", "calls", "history"}

// UpsertFromLegacy imports a legacy export. Each record is normalized
// once at this boundary (field aliases, epoch vs RFC3339 times, numeric
// ids) into the canonical shape, then upserted by derived id: new ids
// insert, existing ids only gain end-time fields and only if the stored
// record is still open. A completed record is never reopened and an end
// time is never overwritten. The merged set persists before returning.
func (s *Store) UpsertFromLegacy(data []byte) (ImportStats, error) {
	objects, err := legacyObjects(data)
	if err != nil {
		return ImportStats{}, errors.New(err).
			Component("history").
			Category(errors.CategoryValidation).
			Context("operation", "import_legacy").
			Build()
	}

	var stats ImportStats

	s.mu.Lock()
	for _, obj := range objects {
		incoming, ok := normalizeLegacy(obj)
		if !ok {
			stats.Skipped++
			continue
		}

		idx, exists := s.index[incoming.ID]
		if !exists {
			s.records = append(s.records, incoming)
			s.index[incoming.ID] = len(s.records) - 1
			stats.Inserted++
			continue
		}

		existing := &s.records[idx]
		if existing.open() && incoming.EndedAt != nil {
			existing.EndedAt = incoming.EndedAt
			existing.Status = StatusCompleted
			existing.DurationSec = incoming.DurationSec
			stats.Merged++
			continue
		}
		stats.Skipped++
	}
	if stats.Inserted+stats.Merged > 0 {
		s.dirty = true
	}
	flushErr := s.flushLocked()
	s.mu.Unlock()

	s.logger.Info("legacy history imported",
		"inserted", stats.Inserted,
		"merged", stats.Merged,
		"skipped", stats.Skipped)
	return stats, flushErr
}

// legacyObjects extracts the record objects from either a wrapped
// legacy document or a bare array.
func legacyObjects(data []byte) ([]*jason.Object, error) {
	if root, err := jason.NewObjectFromBytes(data); err == nil {
		for _, key := range legacyArrayKeys {
			if objects, err := root.GetObjectArray(key); err == nil {
				return objects, nil
			}
		}
		return nil, errors.NewStd("legacy document has no call record array")
	}

	value, err := jason.NewValueFromBytes(data)
	if err != nil {
		return nil, err
	}
	values, err := value.Array()
	if err != nil {
		return nil, err
	}

	objects := make([]*jason.Object, 0, len(values))
	for _, v := range values {
		obj, err := v.Object()
		if err != nil {
			continue
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// normalizeLegacy resolves the duck-typed aliases of one legacy record
// into a canonical Record. Returns false when no code or usable start
// time can be found.
func normalizeLegacy(obj *jason.Object) (Record, bool) {
	code := legacyString(obj, "code", "charCode")
	if code == "" {
		return Record{}, false
	}

	startedAt, ok := legacyTime(obj, "timestamp", "callTime", "startedAt", "time")
	if !ok {
		// The oldest exports used the creation epoch as the record id.
		if ms, err := obj.GetInt64("id"); err == nil && looksLikeEpochMillis(ms) {
			startedAt = time.UnixMilli(ms).UTC()
			ok = true
		}
	}
	if !ok {
		return Record{}, false
	}

	rec := Record{
		ID:        RecordID(code, startedAt),
		Direction: legacyString(obj, "direction"),
		Code:      code,
		Room:      legacyString(obj, "room", "roomName"),
		Bed:       legacyString(obj, "bed", "bedName"),
		StartedAt: startedAt,
		Status:    StatusActive,
	}
	if rec.Direction == "" {
		rec.Direction = "incoming"
	}

	if endedAt, ok := legacyTime(obj, "resetTime", "endedAt"); ok {
		ended := endedAt
		rec.EndedAt = &ended
		rec.Status = StatusCompleted
	} else if legacyString(obj, "status") == string(StatusCompleted) {
		rec.Status = StatusCompleted
	}

	if seconds, err := obj.GetInt64("durationSec"); err == nil && seconds >= 0 {
		rec.DurationSec = &seconds
	} else if rec.EndedAt != nil {
		seconds := int64(rec.EndedAt.Sub(rec.StartedAt).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		rec.DurationSec = &seconds
	}

	return rec, true
}

// legacyString returns the first present string field, numeric values
// included since old exports stored some identifiers as numbers.
func legacyString(obj *jason.Object, keys ...string) string {
	for _, key := range keys {
		if s, err := obj.GetString(key); err == nil && s != "" {
			return s
		}
		if n, err := obj.GetInt64(key); err == nil {
			return strconv.FormatInt(n, 10)
		}
	}
	return ""
}

// legacyTime returns the first parseable time field, accepting RFC3339
// variants and epoch values in seconds or milliseconds.
func legacyTime(obj *jason.Object, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		if s, err := obj.GetString(key); err == nil {
			if t, ok := parseLegacyTime(s); ok {
				return t, true
			}
			continue
		}
		if n, err := obj.GetInt64(key); err == nil {
			if looksLikeEpochMillis(n) {
				return time.UnixMilli(n).UTC(), true
			}
			if n > 0 {
				return time.Unix(n, 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	"2006-01-02 15:04",
}

func parseLegacyTime(s string) (time.Time, bool) {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// looksLikeEpochMillis distinguishes millisecond epochs from second
// epochs; anything past 1973 in milliseconds clears the bar.
func looksLikeEpochMillis(n int64) bool {
	return n > 100_000_000_000
}
