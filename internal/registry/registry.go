// Package registry loads the master-data snapshot mapping call codes to
// rooms, beds and announcement sound files. The snapshot is read-only at
// runtime; editing happens in the desktop configurator that produces the
// file. Load may be called again at any time to pick up a new file.
package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

// Entry is one code mapping from the master-data file.
type Entry struct {
	Code   string   `json:"code"`
	Room   string   `json:"room"`
	Bed    string   `json:"bed"`
	Sounds []string `json:"sounds"`
}

// Display returns the operator-facing label for the entry. Entries without
// a room fall back to the bare code.
func (e *Entry) Display() string {
	if e.Room == "" {
		return e.Code
	}
	return e.Room + " - " + e.Bed
}

// legacyRecord mirrors one masterData row of the settings file written by
// the desktop configurator. Sound slots are fixed columns, unused ones
// hold "" or "-".
type legacyRecord struct {
	CharCode string `yaml:"charCode" json:"charCode"`
	RoomName string `yaml:"roomName" json:"roomName"`
	BedName  string `yaml:"bedName" json:"bedName"`
	V1       string `yaml:"v1" json:"v1"`
	V2       string `yaml:"v2" json:"v2"`
	V3       string `yaml:"v3" json:"v3"`
	V4       string `yaml:"v4" json:"v4"`
	V5       string `yaml:"v5" json:"v5"`
	V6       string `yaml:"v6" json:"v6"`
}

// sounds collects the non-placeholder slots in column order. Column order
// is the announcement play order, so it is preserved.
func (r *legacyRecord) sounds() []string {
	slots := [...]string{r.V1, r.V2, r.V3, r.V4, r.V5, r.V6}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		s = strings.TrimSpace(s)
		if s == "" || s == "-" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// legacyFile is the subset of the configurator settings file the registry
// reads. Pointing the registry at the full legacy file works because the
// other keys are ignored.
type legacyFile struct {
	MasterData []legacyRecord `yaml:"masterData" json:"masterData"`
}

// Registry is a concurrency-safe snapshot of the master data. The zero
// snapshot is valid and empty; lookups simply miss.
type Registry struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	entries  map[string]Entry
	loadedAt time.Time
}

// New returns a registry bound to the given file path. The snapshot is
// empty until Load is called. An empty path is allowed and yields a
// permanently empty registry, for stations whose feeds carry full call
// details themselves.
func New(path string) *Registry {
	logger := logging.ForService("registry")
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}
}

// Path returns the configured master-data file path.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the master-data file and atomically replaces the snapshot.
// The previous snapshot stays in place when loading fails.
func (r *Registry) Load() error {
	if r.path == "" {
		r.logger.Debug("no registry file configured, snapshot stays empty")
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return errors.New(err).
			Component("registry").
			Category(errors.CategoryFileIO).
			Context("operation", "load_registry").
			FileContext(r.path, 0).
			Build()
	}

	records, err := decodeRecords(r.path, data)
	if err != nil {
		return err
	}

	entries := make(map[string]Entry, len(records))
	skipped := 0
	duplicates := 0
	for i := range records {
		rec := &records[i]
		code := strings.TrimSpace(rec.CharCode)
		if code == "" {
			skipped++
			continue
		}
		// First occurrence wins, matching configurator lookup order.
		if _, exists := entries[code]; exists {
			duplicates++
			continue
		}
		entries[code] = Entry{
			Code:   code,
			Room:   normalizeLabel(rec.RoomName),
			Bed:    normalizeLabel(rec.BedName),
			Sounds: rec.sounds(),
		}
	}

	r.mu.Lock()
	r.entries = entries
	r.loadedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("registry snapshot loaded",
		"path", r.path,
		"entries", len(entries),
		"skipped", skipped,
		"duplicates", duplicates)
	return nil
}

// decodeRecords parses the file as JSON or YAML depending on extension.
// Both the wrapped legacy document and a bare record list are accepted.
func decodeRecords(path string, data []byte) ([]legacyRecord, error) {
	var doc legacyFile
	var bare []legacyRecord

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &doc); err != nil {
			if listErr := json.Unmarshal(data, &bare); listErr == nil {
				return bare, nil
			}
			return nil, parseError(path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			if listErr := yaml.Unmarshal(data, &bare); listErr == nil {
				return bare, nil
			}
			return nil, parseError(path, err)
		}
	}

	if doc.MasterData != nil {
		return doc.MasterData, nil
	}
	return bare, nil
}

func parseError(path string, err error) error {
	return errors.New(err).
		Component("registry").
		Category(errors.CategoryValidation).
		Context("operation", "parse_registry").
		FileContext(path, 0).
		Build()
}

// normalizeLabel trims and NFC-normalizes an operator-facing label so
// that lookups and notification text are stable regardless of how the
// configurator encoded accented characters.
func normalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Lookup returns the entry for a code. The returned entry is a copy, safe
// for the caller to hold across reloads.
func (r *Registry) Lookup(code string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[code]
	if !ok {
		return Entry{}, false
	}
	entry.Sounds = slices.Clone(entry.Sounds)
	return entry, true
}

// Len returns the number of codes in the snapshot.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LoadedAt returns the time of the last successful load, zero if the
// snapshot has never been loaded.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// Codes returns the snapshot's codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.entries))
	for code := range r.entries {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Entries returns a copy of the snapshot sorted by code.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entry.Sounds = slices.Clone(entry.Sounds)
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Code, b.Code)
	})
	return entries
}

// SoundCatalog returns the distinct sound files referenced anywhere in the
// snapshot, sorted. The playback engine preloads these at startup.
func (r *Registry) SoundCatalog() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, entry := range r.entries {
		for _, s := range entry.Sounds {
			seen[s] = struct{}{}
		}
	}
	catalog := make([]string, 0, len(seen))
	for s := range seen {
		catalog = append(catalog, s)
	}
	slices.Sort(catalog)
	return catalog
}
