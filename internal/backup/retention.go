package backup

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
)

// parseMaxAge understands the config's calendar units on top of
// time.ParseDuration: "30d", "8w", "6m", "1y". Empty means no age
// limit.
func parseMaxAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' || unit == 'm' || unit == 'y' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err == nil && n >= 0 {
			day := 24 * time.Hour
			switch unit {
			case 'd':
				return time.Duration(n) * day, nil
			case 'w':
				return time.Duration(n) * 7 * day, nil
			case 'm':
				return time.Duration(n) * 30 * day, nil
			case 'y':
				return time.Duration(n) * 365 * day, nil
			}
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.New(err).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Context("maxage", s).
			Build()
	}
	return d, nil
}

// prune returns the snapshots that fall outside the retention policy,
// oldest last. The newest MinBackups snapshots are always kept, even
// past their age limit.
func prune(snaps []Snapshot, r conf.BackupRetention, maxAge time.Duration, now time.Time) []Snapshot {
	sorted := make([]Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	var victims []Snapshot
	for i, snap := range sorted {
		if r.MinBackups > 0 && i < r.MinBackups {
			continue
		}
		overCount := r.MaxBackups > 0 && i >= r.MaxBackups
		tooOld := maxAge > 0 && now.Sub(snap.Timestamp) > maxAge
		if overCount || tooOld {
			victims = append(victims, snap)
		}
	}
	return victims
}
