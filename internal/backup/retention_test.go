package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
)

func TestParseMaxAge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "30d", want: 30 * 24 * time.Hour},
		{in: "2w", want: 14 * 24 * time.Hour},
		{in: "6m", want: 180 * 24 * time.Hour},
		{in: "1y", want: 365 * 24 * time.Hour},
		{in: "24h", want: 24 * time.Hour},
		{in: "abc", wantErr: true},
		{in: "-5d", wantErr: true},
		{in: "7x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseMaxAge(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// snapsHoursOld builds snapshots with the given ages in hours.
func snapsHoursOld(now time.Time, hours ...int) []Snapshot {
	snaps := make([]Snapshot, 0, len(hours))
	for _, h := range hours {
		ts := now.Add(-time.Duration(h) * time.Hour)
		snaps = append(snaps, Snapshot{ID: snapshotName(ts), Timestamp: ts})
	}
	return snaps
}

func TestPruneByCount(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	snaps := snapsHoursOld(now, 1, 2, 3, 4, 5)

	victims := prune(snaps, conf.BackupRetention{MaxBackups: 3}, 0, now)
	require.Len(t, victims, 2)
	assert.Equal(t, snapshotName(now.Add(-4*time.Hour)), victims[0].ID)
	assert.Equal(t, snapshotName(now.Add(-5*time.Hour)), victims[1].ID)
}

func TestPruneByAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	snaps := snapsHoursOld(now, 1, 30, 50)

	victims := prune(snaps, conf.BackupRetention{}, 24*time.Hour, now)
	require.Len(t, victims, 2)
	assert.Equal(t, snapshotName(now.Add(-30*time.Hour)), victims[0].ID)
	assert.Equal(t, snapshotName(now.Add(-50*time.Hour)), victims[1].ID)
}

func TestPruneMinBackupsOverridesAge(t *testing.T) {
	t.Parallel()

	// Everything is past the age limit, but the newest three survive.
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	snaps := snapsHoursOld(now, 10, 11, 12, 13)

	victims := prune(snaps, conf.BackupRetention{MinBackups: 3}, time.Hour, now)
	require.Len(t, victims, 1)
	assert.Equal(t, snapshotName(now.Add(-13*time.Hour)), victims[0].ID)
}

func TestPruneWithinLimitsKeepsAll(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	snaps := snapsHoursOld(now, 1, 2, 3)

	victims := prune(snaps, conf.BackupRetention{MaxBackups: 14, MinBackups: 3}, 30*24*time.Hour, now)
	assert.Empty(t, victims)
	assert.Empty(t, prune(nil, conf.BackupRetention{MaxBackups: 1}, time.Hour, now))
}

func TestPruneDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	snaps := snapsHoursOld(now, 3, 1, 2)
	want := []string{snaps[0].ID, snaps[1].ID, snaps[2].ID}

	prune(snaps, conf.BackupRetention{MaxBackups: 1}, 0, now)
	assert.Equal(t, want, []string{snaps[0].ID, snaps[1].ID, snaps[2].ID})
}
