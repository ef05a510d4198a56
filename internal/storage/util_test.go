package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/config"
)

func configFor(typ string) config.StorageConfig {
	return config.StorageConfig{Type: typ}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultPageSize},
		{-5, defaultPageSize},
		{10, 10},
		{maxPageSize + 1, maxPageSize},
	}
	for _, tt := range tests {
		if got := normalizeLimit(tt.in); got != tt.want {
			t.Errorf("normalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 600, time.FixedZone("X", 3600))

	s := formatTime(now)
	assert.Len(t, s, len("2026-01-02T02:04:05.000000600Z"))

	got, err := parseTime(s)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	// Fixed width keeps lexical and chronological order aligned.
	assert.Less(t, formatTime(now), formatTime(now.Add(time.Nanosecond)))
	assert.Less(t, formatTime(now.Truncate(time.Second)), formatTime(now))
}

func TestPrepareRun(t *testing.T) {
	run := &Run{Results: []Result{{ArtifactKey: "a"}, {ArtifactKey: "b", ID: "keep"}}}
	prepareRun(run)

	assert.True(t, isUUID(run.ID))
	assert.False(t, run.StartedAt.IsZero())
	assert.Equal(t, run.StartedAt, run.FinishedAt)
	assert.Equal(t, run.ID, run.Results[0].RunID)
	assert.True(t, isUUID(run.Results[0].ID))
	assert.Equal(t, "keep", run.Results[1].ID)
}
