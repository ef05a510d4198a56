package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// normalizeLimit clamps a page size to [1, maxPageSize].
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// prepareRun assigns IDs and default timestamps before insertion.
func prepareRun(run *Run) {
	if run.ID == "" {
		run.ID = generateID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}
	for i := range run.Results {
		run.Results[i].RunID = run.ID
		if run.Results[i].ID == "" {
			run.Results[i].ID = generateID()
		}
	}
}
