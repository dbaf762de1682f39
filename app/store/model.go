package store

import (
	"math"
	"time"
)

// Job is a cached job record. Nil pointers mean the value was never set (NULL in the database).
type Job struct {
	ID            string   `db:"hash" yaml:"id"` // derived from job definition by the caller
	Description   string   `db:"description" yaml:"description"`
	LastRun       *float64 `db:"last_run" yaml:"last-run"`
	NextRun       *float64 `db:"next_run" yaml:"next-run"`
	LastRunResult *int     `db:"last_run_result" yaml:"last-run-result"`
}

// HistoryEntry is a single recorded run of a job. Description is copied from the job at run time.
type HistoryEntry struct {
	ID          string  `db:"hash" yaml:"id"`
	Description string  `db:"description" yaml:"description"`
	Time        float64 `db:"time" yaml:"time"`
	Result      int     `db:"result" yaml:"result"`
}

// Epoch converts time to seconds since epoch with sub-second precision, the format of all stored timestamps
func Epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts seconds since epoch back to time.Time
func Time(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}
