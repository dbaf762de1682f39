// Package recorder keeps the job cache in sync with job executions. It registers jobs the first time
// they are seen and records the outcome of every finished run, retrying transient store failures.
package recorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/cronner/app/store"
)

//go:generate mockery --name Store --output mocks --outpkg mocks --with-expecter=false

// Store defines the job cache operations used by Recorder, implemented by store.JobStore
type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (store.Job, error)
	Insert(ctx context.Context, job store.Job) error
	RecordRun(ctx context.Context, job store.Job, entry store.HistoryEntry) error
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Recorder registers jobs and records their runs in Store
type Recorder struct {
	Store    Store
	Repeater Repeater // optional, single attempt if not set
}

// Run describes a single finished execution of a job
type Run struct {
	ID          string   // job id, see JobID
	Description string   // copied to history, stored job description used if empty
	Time        float64  // when the run happened, seconds since epoch
	NextRun     *float64 // next scheduled run, nil if unknown
	Result      int      // exit code
}

// JobID makes a stable job id from job command
func JobID(command string) string {
	sum := sha256.Sum256([]byte(command))
	return hex.EncodeToString(sum[:])
}

// Register adds the job to the store unless it is already there. Returns true if the job was added.
// Job inserted concurrently by someone else counts as already known.
func (r *Recorder) Register(ctx context.Context, job store.Job) (created bool, err error) {
	found, err := r.Store.Exists(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("can't check job %s: %w", job.ID, err)
	}
	if found {
		return false, nil
	}

	err = r.Store.Insert(ctx, job)
	if errors.Is(err, store.ErrDuplicateKey) {
		log.Printf("[DEBUG] job %s registered concurrently", job.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("can't register job %s: %w", job.ID, err)
	}
	log.Printf("[DEBUG] registered job %s, %q", job.ID, job.Description)
	return true, nil
}

// Complete records finished run. Unknown job is registered first, then its run info is updated
// and history entry appended in one step. Write failures and lock contention are retried with Repeater.
func (r *Recorder) Complete(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("empty job id")
	}

	desc := run.Description
	if desc == "" {
		job, err := r.Store.Get(ctx, run.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("can't get job %s: %w", run.ID, err)
		}
		desc = job.Description
	}

	if _, err := r.Register(ctx, store.Job{ID: run.ID, Description: desc}); err != nil {
		return err
	}

	result := run.Result
	lastRun := run.Time
	job := store.Job{ID: run.ID, Description: desc, LastRun: &lastRun, NextRun: run.NextRun, LastRunResult: &result}
	entry := store.HistoryEntry{ID: run.ID, Description: desc, Time: run.Time, Result: run.Result}

	if err := r.retry(ctx, func() error { return r.Store.RecordRun(ctx, job, entry) }); err != nil {
		return fmt.Errorf("can't record run of %s: %w", run.ID, err)
	}
	log.Printf("[DEBUG] recorded run of %s at %v, result %d", run.ID, store.Time(run.Time), run.Result)
	return nil
}

// retry calls fn with Repeater while it fails with a transient store error.
// Other errors stop repeating and returned as-is.
func (r *Recorder) retry(ctx context.Context, fn func() error) error {
	if r.Repeater == nil {
		return fn()
	}

	var permanent error
	err := r.Repeater.Do(ctx, func() error {
		e := fn()
		if e == nil || errors.Is(e, store.ErrWriteFailure) || errors.Is(e, store.ErrLocked) {
			if e != nil {
				log.Printf("[DEBUG] transient store error, %v", e)
			}
			return e
		}
		permanent = e
		return nil
	})
	if permanent != nil {
		return permanent
	}
	return err
}
