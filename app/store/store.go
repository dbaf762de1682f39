package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

const schema = `
	CREATE TABLE jobs (
		hash TEXT NOT NULL UNIQUE PRIMARY KEY,
		description TEXT NOT NULL,
		last_run REAL,
		next_run REAL,
		last_run_result INTEGER
	);
	CREATE TABLE history (
		hash TEXT,
		description TEXT,
		time REAL,
		result INTEGER,
		FOREIGN KEY (hash) REFERENCES jobs(hash)
	);
	CREATE INDEX idx_history_hash ON history(hash);`

// Options tune the connection to the backing file
type Options struct {
	BusyTimeout   time.Duration // how long to wait for a lock held by another process, 0 fails immediately
	NoForeignKeys bool          // don't enforce history->jobs reference
}

// JobStore keeps jobs and their run history in a sqlite file.
// All calls go through a single connection, each mutation is committed before return.
type JobStore struct {
	db   *sqlx.DB
	path string
}

// Open makes JobStore for the file at path. Missing file is created together with the schema,
// existing file is opened as-is. All errors are ErrUnavailable.
func Open(ctx context.Context, path string, opts Options) (*JobStore, error) {
	fi, err := os.Stat(path)
	switch {
	case err == nil && fi.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnavailable, path)
	case errors.Is(err, os.ErrNotExist) || (err == nil && fi.Size() == 0):
		if err = create(ctx, path); err != nil {
			return nil, fmt.Errorf("%w: can't create %s: %w", ErrUnavailable, path, err)
		}
		log.Printf("[DEBUG] created job store %s", path)
	case err != nil:
		return nil, fmt.Errorf("%w: can't access %s: %w", ErrUnavailable, path, err)
	}

	db, err := sqlx.Open("sqlite", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("%w: can't open %s: %w", ErrUnavailable, path, err)
	}
	db.SetMaxOpenConns(1)

	// reading sqlite_master makes sure the file is an actual database
	var tables int
	if err := db.GetContext(ctx, &tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table'"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w: can't read %s: %w (also failed to close db: %v)", ErrUnavailable, path, err, closeErr)
		}
		return nil, fmt.Errorf("%w: can't read %s: %w", ErrUnavailable, path, err)
	}
	log.Printf("[DEBUG] opened job store %s, %d tables", path, tables)
	return &JobStore{db: db, path: path}, nil
}

// dsn makes connection string with pragmas applied by the driver to each new connection
func dsn(path string, opts Options) string {
	fk := 1
	if opts.NoForeignKeys {
		fk = 0
	}
	return fmt.Sprintf("%s?_pragma=foreign_keys(%d)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_txlock=immediate",
		path, fk, opts.BusyTimeout.Milliseconds())
}

// create builds the schema in a temp file next to path and renames it in place,
// so path never points to a partially initialized database
func create(ctx context.Context, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to make temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = initSchema(ctx, tmpName); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move %s to %s: %w", tmpName, path, err)
	}
	return nil
}

func initSchema(ctx context.Context, fname string) (err error) {
	db, err := sqlx.Open("sqlite", fname)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close database: %w", closeErr)
		}
	}()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// Path returns location of the backing file
func (s *JobStore) Path() string { return s.path }

// Exists checks if job with given id is known
func (s *JobStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM jobs WHERE hash = ?", id); err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", id, classify(err, nil))
	}
	return count > 0, nil
}

// Get returns job by id, ErrNotFound if there is no such job
func (s *JobStore) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.db.GetContext(ctx, &job,
		"SELECT hash, description, last_run, next_run, last_run_result FROM jobs WHERE hash = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("failed to get job %s: %w", id, classify(err, nil))
	}
	return job, nil
}

// Jobs returns all known jobs in the order they were added
func (s *JobStore) Jobs(ctx context.Context) ([]Job, error) {
	jobs := []Job{}
	err := s.db.SelectContext(ctx, &jobs,
		"SELECT hash, description, last_run, next_run, last_run_result FROM jobs ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", classify(err, nil))
	}
	return jobs, nil
}

// Insert adds new job. Fails with ErrDuplicateKey if job with the same id already exists,
// the existing record is not changed in this case.
func (s *JobStore) Insert(ctx context.Context, job Job) error {
	return s.inTx(ctx, "insert job "+job.ID, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO jobs (hash, description, last_run, next_run, last_run_result) VALUES (?, ?, ?, ?, ?)",
			job.ID, job.Description, nullable(job.LastRun), nullable(job.NextRun), nullable(job.LastRunResult))
		return err
	})
}

// UpdateRunInfo sets last run, next run and last result of existing job. Description is not changed.
// Fails with ErrNotFound if there is no job with job.ID.
func (s *JobStore) UpdateRunInfo(ctx context.Context, job Job) error {
	return s.inTx(ctx, "update job "+job.ID, func(tx *sqlx.Tx) error {
		return updateRunInfo(ctx, tx, job)
	})
}

// AppendHistory adds a history record. Identical records are allowed.
// With foreign keys enforced, the entry must refer to an existing job, otherwise ErrNotFound.
func (s *JobStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	return s.inTx(ctx, "append history for "+entry.ID, func(tx *sqlx.Tx) error {
		return appendHistory(ctx, tx, entry)
	})
}

// RecordRun updates run info of the job and appends history entry in one transaction.
// Either both changes are saved or none.
func (s *JobStore) RecordRun(ctx context.Context, job Job, entry HistoryEntry) error {
	return s.inTx(ctx, "record run of "+job.ID, func(tx *sqlx.Tx) error {
		if err := updateRunInfo(ctx, tx, job); err != nil {
			return err
		}
		return appendHistory(ctx, tx, entry)
	})
}

// History returns all history entries of the job, oldest first
func (s *JobStore) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	res := []HistoryEntry{}
	err := s.db.SelectContext(ctx, &res, `
		SELECT hash, COALESCE(description, '') AS description, COALESCE(time, 0) AS time, COALESCE(result, 0) AS result
		FROM history WHERE hash = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", id, classify(err, nil))
	}
	return res, nil
}

// Close closes the database connection
func (s *JobStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return nil
}

// inTx runs fn in a transaction and commits it. Errors are mapped to store errors, with ErrWriteFailure
// for anything without a dedicated kind.
func (s *JobStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s, failed to begin transaction: %w", op, wrapKind(err))
	}
	defer tx.Rollback()

	if err = fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, wrapKind(err))
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s, failed to commit: %w", op, wrapKind(err))
	}
	return nil
}

// wrapKind attaches store error kind to err unless it is already one of them
func wrapKind(err error) error {
	for _, e := range []error{ErrNotFound, ErrDuplicateKey, ErrLocked, ErrUnavailable, ErrWriteFailure} {
		if errors.Is(err, e) {
			return err
		}
	}
	return classify(err, ErrWriteFailure)
}

func updateRunInfo(ctx context.Context, tx *sqlx.Tx, job Job) error {
	res, err := tx.ExecContext(ctx, "UPDATE jobs SET last_run = ?, next_run = ?, last_run_result = ? WHERE hash = ?",
		nullable(job.LastRun), nullable(job.NextRun), nullable(job.LastRunResult), job.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

func appendHistory(ctx context.Context, tx *sqlx.Tx, entry HistoryEntry) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO history (hash, description, time, result) VALUES (?, ?, ?, ?)",
		entry.ID, entry.Description, entry.Time, entry.Result)
	return err
}

// nullable converts optional value to query argument, nil becomes NULL
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
