// Package store provides the job cache of the runner. It keeps known jobs with their last/next run
// times and the result of the last run, plus an append-only history of every run, in a single
// SQLite file. The file and its schema are created on first open; existing files are opened as-is.
package store
