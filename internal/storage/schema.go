// Package storage provides extraction job persistence using SQLite.
package storage

// Schema definitions for the job status database
const (
	// SchemaV1 is the initial database schema. Jobs are keyed by
	// (document_id, mode) so submissions for different output modes never
	// clobber each other's records.
	SchemaV1 = `
CREATE TABLE IF NOT EXISTS extract_jobs (
	document_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	progress_percent INTEGER NOT NULL DEFAULT 0,
	page_count INTEGER NOT NULL DEFAULT 0,
	text_length INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	job_token TEXT NOT NULL DEFAULT '',
	source_reference TEXT NOT NULL DEFAULT '',
	result_location TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	PRIMARY KEY (document_id, mode)
);

CREATE INDEX IF NOT EXISTS idx_extract_jobs_status ON extract_jobs(status);
CREATE INDEX IF NOT EXISTS idx_extract_jobs_updated_at ON extract_jobs(updated_at);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`
)

// Migrations represents all available migrations
var Migrations = []struct {
	Version int
	SQL     string
}{
	{
		Version: 1,
		SQL:     SchemaV1,
	},
}
