package sqlite

import "database/sql"

// schemaStatements is the full persisted schema, in SQLite types. ims_issues
// carries the (user_id, ims_id) unique key the issue upsert relies on;
// embeddings and relations cascade from it on delete.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ims_issues (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		ims_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		raw_status TEXT,
		priority TEXT NOT NULL,
		raw_priority TEXT,
		category TEXT,
		product TEXT,
		version TEXT,
		module TEXT,
		customer TEXT,
		issued_date TEXT,
		reporter TEXT,
		assignee TEXT,
		project_key TEXT,
		issue_type TEXT,
		labels TEXT,
		comment_count INTEGER NOT NULL DEFAULT 0,
		attachment_count INTEGER NOT NULL DEFAULT 0,
		issue_details TEXT,
		action_log TEXT,
		related_ims_ids TEXT,
		custom_fields TEXT,
		source_url TEXT,
		crawled_at DATETIME NOT NULL,
		UNIQUE(user_id, ims_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ims_issues_user_crawled ON ims_issues(user_id, crawled_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ims_issues_user_ims_id ON ims_issues(user_id, ims_id)`,

	`CREATE TABLE IF NOT EXISTS ims_issue_embeddings (
		issue_id TEXT PRIMARY KEY REFERENCES ims_issues(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL,
		embedded_text TEXT,
		model TEXT,
		dimension INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ims_issue_relations (
		source_id TEXT NOT NULL REFERENCES ims_issues(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES ims_issues(id) ON DELETE CASCADE,
		relation_type TEXT NOT NULL,
		UNIQUE(source_id, target_id, relation_type)
	)`,

	`CREATE TABLE IF NOT EXISTS ims_crawl_jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		raw_query TEXT NOT NULL,
		parsed_query TEXT,
		intent_tag TEXT,
		status TEXT NOT NULL,
		current_step TEXT,
		progress_percentage INTEGER NOT NULL DEFAULT 0,
		issues_found INTEGER NOT NULL DEFAULT 0,
		issues_crawled INTEGER NOT NULL DEFAULT 0,
		attachments_processed INTEGER NOT NULL DEFAULT 0,
		related_crawled INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		config TEXT,
		result_issue_ids TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ims_crawl_jobs_user_query ON ims_crawl_jobs(user_id, raw_query, status, completed_at)`,

	`CREATE TABLE IF NOT EXISTS ims_user_credentials (
		user_id TEXT PRIMARY KEY,
		ims_base_url TEXT NOT NULL,
		encrypted_username BLOB,
		encrypted_password BLOB,
		validated INTEGER NOT NULL DEFAULT 0,
		last_validated_at DATETIME,
		validation_error TEXT
	)`,

	// FTS5 index over title/description, kept in sync by triggers. The
	// hybrid retrieval engine scores candidates in application code (bigram
	// expansion needs real tokenization, not SQLite's tokenizer set); this
	// index only narrows the "broad net" candidate fetch to matching rows
	// when the raw query has usable keyword terms, falling back to plain
	// recency ordering otherwise.
	`CREATE VIRTUAL TABLE IF NOT EXISTS ims_issues_fts USING fts5(
		id UNINDEXED, title, description, content='ims_issues', content_rowid='rowid'
	)`,
	`CREATE TRIGGER IF NOT EXISTS ims_issues_fts_ai AFTER INSERT ON ims_issues BEGIN
		INSERT INTO ims_issues_fts(rowid, id, title, description)
		VALUES (new.rowid, new.id, new.title, new.description);
	END`,
	`CREATE TRIGGER IF NOT EXISTS ims_issues_fts_ad AFTER DELETE ON ims_issues BEGIN
		INSERT INTO ims_issues_fts(ims_issues_fts, rowid, id, title, description)
		VALUES ('delete', old.rowid, old.id, old.title, old.description);
	END`,
	`CREATE TRIGGER IF NOT EXISTS ims_issues_fts_au AFTER UPDATE ON ims_issues BEGIN
		INSERT INTO ims_issues_fts(ims_issues_fts, rowid, id, title, description)
		VALUES ('delete', old.rowid, old.id, old.title, old.description);
		INSERT INTO ims_issues_fts(rowid, id, title, description)
		VALUES (new.rowid, new.id, new.title, new.description);
	END`,
}

// InitSchema runs every CREATE TABLE/INDEX/TRIGGER statement; all are
// idempotent (IF NOT EXISTS / IF NOT EXISTS triggers), safe to call on every
// startup.
func InitSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
