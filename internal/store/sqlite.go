package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS surveys (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		source        TEXT NOT NULL DEFAULT '',
		data_category TEXT NOT NULL DEFAULT '',
		provider_type TEXT NOT NULL DEFAULT '',
		year          INTEGER NOT NULL DEFAULT 0,
		survey_label  TEXT NOT NULL DEFAULT '',
		legacy_type   TEXT NOT NULL DEFAULT '',
		content_hash  TEXT NOT NULL DEFAULT '',
		headers       TEXT NOT NULL DEFAULT '[]',
		row_count     INTEGER NOT NULL DEFAULT 0,
		uploaded_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS survey_rows (
		survey_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		cells     TEXT NOT NULL,
		PRIMARY KEY (survey_id, row_index)
	)`,
	`CREATE TABLE IF NOT EXISTS kv_state (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS upload_audit (
		id         TEXT PRIMARY KEY,
		survey_id  TEXT NOT NULL DEFAULT '',
		upload_id  TEXT NOT NULL DEFAULT '',
		action     TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		actor      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_upload_audit_survey ON upload_audit (survey_id)`,
}

// OpenSQLite opens (creating if needed) an embedded SQLite database.
func OpenSQLite(path string) (Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open sqlite database %s", path)
	}

	// SQLite allows one writer at a time. A single pooled connection keeps
	// concurrent upload batches from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "failed to open sqlite database %s", path)
	}

	store := &sqlStore{db: db, dialect: dialectSQLite}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
