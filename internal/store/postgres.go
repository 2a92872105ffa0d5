package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"

	"github.com/compdesk/survey-intake/internal/config"
)

var postgresSchema = []string{
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
		value BYTEA NOT NULL
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

// OpenPostgres connects to PostgreSQL using the configured credentials.
func OpenPostgres(cfg config.StoreConfig) (Store, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, eris.Wrap(err, "failed to open postgres database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to ping postgres database")
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)

	store := &sqlStore{db: db, dialect: dialectPostgres}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
