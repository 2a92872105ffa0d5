package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/compdesk/survey-intake/internal/audit"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql. Query text is written
// with ? placeholders and rebound to $N for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

// rebind rewrites ? placeholders to $1..$N when the dialect needs it.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ensureSchema creates the tables if they don't exist. Statements run
// one at a time so a partial schema from an older version fills in.
func (s *sqlStore) ensureSchema(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == dialectPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "failed to create schema")
		}
	}
	return nil
}

const surveyColumns = "id, name, source, data_category, provider_type, year, survey_label, legacy_type, content_hash, headers, row_count, uploaded_at"

// Timestamps are stored as RFC 3339 text so SQLite and PostgreSQL read
// back the same value.
const timeLayout = time.RFC3339Nano

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSurvey(row rowScanner) (Survey, error) {
	var survey Survey
	var headers, uploaded string
	err := row.Scan(&survey.ID, &survey.Name, &survey.Source, &survey.DataCategory,
		&survey.ProviderType, &survey.Year, &survey.SurveyLabel, &survey.LegacyType,
		&survey.ContentHash, &headers, &survey.RowCount, &uploaded)
	if err != nil {
		return Survey{}, err
	}
	if headers != "" && headers != "[]" {
		if err := json.Unmarshal([]byte(headers), &survey.Headers); err != nil {
			return Survey{}, eris.Wrapf(err, "bad headers for survey %s", survey.ID)
		}
	}
	survey.UploadedAt, err = time.Parse(timeLayout, uploaded)
	if err != nil {
		return Survey{}, eris.Wrapf(err, "bad uploaded_at for survey %s", survey.ID)
	}
	return survey, nil
}

func encodeHeaders(headers []string) (string, error) {
	if len(headers) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return "", eris.Wrap(err, "failed to encode headers")
	}
	return string(encoded), nil
}

func (s *sqlStore) ListSurveys(ctx context.Context) ([]Survey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+surveyColumns+" FROM surveys ORDER BY uploaded_at, id")
	if err != nil {
		return nil, eris.Wrap(err, "failed to list surveys")
	}
	defer rows.Close()

	var surveys []Survey
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, eris.Wrap(err, "failed to scan survey")
		}
		surveys = append(surveys, survey)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to list surveys")
	}
	return surveys, nil
}

func (s *sqlStore) GetSurvey(ctx context.Context, id string) (Survey, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+surveyColumns+" FROM surveys WHERE id = ?"), id)
	survey, err := scanSurvey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Survey{}, false, nil
	}
	if err != nil {
		return Survey{}, false, eris.Wrapf(err, "failed to get survey %s", id)
	}
	return survey, true, nil
}

const upsertSurveySQL = `
INSERT INTO surveys (id, name, source, data_category, provider_type, year, survey_label, legacy_type, content_hash, headers, row_count, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	source = excluded.source,
	data_category = excluded.data_category,
	provider_type = excluded.provider_type,
	year = excluded.year,
	survey_label = excluded.survey_label,
	legacy_type = excluded.legacy_type,
	content_hash = excluded.content_hash,
	headers = excluded.headers,
	row_count = excluded.row_count,
	uploaded_at = excluded.uploaded_at`

func (s *sqlStore) SaveSurvey(ctx context.Context, survey Survey) error {
	headers, err := encodeHeaders(survey.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(upsertSurveySQL),
		survey.ID, survey.Name, survey.Source, survey.DataCategory, survey.ProviderType,
		survey.Year, survey.SurveyLabel, survey.LegacyType, survey.ContentHash,
		headers, survey.RowCount, survey.UploadedAt.UTC().Format(timeLayout))
	if err != nil {
		return eris.Wrapf(err, "failed to save survey %s", survey.ID)
	}
	return nil
}

func (s *sqlStore) DeleteSurvey(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "failed to begin delete")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM survey_rows WHERE survey_id = ?"), id); err != nil {
		return eris.Wrapf(err, "failed to delete rows for survey %s", id)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM surveys WHERE id = ?"), id); err != nil {
		return eris.Wrapf(err, "failed to delete survey %s", id)
	}
	return tx.Commit()
}

func (s *sqlStore) ReplaceSurvey(ctx context.Context, oldID string, survey Survey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "failed to begin replace")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM survey_rows WHERE survey_id = ?"), oldID); err != nil {
		return eris.Wrapf(err, "failed to delete rows for survey %s", oldID)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM surveys WHERE id = ?"), oldID); err != nil {
		return eris.Wrapf(err, "failed to delete survey %s", oldID)
	}
	headers, err := encodeHeaders(survey.Headers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(upsertSurveySQL),
		survey.ID, survey.Name, survey.Source, survey.DataCategory, survey.ProviderType,
		survey.Year, survey.SurveyLabel, survey.LegacyType, survey.ContentHash,
		headers, survey.RowCount, survey.UploadedAt.UTC().Format(timeLayout))
	if err != nil {
		return eris.Wrapf(err, "failed to save replacement survey %s", survey.ID)
	}
	return tx.Commit()
}

const upsertRowSQL = `
INSERT INTO survey_rows (survey_id, row_index, cells)
VALUES (?, ?, ?)
ON CONFLICT (survey_id, row_index) DO UPDATE SET cells = excluded.cells`

func (s *sqlStore) AppendRows(ctx context.Context, surveyID string, startIndex int, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "failed to begin row append")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertRowSQL))
	if err != nil {
		return eris.Wrap(err, "failed to prepare row insert")
	}
	defer stmt.Close()

	for i, cells := range rows {
		encoded, err := json.Marshal(cells)
		if err != nil {
			return eris.Wrapf(err, "failed to encode row %d", startIndex+i)
		}
		if _, err := stmt.ExecContext(ctx, surveyID, startIndex+i, string(encoded)); err != nil {
			return eris.Wrapf(err, "failed to write row %d of survey %s", startIndex+i, surveyID)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetRows(ctx context.Context, surveyID string) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT cells FROM survey_rows WHERE survey_id = ? ORDER BY row_index"), surveyID)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read rows for survey %s", surveyID)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, eris.Wrap(err, "failed to scan row")
		}
		var cells []string
		if err := json.Unmarshal([]byte(encoded), &cells); err != nil {
			return nil, eris.Wrapf(err, "failed to decode row for survey %s", surveyID)
		}
		out = append(out, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "failed to read rows for survey %s", surveyID)
	}
	return out, nil
}

func (s *sqlStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT value FROM kv_state WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to get value %s", key)
	}
	return value, nil
}

func (s *sqlStore) PutValue(ctx context.Context, key string, value []byte) error {
	query := `
INSERT INTO kv_state (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), key, value); err != nil {
		return eris.Wrapf(err, "failed to put value %s", key)
	}
	return nil
}

func (s *sqlStore) DeleteValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM kv_state WHERE key = ?"), key); err != nil {
		return eris.Wrapf(err, "failed to delete value %s", key)
	}
	return nil
}

func (s *sqlStore) RecordAudit(ctx context.Context, entry audit.Entry) error {
	query := `
INSERT INTO upload_audit (id, survey_id, upload_id, action, detail, actor, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		entry.ID, entry.SurveyID, entry.UploadID, string(entry.Action),
		entry.Detail, entry.Actor, entry.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return eris.Wrap(err, "failed to record audit entry")
	}
	return nil
}

func (s *sqlStore) ListAudit(ctx context.Context, surveyID string) ([]audit.Entry, error) {
	query := `
SELECT id, survey_id, upload_id, action, detail, actor, created_at
FROM upload_audit WHERE survey_id = ? ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), surveyID)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list audit for survey %s", surveyID)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var action, created string
		if err := rows.Scan(&entry.ID, &entry.SurveyID, &entry.UploadID, &action,
			&entry.Detail, &entry.Actor, &created); err != nil {
			return nil, eris.Wrap(err, "failed to scan audit entry")
		}
		entry.Action = audit.Action(action)
		entry.CreatedAt, err = time.Parse(timeLayout, created)
		if err != nil {
			return nil, eris.Wrapf(err, "bad created_at for audit entry %s", entry.ID)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "failed to list audit for survey %s", surveyID)
	}
	return entries, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
