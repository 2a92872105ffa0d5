package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/compdesk/survey-intake/internal/audit"
	"github.com/compdesk/survey-intake/internal/normalize"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testSurvey(id string) Survey {
	return Survey{
		ID:           id,
		Name:         "MGMA Physician Compensation 2024",
		Source:       "MGMA",
		DataCategory: "COMPENSATION",
		ProviderType: "Physician",
		Year:         2024,
		SurveyLabel:  "National",
		ContentHash:  "abc123",
		Headers:      []string{"Specialty", "Provider Type", "Region", "Variable", "P25"},
		RowCount:     2,
		UploadedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSurveyRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	want := testSurvey("survey-1")
	if err := st.SaveSurvey(ctx, want); err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	got, found, err := st.GetSurvey(ctx, "survey-1")
	if err != nil {
		t.Fatalf("GetSurvey failed: %v", err)
	}
	if !found {
		t.Fatalf("Expected survey-1 to be found")
	}
	if !got.UploadedAt.Equal(want.UploadedAt) {
		t.Errorf("Expected uploaded_at %v, got=%v", want.UploadedAt, got.UploadedAt)
	}
	got.UploadedAt = want.UploadedAt
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected survey %+v, got=%+v", want, got)
	}

	_, found, err = st.GetSurvey(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetSurvey failed: %v", err)
	}
	if found {
		t.Errorf("Expected no-such-id to be absent")
	}
}

func TestSaveSurveyUpsert(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	survey := testSurvey("survey-1")
	if err := st.SaveSurvey(ctx, survey); err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	survey.RowCount = 500
	survey.ContentHash = "def456"
	if err := st.SaveSurvey(ctx, survey); err != nil {
		t.Fatalf("SaveSurvey update failed: %v", err)
	}

	surveys, err := st.ListSurveys(ctx)
	if err != nil {
		t.Fatalf("ListSurveys failed: %v", err)
	}
	if len(surveys) != 1 {
		t.Fatalf("Expected 1 survey after upsert, got=%d", len(surveys))
	}
	if surveys[0].RowCount != 500 || surveys[0].ContentHash != "def456" {
		t.Errorf("Expected updated row count and hash, got=%+v", surveys[0])
	}
}

func TestAppendRowsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.SaveSurvey(ctx, testSurvey("survey-1")); err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	batch1 := [][]string{
		{"Cardiology", "Physician", "National", "450000"},
		{"Radiology", "Physician", "National", "520000"},
	}
	if err := st.AppendRows(ctx, "survey-1", 0, batch1); err != nil {
		t.Fatalf("AppendRows failed: %v", err)
	}

	// Replaying the same batch, as a resumed upload does, must not
	// duplicate rows.
	if err := st.AppendRows(ctx, "survey-1", 0, batch1); err != nil {
		t.Fatalf("AppendRows replay failed: %v", err)
	}

	batch2 := [][]string{
		{"Dermatology", "Physician", "National", "480000"},
	}
	if err := st.AppendRows(ctx, "survey-1", 2, batch2); err != nil {
		t.Fatalf("AppendRows failed: %v", err)
	}

	rows, err := st.GetRows(ctx, "survey-1")
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got=%d", len(rows))
	}
	if rows[0][0] != "Cardiology" || rows[1][0] != "Radiology" || rows[2][0] != "Dermatology" {
		t.Errorf("Expected rows in index order, got=%v", rows)
	}
}

func TestReplaceSurvey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	old := testSurvey("survey-old")
	if err := st.SaveSurvey(ctx, old); err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}
	if err := st.AppendRows(ctx, "survey-old", 0, [][]string{{"a"}, {"b"}}); err != nil {
		t.Fatalf("AppendRows failed: %v", err)
	}

	replacement := testSurvey("survey-new")
	replacement.Year = 2025
	if err := st.ReplaceSurvey(ctx, "survey-old", replacement); err != nil {
		t.Fatalf("ReplaceSurvey failed: %v", err)
	}

	_, found, err := st.GetSurvey(ctx, "survey-old")
	if err != nil {
		t.Fatalf("GetSurvey failed: %v", err)
	}
	if found {
		t.Errorf("Expected survey-old to be gone after replace")
	}

	got, found, err := st.GetSurvey(ctx, "survey-new")
	if err != nil || !found {
		t.Fatalf("Expected survey-new after replace: found=%v err=%v", found, err)
	}
	if got.Year != 2025 {
		t.Errorf("Expected replacement year 2025, got=%d", got.Year)
	}

	rows, err := st.GetRows(ctx, "survey-old")
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected old rows to be deleted, got=%d", len(rows))
	}
}

func TestDeleteSurvey(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.SaveSurvey(ctx, testSurvey("survey-1")); err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}
	if err := st.AppendRows(ctx, "survey-1", 0, [][]string{{"a"}}); err != nil {
		t.Fatalf("AppendRows failed: %v", err)
	}

	if err := st.DeleteSurvey(ctx, "survey-1"); err != nil {
		t.Fatalf("DeleteSurvey failed: %v", err)
	}

	_, found, err := st.GetSurvey(ctx, "survey-1")
	if err != nil {
		t.Fatalf("GetSurvey failed: %v", err)
	}
	if found {
		t.Errorf("Expected survey-1 to be deleted")
	}

	// Deleting a missing survey is a no-op.
	if err := st.DeleteSurvey(ctx, "survey-1"); err != nil {
		t.Errorf("Expected repeat delete to succeed, got=%v", err)
	}
}

func TestKeyValue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	value, err := st.GetValue(ctx, "missing")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if value != nil {
		t.Errorf("Expected nil for missing key, got=%q", value)
	}

	if err := st.PutValue(ctx, "checkpoints", []byte(`[{"upload_id":"u1"}]`)); err != nil {
		t.Fatalf("PutValue failed: %v", err)
	}
	if err := st.PutValue(ctx, "checkpoints", []byte(`[]`)); err != nil {
		t.Fatalf("PutValue overwrite failed: %v", err)
	}

	value, err = st.GetValue(ctx, "checkpoints")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if string(value) != `[]` {
		t.Errorf("Expected overwritten value, got=%q", value)
	}

	if err := st.DeleteValue(ctx, "checkpoints"); err != nil {
		t.Fatalf("DeleteValue failed: %v", err)
	}
	value, err = st.GetValue(ctx, "checkpoints")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if value != nil {
		t.Errorf("Expected nil after delete, got=%q", value)
	}
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	entries := []audit.Entry{
		{ID: "e1", SurveyID: "survey-1", Action: audit.ActionUploaded, CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "e2", SurveyID: "survey-1", Action: audit.ActionReplaced, CreatedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)},
		{ID: "e3", SurveyID: "survey-2", Action: audit.ActionDeleted, CreatedAt: time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)},
	}
	for _, entry := range entries {
		if err := st.RecordAudit(ctx, entry); err != nil {
			t.Fatalf("RecordAudit failed: %v", err)
		}
	}

	got, err := st.ListAudit(ctx, "survey-1")
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries for survey-1, got=%d", len(got))
	}
	if got[0].ID != "e2" || got[1].ID != "e1" {
		t.Errorf("Expected newest entry first, got=%s then %s", got[0].ID, got[1].ID)
	}
	if got[0].Action != audit.ActionReplaced {
		t.Errorf("Expected action=replaced, got=%s", got[0].Action)
	}
}

func TestSurveyRecordShape(t *testing.T) {
	legacy := Survey{
		LegacyType:   "MGMA Physician Compensation",
		ProviderType: "Physician",
		Year:         2020,
	}
	meta := normalize.CanonicalMetadata(legacy.Record())
	if meta.Source != "MGMA" {
		t.Errorf("Expected legacy source derived as MGMA, got=%q", meta.Source)
	}
	if meta.DataCategory != normalize.CategoryCompensation {
		t.Errorf("Expected legacy category COMPENSATION, got=%q", meta.DataCategory)
	}

	modern := testSurvey("survey-1")
	meta = normalize.CanonicalMetadata(modern.Record())
	if meta.Source != "MGMA" || meta.DataCategory != "COMPENSATION" {
		t.Errorf("Expected canonical modern metadata, got=%+v", meta)
	}
}
