package upload

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/compdesk/survey-intake/internal/audit"
	"github.com/compdesk/survey-intake/internal/checkpoint"
	"github.com/compdesk/survey-intake/internal/fileparse"
	"github.com/compdesk/survey-intake/internal/matcher"
	"github.com/compdesk/survey-intake/internal/normalize"
	"github.com/compdesk/survey-intake/internal/store"
)

const sampleCSV = `Specialty,Provider Type,Region,Variable,P25,P50,P90
Cardiology,Physician,National,TCC,380000,450000,610000
Radiology,Physician,National,TCC,420000,520000,700000
Dermatology,Physician,National,TCC,390000,480000,650000
Family Medicine,Physician,National,TCC,230000,270000,340000
Anesthesiology,Physician,National,TCC,400000,470000,600000
`

// memStore is an in-memory Store for orchestration tests. Setting
// failAppendAfter makes AppendRows fail once that many calls have
// succeeded, simulating a mid-upload outage.
type memStore struct {
	surveys         map[string]store.Survey
	rows            map[string]map[int][]string
	kv              map[string][]byte
	audits          []audit.Entry
	appendCalls     int
	failAppendAfter int
}

func newMemStore() *memStore {
	return &memStore{
		surveys: make(map[string]store.Survey),
		rows:    make(map[string]map[int][]string),
		kv:      make(map[string][]byte),
	}
}

func (m *memStore) ListSurveys(ctx context.Context) ([]store.Survey, error) {
	out := make([]store.Survey, 0, len(m.surveys))
	for _, s := range m.surveys {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSurvey(ctx context.Context, id string) (store.Survey, bool, error) {
	s, ok := m.surveys[id]
	return s, ok, nil
}

func (m *memStore) SaveSurvey(ctx context.Context, survey store.Survey) error {
	m.surveys[survey.ID] = survey
	return nil
}

func (m *memStore) DeleteSurvey(ctx context.Context, id string) error {
	delete(m.surveys, id)
	delete(m.rows, id)
	return nil
}

func (m *memStore) ReplaceSurvey(ctx context.Context, oldID string, survey store.Survey) error {
	delete(m.surveys, oldID)
	delete(m.rows, oldID)
	m.surveys[survey.ID] = survey
	return nil
}

func (m *memStore) AppendRows(ctx context.Context, surveyID string, startIndex int, rows [][]string) error {
	m.appendCalls++
	if m.failAppendAfter > 0 && m.appendCalls > m.failAppendAfter {
		return errors.New("append rejected")
	}
	byIndex := m.rows[surveyID]
	if byIndex == nil {
		byIndex = make(map[int][]string)
		m.rows[surveyID] = byIndex
	}
	for i, row := range rows {
		byIndex[startIndex+i] = row
	}
	return nil
}

func (m *memStore) GetRows(ctx context.Context, surveyID string) ([][]string, error) {
	byIndex := m.rows[surveyID]
	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([][]string, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, byIndex[i])
	}
	return out, nil
}

func (m *memStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	return m.kv[key], nil
}

func (m *memStore) PutValue(ctx context.Context, key string, value []byte) error {
	m.kv[key] = value
	return nil
}

func (m *memStore) DeleteValue(ctx context.Context, key string) error {
	delete(m.kv, key)
	return nil
}

func (m *memStore) RecordAudit(ctx context.Context, entry audit.Entry) error {
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) ListAudit(ctx context.Context, surveyID string) ([]audit.Entry, error) {
	if surveyID == "" {
		return m.audits, nil
	}
	var out []audit.Entry
	for _, e := range m.audits {
		if e.SurveyID == surveyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) actions() []audit.Action {
	out := make([]audit.Action, 0, len(m.audits))
	for _, e := range m.audits {
		out = append(out, e.Action)
	}
	return out
}

func hasAction(actions []audit.Action, want audit.Action) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func newTestService(st *memStore, batchSize int) *Service {
	return NewService(Options{
		Store:       st,
		Matcher:     matcher.NewService(st, matcher.Options{}),
		Checkpoints: checkpoint.New(st),
		Audit:       audit.NewTracker(st, nil),
		BatchSize:   batchSize,
	})
}

func sampleMetadata() normalize.Metadata {
	return normalize.Metadata{
		Source:       "MGMA",
		DataCategory: "COMPENSATION",
		ProviderType: "Physician",
		Year:         2024,
	}
}

func TestProcessUpload(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, 2)
	ctx := context.Background()

	outcome, err := svc.Process(ctx, Request{
		FileName:  "mgma_2024.csv",
		FileBytes: []byte(sampleCSV),
		Metadata:  sampleMetadata(),
		Actor:     "analyst",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if outcome.Status != StatusCompleted {
		t.Fatalf("Expected status %s, got=%s", StatusCompleted, outcome.Status)
	}
	if outcome.SurveyID == "" {
		t.Error("Expected a survey id on the outcome")
	}
	if outcome.UploadID == "" {
		t.Error("Expected an upload id on the outcome")
	}
	if outcome.RowCount != 5 {
		t.Errorf("Expected row count 5, got=%d", outcome.RowCount)
	}

	survey, found, _ := st.GetSurvey(ctx, outcome.SurveyID)
	if !found {
		t.Fatal("Expected the survey to be stored")
	}
	if survey.RowCount != 5 {
		t.Errorf("Expected stored row count 5, got=%d", survey.RowCount)
	}
	if survey.ContentHash != matcher.HashBytes([]byte(sampleCSV)) {
		t.Errorf("Expected stored content hash of the file bytes, got=%s", survey.ContentHash)
	}
	if len(survey.Headers) != 7 || survey.Headers[0] != "Specialty" {
		t.Errorf("Expected stored headers from the file, got=%v", survey.Headers)
	}

	rows, _ := st.GetRows(ctx, outcome.SurveyID)
	if len(rows) != 5 {
		t.Fatalf("Expected 5 stored rows, got=%d", len(rows))
	}
	if rows[0][0] != "Cardiology" || rows[4][0] != "Anesthesiology" {
		t.Errorf("Expected rows stored in file order, got first=%s last=%s", rows[0][0], rows[4][0])
	}

	cps := checkpoint.New(st)
	cp, found, _ := cps.Get(ctx, outcome.UploadID)
	if !found {
		t.Fatal("Expected a checkpoint for the upload")
	}
	if cp.State != checkpoint.StateCompleted {
		t.Errorf("Expected checkpoint state %s, got=%s", checkpoint.StateCompleted, cp.State)
	}
	if cp.RowsProcessed != 5 {
		t.Errorf("Expected 5 rows processed, got=%d", cp.RowsProcessed)
	}
	if cp.BatchesCompleted != 3 {
		t.Errorf("Expected 3 batches with batch size 2, got=%d", cp.BatchesCompleted)
	}

	if !hasAction(st.actions(), audit.ActionUploaded) {
		t.Errorf("Expected an uploaded audit entry, got=%v", st.actions())
	}
}

func TestProcessPreParsedTable(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, 100)

	table, err := fileparse.ParseCSV([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV returned error: %v", err)
	}

	outcome, err := svc.Process(context.Background(), Request{
		FileName: "pasted table",
		Table:    &table,
		Metadata: sampleMetadata(),
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("Expected status %s, got=%s", StatusCompleted, outcome.Status)
	}

	survey := st.surveys[outcome.SurveyID]
	if survey.ContentHash != "" {
		t.Errorf("Expected no content hash without file bytes, got=%s", survey.ContentHash)
	}
}

func TestProcessRejectsInvalidTable(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, 2)

	// Region column missing, so structural validation must block it.
	csv := "Specialty,Provider Type,Variable,P25\nCardiology,Physician,TCC,380000\n"
	outcome, err := svc.Process(context.Background(), Request{
		FileName:  "broken.csv",
		FileBytes: []byte(csv),
		Metadata:  sampleMetadata(),
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if outcome.Status != StatusRejected {
		t.Fatalf("Expected status %s, got=%s", StatusRejected, outcome.Status)
	}
	if outcome.Validation == nil || outcome.Validation.ErrorCount() == 0 {
		t.Error("Expected critical validation issues on the outcome")
	}
	if len(outcome.Grouped) == 0 {
		t.Error("Expected grouped issues on the outcome")
	}
	if outcome.SurveyID != "" || outcome.UploadID != "" {
		t.Errorf("Expected no ids on a rejected outcome, got survey=%s upload=%s", outcome.SurveyID, outcome.UploadID)
	}
	if len(st.surveys) != 0 {
		t.Errorf("Expected no stored surveys, got=%d", len(st.surveys))
	}
	if cps, _ := checkpoint.New(st).List(context.Background()); len(cps) != 0 {
		t.Errorf("Expected no checkpoints, got=%d", len(cps))
	}
	if !hasAction(st.actions(), audit.ActionRejected) {
		t.Errorf("Expected a rejected audit entry, got=%v", st.actions())
	}
}

func TestProcessBlocksExactDuplicate(t *testing.T) {
	st := newMemStore()
	st.surveys["existing"] = store.Survey{
		ID:           "existing",
		Name:         "MGMA 2024",
		Source:       "MGMA",
		DataCategory: "COMPENSATION",
		ProviderType: "Physician",
		Year:         2024,
	}
	svc := newTestService(st, 2)

	outcome, err := svc.Process(context.Background(), Request{
		FileName:  "mgma_2024.csv",
		FileBytes: []byte(sampleCSV),
		Metadata:  sampleMetadata(),
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if outcome.Status != StatusBlocked {
		t.Fatalf("Expected status %s, got=%s", StatusBlocked, outcome.Status)
	}
	if outcome.Duplicates == nil || outcome.Duplicates.MatchType != matcher.MatchExact {
		t.Fatalf("Expected an exact duplicate on the outcome, got=%+v", outcome.Duplicates)
	}
	if outcome.Duplicates.ExactMatch == nil || outcome.Duplicates.ExactMatch.ID != "existing" {
		t.Errorf("Expected the existing survey as the match, got=%+v", outcome.Duplicates.ExactMatch)
	}
	if len(st.surveys) != 1 {
		t.Errorf("Expected the corpus unchanged, got=%d surveys", len(st.surveys))
	}
	if !hasAction(st.actions(), audit.ActionBlockedDuplicate) {
		t.Errorf("Expected a blocked_duplicate audit entry, got=%v", st.actions())
	}
}

func TestProcessBlocksContentDuplicate(t *testing.T) {
	st := newMemStore()
	st.surveys["existing"] = store.Survey{
		ID:           "existing",
		Name:         "SullivanCotter 2023",
		Source:       "SullivanCotter",
		DataCategory: "COMPENSATION",
		ProviderType: "Physician",
		Year:         2023,
		ContentHash:  matcher.HashBytes([]byte(sampleCSV)),
	}
	svc := newTestService(st, 2)

	outcome, err := svc.Process(context.Background(), Request{
		FileName:  "mgma_2024.csv",
		FileBytes: []byte(sampleCSV),
		Metadata:  sampleMetadata(),
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if outcome.Status != StatusBlocked {
		t.Fatalf("Expected status %s, got=%s", StatusBlocked, outcome.Status)
	}
	if outcome.Duplicates.MatchType != matcher.MatchContent {
		t.Errorf("Expected match type %s, got=%s", matcher.MatchContent, outcome.Duplicates.MatchType)
	}
}

func TestProcessForceKeepsBoth(t *testing.T) {
	st := newMemStore()
	st.surveys["existing"] = store.Survey{
		ID:           "existing",
		Source:       "MGMA",
		DataCategory: "COMPENSATION",
		ProviderType: "Physician",
		Year:         2024,
	}
	svc := newTestService(st, 2)

	outcome, err := svc.Process(context.Background(), Request{
		FileName:  "mgma_2024.csv",
		FileBytes: []byte(sampleCSV),
		Metadata:  sampleMetadata(),
		Force:     true,
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if outcome.Status != StatusCompleted {
		t.Fatalf("Expected status %s, got=%s", StatusCompleted, outcome.Status)
	}
	if len(st.surveys) != 2 {
		t.Errorf("Expected both surveys kept, got=%d", len(st.surveys))
	}
	if !hasAction(st.actions(), audit.ActionKeptBoth) {
		t.Errorf("Expected a kept_both audit entry, got=%v", st.actions())
	}
}

func TestProcessUnsupportedFile(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, 2)

	_, err := svc.Process(context.Background(), Request{
		FileName:  "report.pdf",
		FileBytes: []byte("%PDF-1.4"),
		Metadata:  sampleMetadata(),
	})
	if err == nil {
		t.Fatal("Expected an error for an unsupported file type")
	}
	if len(st.surveys) != 0 {
		t.Errorf("Expected no stored surveys, got=%d", len(st.surveys))
	}
}

func TestResumeAfterBatchFailure(t *testing.T) {
	st := newMemStore()
	st.failAppendAfter = 1
	svc := newTestService(st, 2)
	ctx := context.Background()

	_, err := svc.Process(ctx, Request{
		FileName:  "mgma_2024.csv",
		FileBytes: []byte(sampleCSV),
		Metadata:  sampleMetadata(),
	})
	if err == nil {
		t.Fatal("Expected the second batch to fail")
	}
	if !strings.Contains(err.Error(), "batch 1") {
		t.Errorf("Expected the failing batch in the error, got=%v", err)
	}

	cps := checkpoint.New(st)
	resumable, err := cps.Resumable(ctx)
	if err != nil {
		t.Fatalf("Resumable returned error: %v", err)
	}
	if len(resumable) != 1 {
		t.Fatalf("Expected 1 resumable checkpoint, got=%d", len(resumable))
	}
	cp := resumable[0]
	if cp.State != checkpoint.StateFailed {
		t.Errorf("Expected checkpoint state %s, got=%s", checkpoint.StateFailed, cp.State)
	}
	if cp.RowsProcessed != 2 {
		t.Errorf("Expected 2 rows processed before the failure, got=%d", cp.RowsProcessed)
	}
	if cp.Error == nil || !cp.Error.Recoverable {
		t.Fatalf("Expected a recoverable failure, got=%+v", cp.Error)
	}

	// Outage over; resume from the checkpoint.
	st.failAppendAfter = 0
	table, err := fileparse.ParseCSV([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV returned error: %v", err)
	}
	outcome, err := svc.Resume(ctx, cp.UploadID, table)
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("Expected status %s, got=%s", StatusCompleted, outcome.Status)
	}

	rows, _ := st.GetRows(ctx, cp.Metadata.SurveyID)
	if len(rows) != 5 {
		t.Fatalf("Expected all 5 rows after resume, got=%d", len(rows))
	}
	if rows[2][0] != "Dermatology" {
		t.Errorf("Expected resume to continue at row 2, got=%s", rows[2][0])
	}

	final, _, _ := cps.Get(ctx, cp.UploadID)
	if final.State != checkpoint.StateCompleted {
		t.Errorf("Expected checkpoint state %s, got=%s", checkpoint.StateCompleted, final.State)
	}
	if !hasAction(st.actions(), audit.ActionResumed) {
		t.Errorf("Expected a resumed audit entry, got=%v", st.actions())
	}
}

func TestResumeRejections(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, 2)
	ctx := context.Background()

	table, err := fileparse.ParseCSV([]byte(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV returned error: %v", err)
	}

	t.Run("unknown upload id", func(t *testing.T) {
		_, err := svc.Resume(ctx, "missing", table)
		if !errors.Is(err, ErrCheckpointNotFound) {
			t.Errorf("Expected ErrCheckpointNotFound, got=%v", err)
		}
	})

	t.Run("completed upload", func(t *testing.T) {
		outcome, err := svc.Process(ctx, Request{
			FileName:  "mgma_2024.csv",
			FileBytes: []byte(sampleCSV),
			Metadata:  sampleMetadata(),
		})
		if err != nil {
			t.Fatalf("Process returned error: %v", err)
		}
		if _, err := svc.Resume(ctx, outcome.UploadID, table); !errors.Is(err, ErrNotResumable) {
			t.Errorf("Expected ErrNotResumable, got=%v", err)
		}
	})

	t.Run("row count mismatch", func(t *testing.T) {
		failing := newMemStore()
		failing.failAppendAfter = 1
		fsvc := newTestService(failing, 2)
		if _, err := fsvc.Process(ctx, Request{
			FileName:  "mgma_2024.csv",
			FileBytes: []byte(sampleCSV),
			Metadata:  sampleMetadata(),
		}); err == nil {
			t.Fatal("Expected the upload to fail")
		}
		resumable, _ := checkpoint.New(failing).Resumable(ctx)
		if len(resumable) != 1 {
			t.Fatalf("Expected 1 resumable checkpoint, got=%d", len(resumable))
		}
		short := fileparse.Table{Headers: table.Headers, Rows: table.Rows[:3]}
		failing.failAppendAfter = 0
		if _, err := fsvc.Resume(ctx, resumable[0].UploadID, short); !errors.Is(err, ErrTableMismatch) {
			t.Errorf("Expected ErrTableMismatch, got=%v", err)
		}
	})
}

func TestProcessReplacesSurvey(t *testing.T) {
	st := newMemStore()
	st.surveys["s-old"] = store.Survey{
		ID:           "s-old",
		Name:         "MGMA 2024 v1",
		Source:       "MGMA",
		DataCategory: "COMPENSATION",
		ProviderType: "Physician",
		Year:         2024,
	}
	st.rows["s-old"] = map[int][]string{0: {"stale", "row"}}
	svc := newTestService(st, 2)
	ctx := context.Background()

	outcome, err := svc.Process(ctx, Request{
		FileName:  "mgma_2024_v2.csv",
		FileBytes: []byte(sampleCSV),
		Metadata:  sampleMetadata(),
		ReplaceID: "s-old",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if outcome.Status != StatusCompleted {
		t.Fatalf("Expected status %s, got=%s", StatusCompleted, outcome.Status)
	}
	if outcome.SurveyID != "s-old" {
		t.Errorf("Expected the replacement to keep id s-old, got=%s", outcome.SurveyID)
	}
	if len(st.surveys) != 1 {
		t.Errorf("Expected exactly one survey after replace, got=%d", len(st.surveys))
	}
	if st.surveys["s-old"].Name != "mgma_2024_v2.csv" {
		t.Errorf("Expected the replacement record, got name=%s", st.surveys["s-old"].Name)
	}

	rows, _ := st.GetRows(ctx, "s-old")
	if len(rows) != 5 || rows[0][0] != "Cardiology" {
		t.Errorf("Expected replaced rows, got %d rows", len(rows))
	}
	if !hasAction(st.actions(), audit.ActionReplaced) {
		t.Errorf("Expected a replaced audit entry, got=%v", st.actions())
	}
}

func TestDeleteSurvey(t *testing.T) {
	st := newMemStore()
	st.surveys["s1"] = store.Survey{ID: "s1", Source: "MGMA", Year: 2024}
	svc := newTestService(st, 2)
	ctx := context.Background()

	if err := svc.Delete(ctx, "s1", "admin"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(st.surveys) != 0 {
		t.Errorf("Expected the survey removed, got=%d surveys", len(st.surveys))
	}
	if !hasAction(st.actions(), audit.ActionDeleted) {
		t.Errorf("Expected a deleted audit entry, got=%v", st.actions())
	}

	if err := svc.Delete(ctx, "missing", "admin"); !errors.Is(err, ErrSurveyNotFound) {
		t.Errorf("Expected ErrSurveyNotFound, got=%v", err)
	}
}
