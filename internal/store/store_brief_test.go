package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/skovale/briefgen/internal/research"
)

func TestSaveBrief(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	created := time.Now()
	b := research.Brief{
		BriefID: "3f2b8c1e-8a6d-4f1b-9c2e-2f4a5b6c7d8e",
		Topic:   "AI in Education",
		Status:  research.StatusProcessing,
		Request: research.ResearchRequest{
			Topic:  "AI in Education",
			Depth:  2,
			UserID: "12345",
		},
		CreatedAt: created,
	}

	query := regexp.QuoteMeta(`
INSERT INTO briefs (brief_id, user_id, topic, status, request, result, error, created_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (brief_id) DO UPDATE SET
    status       = EXCLUDED.status,
    result       = EXCLUDED.result,
    error        = EXCLUDED.error,
    completed_at = EXCLUDED.completed_at
`)
	mock.ExpectExec(query).
		WithArgs(b.BriefID, "12345", b.Topic, string(b.Status), sqlmock.AnyArg(), nil, nil, created, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveBrief(context.Background(), b); err != nil {
		t.Fatalf("SaveBrief: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetBrief(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	reqJSON, _ := json.Marshal(research.ResearchRequest{Topic: "AI in Education", Depth: 2, UserID: "12345"})
	resJSON, _ := json.Marshal(research.BriefResult{
		ExecutiveSummary: "summary",
		KeyFindings:      []string{"finding"},
	})
	now := time.Now()
	done := now.Add(time.Minute)

	query := regexp.QuoteMeta(`
SELECT brief_id, topic, status, request, result, error, created_at, completed_at
FROM briefs WHERE brief_id=$1`)
	mock.ExpectQuery(query).
		WithArgs("brief-1").
		WillReturnRows(sqlmock.NewRows([]string{"brief_id", "topic", "status", "request", "result", "error", "created_at", "completed_at"}).
			AddRow("brief-1", "AI in Education", "completed", reqJSON, resJSON, nil, now, done))

	b, ok, err := st.GetBrief(context.Background(), "brief-1")
	if err != nil {
		t.Fatalf("GetBrief: %v", err)
	}
	if !ok {
		t.Fatalf("expected brief")
	}
	if b.Status != research.StatusCompleted {
		t.Fatalf("unexpected status: %s", b.Status)
	}
	if b.Request.UserID != "12345" || b.Request.Depth != 2 {
		t.Fatalf("unexpected request: %+v", b.Request)
	}
	if b.Result == nil || b.Result.ExecutiveSummary != "summary" {
		t.Fatalf("unexpected result: %+v", b.Result)
	}
	if b.CompletedAt == nil || !b.CompletedAt.Equal(done) {
		t.Fatalf("unexpected completed_at: %v", b.CompletedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetBriefMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
SELECT brief_id, topic, status, request, result, error, created_at, completed_at
FROM briefs WHERE brief_id=$1`)
	mock.ExpectQuery(query).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"brief_id", "topic", "status", "request", "result", "error", "created_at", "completed_at"}))

	_, ok, err := st.GetBrief(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetBrief: %v", err)
	}
	if ok {
		t.Fatalf("expected no brief")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListBriefs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	reqJSON, _ := json.Marshal(research.ResearchRequest{Topic: "quantum computing", Depth: 1, UserID: "u1"})
	now := time.Now()
	failure := "search provider unavailable"

	query := regexp.QuoteMeta(`
SELECT brief_id, topic, status, request, result, error, created_at, completed_at
FROM briefs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`)
	mock.ExpectQuery(query).
		WithArgs("u1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"brief_id", "topic", "status", "request", "result", "error", "created_at", "completed_at"}).
			AddRow("b2", "quantum computing", "failed", reqJSON, nil, failure, now, now).
			AddRow("b1", "quantum computing", "processing", reqJSON, nil, nil, now.Add(-time.Hour), nil))

	briefs, err := st.ListBriefs(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListBriefs: %v", err)
	}
	if len(briefs) != 2 {
		t.Fatalf("expected 2 briefs, got %d", len(briefs))
	}
	if briefs[0].Error != failure {
		t.Fatalf("unexpected error field: %q", briefs[0].Error)
	}
	if briefs[1].Status != research.StatusProcessing {
		t.Fatalf("unexpected status: %s", briefs[1].Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
