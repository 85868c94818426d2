package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateTopic(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
INSERT INTO topics (user_id, name, depth, schedule_cron) VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, name) DO UPDATE SET depth=EXCLUDED.depth, schedule_cron=EXCLUDED.schedule_cron
RETURNING id`)
	mock.ExpectQuery(query).
		WithArgs("u1", "AI in Education", 2, "0 7 * * *").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("topic-1"))

	id, err := st.CreateTopic(context.Background(), "u1", "AI in Education", 2, "0 7 * * *")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if id != "topic-1" {
		t.Fatalf("unexpected id: %s", id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListAllTopics(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	now := time.Now()
	lastRun := now.Add(-24 * time.Hour)
	query := regexp.QuoteMeta(`
SELECT id, user_id, name, depth, schedule_cron, last_run_at, created_at
FROM topics ORDER BY created_at`)
	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "depth", "schedule_cron", "last_run_at", "created_at"}).
			AddRow("topic-1", "u1", "AI in Education", 2, "0 7 * * *", lastRun, now).
			AddRow("topic-2", "u2", "quantum computing", 3, "@daily", nil, now))

	topics, err := st.ListAllTopics(context.Background())
	if err != nil {
		t.Fatalf("ListAllTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].LastRunAt == nil || !topics[0].LastRunAt.Equal(lastRun) {
		t.Fatalf("unexpected last_run_at: %v", topics[0].LastRunAt)
	}
	if topics[1].LastRunAt != nil {
		t.Fatalf("expected nil last_run_at for topic-2")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteTopicMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM topics WHERE id=$1 AND user_id=$2`)).
		WithArgs("missing", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.DeleteTopic(context.Background(), "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
