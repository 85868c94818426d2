package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/skovale/briefgen/internal/research"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// New connects to Postgres using DATABASE_URL or the POSTGRES_* variables.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := getenvDefault("POSTGRES_USER", "briefgen")
		pass := getenvDefault("POSTGRES_PASSWORD", "briefgen")
		db := getenvDefault("POSTGRES_DB", "briefgen")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN connects to Postgres using an explicit DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// ensureSchema creates the tables the engine needs when migrations have not
// been applied. Statements are idempotent so running them alongside the
// migration files is harmless.
func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            email TEXT UNIQUE NOT NULL,
            password_hash TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS briefs (
            brief_id UUID PRIMARY KEY,
            user_id TEXT NOT NULL,
            topic TEXT NOT NULL,
            status TEXT NOT NULL,
            request JSONB NOT NULL,
            result JSONB,
            error TEXT,
            tokens_in BIGINT NOT NULL DEFAULT 0,
            tokens_out BIGINT NOT NULL DEFAULT 0,
            cost DOUBLE PRECISION NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            completed_at TIMESTAMPTZ
        )`,
		`CREATE INDEX IF NOT EXISTS briefs_user_created_idx ON briefs (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS topics (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id TEXT NOT NULL,
            name TEXT NOT NULL,
            depth INT NOT NULL DEFAULT 2,
            schedule_cron TEXT NOT NULL DEFAULT '@daily',
            last_run_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (user_id, name)
        )`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveBrief inserts a brief or, when the id already exists, refreshes the
// fields that change as the job advances.
func (s *Store) SaveBrief(ctx context.Context, b research.Brief) error {
	reqJSON, err := json.Marshal(b.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var resultJSON []byte
	if b.Result != nil {
		resultJSON, err = json.Marshal(b.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	var errMsg *string
	if b.Error != "" {
		errMsg = &b.Error
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO briefs (brief_id, user_id, topic, status, request, result, error, created_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (brief_id) DO UPDATE SET
    status       = EXCLUDED.status,
    result       = EXCLUDED.result,
    error        = EXCLUDED.error,
    completed_at = EXCLUDED.completed_at
`, b.BriefID, b.Request.UserID, b.Topic, string(b.Status), reqJSON, resultJSON, errMsg, b.CreatedAt, b.CompletedAt)
	return err
}

// SetBriefUsage records token and cost accounting once a run reaches a
// terminal state.
func (s *Store) SetBriefUsage(ctx context.Context, briefID string, tokensIn, tokensOut int64, cost float64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE briefs SET tokens_in=$2, tokens_out=$3, cost=$4 WHERE brief_id=$1`,
		briefID, tokensIn, tokensOut, cost)
	return err
}

// GetBrief loads one brief. The boolean reports whether the row exists.
func (s *Store) GetBrief(ctx context.Context, briefID string) (research.Brief, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT brief_id, topic, status, request, result, error, created_at, completed_at
FROM briefs WHERE brief_id=$1`, briefID)
	b, err := scanBrief(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return research.Brief{}, false, nil
		}
		return research.Brief{}, false, err
	}
	return b, true, nil
}

// ListBriefs returns a user's briefs, newest first.
func (s *Store) ListBriefs(ctx context.Context, userID string, limit int) ([]research.Brief, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT brief_id, topic, status, request, result, error, created_at, completed_at
FROM briefs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var briefs []research.Brief
	for rows.Next() {
		b, err := scanBrief(rows)
		if err != nil {
			return nil, err
		}
		briefs = append(briefs, b)
	}
	return briefs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBrief(row rowScanner) (research.Brief, error) {
	var (
		b          research.Brief
		status     string
		reqJSON    []byte
		resultJSON []byte
		errMsg     *string
	)
	if err := row.Scan(&b.BriefID, &b.Topic, &status, &reqJSON, &resultJSON, &errMsg, &b.CreatedAt, &b.CompletedAt); err != nil {
		return research.Brief{}, err
	}
	b.Status = research.JobStatus(status)
	if err := json.Unmarshal(reqJSON, &b.Request); err != nil {
		return research.Brief{}, fmt.Errorf("decode request: %w", err)
	}
	if len(resultJSON) > 0 {
		var res research.BriefResult
		if err := json.Unmarshal(resultJSON, &res); err != nil {
			return research.Brief{}, fmt.Errorf("decode result: %w", err)
		}
		b.Result = &res
	}
	if errMsg != nil {
		b.Error = *errMsg
	}
	return b, nil
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`,
		email, passwordHash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, passwordHash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).
		Scan(&id, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return id, passwordHash, err
}

// Topic is a standing research subject the scheduler re-runs on a cron cadence.
type Topic struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	Depth        int        `json:"depth"`
	ScheduleCron string     `json:"schedule_cron"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (s *Store) CreateTopic(ctx context.Context, userID, name string, depth int, scheduleCron string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO topics (user_id, name, depth, schedule_cron) VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, name) DO UPDATE SET depth=EXCLUDED.depth, schedule_cron=EXCLUDED.schedule_cron
RETURNING id`, userID, name, depth, scheduleCron).Scan(&id)
	return id, err
}

func (s *Store) ListTopics(ctx context.Context, userID string) ([]Topic, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, name, depth, schedule_cron, last_run_at, created_at
FROM topics WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTopics(rows)
}

// ListAllTopics returns every standing topic. The scheduler walks this list.
func (s *Store) ListAllTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, name, depth, schedule_cron, last_run_at, created_at
FROM topics ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTopics(rows)
}

func collectTopics(rows *sql.Rows) ([]Topic, error) {
	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Depth, &t.ScheduleCron, &t.LastRunAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (s *Store) GetTopicByID(ctx context.Context, id, userID string) (Topic, error) {
	var t Topic
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, name, depth, schedule_cron, last_run_at, created_at
FROM topics WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&t.ID, &t.UserID, &t.Name, &t.Depth, &t.ScheduleCron, &t.LastRunAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, ErrNotFound
	}
	return t, err
}

func (s *Store) DeleteTopic(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM topics WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchTopicRun stamps the moment the scheduler last submitted the topic.
func (s *Store) TouchTopicRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE topics SET last_run_at=$2 WHERE id=$1`, id, at)
	return err
}
