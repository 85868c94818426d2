package memory

import (
	"context"
	"time"

	"github.com/skovale/briefgen/internal/research"
)

// BriefRef is one line of a user's research history
type BriefRef struct {
	BriefID     string             `json:"brief_id"`
	Topic       string             `json:"topic"`
	Status      research.JobStatus `json:"status"`
	CompletedAt time.Time          `json:"completed_at"`
}

// ContextRecord is everything remembered about one user's research
type ContextRecord struct {
	UserID    string                  `json:"user_id"`
	Last      *research.PriorResearch `json:"last,omitempty"` // most recent completed run
	History   []BriefRef              `json:"history,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// ContextStore persists per-user research context. Put replaces the whole
// record: when two jobs for the same user finish together the last writer
// wins and no merging is attempted.
type ContextStore interface {
	// Get returns the record for userID, or nil when none exists
	Get(ctx context.Context, userID string) (*ContextRecord, error)

	// Put replaces the record for userID
	Put(ctx context.Context, userID string, rec *ContextRecord) error
}

// Remember folds a finished run into rec, creating the record if needed.
// Only completed runs replace Last; every run lands in History, newest
// first, bounded at limit entries.
func Remember(rec *ContextRecord, userID string, last *research.PriorResearch, ref BriefRef, limit int) *ContextRecord {
	if rec == nil {
		rec = &ContextRecord{UserID: userID}
	}
	if last != nil {
		rec.Last = last
	}
	rec.History = append([]BriefRef{ref}, rec.History...)
	if limit > 0 && len(rec.History) > limit {
		rec.History = rec.History[:limit]
	}
	rec.UpdatedAt = time.Now()
	return rec
}
