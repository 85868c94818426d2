package memory

import (
	"context"
	"testing"
	"time"

	"github.com/skovale/briefgen/internal/research"
)

func TestRememberCreatesRecord(t *testing.T) {
	last := &research.PriorResearch{Topic: "AI in Education", BriefID: "b-1", KeyFindings: []string{"f1"}}
	ref := BriefRef{BriefID: "b-1", Topic: "AI in Education", Status: research.StatusCompleted}

	rec := Remember(nil, "12345", last, ref, 10)
	if rec.UserID != "12345" {
		t.Fatalf("expected user id on new record, got %q", rec.UserID)
	}
	if rec.Last == nil || rec.Last.BriefID != "b-1" {
		t.Fatalf("expected last run recorded, got %+v", rec.Last)
	}
	if len(rec.History) != 1 || rec.History[0].BriefID != "b-1" {
		t.Fatalf("expected history entry, got %+v", rec.History)
	}
	if rec.UpdatedAt.IsZero() {
		t.Fatalf("expected updated timestamp")
	}
}

func TestRememberFailedRunKeepsLast(t *testing.T) {
	rec := &ContextRecord{
		UserID: "12345",
		Last:   &research.PriorResearch{Topic: "AI in Education", BriefID: "b-1"},
	}

	failedRef := BriefRef{BriefID: "b-2", Topic: "AI in Education", Status: research.StatusFailed}
	rec = Remember(rec, "12345", nil, failedRef, 10)

	if rec.Last == nil || rec.Last.BriefID != "b-1" {
		t.Fatalf("a failed run must not replace the last completed run, got %+v", rec.Last)
	}
	if len(rec.History) != 1 || rec.History[0].BriefID != "b-2" {
		t.Fatalf("failed runs still belong in history, got %+v", rec.History)
	}
}

func TestRememberNewestFirstAndBounded(t *testing.T) {
	var rec *ContextRecord
	for i := 0; i < 5; i++ {
		ref := BriefRef{BriefID: string(rune('a' + i)), Status: research.StatusCompleted}
		rec = Remember(rec, "u1", nil, ref, 3)
	}
	if len(rec.History) != 3 {
		t.Fatalf("history should cap at the limit, got %d", len(rec.History))
	}
	if rec.History[0].BriefID != "e" || rec.History[2].BriefID != "c" {
		t.Fatalf("history should be newest first, got %+v", rec.History)
	}
}

func TestInMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	got, err := s.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("missing user should yield nil record, got %+v %v", got, err)
	}

	rec := &ContextRecord{
		UserID:    "12345",
		Last:      &research.PriorResearch{Topic: "AI in Education", BriefID: "b-1"},
		History:   []BriefRef{{BriefID: "b-1", Topic: "AI in Education"}},
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.Put(ctx, "12345", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err = s.Get(ctx, "12345")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Last == nil || got.Last.BriefID != "b-1" || len(got.History) != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestInMemoryStoreReadersDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	rec := &ContextRecord{UserID: "u1", Last: &research.PriorResearch{BriefID: "b-1"}}
	if err := s.Put(ctx, "u1", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	first, _ := s.Get(ctx, "u1")
	first.Last.BriefID = "mutated"
	first.History = append(first.History, BriefRef{BriefID: "junk"})

	second, _ := s.Get(ctx, "u1")
	if second.Last.BriefID != "b-1" || len(second.History) != 0 {
		t.Fatalf("mutating a read record must not touch the store, got %+v", second)
	}
}

func TestInMemoryStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_ = s.Put(ctx, "u1", &ContextRecord{UserID: "u1", Last: &research.PriorResearch{BriefID: "b-1"}})
	_ = s.Put(ctx, "u1", &ContextRecord{UserID: "u1", Last: &research.PriorResearch{BriefID: "b-2"}})

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Last.BriefID != "b-2" {
		t.Fatalf("expected the second write to replace the first, got %+v", got.Last)
	}
}
