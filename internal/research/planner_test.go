package research

import (
	"context"
	"strings"
	"testing"
)

// cannedLLM returns a fixed completion for every call.
type cannedLLM struct {
	resp string
	err  error
}

func (c *cannedLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	return c.resp, c.err
}

func (c *cannedLLM) GenerateWithTokens(ctx context.Context, system, prompt string) (string, int64, int64, error) {
	return c.resp, 1, 1, c.err
}

func (c *cannedLLM) ModelName() string { return "canned" }

func (c *cannedLLM) CalculateCost(in, out int64) float64 { return 0 }

func TestPlanSubQueriesUsesProviderPlan(t *testing.T) {
	llm := &cannedLLM{resp: `["ai tutors in classrooms", "ai grading tools", "teacher attitudes to ai"]`}
	qs := PlanSubQueries(context.Background(), llm, "AI in Education", 3, false)
	if len(qs) != 3 {
		t.Fatalf("expected 3 queries, got %v", qs)
	}
	if qs[0] != "ai tutors in classrooms" || qs[2] != "teacher attitudes to ai" {
		t.Fatalf("expected the provider's plan, got %v", qs)
	}
}

func TestPlanSubQueriesFallsBackOnProse(t *testing.T) {
	llm := &cannedLLM{resp: "I would suggest researching the history first."}
	qs := PlanSubQueries(context.Background(), llm, "AI in Education", 2, false)
	if len(qs) != 2 {
		t.Fatalf("expected 2 fallback queries, got %v", qs)
	}
	for _, q := range qs {
		if !strings.Contains(q, "AI in Education") {
			t.Fatalf("fallback query %q should contain the topic", q)
		}
	}
	if qs[0] == qs[1] {
		t.Fatalf("fallback queries must be distinct, both were %q", qs[0])
	}
}

func TestPlanSubQueriesRejectsDuplicatePlan(t *testing.T) {
	llm := &cannedLLM{resp: `["same query", "Same Query", "same query"]`}
	qs := PlanSubQueries(context.Background(), llm, "quantum computing", 3, false)
	if len(qs) != 3 {
		t.Fatalf("expected 3 queries, got %v", qs)
	}
	seen := map[string]struct{}{}
	for _, q := range qs {
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			t.Fatalf("planner returned duplicates and fallback did not fix them: %v", qs)
		}
		seen[key] = struct{}{}
	}
}

func TestPlanSubQueriesFollowUpAngle(t *testing.T) {
	llm := &cannedLLM{resp: "not json"}
	qs := PlanSubQueries(context.Background(), llm, "AI in Education", 2, true)
	if !strings.Contains(qs[0], "latest developments") {
		t.Fatalf("follow-up fallback should favour recency, got %v", qs)
	}
}

func TestAlternateQuery(t *testing.T) {
	if got := AlternateQuery("solar power", 2); got != "solar power latest" {
		t.Fatalf("attempt 2: got %q", got)
	}
	if got := AlternateQuery("solar power", 3); got != "solar power in depth" {
		t.Fatalf("attempt 3: got %q", got)
	}
}

func TestDistinctQueries(t *testing.T) {
	in := []string{" a ", "b", "A", "", "c", "d"}
	out := distinctQueries(in, 3)
	if len(out) != 3 {
		t.Fatalf("expected 3 queries, got %v", out)
	}
	if out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Fatalf("unexpected queries: %v", out)
	}
}
