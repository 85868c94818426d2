package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skovale/briefgen/config"
)

// countingLLM wraps the mock provider and counts calls per stage, optionally
// failing every call whose system prompt names the given role.
type countingLLM struct {
	LLMProvider
	mu     sync.Mutex
	counts map[string]int
	failOn string
}

func newCountingLLM(failOn string) *countingLLM {
	return &countingLLM{LLMProvider: NewMockLLM(), counts: make(map[string]int), failOn: failOn}
}

func stageOfSystem(system string) string {
	switch {
	case strings.Contains(system, "research planner"):
		return "plan"
	case strings.Contains(system, "research assistant"):
		return "summarize"
	case strings.Contains(system, "research analyst"):
		return "analyze"
	case strings.Contains(system, "senior editor"):
		return "compose"
	default:
		return "other"
	}
}

func (l *countingLLM) GenerateWithTokens(ctx context.Context, system, prompt string) (string, int64, int64, error) {
	l.mu.Lock()
	l.counts[stageOfSystem(system)]++
	l.mu.Unlock()
	if l.failOn != "" && strings.Contains(system, l.failOn) {
		return "", 0, 0, fmt.Errorf("%w: llm down", ErrProviderUnavailable)
	}
	return l.LLMProvider.GenerateWithTokens(ctx, system, prompt)
}

func (l *countingLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, _, _, err := l.GenerateWithTokens(ctx, system, prompt)
	return resp, err
}

func (l *countingLLM) count(stage string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[stage]
}

// countingSearch records every query. fail makes all calls error; the first
// emptyCalls calls return no documents.
type countingSearch struct {
	mu         sync.Mutex
	queries    []string
	fail       error
	emptyCalls int
}

func (s *countingSearch) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	n := len(s.queries)
	s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	if n <= s.emptyCalls {
		return nil, nil
	}
	return (&MockSearch{}).Search(ctx, query, limit)
}

func (s *countingSearch) Name() string { return "counting" }

func (s *countingSearch) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func testEngineConfig() config.ResearchConfig {
	return config.ResearchConfig{
		ResultsPerRound:      3,
		SummariesPerRound:    2,
		MaxAttempts:          3,
		RetryBackoff:         time.Millisecond,
		MaxConcurrentSummary: 2,
		SearchTimeout:        time.Second,
		FetchTimeout:         time.Second,
		LLMTimeout:           time.Second,
	}
}

func newTestEngine(llm LLMProvider, search SearchProvider) *Engine {
	return NewEngine(testEngineConfig(), llm, search, nil, log.New(io.Discard, "", 0))
}

func TestRunHappyPath(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	var states []PipelineState
	req := ResearchRequest{Topic: "AI in Education", Depth: 2, UserID: "12345"}
	st, err := e.Run(context.Background(), req, nil, func(ps PipelineState) { states = append(states, ps) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []PipelineState{
		StateFetching, StateSummarizing,
		StateFetching, StateSummarizing,
		StateAnalyzing, StateComposing, StateCompleted,
	}
	if len(states) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(states), states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transition %d: expected %s got %s", i, want[i], states[i])
		}
	}

	queries := search.recorded()
	if len(queries) != 2 {
		t.Fatalf("expected one search per round, got %v", queries)
	}
	if queries[0] == queries[1] {
		t.Fatalf("rounds must use distinct sub-queries, both were %q", queries[0])
	}
	if llm.count("summarize") != 4 {
		t.Fatalf("expected 2 rounds x 2 summaries, got %d summarize calls", llm.count("summarize"))
	}
	if llm.count("analyze") != 1 || llm.count("compose") != 1 {
		t.Fatalf("analyze/compose must run once, got %d/%d", llm.count("analyze"), llm.count("compose"))
	}

	if st.State != StateCompleted {
		t.Fatalf("expected completed state, got %s", st.State)
	}
	for stage, status := range st.StageStatus {
		if status != StageSucceeded {
			t.Fatalf("stage %s status %s", stage, status)
		}
	}
	if st.Brief == nil || st.Brief.ExecutiveSummary == "" {
		t.Fatalf("expected a composed brief, got %+v", st.Brief)
	}
	if len(st.Brief.KeyFindings) == 0 || len(st.Brief.References) == 0 {
		t.Fatalf("brief missing findings or references: %+v", st.Brief)
	}
	if len(st.Documents) != 6 || len(st.Summaries) != 4 {
		t.Fatalf("expected 6 documents and 4 summaries, got %d/%d", len(st.Documents), len(st.Summaries))
	}
	if st.TokensIn <= 0 || st.TokensOut <= 0 {
		t.Fatalf("expected token usage, got in=%d out=%d", st.TokensIn, st.TokensOut)
	}
	if st.CompletedAt.IsZero() {
		t.Fatalf("expected completion timestamp")
	}
}

func TestRunDepthControlsRounds(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	st, err := e.Run(context.Background(), ResearchRequest{Topic: "solar power", Depth: 3, UserID: "u1"}, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	queries := search.recorded()
	if len(queries) != 3 {
		t.Fatalf("expected 3 searches for depth 3, got %d", len(queries))
	}
	seen := map[string]struct{}{}
	for _, q := range queries {
		if _, dup := seen[q]; dup {
			t.Fatalf("duplicate sub-query %q", q)
		}
		seen[q] = struct{}{}
	}
	if len(st.Documents) != 9 || len(st.Summaries) != 6 {
		t.Fatalf("expected 9 documents and 6 summaries, got %d/%d", len(st.Documents), len(st.Summaries))
	}
}

func TestRunValidatesRequest(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	var states []PipelineState
	st, err := e.Run(context.Background(), ResearchRequest{UserID: "u1"}, nil, func(ps PipelineState) { states = append(states, ps) })
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if len(search.recorded()) != 0 {
		t.Fatalf("no stage should run on invalid input")
	}
	if st.State != StateFailed || st.Error == "" {
		t.Fatalf("expected terminal failed state, got %s %q", st.State, st.Error)
	}
	if len(states) != 1 || states[0] != StateFailed {
		t.Fatalf("expected a single failed transition, got %v", states)
	}
}

func TestRunFetchExhaustsRetries(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{fail: fmt.Errorf("%w: search down", ErrProviderUnavailable)}
	e := newTestEngine(llm, search)

	var states []PipelineState
	st, err := e.Run(context.Background(), ResearchRequest{Topic: "fusion energy", Depth: 1, UserID: "u1"}, nil, func(ps PipelineState) { states = append(states, ps) })
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected a stage error, got %T", err)
	}
	if se.Stage != StageFetch || se.Attempts != 3 {
		t.Fatalf("expected fetch to fail after 3 attempts, got %s after %d", se.Stage, se.Attempts)
	}
	if got := len(search.recorded()); got != 3 {
		t.Fatalf("expected 3 search attempts, got %d", got)
	}
	if st.State != StateFailed || st.StageStatus[StageFetch] != StageFailed {
		t.Fatalf("expected failed fetch stage, got state=%s stage=%s", st.State, st.StageStatus[StageFetch])
	}
	if states[len(states)-1] != StateFailed {
		t.Fatalf("last transition should be failed, got %v", states)
	}
}

func TestRunRephrasesEmptyQuery(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{emptyCalls: 1}
	e := newTestEngine(llm, search)

	st, err := e.Run(context.Background(), ResearchRequest{Topic: "tidal power", Depth: 1, UserID: "u1"}, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	queries := search.recorded()
	if len(queries) != 2 {
		t.Fatalf("expected a retry after the empty result, got %v", queries)
	}
	if queries[1] == queries[0] {
		t.Fatalf("retry after no results must rephrase, both were %q", queries[0])
	}
	if queries[1] != AlternateQuery(queries[0], 2) {
		t.Fatalf("expected alternate phrasing %q, got %q", AlternateQuery(queries[0], 2), queries[1])
	}
	if st.SubQueries[0] != queries[1] {
		t.Fatalf("state should record the query that produced results, got %q", st.SubQueries[0])
	}
}

func TestRunAnalyzeSingleAttempt(t *testing.T) {
	llm := newCountingLLM("research analyst")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	st, err := e.Run(context.Background(), ResearchRequest{Topic: "gene editing", Depth: 1, UserID: "u1"}, nil, nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if llm.count("analyze") != 1 {
		t.Fatalf("analyze must not retry, got %d calls", llm.count("analyze"))
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageAnalyze || se.Attempts != 1 {
		t.Fatalf("expected single-attempt analyze failure, got %v", err)
	}
	if st.StageStatus[StageSummarize] != StageSucceeded || st.StageStatus[StageAnalyze] != StageFailed {
		t.Fatalf("unexpected stage statuses: %v", st.StageStatus)
	}
	if llm.count("compose") != 0 {
		t.Fatalf("compose must not run after analyze fails")
	}
}

func TestRunComposeSingleAttempt(t *testing.T) {
	llm := newCountingLLM("senior editor")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	st, err := e.Run(context.Background(), ResearchRequest{Topic: "gene editing", Depth: 1, UserID: "u1"}, nil, nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if llm.count("compose") != 1 {
		t.Fatalf("compose must not retry, got %d calls", llm.count("compose"))
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageCompose || se.Attempts != 1 {
		t.Fatalf("expected single-attempt compose failure, got %v", err)
	}
	if st.StageStatus[StageAnalyze] != StageSucceeded {
		t.Fatalf("analysis should have succeeded before compose failed")
	}
	if st.Analysis == nil || st.Brief != nil {
		t.Fatalf("expected analysis without brief, got %+v / %+v", st.Analysis, st.Brief)
	}
}

func TestRunFollowUpBlendsPrior(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	prior := &PriorResearch{
		Topic:       "AI in Education",
		BriefID:     "prior-1",
		KeyFindings: []string{"Rural adoption lags urban districts by a wide margin"},
		CompletedAt: time.Now().Add(-24 * time.Hour),
	}
	req := ResearchRequest{Topic: "AI in Education", Depth: 1, FollowUp: true, UserID: "12345"}
	st, err := e.Run(context.Background(), req, prior, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	found := false
	for _, f := range st.Brief.KeyFindings {
		if strings.Contains(f, "Rural adoption lags") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("follow-up brief must carry a prior finding, got %v", st.Brief.KeyFindings)
	}
}

func TestRunWithoutPriorStandsAlone(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	req := ResearchRequest{Topic: "AI in Education", Depth: 1, FollowUp: true, UserID: "12345"}
	st, err := e.Run(context.Background(), req, nil, nil)
	if err != nil {
		t.Fatalf("follow-up without prior context must still complete: %v", err)
	}
	if st.State != StateCompleted || st.Brief == nil {
		t.Fatalf("expected a standalone brief, got %s", st.State)
	}
}

func TestRunCancelledContext(t *testing.T) {
	llm := newCountingLLM("")
	search := &countingSearch{}
	e := newTestEngine(llm, search)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := e.Run(ctx, ResearchRequest{Topic: "anything", Depth: 2, UserID: "u1"}, nil, nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("context expiry should classify as provider unavailability, got %v", err)
	}
	if st.State != StateFailed {
		t.Fatalf("expected failed state, got %s", st.State)
	}
}

func TestAnalyzeGuards(t *testing.T) {
	e := newTestEngine(newCountingLLM(""), &countingSearch{})
	tally := &usageTally{}

	_, err := e.analyze(context.Background(), tally, "topic", nil, nil)
	if !errors.Is(err, ErrMalformedState) {
		t.Fatalf("analyze without summaries should be malformed state, got %v", err)
	}

	empties := []Summary{{Text: ""}, {Text: "   "}}
	_, err = e.analyze(context.Background(), tally, "topic", empties, nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("analyze over empty summaries should be insufficient data, got %v", err)
	}
}

func TestComposeGuards(t *testing.T) {
	e := newTestEngine(newCountingLLM(""), &countingSearch{})
	st := NewResearchState(ResearchRequest{Topic: "topic", Depth: 1, UserID: "u1"})

	_, err := e.compose(context.Background(), &usageTally{}, st, nil)
	if !errors.Is(err, ErrMalformedState) {
		t.Fatalf("compose without analysis should be malformed state, got %v", err)
	}
}

func TestBuildReferencesDeduplicates(t *testing.T) {
	fetched := time.Now().Add(-time.Minute)
	docs := []Document{
		{URL: "https://example.com/a", Title: "Doc A", FetchedAt: fetched},
		{URL: "https://example.com/b", Title: "Doc B", FetchedAt: fetched},
	}
	summaries := []Summary{
		{URL: "https://example.com/a", Title: "Doc A"},
		{URL: "https://example.com/a", Title: "Doc A"},
		{URL: "https://example.com/b"},
		{URL: ""},
	}
	refs := buildReferences(docs, summaries)
	if len(refs) != 2 {
		t.Fatalf("expected 2 references, got %d", len(refs))
	}
	if refs[0].URL != "https://example.com/a" || refs[1].URL != "https://example.com/b" {
		t.Fatalf("unexpected reference order: %+v", refs)
	}
	if refs[1].Title != "Doc B" {
		t.Fatalf("title should fall back to the document, got %q", refs[1].Title)
	}
	if !refs[0].AccessedAt.Equal(fetched) {
		t.Fatalf("accessed date should come from fetch time")
	}
	if !strings.Contains(refs[0].Citation, "example.com/a") {
		t.Fatalf("citation should include the url, got %q", refs[0].Citation)
	}
}

func TestEnsureBlendedFindings(t *testing.T) {
	prior := []string{"Finding one", "Finding two", "Finding three"}

	blended := ensureBlendedFindings([]string{"Something new"}, prior, 2)
	if len(blended) != 3 {
		t.Fatalf("expected 2 prior findings appended, got %v", blended)
	}
	if !strings.HasPrefix(blended[1], "Building on prior research:") {
		t.Fatalf("appended findings must be marked, got %q", blended[1])
	}

	covered := ensureBlendedFindings([]string{"We confirmed finding one holds"}, []string{"finding one"}, 1)
	if len(covered) != 1 {
		t.Fatalf("a covered prior finding must not be duplicated, got %v", covered)
	}
}
