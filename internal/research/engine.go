package research

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/skovale/briefgen/config"
)

// Engine drives one research request through the pipeline:
// fetch -> summarize, repeated depth times, then analyze -> compose.
// An Engine is safe for concurrent Runs; each run owns its state.
type Engine struct {
	cfg     config.ResearchConfig
	llm     LLMProvider
	search  SearchProvider
	fetcher Fetcher // optional, enables full-page enrichment
	logger  *log.Logger
}

// NewEngine builds an engine from its collaborators. fetcher may be nil,
// which keeps documents at snippet level.
func NewEngine(cfg config.ResearchConfig, llm LLMProvider, search SearchProvider, fetcher Fetcher, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{cfg: cfg.Normalize(), llm: llm, search: search, fetcher: fetcher, logger: logger}
}

// usageTally accumulates token usage across the concurrent parts of a run.
type usageTally struct {
	in  atomic.Int64
	out atomic.Int64
}

func (u *usageTally) add(ctx context.Context, in, out int64) {
	u.in.Add(in)
	u.out.Add(out)
	recordTokenMetrics(ctx, in, out)
}

// Run executes the full pipeline for req. prior carries the user's previous
// research when the request is a follow-up; nil means no context. onState is
// invoked on every state transition and may be nil. The returned state is
// complete in both outcomes: on error it is terminal in StateFailed with the
// failure recorded.
func (e *Engine) Run(ctx context.Context, req ResearchRequest, prior *PriorResearch, onState func(PipelineState)) (*ResearchState, error) {
	req.Normalize()
	st := NewResearchState(req)

	ctx, span := startRunSpan(ctx, req)

	transition := func(s PipelineState) {
		st.State = s
		span.AddEvent(string(s))
		if onState != nil {
			onState(s)
		}
	}

	tally := &usageTally{}
	finalize := func() {
		st.TokensIn = tally.in.Load()
		st.TokensOut = tally.out.Load()
		st.Cost = e.llm.CalculateCost(st.TokensIn, st.TokensOut)
		st.CompletedAt = time.Now()
	}
	fail := func(err error) (*ResearchState, error) {
		st.Error = err.Error()
		finalize()
		transition(StateFailed)
		endSpan(span, err)
		recordRunMetrics(ctx, StatusFailed, st.Cost)
		e.logger.Printf("research %q failed: %v", req.Topic, err)
		return st, err
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}

	e.logger.Printf("research %q depth=%d follow_up=%v model=%s", req.Topic, req.Depth, req.FollowUp, e.llm.ModelName())

	st.SubQueries = PlanSubQueries(ctx, e.llm, req.Topic, req.Depth, req.FollowUp && prior != nil)

	exclude := make(map[string]struct{})
	seenContent := make(map[string]struct{})
	for round := 1; round <= req.Depth; round++ {
		if err := ctx.Err(); err != nil {
			return fail(classifyProviderErr(err))
		}

		transition(StateFetching)
		st.StageStatus[StageFetch] = StageRunning
		start := time.Now()
		sctx, fetchSpan := startStageSpan(ctx, StageFetch, round)
		docs, used, err := e.fetchRound(sctx, round, st.SubQueries[round-1], exclude)
		endSpan(fetchSpan, err)
		recordStageMetrics(ctx, StageFetch, time.Since(start), err != nil)
		if err != nil {
			st.StageStatus[StageFetch] = StageFailed
			return fail(err)
		}
		st.SubQueries[round-1] = used
		for _, d := range docs {
			exclude[canonicalKey(d.URL)] = struct{}{}
		}
		docs = dropRepeatedContent(docs, seenContent)
		st.Documents = append(st.Documents, docs...)
		st.StageStatus[StageFetch] = StageSucceeded
		e.logger.Printf("round %d/%d fetch %q: %d documents", round, req.Depth, used, len(docs))

		transition(StateSummarizing)
		st.StageStatus[StageSummarize] = StageRunning
		start = time.Now()
		sctx, sumSpan := startStageSpan(ctx, StageSummarize, round)
		sums, err := e.summarizeRound(sctx, tally, req.Topic, docs)
		endSpan(sumSpan, err)
		recordStageMetrics(ctx, StageSummarize, time.Since(start), err != nil)
		if err != nil {
			st.StageStatus[StageSummarize] = StageFailed
			return fail(err)
		}
		st.Summaries = append(st.Summaries, sums...)
		st.StageStatus[StageSummarize] = StageSucceeded
		e.logger.Printf("round %d/%d summarize: %d summaries", round, req.Depth, len(sums))
	}

	if err := ctx.Err(); err != nil {
		return fail(classifyProviderErr(err))
	}

	transition(StateAnalyzing)
	st.StageStatus[StageAnalyze] = StageRunning
	start := time.Now()
	sctx, anSpan := startStageSpan(ctx, StageAnalyze, 0)
	analysis, err := e.analyze(sctx, tally, req.Topic, st.Summaries, prior)
	endSpan(anSpan, err)
	recordStageMetrics(ctx, StageAnalyze, time.Since(start), err != nil)
	if err != nil {
		st.StageStatus[StageAnalyze] = StageFailed
		return fail(err)
	}
	st.Analysis = analysis
	st.StageStatus[StageAnalyze] = StageSucceeded
	e.logger.Printf("analysis: %d findings confidence=%.2f", len(analysis.KeyFindings), analysis.Confidence)

	if err := ctx.Err(); err != nil {
		return fail(classifyProviderErr(err))
	}

	transition(StateComposing)
	st.StageStatus[StageCompose] = StageRunning
	start = time.Now()
	sctx, coSpan := startStageSpan(ctx, StageCompose, 0)
	brief, err := e.compose(sctx, tally, st, prior)
	endSpan(coSpan, err)
	recordStageMetrics(ctx, StageCompose, time.Since(start), err != nil)
	if err != nil {
		st.StageStatus[StageCompose] = StageFailed
		return fail(err)
	}
	st.Brief = brief
	st.StageStatus[StageCompose] = StageSucceeded

	finalize()
	transition(StateCompleted)
	endSpan(span, nil)
	recordRunMetrics(ctx, StatusCompleted, st.Cost)
	e.logger.Printf("research %q complete: %d documents, %d summaries, %d references, cost=$%.4f",
		req.Topic, len(st.Documents), len(st.Summaries), len(brief.References), st.Cost)
	return st, nil
}
