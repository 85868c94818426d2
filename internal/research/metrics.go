package research

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	researchMetricsOnce sync.Once
	researchRuns        otelmetric.Int64Counter
	stageDuration       otelmetric.Float64Histogram
	stageRetries        otelmetric.Int64Counter
	llmInputTokens      otelmetric.Int64Counter
	llmOutputTokens     otelmetric.Int64Counter
	runCost             otelmetric.Float64Histogram
)

func initResearchMetrics() {
	meter := otel.Meter("briefgen/research")
	var err error
	researchRuns, err = meter.Int64Counter(
		"research_runs_total",
		otelmetric.WithDescription("Research pipeline runs by terminal status"),
	)
	if err != nil {
		log.Printf("research metrics init: research_runs_total: %v", err)
	}
	stageDuration, err = meter.Float64Histogram(
		"research_stage_duration_seconds",
		otelmetric.WithDescription("Wall-clock duration of pipeline stage executions"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("research metrics init: research_stage_duration_seconds: %v", err)
	}
	stageRetries, err = meter.Int64Counter(
		"research_stage_retries_total",
		otelmetric.WithDescription("Retry attempts beyond the first per stage call"),
	)
	if err != nil {
		log.Printf("research metrics init: research_stage_retries_total: %v", err)
	}
	llmInputTokens, err = meter.Int64Counter(
		"llm_input_tokens_total",
		otelmetric.WithDescription("Prompt tokens sent to the LLM provider"),
	)
	if err != nil {
		log.Printf("research metrics init: llm_input_tokens_total: %v", err)
	}
	llmOutputTokens, err = meter.Int64Counter(
		"llm_output_tokens_total",
		otelmetric.WithDescription("Completion tokens returned by the LLM provider"),
	)
	if err != nil {
		log.Printf("research metrics init: llm_output_tokens_total: %v", err)
	}
	runCost, err = meter.Float64Histogram(
		"research_run_cost_dollars",
		otelmetric.WithDescription("Estimated LLM spend per research run"),
	)
	if err != nil {
		log.Printf("research metrics init: research_run_cost_dollars: %v", err)
	}
}

func recordRunMetrics(ctx context.Context, status JobStatus, cost float64) {
	researchMetricsOnce.Do(initResearchMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("status", string(status)))
	if researchRuns != nil {
		researchRuns.Add(contextOrBackground(ctx), 1, attrs)
	}
	if runCost != nil && cost > 0 {
		runCost.Record(contextOrBackground(ctx), cost, attrs)
	}
}

func recordStageMetrics(ctx context.Context, stage Stage, elapsed time.Duration, failed bool) {
	researchMetricsOnce.Do(initResearchMetrics)
	if stageDuration == nil {
		return
	}
	stageDuration.Record(contextOrBackground(ctx), elapsed.Seconds(), otelmetric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.Bool("failed", failed),
	))
}

func recordRetryMetrics(ctx context.Context, stage Stage, attempts int) {
	researchMetricsOnce.Do(initResearchMetrics)
	if stageRetries == nil || attempts <= 1 {
		return
	}
	stageRetries.Add(contextOrBackground(ctx), int64(attempts-1), otelmetric.WithAttributes(
		attribute.String("stage", string(stage)),
	))
}

func recordTokenMetrics(ctx context.Context, in, out int64) {
	researchMetricsOnce.Do(initResearchMetrics)
	if llmInputTokens != nil && in > 0 {
		llmInputTokens.Add(contextOrBackground(ctx), in)
	}
	if llmOutputTokens != nil && out > 0 {
		llmOutputTokens.Add(contextOrBackground(ctx), out)
	}
}

// startRunSpan opens the root span for one pipeline run. The global tracer
// provider is a noop unless the host installed one, so this costs nothing
// in tests and one-shot CLI runs.
func startRunSpan(ctx context.Context, req ResearchRequest) (context.Context, trace.Span) {
	return otel.Tracer("briefgen/research").Start(contextOrBackground(ctx), "research.run",
		trace.WithAttributes(
			attribute.String("topic", req.Topic),
			attribute.Int("depth", req.Depth),
			attribute.Bool("follow_up", req.FollowUp),
		))
}

// startStageSpan opens a child span for one stage execution. round is zero
// for the stages that run once per job.
func startStageSpan(ctx context.Context, stage Stage, round int) (context.Context, trace.Span) {
	var opts []trace.SpanStartOption
	if round > 0 {
		opts = append(opts, trace.WithAttributes(attribute.Int("round", round)))
	}
	return otel.Tracer("briefgen/research").Start(contextOrBackground(ctx), "research."+string(stage), opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
