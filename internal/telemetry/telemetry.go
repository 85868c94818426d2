package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/skovale/briefgen/config"
)

// Telemetry provides aggregate monitoring and cost tracking for research runs
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	// Run metrics
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	// Stage metrics
	StageExecutions   map[string]int64
	StageSuccessRates map[string]float64
	StageAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64

	// Search provider metrics
	SourceRequests     map[string]int64
	SourceSuccessRates map[string]float64
	SourceAverageTimes map[string]time.Duration
}

// CostTracker tracks spend across models and pipeline stages
type CostTracker struct {
	ModelCosts  map[string]float64 // model -> cost
	StageCosts  map[string]float64 // stage -> cost
	TotalCost   float64
	TotalTokens int64
}

// RunEvent represents one research job from submission to terminal status
type RunEvent struct {
	BriefID    string
	Topic      string
	Depth      int
	Duration   time.Duration
	Success    bool
	Error      string
	Cost       float64
	TokensUsed int64
}

// StageEvent represents one pipeline stage execution
type StageEvent struct {
	BriefID    string
	Stage      string
	Duration   time.Duration
	Success    bool
	Cost       float64
	TokensUsed int64
	ModelUsed  string
}

// SourceEvent represents a search provider call
type SourceEvent struct {
	Provider string
	Duration time.Duration
	Success  bool
	Results  int
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(config config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: config,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageExecutions:    make(map[string]int64),
			StageSuccessRates:  make(map[string]float64),
			StageAverageTimes:  make(map[string]time.Duration),
			LLMRequests:        make(map[string]int64),
			LLMTokensUsed:      make(map[string]int64),
			SourceRequests:     make(map[string]int64),
			SourceSuccessRates: make(map[string]float64),
			SourceAverageTimes: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
			StageCosts: make(map[string]float64),
		},
	}

	// Periodic logs can be disabled via config
	if config.Enabled && config.PeriodicLogs {
		go t.startMetricsCollection()
		go t.startCostReporting()
	}

	return t
}

// RecordRunEvent records a completed research run
func (t *Telemetry) RecordRunEvent(event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Run Event: ID=%s, Success=%t, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.BriefID, event.Success, event.Duration, event.Cost, event.TokensUsed)
}

// RecordStageEvent records a pipeline stage execution
func (t *Telemetry) RecordStageEvent(event StageEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StageExecutions[event.Stage]++

	currentSuccess := t.metrics.StageSuccessRates[event.Stage] * float64(t.metrics.StageExecutions[event.Stage]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.StageSuccessRates[event.Stage] = currentSuccess / float64(t.metrics.StageExecutions[event.Stage])

	currentAvg := t.metrics.StageAverageTimes[event.Stage]
	executions := t.metrics.StageExecutions[event.Stage]
	if executions == 1 {
		t.metrics.StageAverageTimes[event.Stage] = event.Duration
	} else {
		total := currentAvg * time.Duration(executions-1)
		t.metrics.StageAverageTimes[event.Stage] = (total + event.Duration) / time.Duration(executions)
	}

	if event.ModelUsed != "" {
		t.metrics.LLMRequests[event.ModelUsed]++
		t.metrics.LLMTokensUsed[event.ModelUsed] += event.TokensUsed
		t.costTracker.ModelCosts[event.ModelUsed] += event.Cost
	}
	t.costTracker.StageCosts[event.Stage] += event.Cost
}

// RecordSourceEvent records a search provider call
func (t *Telemetry) RecordSourceEvent(event SourceEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.SourceRequests[event.Provider]++

	currentSuccess := t.metrics.SourceSuccessRates[event.Provider] * float64(t.metrics.SourceRequests[event.Provider]-1)
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.SourceSuccessRates[event.Provider] = currentSuccess / float64(t.metrics.SourceRequests[event.Provider])

	currentAvg := t.metrics.SourceAverageTimes[event.Provider]
	requests := t.metrics.SourceRequests[event.Provider]
	if requests == 1 {
		t.metrics.SourceAverageTimes[event.Provider] = event.Duration
	} else {
		total := currentAvg * time.Duration(requests-1)
		t.metrics.SourceAverageTimes[event.Provider] = (total + event.Duration) / time.Duration(requests)
	}
}

// GetMetrics returns a copy of the current metrics
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.StageExecutions = copyMap(t.metrics.StageExecutions)
	metrics.StageSuccessRates = copyMap(t.metrics.StageSuccessRates)
	metrics.StageAverageTimes = copyMap(t.metrics.StageAverageTimes)
	metrics.LLMRequests = copyMap(t.metrics.LLMRequests)
	metrics.LLMTokensUsed = copyMap(t.metrics.LLMTokensUsed)
	metrics.SourceRequests = copyMap(t.metrics.SourceRequests)
	metrics.SourceSuccessRates = copyMap(t.metrics.SourceSuccessRates)
	metrics.SourceAverageTimes = copyMap(t.metrics.SourceAverageTimes)
	return metrics
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CostSummary provides a summary of costs
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
	StageCosts  map[string]float64
}

// GetCostSummary returns the current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  copyMap(t.costTracker.ModelCosts),
		StageCosts:  copyMap(t.costTracker.StageCosts),
	}
}

// startMetricsCollection starts periodic metrics collection
func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		metrics := t.GetMetrics()
		costs := t.GetCostSummary()

		t.logger.Printf("Metrics Snapshot: Runs=%d/%d, AvgTime=%v, TotalCost=$%.4f, TotalTokens=%d",
			metrics.SuccessfulRuns, metrics.TotalRuns,
			metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)
	}
}

// startCostReporting starts periodic cost reporting
func (t *Telemetry) startCostReporting() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		costs := t.GetCostSummary()

		t.logger.Printf("Cost Report: Total=$%.4f, Tokens=%d", costs.TotalCost, costs.TotalTokens)
		for model, cost := range costs.ModelCosts {
			t.logger.Printf("  Model %s: $%.4f", model, cost)
		}
		for stage, cost := range costs.StageCosts {
			t.logger.Printf("  Stage %s: $%.4f", stage, cost)
		}
	}
}

// Shutdown logs a final report
func (t *Telemetry) Shutdown() {
	t.logger.Println("Shutting down telemetry system...")

	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	successRate := 0.0
	if metrics.TotalRuns > 0 {
		successRate = float64(metrics.SuccessfulRuns) / float64(metrics.TotalRuns) * 100
	}

	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Runs: %d", metrics.TotalRuns)
	t.logger.Printf("  Success Rate: %.2f%%", successRate)
	t.logger.Printf("  Average Run Time: %v", metrics.AverageRunTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	successPct := 0.0
	failedPct := 0.0
	if metrics.TotalRuns > 0 {
		successPct = float64(metrics.SuccessfulRuns) / float64(metrics.TotalRuns) * 100
		failedPct = float64(metrics.FailedRuns) / float64(metrics.TotalRuns) * 100
	}

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Runs: %d
  Successful: %d (%.2f%%)
  Failed: %d (%.2f%%)
  Average Run Time: %v
  Total Cost: $%.4f
  Total Tokens: %d

Stage Performance:
`, metrics.TotalRuns, metrics.SuccessfulRuns, successPct,
		metrics.FailedRuns, failedPct,
		metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)

	for stage, executions := range metrics.StageExecutions {
		successRate := metrics.StageSuccessRates[stage]
		avgTime := metrics.StageAverageTimes[stage]
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			stage, executions, successRate*100, avgTime)
	}

	report += "\nLLM Usage:\n"
	for model, requests := range metrics.LLMRequests {
		tokens := metrics.LLMTokensUsed[model]
		cost := costs.ModelCosts[model]
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f\n",
			model, requests, tokens, cost)
	}

	report += "\nSearch Providers:\n"
	for provider, requests := range metrics.SourceRequests {
		successRate := metrics.SourceSuccessRates[provider]
		avgTime := metrics.SourceAverageTimes[provider]
		report += fmt.Sprintf("  %s: %d requests, %.2f%% success, %v avg time\n",
			provider, requests, successRate*100, avgTime)
	}

	return report
}
