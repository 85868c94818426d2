package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skovale/briefgen/config"
	"github.com/skovale/briefgen/internal/memory"
	"github.com/skovale/briefgen/internal/research"
	"github.com/skovale/briefgen/internal/telemetry"
)

// StoreAPI captures the store methods required by the job manager.
type StoreAPI interface {
	SaveBrief(ctx context.Context, b research.Brief) error
	SetBriefUsage(ctx context.Context, briefID string, tokensIn, tokensOut int64, cost float64) error
	GetBrief(ctx context.Context, briefID string) (research.Brief, bool, error)
}

// Runner executes one research pipeline from request to brief.
type Runner interface {
	Run(ctx context.Context, req research.ResearchRequest, prior *research.PriorResearch, onState func(research.PipelineState)) (*research.ResearchState, error)
}

// Manager owns the lifecycle of research jobs: it assigns brief ids, runs
// pipelines in the background under a concurrency cap, and answers status
// polls. Each job's record is updated only by its own goroutine; once a job
// reaches a terminal status its Brief never changes again, so repeated polls
// serialize to identical bytes.
type Manager struct {
	logger  *log.Logger
	cfg     config.ResearchConfig
	runner  Runner
	store   StoreAPI             // optional, nil without Postgres
	context memory.ContextStore  // optional, nil without a context backend
	tel     *telemetry.Telemetry // optional
	history int

	mu   sync.RWMutex
	jobs map[string]*jobEntry

	slots chan struct{}
}

type jobEntry struct {
	brief research.Brief
	state research.PipelineState
}

// NewManager constructs a Manager. store, ctxStore and tel may be nil; the
// manager then runs purely in memory.
func NewManager(logger *log.Logger, cfg config.ResearchConfig, runner Runner, store StoreAPI, ctxStore memory.ContextStore, tel *telemetry.Telemetry, historyLimit int) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[JOBS] ", log.LstdFlags)
	}
	cfg.Normalize()
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Manager{
		logger:  logger,
		cfg:     cfg,
		runner:  runner,
		store:   store,
		context: ctxStore,
		tel:     tel,
		history: historyLimit,
		jobs:    make(map[string]*jobEntry),
		slots:   make(chan struct{}, cfg.MaxConcurrentJobs),
	}
}

// Submit validates the request, registers a new processing brief and launches
// the pipeline in the background. It returns as soon as the job is recorded.
func (m *Manager) Submit(ctx context.Context, req research.ResearchRequest) (research.Brief, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return research.Brief{}, err
	}

	brief := research.Brief{
		BriefID:   uuid.NewString(),
		Topic:     req.Topic,
		Status:    research.StatusProcessing,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[brief.BriefID] = &jobEntry{brief: brief, state: research.StateInitialized}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveBrief(ctx, brief); err != nil {
			m.mu.Lock()
			delete(m.jobs, brief.BriefID)
			m.mu.Unlock()
			return research.Brief{}, fmt.Errorf("save brief: %w", err)
		}
	}

	m.logger.Printf("job %s accepted: topic=%q depth=%d follow_up=%v user=%s",
		brief.BriefID, req.Topic, req.Depth, req.FollowUp, req.UserID)

	go m.process(brief)

	return brief, nil
}

func (m *Manager) process(brief research.Brief) {
	m.slots <- struct{}{}
	defer func() { <-m.slots }()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
	defer cancel()

	req := brief.Request
	started := time.Now()

	var prior *research.PriorResearch
	if req.FollowUp && m.context != nil {
		rec, err := m.context.Get(ctx, req.UserID)
		if err != nil {
			m.logger.Printf("warn: context lookup for user %s failed: %v", req.UserID, err)
		} else if rec != nil && rec.Last != nil {
			prior = memory.SelectRelevant(rec.Last, req.Topic, m.cfg.ContextFindings)
		}
		if prior == nil {
			m.logger.Printf("job %s: follow_up requested but no prior context for user %s", brief.BriefID, req.UserID)
		}
	}

	var stageMu sync.Mutex
	lastState := research.StateInitialized
	stageStart := started
	onState := func(ps research.PipelineState) {
		now := time.Now()
		stageMu.Lock()
		prev, prevStart := lastState, stageStart
		lastState, stageStart = ps, now
		stageMu.Unlock()
		if m.tel != nil {
			if stage := stageName(prev); stage != "" {
				m.tel.RecordStageEvent(telemetry.StageEvent{
					BriefID:  brief.BriefID,
					Stage:    stage,
					Duration: now.Sub(prevStart),
					Success:  ps != research.StateFailed,
				})
			}
		}
		m.mu.Lock()
		if entry, ok := m.jobs[brief.BriefID]; ok {
			entry.state = ps
		}
		m.mu.Unlock()
	}

	state, err := m.runner.Run(ctx, req, prior, onState)

	now := time.Now().UTC()
	brief.CompletedAt = &now
	if err != nil {
		brief.Status = research.StatusFailed
		brief.Error = err.Error()
		m.logger.Printf("job %s failed: %v", brief.BriefID, err)
	} else {
		brief.Status = research.StatusCompleted
		brief.Result = state.Brief
		m.logger.Printf("job %s completed: %d findings, %d references",
			brief.BriefID, len(state.Brief.KeyFindings), len(state.Brief.References))
	}

	m.mu.Lock()
	if entry, ok := m.jobs[brief.BriefID]; ok {
		entry.brief = brief
		if err != nil {
			entry.state = research.StateFailed
		} else {
			entry.state = research.StateCompleted
		}
	}
	m.mu.Unlock()

	if m.tel != nil {
		ev := telemetry.RunEvent{
			BriefID:  brief.BriefID,
			Topic:    brief.Topic,
			Depth:    req.Depth,
			Duration: time.Since(started),
			Success:  err == nil,
		}
		if err != nil {
			ev.Error = err.Error()
		}
		if state != nil {
			ev.Cost = state.Cost
			ev.TokensUsed = state.TokensIn + state.TokensOut
		}
		m.tel.RecordRunEvent(ev)
	}

	m.persist(brief, state)
	m.remember(brief, state)
}

func stageName(ps research.PipelineState) string {
	switch ps {
	case research.StateFetching:
		return string(research.StageFetch)
	case research.StateSummarizing:
		return string(research.StageSummarize)
	case research.StateAnalyzing:
		return string(research.StageAnalyze)
	case research.StateComposing:
		return string(research.StageCompose)
	default:
		return ""
	}
}

// persist writes the terminal brief and its usage accounting. Failures are
// logged, not propagated: the in-memory record already answers polls.
func (m *Manager) persist(brief research.Brief, state *research.ResearchState) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveBrief(ctx, brief); err != nil {
		m.logger.Printf("warn: persist brief %s failed: %v", brief.BriefID, err)
		return
	}
	if state != nil {
		if err := m.store.SetBriefUsage(ctx, brief.BriefID, state.TokensIn, state.TokensOut, state.Cost); err != nil {
			m.logger.Printf("warn: persist usage for brief %s failed: %v", brief.BriefID, err)
		}
	}
}

// remember folds the finished run into the user's research context. Completed
// runs replace the prior analysis; failed runs only join the history list.
func (m *Manager) remember(brief research.Brief, state *research.ResearchState) {
	if m.context == nil || brief.Request.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var last *research.PriorResearch
	if brief.Status == research.StatusCompleted && state != nil && state.Analysis != nil {
		last = &research.PriorResearch{
			Topic:           brief.Topic,
			BriefID:         brief.BriefID,
			KeyFindings:     state.Analysis.KeyFindings,
			Recommendations: state.Analysis.Recommendations,
			Assessment:      state.Analysis.Assessment,
			CompletedAt:     *brief.CompletedAt,
		}
		for _, s := range state.Summaries {
			last.Summaries = append(last.Summaries, s.Text)
		}
	}

	rec, err := m.context.Get(ctx, brief.Request.UserID)
	if err != nil {
		m.logger.Printf("warn: context read for user %s failed: %v", brief.Request.UserID, err)
		rec = nil
	}
	rec = memory.Remember(rec, brief.Request.UserID, last, memory.BriefRef{
		BriefID:     brief.BriefID,
		Topic:       brief.Topic,
		Status:      brief.Status,
		CompletedAt: *brief.CompletedAt,
	}, m.history)

	if err := m.context.Put(ctx, brief.Request.UserID, rec); err != nil {
		m.logger.Printf("warn: context write for user %s failed: %v", brief.Request.UserID, err)
	}
}

// Status returns the brief and pipeline state for a job. The boolean reports
// whether the job is known. Jobs from previous processes are served from the
// store when one is configured.
func (m *Manager) Status(ctx context.Context, briefID string) (research.Brief, research.PipelineState, bool, error) {
	m.mu.RLock()
	entry, ok := m.jobs[briefID]
	if ok {
		brief, state := entry.brief, entry.state
		m.mu.RUnlock()
		return brief, state, true, nil
	}
	m.mu.RUnlock()

	if m.store == nil {
		return research.Brief{}, "", false, nil
	}
	brief, found, err := m.store.GetBrief(ctx, briefID)
	if err != nil || !found {
		return research.Brief{}, "", false, err
	}
	return brief, stateForStatus(brief.Status), true, nil
}

func stateForStatus(status research.JobStatus) research.PipelineState {
	switch status {
	case research.StatusCompleted:
		return research.StateCompleted
	case research.StatusFailed:
		return research.StateFailed
	default:
		return research.StateInitialized
	}
}

// Processing reports how many jobs are currently non-terminal.
func (m *Manager) Processing() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entry := range m.jobs {
		if !entry.state.Terminal() {
			n++
		}
	}
	return n
}
