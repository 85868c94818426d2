package research

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Depth bounds for a research request. Depth is the number of
// fetch -> summarize rounds executed before analysis.
const (
	MinDepth     = 1
	MaxDepth     = 5
	DefaultDepth = 2
)

// ResearchRequest represents a request to research a topic
type ResearchRequest struct {
	Topic    string `json:"topic"`
	Depth    int    `json:"depth"`
	FollowUp bool   `json:"follow_up"`
	UserID   string `json:"user_id"`
}

// Normalize applies the default depth and clamps it into [MinDepth, MaxDepth].
func (r *ResearchRequest) Normalize() {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Depth == 0 {
		r.Depth = DefaultDepth
	}
	if r.Depth < MinDepth {
		r.Depth = MinDepth
	}
	if r.Depth > MaxDepth {
		r.Depth = MaxDepth
	}
}

// Validate checks the request for required fields.
func (r ResearchRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// Stage identifies one of the four pipeline stages
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageSummarize Stage = "summarize"
	StageAnalyze   Stage = "analyze"
	StageCompose   Stage = "compose"
)

// StageStatus represents the status of a single stage
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// PipelineState is the engine's position in the research state machine
type PipelineState string

const (
	StateInitialized PipelineState = "initialized"
	StateFetching    PipelineState = "fetching"
	StateSummarizing PipelineState = "summarizing"
	StateAnalyzing   PipelineState = "analyzing"
	StateComposing   PipelineState = "composing"
	StateCompleted   PipelineState = "completed"
	StateFailed      PipelineState = "failed"
)

// Terminal reports whether the state machine has finished.
func (s PipelineState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// JobStatus is the externally visible status of a brief
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Document represents one raw fetched source
type Document struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet,omitempty"`
	Content   string    `json:"content"`
	Source    string    `json:"source"` // provider name: tavily, serper, mock, etc.
	Round     int       `json:"round"`
	Query     string    `json:"query"` // sub-query that found this document
	FetchedAt time.Time `json:"fetched_at"`
}

// Summary represents the condensed form of one document
type Summary struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	KeyPoints []string `json:"key_points,omitempty"`
	Relevance float64  `json:"relevance"` // 0.0 to 1.0
	Round     int      `json:"round"`
}

// Analysis represents the intermediate findings synthesized from all summaries
type Analysis struct {
	KeyFindings     []string `json:"key_findings"`
	Recommendations []string `json:"recommendations"`
	Assessment      string   `json:"assessment"`
	Confidence      float64  `json:"confidence"` // 0.0 to 1.0
}

// Reference represents one cited source in the final brief
type Reference struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Citation   string    `json:"citation"`
	AccessedAt time.Time `json:"accessed_date"`
}

// BriefResult represents the final structured sections of a research brief
type BriefResult struct {
	ExecutiveSummary string      `json:"executive_summary"`
	KeyFindings      []string    `json:"key_findings"`
	Analysis         string      `json:"analysis"`
	Recommendations  []string    `json:"recommendations"`
	References       []Reference `json:"references"`
}

// ResearchState is the mutable record threaded through the pipeline for one
// job. It is owned exclusively by that job; nothing else mutates it.
type ResearchState struct {
	Request     ResearchRequest       `json:"request"`
	SubQueries  []string              `json:"sub_queries,omitempty"`
	Documents   []Document            `json:"documents"`
	Summaries   []Summary             `json:"summaries"`
	Analysis    *Analysis             `json:"analysis,omitempty"`
	Brief       *BriefResult          `json:"brief,omitempty"`
	StageStatus map[Stage]StageStatus `json:"stage_status"`
	State       PipelineState         `json:"state"`
	Error       string                `json:"error,omitempty"`
	TokensIn    int64                 `json:"tokens_in"`
	TokensOut   int64                 `json:"tokens_out"`
	Cost        float64               `json:"cost"` // estimated USD spend
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at,omitempty"`
}

// NewResearchState creates the initial state for a request, with every stage
// pending and the machine in Initialized.
func NewResearchState(req ResearchRequest) *ResearchState {
	return &ResearchState{
		Request: req,
		StageStatus: map[Stage]StageStatus{
			StageFetch:     StagePending,
			StageSummarize: StagePending,
			StageAnalyze:   StagePending,
			StageCompose:   StagePending,
		},
		State:     StateInitialized,
		StartedAt: time.Now(),
	}
}

// Brief is the externally visible artifact for one job. Result is present
// only when Status is completed; Error only when failed. The record never
// changes once Status is terminal.
type Brief struct {
	BriefID     string          `json:"brief_id"`
	Topic       string          `json:"topic"`
	Status      JobStatus       `json:"status"`
	Request     ResearchRequest `json:"request"`
	Result      *BriefResult    `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// PriorResearch is the residue of a user's last completed run, consulted when
// a request has follow_up set.
type PriorResearch struct {
	Topic           string    `json:"topic"`
	BriefID         string    `json:"brief_id"`
	KeyFindings     []string  `json:"key_findings"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Assessment      string    `json:"assessment,omitempty"`
	Summaries       []string  `json:"summaries,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// LLMProvider is the generative capability behind summarize, analyze,
// compose and sub-query planning.
type LLMProvider interface {
	// Generate produces a completion for the given system and user prompts
	Generate(ctx context.Context, system, prompt string) (string, error)

	// GenerateWithTokens produces a completion and reports input/output token usage
	GenerateWithTokens(ctx context.Context, system, prompt string) (string, int64, int64, error)

	// ModelName returns the configured model identifier
	ModelName() string

	// CalculateCost estimates the cost in USD for a token count
	CalculateCost(inputTokens, outputTokens int64) float64
}

// SearchProvider is the content-fetch capability: it turns a sub-query into
// a set of candidate documents.
type SearchProvider interface {
	// Search returns up to limit documents matching the query
	Search(ctx context.Context, query string, limit int) ([]Document, error)

	// Name identifies the provider in logs and document provenance
	Name() string
}

// Page represents the extracted content of a single web page
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Fetcher retrieves and extracts the full content of one page, used to
// enrich search results beyond their snippets.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}
