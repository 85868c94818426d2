package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skovale/briefgen/internal/helpers"
)

const (
	summarizeSystem = "You are a research assistant. You summarize a source document as it relates to a research topic, responding in JSON."
	analyzeSystem   = "You are a research analyst. You synthesize findings across document summaries, responding in JSON."
	composeSystem   = "You are a senior editor composing a polished research brief, responding in JSON."

	// maxPromptChars bounds how much document text goes into a prompt
	maxPromptChars = 6000
)

// fetchRound runs the fetch stage for one round: search with retry, then
// optional full-page enrichment. When a query comes back empty the retry
// switches to an alternate phrasing instead of repeating it. Documents
// already collected in earlier rounds are excluded. The query that finally
// produced results is returned alongside the documents.
func (e *Engine) fetchRound(ctx context.Context, round int, query string, exclude map[string]struct{}) ([]Document, string, error) {
	var docs []Document
	var lastErr error
	used := query

	attempts, err := withRetry(ctx, e.cfg.MaxAttempts, e.cfg.RetryBackoff, func(attempt int) error {
		q := query
		if attempt > 1 && errors.Is(lastErr, ErrNoResults) {
			q = AlternateQuery(query, attempt)
		}
		used = q

		sctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
		defer cancel()
		found, serr := e.search.Search(sctx, q, e.cfg.ResultsPerRound)
		if serr != nil {
			lastErr = classifyProviderErr(serr)
			return lastErr
		}
		found = dropExcluded(found, exclude)
		if len(found) == 0 {
			lastErr = fmt.Errorf("%w: query %q returned nothing", ErrNoResults, q)
			return lastErr
		}
		docs = found
		return nil
	})
	recordRetryMetrics(ctx, StageFetch, attempts)
	if err != nil {
		return nil, used, &StageError{Stage: StageFetch, Input: query, Attempts: attempts, Err: err}
	}

	for i := range docs {
		docs[i].Round = round
		docs[i].Query = used
		if docs[i].FetchedAt.IsZero() {
			docs[i].FetchedAt = time.Now()
		}
	}
	if e.fetcher != nil && e.cfg.FetchContent {
		e.enrichDocuments(ctx, docs)
	}
	return docs, used, nil
}

// enrichDocuments replaces snippets with extracted page text where the
// fetcher succeeds. Failures keep the snippet; a round never dies because
// one page would not render.
func (e *Engine) enrichDocuments(ctx context.Context, docs []Document) {
	sem := make(chan struct{}, e.cfg.MaxConcurrentSummary)
	var wg sync.WaitGroup
	for i := range docs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
			defer cancel()
			page, err := e.fetcher.Fetch(fctx, docs[i].URL)
			if err != nil {
				e.logger.Printf("content fetch for %s kept snippet: %v", docs[i].URL, err)
				return
			}
			docs[i].Content = page.Text
			if docs[i].Title == "" {
				docs[i].Title = page.Title
			}
		}(i)
	}
	wg.Wait()
}

// summarizeRound condenses the round's best documents concurrently. Result
// order follows document order regardless of which goroutine finishes first.
func (e *Engine) summarizeRound(ctx context.Context, tally *usageTally, topic string, docs []Document) ([]Summary, error) {
	if len(docs) > e.cfg.SummariesPerRound {
		docs = docs[:e.cfg.SummariesPerRound]
	}

	summaries := make([]Summary, len(docs))
	errs := make([]error, len(docs))
	sem := make(chan struct{}, e.cfg.MaxConcurrentSummary)
	var wg sync.WaitGroup
	for i := range docs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			summaries[i], errs[i] = e.summarizeDocument(ctx, tally, topic, docs[i])
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

// summarizeDocument makes one retried LLM call for one document. A response
// that will not parse degrades to a snippet-based summary rather than
// burning a retry; retries are reserved for provider failures.
func (e *Engine) summarizeDocument(ctx context.Context, tally *usageTally, topic string, doc Document) (Summary, error) {
	content := doc.Content
	if content == "" {
		content = doc.Snippet
	}
	prompt := fmt.Sprintf("Topic: %s\nTitle: %s\nURL: %s\n\nDocument:\n%s\n\nSummarize this document as it relates to the topic. Respond with JSON: {\"summary\": string, \"key_points\": [string], \"relevance\": number between 0 and 1}.",
		topic, doc.Title, doc.URL, truncate(content, maxPromptChars))

	var out struct {
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"key_points"`
		Relevance float64  `json:"relevance"`
	}
	attempts, err := withRetry(ctx, e.cfg.MaxAttempts, e.cfg.RetryBackoff, func(int) error {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
		defer cancel()
		raw, in, outTok, gerr := e.llm.GenerateWithTokens(lctx, summarizeSystem, prompt)
		if gerr != nil {
			return classifyProviderErr(gerr)
		}
		tally.add(ctx, in, outTok)
		if derr := decodeLLMJSON(raw, &out); derr != nil {
			out.Summary = fallbackSummaryText(doc)
			out.KeyPoints = nil
			out.Relevance = 0.5
		}
		return nil
	})
	recordRetryMetrics(ctx, StageSummarize, attempts)
	if err != nil {
		return Summary{}, &StageError{Stage: StageSummarize, Input: doc.URL, Attempts: attempts, Err: err}
	}

	if strings.TrimSpace(out.Summary) == "" {
		out.Summary = fallbackSummaryText(doc)
	}
	return Summary{
		URL:       doc.URL,
		Title:     doc.Title,
		Text:      out.Summary,
		KeyPoints: out.KeyPoints,
		Relevance: clamp01(out.Relevance),
		Round:     doc.Round,
	}, nil
}

// analyze synthesizes all summaries into findings in a single LLM call.
// Analysis is never retried: a provider failure here fails the job.
func (e *Engine) analyze(ctx context.Context, tally *usageTally, topic string, summaries []Summary, prior *PriorResearch) (*Analysis, error) {
	if len(summaries) == 0 {
		return nil, &StageError{Stage: StageAnalyze, Input: topic, Attempts: 1,
			Err: fmt.Errorf("%w: analyze reached with no summaries", ErrMalformedState)}
	}
	usable := 0
	for _, s := range summaries {
		if strings.TrimSpace(s.Text) != "" {
			usable++
		}
	}
	if usable == 0 {
		return nil, &StageError{Stage: StageAnalyze, Input: topic, Attempts: 1,
			Err: fmt.Errorf("%w: all %d summaries are empty", ErrInsufficientData, len(summaries))}
	}

	var sb strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, s.Title, s.Text)
		for _, kp := range s.KeyPoints {
			fmt.Fprintf(&sb, "   - %s\n", kp)
		}
	}
	priorBlock := ""
	if prior != nil && len(prior.KeyFindings) > 0 {
		var pb strings.Builder
		pb.WriteString("\nPrior research on this topic found:\n")
		for _, f := range prior.KeyFindings {
			fmt.Fprintf(&pb, "- %s\n", f)
		}
		pb.WriteString("Connect new findings to these where they relate.\n")
		priorBlock = pb.String()
	}
	prompt := fmt.Sprintf("Topic: %s\n\nSummaries:\n%s%s\nAnalyze the summaries. Respond with JSON: {\"key_findings\": [string], \"recommendations\": [string], \"assessment\": string, \"confidence\": number between 0 and 1}.",
		topic, sb.String(), priorBlock)

	lctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()
	raw, in, outTok, err := e.llm.GenerateWithTokens(lctx, analyzeSystem, prompt)
	if err != nil {
		return nil, &StageError{Stage: StageAnalyze, Input: topic, Attempts: 1, Err: classifyProviderErr(err)}
	}
	tally.add(ctx, in, outTok)

	var out Analysis
	if derr := decodeLLMJSON(raw, &out); derr != nil || len(out.KeyFindings) == 0 {
		out = fallbackAnalysis(topic, summaries)
	}
	out.Confidence = clamp01(out.Confidence)
	if prior != nil {
		out.KeyFindings = ensureBlendedFindings(out.KeyFindings, prior.KeyFindings, e.cfg.ContextFindings)
	}
	return &out, nil
}

// compose renders the final brief in a single LLM call. Like analyze it is
// never retried. References always come from document provenance, never
// from the model.
func (e *Engine) compose(ctx context.Context, tally *usageTally, st *ResearchState, prior *PriorResearch) (*BriefResult, error) {
	if st.Analysis == nil {
		return nil, &StageError{Stage: StageCompose, Input: st.Request.Topic, Attempts: 1,
			Err: fmt.Errorf("%w: compose reached without analysis", ErrMalformedState)}
	}

	analysisJSON, _ := json.Marshal(st.Analysis)
	var titles strings.Builder
	for _, s := range st.Summaries {
		fmt.Fprintf(&titles, "- %s (%s)\n", s.Title, s.URL)
	}
	prompt := fmt.Sprintf("Topic: %s\n\nAnalysis:\n%s\n\nSources consulted:\n%s\nCompose a research brief. Respond with JSON: {\"executive_summary\": string, \"key_findings\": [string], \"analysis\": string, \"recommendations\": [string]}.",
		st.Request.Topic, analysisJSON, titles.String())

	lctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()
	raw, in, outTok, err := e.llm.GenerateWithTokens(lctx, composeSystem, prompt)
	if err != nil {
		return nil, &StageError{Stage: StageCompose, Input: st.Request.Topic, Attempts: 1, Err: classifyProviderErr(err)}
	}
	tally.add(ctx, in, outTok)

	var out BriefResult
	if derr := decodeLLMJSON(raw, &out); derr != nil || strings.TrimSpace(out.ExecutiveSummary) == "" {
		out = fallbackBrief(st.Request.Topic, st.Analysis)
	}
	if len(out.KeyFindings) == 0 {
		out.KeyFindings = st.Analysis.KeyFindings
	}
	if prior != nil {
		out.KeyFindings = ensureBlendedFindings(out.KeyFindings, prior.KeyFindings, e.cfg.ContextFindings)
	}
	if len(out.Recommendations) == 0 {
		out.Recommendations = st.Analysis.Recommendations
	}
	if strings.TrimSpace(out.Analysis) == "" {
		out.Analysis = st.Analysis.Assessment
	}
	out.References = buildReferences(st.Documents, st.Summaries)
	return &out, nil
}

// ensureBlendedFindings guarantees findings carry prior research forward.
// A prior finding the model already worked in counts as covered; otherwise
// it is appended with an explicit marker, up to limit prior findings total.
func ensureBlendedFindings(findings, prior []string, limit int) []string {
	if limit <= 0 {
		limit = 1
	}
	count := 0
	for _, pf := range prior {
		if count >= limit {
			break
		}
		pf = strings.TrimSpace(pf)
		if pf == "" {
			continue
		}
		covered := false
		for _, f := range findings {
			if strings.Contains(strings.ToLower(f), strings.ToLower(pf)) {
				covered = true
				break
			}
		}
		if !covered {
			findings = append(findings, "Building on prior research: "+pf)
		}
		count++
	}
	return findings
}

// buildReferences derives citations from the documents that produced
// summaries, preserving summary order.
func buildReferences(docs []Document, summaries []Summary) []Reference {
	byURL := make(map[string]Document, len(docs))
	for _, d := range docs {
		byURL[d.URL] = d
	}
	seen := make(map[string]struct{}, len(summaries))
	refs := make([]Reference, 0, len(summaries))
	for _, s := range summaries {
		if s.URL == "" {
			continue
		}
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		d := byURL[s.URL]
		title := s.Title
		if title == "" {
			title = d.Title
		}
		if title == "" {
			title = s.URL
		}
		accessed := d.FetchedAt
		if accessed.IsZero() {
			accessed = time.Now()
		}
		refs = append(refs, Reference{
			URL:   s.URL,
			Title: title,
			Citation: helpers.FormatCitation(helpers.Citation{
				SourceID: fmt.Sprintf("S%d", len(refs)+1),
				Title:    title,
				URL:      s.URL,
				Snippet:  d.Snippet,
				Accessed: accessed,
			}),
			AccessedAt: accessed,
		})
	}
	return refs
}

func fallbackAnalysis(topic string, summaries []Summary) Analysis {
	var findings []string
	for _, s := range summaries {
		if len(s.KeyPoints) > 0 {
			findings = append(findings, s.KeyPoints[0])
			continue
		}
		if t := firstSentence(s.Text); t != "" {
			findings = append(findings, t)
		}
	}
	findings = distinctQueries(findings, 5)
	if len(findings) == 0 {
		findings = []string{fmt.Sprintf("Collected material covers %s at a general level", topic)}
	}
	return Analysis{
		KeyFindings: findings,
		Recommendations: []string{
			fmt.Sprintf("Monitor ongoing developments in %s", topic),
			"Validate conclusions against primary sources",
		},
		Assessment: fmt.Sprintf("Synthesis of %d source summaries on %s.", len(summaries), topic),
		Confidence: 0.4,
	}
}

func fallbackBrief(topic string, analysis *Analysis) BriefResult {
	return BriefResult{
		ExecutiveSummary: fmt.Sprintf("Research brief on %s. %s", topic, analysis.Assessment),
		KeyFindings:      analysis.KeyFindings,
		Analysis:         analysis.Assessment,
		Recommendations:  analysis.Recommendations,
	}
}

func fallbackSummaryText(doc Document) string {
	if s := strings.TrimSpace(doc.Snippet); s != "" {
		return s
	}
	return truncate(strings.TrimSpace(doc.Content), 300)
}

func dropExcluded(docs []Document, exclude map[string]struct{}) []Document {
	out := docs[:0]
	for _, d := range docs {
		if d.URL == "" && d.Snippet == "" && d.Content == "" {
			continue
		}
		if _, ok := exclude[canonicalKey(d.URL)]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// dropRepeatedContent removes documents whose page content matches one
// already collected under a different URL, recording the hashes of the
// survivors in seen. A round never loses all its documents to this pass.
func dropRepeatedContent(docs []Document, seen map[string]struct{}) []Document {
	kept := make([]Document, 0, len(docs))
	for _, d := range docs {
		body := d.Content
		if body == "" {
			body = d.Snippet
		}
		if body == "" {
			kept = append(kept, d)
			continue
		}
		h := helpers.ContentHash(body)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return docs
	}
	return kept
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, ". "); idx > 0 && idx < 200 {
		return s[:idx]
	}
	return truncate(s, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
