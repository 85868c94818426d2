package research

import (
	"context"
	"fmt"
	"strings"
)

var baseAspects = []string{
	"overview and background",
	"recent developments",
	"applications and case studies",
	"challenges and limitations",
	"future outlook",
}

var followUpAspects = []string{
	"latest developments",
	"new research findings",
	"emerging trends",
	"expert analysis",
	"future directions",
}

const plannerSystem = "You are a research planner. You produce focused web search queries that together cover a research topic from distinct angles."

// PlanSubQueries produces depth distinct search queries for topic. The
// provider's plan is used when it parses cleanly and covers every round;
// otherwise deterministic aspect templates fill in.
func PlanSubQueries(ctx context.Context, llm LLMProvider, topic string, depth int, followUp bool) []string {
	angle := ""
	if followUp {
		angle = " The user has researched this topic before, so favour what is new or changed."
	}
	prompt := fmt.Sprintf("Topic: %s\n\nProduce exactly %d distinct web search queries covering different aspects of the topic.%s Respond with a JSON array of strings only.", topic, depth, angle)

	if raw, err := llm.Generate(ctx, plannerSystem, prompt); err == nil {
		var queries []string
		if derr := decodeLLMJSON(raw, &queries); derr == nil {
			if qs := distinctQueries(queries, depth); len(qs) == depth {
				return qs
			}
		}
	}

	return fallbackQueries(topic, depth, followUp)
}

// AlternateQuery derives a replacement for a query that returned no results.
// Variants stay derived from the round's own query so rounds keep distinct
// searches even while retrying.
func AlternateQuery(query string, attempt int) string {
	switch attempt {
	case 2:
		return query + " latest"
	default:
		return query + " in depth"
	}
}

func distinctQueries(in []string, depth int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, depth)
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == depth {
			break
		}
	}
	return out
}

func fallbackQueries(topic string, depth int, followUp bool) []string {
	aspects := baseAspects
	if followUp {
		aspects = followUpAspects
	}
	out := make([]string, 0, depth)
	for i := 0; i < depth; i++ {
		q := fmt.Sprintf("%s %s", topic, aspects[i%len(aspects)])
		if i >= len(aspects) {
			q = fmt.Sprintf("%s %d", q, i+1)
		}
		out = append(out, q)
	}
	return out
}
