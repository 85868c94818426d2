package memory

import (
	"strconv"

	"github.com/blevesearch/bleve"

	"github.com/skovale/briefgen/internal/research"
)

type findingDoc struct {
	Text string `json:"text"`
}

// SelectRelevant narrows prior research to the k findings most relevant to
// topic, ranked BM25 over a throwaway in-memory index. On index errors, or
// when nothing matches, the first k findings are kept so a follow-up never
// loses its context entirely.
func SelectRelevant(prior *research.PriorResearch, topic string, k int) *research.PriorResearch {
	if prior == nil {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	if len(prior.KeyFindings) <= k {
		return prior
	}

	out := *prior

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		out.KeyFindings = prior.KeyFindings[:k]
		return &out
	}
	defer index.Close()

	for i, f := range prior.KeyFindings {
		_ = index.Index(strconv.Itoa(i), findingDoc{Text: f})
	}

	query := bleve.NewQueryStringQuery(topic)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := index.Search(searchReq)
	if err != nil || len(res.Hits) == 0 {
		out.KeyFindings = prior.KeyFindings[:k]
		return &out
	}

	selected := make([]string, 0, k)
	for _, hit := range res.Hits {
		i, cerr := strconv.Atoi(hit.ID)
		if cerr != nil || i < 0 || i >= len(prior.KeyFindings) {
			continue
		}
		selected = append(selected, prior.KeyFindings[i])
		if len(selected) == k {
			break
		}
	}
	if len(selected) == 0 {
		selected = prior.KeyFindings[:k]
	}
	out.KeyFindings = selected
	return &out
}
