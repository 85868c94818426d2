package telemetry

import (
	"context"
	"time"

	"github.com/skovale/briefgen/internal/research"
)

type instrumentedSearch struct {
	inner research.SearchProvider
	tel   *Telemetry
}

// WrapSearch decorates a search provider so every call is recorded as a
// source event. A nil telemetry passes the provider through untouched.
func WrapSearch(inner research.SearchProvider, tel *Telemetry) research.SearchProvider {
	if tel == nil {
		return inner
	}
	return &instrumentedSearch{inner: inner, tel: tel}
}

func (s *instrumentedSearch) Search(ctx context.Context, query string, limit int) ([]research.Document, error) {
	start := time.Now()
	docs, err := s.inner.Search(ctx, query, limit)
	s.tel.RecordSourceEvent(SourceEvent{
		Provider: s.inner.Name(),
		Duration: time.Since(start),
		Success:  err == nil,
		Results:  len(docs),
	})
	return docs, err
}

func (s *instrumentedSearch) Name() string { return s.inner.Name() }
