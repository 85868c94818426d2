package web_fetch

import (
	"context"
	"time"

	"github.com/skovale/briefgen/tools/web_fetch/chromedp"
	"github.com/skovale/briefgen/tools/web_fetch/httpfetch"
	"github.com/skovale/briefgen/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int, userAgent string) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case HTTPFetcherType, "":
		return &httpfetch.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent}, nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent}, nil
	default:
		return nil, &Error{"unsupported fetcher type"}
	}
}
