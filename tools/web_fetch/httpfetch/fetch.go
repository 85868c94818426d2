package httpfetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"
	"github.com/skovale/briefgen/internal/helpers"
	"github.com/skovale/briefgen/tools/web_fetch/models"
)

const (
	defaultUserAgent = "briefgen/1.0 (+https://github.com/skovale/briefgen)"

	// MaxBodySize caps how much of a response body is read (10MB)
	MaxBodySize = 10 * 1024 * 1024

	// minArticleChars is the readability output size below which the page is
	// re-rendered as markdown instead
	minArticleChars = 200
)

type Fetch struct {
	Timeout   time.Duration
	MaxChars  int // Maximum characters to return from the article text
	UserAgent string
}

func (f Fetch) Exec(ctx context.Context, rawurl string) (models.Result, error) {
	rawurl = strings.TrimSpace(rawurl)
	if rawurl == "" {
		return models.Result{}, errors.New("invalid url")
	}
	if !strings.HasPrefix(rawurl, "http://") && !strings.HasPrefix(rawurl, "https://") {
		rawurl = "https://" + rawurl
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", rawurl, nil)
	if err != nil {
		return models.Result{}, err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := (&http.Client{Timeout: f.Timeout}).Do(req)
	if err != nil {
		return models.Result{URL: rawurl, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Result{URL: rawurl, Status: resp.StatusCode, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	htmlBytes, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return models.Result{URL: rawurl, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	html := string(htmlBytes)
	finalURL := resp.Request.URL

	result := models.Result{
		URL:      finalURL.String(),
		Status:   200,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}

	sum := sha1.Sum(htmlBytes)
	result.HTMLHash = hex.EncodeToString(sum[:])

	// Extract content using readability
	if article, err := readability.FromReader(strings.NewReader(html), finalURL); err == nil {
		result.Title = strings.TrimSpace(article.Title)
		result.Byline = strings.TrimSpace(article.Byline)
		result.Text = strings.TrimSpace(article.TextContent)
	}

	// Sparse extraction usually means a layout readability cannot carve up,
	// so render the whole page as markdown instead. Scripts and event
	// handlers are stripped before conversion.
	if len(result.Text) < minArticleChars {
		safe := helpers.SanitizeHTMLRichText(html)
		if markdown, err := htmltomarkdown.ConvertString(safe); err == nil {
			result.Markdown = strings.TrimSpace(markdown)
		}
	}

	if f.MaxChars > 0 {
		if len(result.Text) > f.MaxChars {
			result.Text = result.Text[:f.MaxChars]
		}
		if len(result.Markdown) > f.MaxChars {
			result.Markdown = result.Markdown[:f.MaxChars]
		}
	}

	return result, nil
}
