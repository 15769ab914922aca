package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/resilience"
)

var _ ports.WebSearcher = (*Client)(nil)

const DefaultBaseURL = "https://api.tavily.com"

type Config struct {
	BaseURL     string
	APIKey      string
	MaxResults  int
	SearchDepth string
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "basic"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}, executor: executor}
}

type searchRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Search returns the ranked snippets for query. Tavily's synthesized answer
// is not requested; only sourced results count against MaxResults.
func (c *Client) Search(ctx context.Context, query string) ([]domain.RetrievedDocument, error) {
	if c.cfg.APIKey == "" {
		return nil, domain.WrapError(domain.ErrUnavailable, "tavily search", errors.New("api key is not configured"))
	}

	payload := searchRequest{
		Query:         query,
		MaxResults:    c.cfg.MaxResults,
		SearchDepth:   c.cfg.SearchDepth,
		IncludeAnswer: false,
	}
	var response searchResponse
	err := c.executor.Execute(ctx, "tavily.search", func(callCtx context.Context) error {
		return c.post(callCtx, payload, &response)
	}, classifyTavilyError)
	if err != nil {
		if resilience.IsCircuitOpen(err) || classifyTavilyError(err).Retryable {
			return nil, domain.WrapError(domain.ErrTemporary, "tavily search", err)
		}
		return nil, err
	}

	docs := make([]domain.RetrievedDocument, 0, len(response.Results))
	for _, result := range response.Results {
		content := plainText(result.Content)
		if content == "" {
			continue
		}
		docs = append(docs, domain.RetrievedDocument{
			Content: content,
			Metadata: map[string]string{
				domain.MetaURL:   result.URL,
				domain.MetaTitle: plainText(result.Title),
			},
			Score:  result.Score,
			Origin: domain.OriginWeb,
		})
	}
	return docs, nil
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tavily status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) post(ctx context.Context, payload searchRequest, out *searchResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tavily search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

func classifyTavilyError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	var status *statusError
	if errors.As(err, &status) {
		retry := status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
		return resilience.ErrorClassification{Retryable: retry, RecordFailure: retry}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// plainText drops markup that search snippets sometimes carry and collapses whitespace.
func plainText(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return strings.Join(strings.Fields(raw), " ")
	}
	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			if name, _ := tokenizer.TagName(); isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := tokenizer.TagName(); isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style"
}
