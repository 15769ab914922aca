package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/usecase"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/resilience"
)

func newTestClient(url string) *Client {
	return New(Config{BaseURL: url, APIKey: "tvly-test", MaxResults: 2}, resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	}))
}

func TestSearchSendsOptionsAndSanitizesSnippets(t *testing.T) {
	var captured searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Header.Get("Authorization") != "Bearer tvly-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{
			"answer": "연말정산 신고는 2월에 진행됩니다.",
			"results": [
				{"title":"<b>연말정산</b> 안내","url":"https://www.nts.go.kr/a","content":"<p>근로소득자는 <em>2월분</em> 급여 지급 시</p><script>track()</script>","score":0.8},
				{"title":"빈 결과","url":"https://example.com","content":"   ","score":0.1}
			]
		}`))
	}))
	defer server.Close()

	docs, err := newTestClient(server.URL).Search(context.Background(), "연말정산 기한")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if captured.Query != "연말정산 기한" || captured.MaxResults != 2 || captured.SearchDepth != "basic" || captured.IncludeAnswer {
		t.Fatalf("unexpected request %+v", captured)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one sourced snippet, got %d", len(docs))
	}
	snippet := docs[0]
	if snippet.Origin != domain.OriginWeb {
		t.Fatalf("unexpected origin %q", snippet.Origin)
	}
	if snippet.Content != "근로소득자는 2월분 급여 지급 시" {
		t.Fatalf("unexpected sanitized content %q", snippet.Content)
	}
	if snippet.Source() != "https://www.nts.go.kr/a" || snippet.Metadata[domain.MetaTitle] != "연말정산 안내" {
		t.Fatalf("unexpected snippet metadata %+v", snippet.Metadata)
	}
}

func TestWebFallbackKeepsEverySourcedResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"answer": "종합소득세는 5월에 신고합니다.",
			"results": [
				{"title":"r1","url":"https://u1","content":"r1","score":0.9},
				{"title":"r2","url":"https://u2","content":"r2","score":0.8},
				{"title":"r3","url":"https://u3","content":"r3","score":0.7}
			]
		}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "tvly-test", MaxResults: 3}, nil)
	docs, err := usecase.NewWebFallback(client, 3).Search(context.Background(), "종합소득세 신고 기한")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	for i, want := range []string{"https://u1", "https://u2", "https://u3"} {
		if docs[i].Source() != want {
			t.Fatalf("document %d source = %q, want %q", i, docs[i].Source(), want)
		}
	}
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestSearchWithoutAPIKeyIsUnavailable(t *testing.T) {
	client := New(Config{}, nil)
	if _, err := client.Search(context.Background(), "q"); !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"세율  10%\n적용":                 "세율 10% 적용",
		"<div>부가가치세 &amp; 면세</div>":   "부가가치세 & 면세",
		"<style>p{}</style><p>본문</p>": "본문",
	}
	for in, want := range cases {
		if got := plainText(in); got != want {
			t.Fatalf("plainText(%q) = %q, want %q", in, got, want)
		}
	}
}
