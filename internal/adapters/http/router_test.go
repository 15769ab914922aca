package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

type answererFake struct {
	result    *domain.AnswerResult
	err       error
	fragments []string
	streamErr error
	lastQuery domain.Query

	streamHadDeadline bool
}

func (f *answererFake) Answer(_ context.Context, query domain.Query) (*domain.AnswerResult, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *answererFake) AnswerStream(ctx context.Context, query domain.Query) (*domain.AnswerStream, error) {
	f.lastQuery = query
	_, f.streamHadDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	events := make(chan domain.StreamEvent, len(f.fragments)+1)
	for _, fragment := range f.fragments {
		events <- domain.StreamEvent{Text: fragment}
	}
	if f.streamErr != nil {
		events <- domain.StreamEvent{Err: f.streamErr}
	}
	close(events)
	return &domain.AnswerStream{Grounding: domain.GroundingCorpus, DocumentCount: 2, Events: events}, nil
}

type summarizerFake struct {
	err          error
	lastTurns    []domain.Turn
	lastPrevious *domain.ConversationSummary
}

func (f *summarizerFake) Summarize(_ context.Context, turns []domain.Turn, previous *domain.ConversationSummary) (*domain.ConversationSummary, error) {
	f.lastTurns = turns
	f.lastPrevious = previous
	if f.err != nil {
		return nil, f.err
	}
	count := len(turns)
	if previous != nil {
		count += previous.TurnCount
	}
	return &domain.ConversationSummary{Text: "요약", TurnCount: count}, nil
}

func newTestHandler(t *testing.T, cfg Config, answerer *answererFake, summarizer *summarizerFake) http.Handler {
	t.Helper()
	if answerer == nil {
		answerer = &answererFake{}
	}
	if summarizer == nil {
		summarizer = &summarizerFake{}
	}
	handler, err := NewRouter(cfg, answerer, summarizer, nil).Handler()
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	return handler
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t, Config{}, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["message"] != "Tax RAG API is running" {
		t.Fatalf("unexpected body %v", body)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestAskReturnsAnswerEnvelope(t *testing.T) {
	answerer := &answererFake{result: &domain.AnswerResult{
		Answer:           "주세는 주류 제조자가 납부합니다.",
		GroundedInCorpus: true,
		Grounding:        domain.GroundingCorpus,
		Partitions:       []domain.Partition{domain.PartitionLiquorTax},
		DocumentCount:    3,
		Elapsed:          1500 * time.Millisecond,
	}}
	handler := newTestHandler(t, Config{ValidateRequests: true}, answerer, nil)

	res := postJSON(t, handler, "/v1/ask", map[string]any{
		"question": "주세 납세의무자는?",
		"history": []map[string]string{
			{"role": "user", "content": "안녕하세요"},
			{"role": "ai", "content": "무엇을 도와드릴까요?"},
		},
		"summary": "이전 요약",
	})

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body askResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.GroundedInCorpus || body.IsWebSearch {
		t.Fatalf("expected corpus grounding flags, got %+v", body)
	}
	if body.DocumentCount != 3 || body.ElapsedTime != 1.5 {
		t.Fatalf("unexpected counters %+v", body)
	}
	if len(body.Partitions) != 1 || body.Partitions[0] != domain.PartitionLiquorTax {
		t.Fatalf("unexpected partitions %v", body.Partitions)
	}

	query := answerer.lastQuery
	if query.Summary != "이전 요약" || len(query.History) != 2 || query.History[1].Role != domain.RoleAssistant {
		t.Fatalf("query not forwarded intact: %+v", query)
	}
}

func TestAskWebAnswerSetsWebFlag(t *testing.T) {
	answerer := &answererFake{result: &domain.AnswerResult{Answer: "웹 답변", Grounding: domain.GroundingWeb}}
	handler := newTestHandler(t, Config{}, answerer, nil)

	res := postJSON(t, handler, "/v1/ask", map[string]any{"question": "오늘 환율은?"})

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["is_web_search"] != true || body["grounded_in_corpus"] != false {
		t.Fatalf("unexpected flags %v", body)
	}
	if partitions, ok := body["partitions"].([]any); !ok || len(partitions) != 0 {
		t.Fatalf("expected empty partitions array, got %v", body["partitions"])
	}
}

func TestAskRejectsInvalidRequests(t *testing.T) {
	cases := []struct {
		name    string
		payload any
	}{
		{name: "missing question", payload: map[string]any{"summary": "x"}},
		{name: "empty question", payload: map[string]any{"question": ""}},
		{name: "unknown role", payload: map[string]any{
			"question": "q",
			"history":  []map[string]string{{"role": "system", "content": "x"}},
		}},
	}
	handler := newTestHandler(t, Config{ValidateRequests: true}, nil, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(t, handler, "/v1/ask", tc.payload)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
			}
		})
	}
}

func TestAskRejectsBlankQuestionWithoutSchemaValidation(t *testing.T) {
	answerer := &answererFake{}
	handler := newTestHandler(t, Config{}, answerer, nil)

	res := postJSON(t, handler, "/v1/ask", map[string]any{"question": "   "})

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if answerer.lastQuery.Question != "" {
		t.Fatal("answerer must not be called for a blank question")
	}
}

func TestAskMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "temporary", err: domain.WrapError(domain.ErrTemporary, "generate", errors.New("ollama 503")), status: http.StatusServiceUnavailable},
		{name: "unavailable", err: domain.WrapError(domain.ErrUnavailable, "web search", errors.New("no key")), status: http.StatusServiceUnavailable},
		{name: "malformed", err: domain.WrapError(domain.ErrMalformedOutput, "route", errors.New("not json")), status: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom: secret detail"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(t, Config{}, &answererFake{err: tc.err}, nil)
			res := postJSON(t, handler, "/v1/ask", map[string]any{"question": "질문"})
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			if strings.Contains(res.Body.String(), "secret detail") {
				t.Fatalf("internal error leaked: %s", res.Body.String())
			}
		})
	}
}

func TestAskStreamWritesFragmentsInOrder(t *testing.T) {
	answerer := &answererFake{fragments: []string{"첫 번째 조각입니다. ", "두 번째 조각입니다."}}
	handler := newTestHandler(t, Config{ValidateRequests: true}, answerer, nil)

	res := postJSON(t, handler, "/v1/ask/stream", map[string]any{"question": "질문"})

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := res.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("unexpected cache control %q", got)
	}
	if got := res.Body.String(); got != "첫 번째 조각입니다. 두 번째 조각입니다." {
		t.Fatalf("unexpected body %q", got)
	}
	if !res.Flushed {
		t.Fatal("expected flushed response")
	}
}

func TestAskStreamStopsAtGenerationError(t *testing.T) {
	answerer := &answererFake{
		fragments: []string{"부분 답변"},
		streamErr: domain.WrapError(domain.ErrTemporary, "stream", errors.New("connection reset")),
	}
	handler := newTestHandler(t, Config{}, answerer, nil)

	res := postJSON(t, handler, "/v1/ask/stream", map[string]any{"question": "질문"})

	if res.Code != http.StatusOK {
		t.Fatalf("status is committed before the error, got %d", res.Code)
	}
	if got := res.Body.String(); got != "부분 답변" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestAskStreamReportsFailuresBeforeGeneration(t *testing.T) {
	answerer := &answererFake{err: domain.WrapError(domain.ErrUnavailable, "web search", errors.New("down"))}
	handler := newTestHandler(t, Config{}, answerer, nil)

	res := postJSON(t, handler, "/v1/ask/stream", map[string]any{"question": "질문"})

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestSummarizeForwardsPreviousSummary(t *testing.T) {
	summarizer := &summarizerFake{}
	handler := newTestHandler(t, Config{ValidateRequests: true}, nil, summarizer)

	res := postJSON(t, handler, "/v1/summarize", map[string]any{
		"turns": []map[string]string{
			{"role": "user", "content": "부가세 신고 기한은?"},
			{"role": "assistant", "content": "1월 25일입니다."},
		},
		"previous_summary":    "기존 요약",
		"previous_turn_count": 4,
	})

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body summarizeResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TurnCount != 6 || body.Summary != "요약" {
		t.Fatalf("unexpected response %+v", body)
	}
	if summarizer.lastPrevious == nil || summarizer.lastPrevious.Text != "기존 요약" {
		t.Fatalf("previous summary not forwarded: %+v", summarizer.lastPrevious)
	}
	if len(summarizer.lastTurns) != 2 || summarizer.lastTurns[1].Role != domain.RoleAssistant {
		t.Fatalf("turns not forwarded: %+v", summarizer.lastTurns)
	}
}

func TestSummarizeMapsTemporaryFailureTo503(t *testing.T) {
	summarizer := &summarizerFake{err: domain.WrapError(domain.ErrTemporary, "summarize", errors.New("timeout"))}
	handler := newTestHandler(t, Config{}, nil, summarizer)

	res := postJSON(t, handler, "/v1/summarize", map[string]any{
		"turns": []map[string]string{{"role": "user", "content": "q"}},
	})

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestOpenAPIDocumentIsServed(t *testing.T) {
	handler := newTestHandler(t, Config{}, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body, _ := io.ReadAll(res.Body)
	if !bytes.Contains(body, []byte("/v1/ask/stream")) {
		t.Fatal("expected the stream route in the document")
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrUnavailable, "op", errors.New("x")), http.StatusServiceUnavailable},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestAskStreamAppliesRequestTimeout(t *testing.T) {
	answerer := &answererFake{fragments: []string{"세율은 ", "6%입니다."}}
	handler := newTestHandler(t, Config{RequestTimeout: time.Minute}, answerer, nil)

	res := postJSON(t, handler, "/v1/ask/stream", map[string]any{"question": "소득세율은?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !answerer.streamHadDeadline {
		t.Fatal("expected stream context to carry the request timeout")
	}
}
