package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

type answererFake struct {
	result    *domain.AnswerResult
	err       error
	lastQuery domain.Query
	calls     int
}

func (f *answererFake) Answer(_ context.Context, query domain.Query) (*domain.AnswerResult, error) {
	f.calls++
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *answererFake) AnswerStream(context.Context, domain.Query) (*domain.AnswerStream, error) {
	return nil, errors.New("not used")
}

type summarizerFake struct {
	lastTurns    []domain.Turn
	lastPrevious *domain.ConversationSummary
}

func (f *summarizerFake) Summarize(_ context.Context, turns []domain.Turn, previous *domain.ConversationSummary) (*domain.ConversationSummary, error) {
	f.lastTurns = turns
	f.lastPrevious = previous
	count := len(turns)
	if previous != nil {
		count += previous.TurnCount
	}
	return &domain.ConversationSummary{Text: "요약", TurnCount: count}, nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var request mcp.CallToolRequest
	request.Params.Name = name
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("expected tool content")
	}
	switch content := result.Content[0].(type) {
	case mcp.TextContent:
		return content.Text
	case *mcp.TextContent:
		return content.Text
	default:
		t.Fatalf("unexpected content type %T", content)
		return ""
	}
}

func TestAskToolReturnsAnswer(t *testing.T) {
	answerer := &answererFake{result: &domain.AnswerResult{
		Answer:           "증권거래세율은 ...",
		GroundedInCorpus: true,
		Grounding:        domain.GroundingCorpus,
		Partitions:       []domain.Partition{domain.PartitionSecuritiesTransactionTax},
		DocumentCount:    2,
	}}
	srv := NewServer(ServerConfig{}, answerer, &summarizerFake{})

	result, err := srv.handleAsk(context.Background(), callRequest(ToolAskTaxQuestion, map[string]any{
		"question": "증권거래세율은?",
		"summary":  "주식 양도 관련 상담",
		"history": []any{
			map[string]any{"role": "user", "content": "주식을 팔았어요"},
			map[string]any{"role": "assistant", "content": "어떤 주식인가요?"},
		},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var payload askResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !payload.GroundedInCorpus || payload.IsWebSearch || payload.DocumentCount != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if answerer.lastQuery.Summary != "주식 양도 관련 상담" || len(answerer.lastQuery.History) != 2 {
		t.Fatalf("query not forwarded: %+v", answerer.lastQuery)
	}
}

func TestAskToolRejectsBlankQuestion(t *testing.T) {
	answerer := &answererFake{}
	srv := NewServer(ServerConfig{}, answerer, &summarizerFake{})

	result, err := srv.handleAsk(context.Background(), callRequest(ToolAskTaxQuestion, map[string]any{"question": " "}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if answerer.calls != 0 {
		t.Fatalf("answerer must not be called, got %d calls", answerer.calls)
	}
}

func TestAskToolHidesPipelineErrors(t *testing.T) {
	answerer := &answererFake{err: domain.WrapError(domain.ErrTemporary, "generate", errors.New("dial tcp 10.0.0.3:11434"))}
	srv := NewServer(ServerConfig{}, answerer, &summarizerFake{})

	result, err := srv.handleAsk(context.Background(), callRequest(ToolAskTaxQuestion, map[string]any{"question": "질문"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if text := resultText(t, result); text != "upstream service unavailable, retry later" {
		t.Fatalf("unexpected message %q", text)
	}
}

func TestSummarizeToolForwardsPrevious(t *testing.T) {
	summarizer := &summarizerFake{}
	srv := NewServer(ServerConfig{}, &answererFake{}, summarizer)

	result, err := srv.handleSummarize(context.Background(), callRequest(ToolSummarizeConversation, map[string]any{
		"turns": []any{
			map[string]any{"role": "user", "content": "종부세 기준일은?"},
			map[string]any{"role": "ai", "content": "6월 1일입니다."},
		},
		"previous_summary":    "이전 요약",
		"previous_turn_count": 2,
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	var payload domain.ConversationSummary
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if payload.TurnCount != 4 {
		t.Fatalf("expected turn count 4, got %d", payload.TurnCount)
	}
	if summarizer.lastPrevious == nil || summarizer.lastPrevious.Text != "이전 요약" {
		t.Fatalf("previous summary not forwarded: %+v", summarizer.lastPrevious)
	}
	if summarizer.lastTurns[1].Role != domain.RoleAssistant {
		t.Fatalf("expected ai role to map to assistant, got %q", summarizer.lastTurns[1].Role)
	}
}

func TestSummarizeToolRejectsUnknownRole(t *testing.T) {
	srv := NewServer(ServerConfig{}, &answererFake{}, &summarizerFake{})

	result, err := srv.handleSummarize(context.Background(), callRequest(ToolSummarizeConversation, map[string]any{
		"turns": []any{map[string]any{"role": "system", "content": "x"}},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown role")
	}
}
