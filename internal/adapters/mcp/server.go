package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

const (
	ToolAskTaxQuestion        = "ask_tax_question"
	ToolSummarizeConversation = "summarize_conversation"
)

type ServerConfig struct {
	Name    string
	Version string
}

// Server exposes the answering and summarizing use cases as MCP tools.
type Server struct {
	answerer   ports.QuestionAnswerer
	summarizer ports.ConversationSummarizer
	mcp        *server.MCPServer
}

func NewServer(cfg ServerConfig, answerer ports.QuestionAnswerer, summarizer ports.ConversationSummarizer) *Server {
	if cfg.Name == "" {
		cfg.Name = "tax-law-assistant"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		answerer:   answerer,
		summarizer: summarizer,
		mcp: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.mcp.AddTool(askTool(), s.handleAsk)
	s.mcp.AddTool(summarizeTool(), s.handleSummarize)
	return s
}

// ServeStdio blocks until ctx is cancelled or stdin is closed. Diagnostics go
// to errLog because stdout carries the protocol.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer, errLog io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(errLog, "mcp: ", log.LstdFlags))
	return stdio.Listen(ctx, stdin, stdout)
}

var turnItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"role":    map[string]any{"type": "string", "enum": []string{"user", "assistant"}},
		"content": map[string]any{"type": "string"},
	},
	"required": []string{"role", "content"},
}

func askTool() mcp.Tool {
	return mcp.NewTool(ToolAskTaxQuestion,
		mcp.WithDescription("Answer a Korean tax-law question from the statute corpus, falling back to web search when the statutes do not cover it."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer.")),
		mcp.WithString("summary", mcp.Description("Running summary of the earlier conversation.")),
		mcp.WithArray("history", mcp.Description("Recent conversation turns, oldest first."), mcp.Items(turnItemSchema)),
	)
}

func summarizeTool() mcp.Tool {
	return mcp.NewTool(ToolSummarizeConversation,
		mcp.WithDescription("Fold conversation turns into a running summary that keeps tax facts, amounts and dates."),
		mcp.WithArray("turns", mcp.Required(), mcp.Description("Turns to absorb, oldest first."), mcp.Items(turnItemSchema)),
		mcp.WithString("previous_summary", mcp.Description("Summary produced by the previous call.")),
		mcp.WithNumber("previous_turn_count", mcp.Description("Turn count returned by the previous call.")),
	)
}

type askArguments struct {
	Question string        `json:"question"`
	Summary  string        `json:"summary"`
	History  []domain.Turn `json:"history"`
}

type askResult struct {
	Answer           string             `json:"answer"`
	GroundedInCorpus bool               `json:"grounded_in_corpus"`
	IsWebSearch      bool               `json:"is_web_search"`
	Partitions       []domain.Partition `json:"partitions"`
	DocumentCount    int                `json:"document_count"`
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args askArguments
	if err := bindArguments(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := normalizeTurns(args.History)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := domain.NewQuery(args.Question, history, args.Summary)
	if err != nil {
		return mcp.NewToolResultError("question is required"), nil
	}

	result, err := s.answerer.Answer(ctx, query)
	if err != nil {
		slog.Error("mcp_tool_failed", "tool", ToolAskTaxQuestion, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}

	return jsonResult(askResult{
		Answer:           result.Answer,
		GroundedInCorpus: result.GroundedInCorpus,
		IsWebSearch:      result.Grounding == domain.GroundingWeb,
		Partitions:       result.Partitions,
		DocumentCount:    result.DocumentCount,
	})
}

type summarizeArguments struct {
	Turns             []domain.Turn `json:"turns"`
	PreviousSummary   string        `json:"previous_summary"`
	PreviousTurnCount int           `json:"previous_turn_count"`
}

func (s *Server) handleSummarize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args summarizeArguments
	if err := bindArguments(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	turns, err := normalizeTurns(args.Turns)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var previous *domain.ConversationSummary
	if strings.TrimSpace(args.PreviousSummary) != "" {
		previous = &domain.ConversationSummary{Text: args.PreviousSummary, TurnCount: args.PreviousTurnCount}
	}

	summary, err := s.summarizer.Summarize(ctx, turns, previous)
	if err != nil {
		slog.Error("mcp_tool_failed", "tool", ToolSummarizeConversation, "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	return jsonResult(summary)
}

func bindArguments(request mcp.CallToolRequest, target any) error {
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func normalizeTurns(turns []domain.Turn) ([]domain.Turn, error) {
	out := make([]domain.Turn, 0, len(turns))
	for _, turn := range turns {
		role, ok := domain.ParseRole(string(turn.Role))
		if !ok {
			return nil, fmt.Errorf("unknown turn role %q", turn.Role)
		}
		out = append(out, domain.Turn{Role: role, Content: turn.Content})
	}
	return out, nil
}

func toolErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid request"
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrUnavailable):
		return "upstream service unavailable, retry later"
	default:
		return "failed to process the request"
	}
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
