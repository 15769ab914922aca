package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

// ChatModel implements blocking, streaming and schema-constrained completions
// over /api/chat. Completions are attempted once; the executor only guards
// them with a circuit breaker.
type ChatModel struct {
	client  *Client
	schemas *schemaCache
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client, schemas: newSchemaCache()}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *chatOptions    `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func newChatRequest(req domain.ChatRequest, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	temperature := req.Temperature
	return chatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
		Options: &chatOptions{
			Temperature: &temperature,
			NumPredict:  req.MaxTokens,
		},
	}
}

func (m *ChatModel) Generate(ctx context.Context, req domain.ChatRequest) (string, error) {
	return m.complete(ctx, newChatRequest(req, false), "chat")
}

func (m *ChatModel) complete(ctx context.Context, payload chatRequest, operation string) (string, error) {
	var response chatResponse
	err := m.client.executor.Execute(ctx, "ollama."+operation, func(callCtx context.Context) error {
		return m.client.postJSON(callCtx, "/api/chat", payload, &response, operation)
	}, classifyCompletionError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama "+operation, err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("ollama %s: %s", operation, response.Error)
	}
	return response.Message.Content, nil
}

// GenerateStream reads the NDJSON stream of /api/chat and forwards every
// non-empty content delta. An error returned by onFragment aborts the stream.
func (m *ChatModel) GenerateStream(ctx context.Context, req domain.ChatRequest, onFragment func(string) error) error {
	payload := newChatRequest(req, true)
	err := m.client.executor.Execute(ctx, "ollama.chat_stream", func(callCtx context.Context) error {
		body, err := m.client.openStream(callCtx, "/api/chat", payload, "chat_stream")
		if err != nil {
			return err
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				return fmt.Errorf("decode chat_stream chunk: %w", err)
			}
			if chunk.Error != "" {
				return fmt.Errorf("ollama chat_stream: %s", chunk.Error)
			}
			if chunk.Message.Content != "" {
				if err := onFragment(chunk.Message.Content); err != nil {
					return err
				}
			}
			if chunk.Done {
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read chat_stream: %w", err)
		}
		return fmt.Errorf("ollama chat_stream ended without done marker")
	}, classifyCompletionError)
	return wrapTemporaryIfNeeded("ollama chat_stream", err)
}

// GenerateJSON constrains the completion with Ollama's structured output and
// validates the reply against the same schema.
func (m *ChatModel) GenerateJSON(ctx context.Context, req domain.ChatRequest, schema []byte) ([]byte, error) {
	compiled, err := m.schemas.compile(schema)
	if err != nil {
		return nil, err
	}

	payload := newChatRequest(req, false)
	payload.Format = json.RawMessage(schema)
	text, err := m.complete(ctx, payload, "chat_json")
	if err != nil {
		return nil, err
	}

	raw := []byte(extractJSONObject(text))
	if err := validateAgainst(compiled, raw); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedOutput, "ollama chat_json", err)
	}
	return raw, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
