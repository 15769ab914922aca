package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

type promptCall struct {
	name string
	data any
}

type promptFake struct {
	mu    sync.Mutex
	calls []promptCall
	err   error
}

func (f *promptFake) Render(name string, data any) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, promptCall{name: name, data: data})
	if f.err != nil {
		return nil, f.err
	}
	return []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: name},
		{Role: domain.ChatRoleUser, Content: fmt.Sprintf("%+v", data)},
	}, nil
}

func (f *promptFake) lastData(name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].name == name {
			return f.calls[i].data, true
		}
	}
	return nil, false
}

type modelFake struct {
	mu sync.Mutex

	answers     map[string]string
	jsonReplies map[string][]byte
	jsonErr     error
	generateErr error
	streamErr   error
	echo        bool

	requests  []domain.ChatRequest
	jsonCalls map[string]int
}

func templateOf(req domain.ChatRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[0].Content
}

func (f *modelFake) record(req domain.ChatRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *modelFake) Generate(_ context.Context, req domain.ChatRequest) (string, error) {
	f.record(req)
	if f.generateErr != nil {
		return "", f.generateErr
	}
	if f.echo {
		return req.Messages[len(req.Messages)-1].Content, nil
	}
	return f.answers[req.Model], nil
}

func (f *modelFake) GenerateStream(_ context.Context, req domain.ChatRequest, onFragment func(string) error) error {
	f.record(req)
	for _, part := range splitRunes(f.answers[req.Model], 3) {
		if err := onFragment(part); err != nil {
			return err
		}
	}
	return f.streamErr
}

func (f *modelFake) GenerateJSON(_ context.Context, req domain.ChatRequest, schema []byte) ([]byte, error) {
	f.record(req)
	f.mu.Lock()
	if f.jsonCalls == nil {
		f.jsonCalls = map[string]int{}
	}
	f.jsonCalls[templateOf(req)]++
	f.mu.Unlock()
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is required")
	}
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	return f.jsonReplies[templateOf(req)], nil
}

func (f *modelFake) jsonCallCount(template string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jsonCalls[template]
}

// completions returns the non-JSON requests in call order.
func (f *modelFake) completions() []domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChatRequest
	for _, req := range f.requests {
		switch templateOf(req) {
		case PromptPartitionRouter, PromptRelevanceCheck:
			continue
		}
		out = append(out, req)
	}
	return out
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

type embedderFake struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

// indexFake serves both the dense and the lexical port.
type indexFake struct {
	mu sync.Mutex

	docs    map[domain.Partition][]domain.RetrievedDocument
	errs    map[domain.Partition]error
	missing map[domain.Partition]bool
	delay   time.Duration

	calls       int
	inFlight    int
	maxInFlight int
	lastK       int
}

func (f *indexFake) HasPartition(partition domain.Partition) bool {
	return !f.missing[partition]
}

func (f *indexFake) SearchDense(ctx context.Context, partition domain.Partition, _ []float32, k int) ([]domain.RetrievedDocument, error) {
	return f.search(ctx, partition, k)
}

func (f *indexFake) SearchLexical(ctx context.Context, partition domain.Partition, _ string, k int) ([]domain.RetrievedDocument, error) {
	return f.search(ctx, partition, k)
}

func (f *indexFake) search(_ context.Context, partition domain.Partition, k int) ([]domain.RetrievedDocument, error) {
	f.mu.Lock()
	f.calls++
	f.lastK = k
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err := f.errs[partition]; err != nil {
		return nil, err
	}
	src := f.docs[partition]
	out := make([]domain.RetrievedDocument, len(src))
	copy(out, src)
	return out, nil
}

func (f *indexFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type webSearcherFake struct {
	mu    sync.Mutex
	docs  []domain.RetrievedDocument
	err   error
	calls int
}

func (f *webSearcherFake) Search(context.Context, string) ([]domain.RetrievedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.RetrievedDocument, len(f.docs))
	copy(out, f.docs)
	return out, nil
}

func statuteDoc(partition domain.Partition, content string) domain.RetrievedDocument {
	return domain.RetrievedDocument{
		Content: content,
		Metadata: map[string]string{
			domain.MetaPartition: partition.String(),
			domain.MetaSource:    partition.String() + ".pdf",
		},
	}
}
