package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

const (
	serviceName     = "api"
	maxRequestBytes = 1 << 20
)

type Config struct {
	RequestTimeout   time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	ValidateRequests bool
}

// Recorder is the metrics surface the router reports to.
type Recorder interface {
	Middleware(service string, next http.Handler) http.Handler
	Handler() http.Handler
	RecordRejected(service, reason string)
	RecordAnswer(service, endpoint, grounding, reason string, documents int, duration time.Duration)
	RecordSummary(service, mode string, err error)
}

type Router struct {
	cfg        Config
	answerer   ports.QuestionAnswerer
	summarizer ports.ConversationSummarizer
	metrics    Recorder
}

func NewRouter(
	cfg Config,
	answerer ports.QuestionAnswerer,
	summarizer ports.ConversationSummarizer,
	metrics Recorder,
) *Router {
	return &Router{
		cfg:        cfg,
		answerer:   answerer,
		summarizer: summarizer,
		metrics:    metrics,
	}
}

// Handler wires the routes behind request id, access log, metrics, rate
// limiting, backpressure and OpenAPI validation, outermost first.
func (rt *Router) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPI)
	mux.HandleFunc("POST /v1/ask", rt.ask)
	mux.HandleFunc("POST /v1/ask/stream", rt.askStream)
	mux.HandleFunc("POST /v1/summarize", rt.summarize)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.ValidateRequests {
		validator, err := newRequestValidator()
		if err != nil {
			return nil, err
		}
		handler = validator.middleware(handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait, rt.reject)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, rt.reject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler), nil
}

func (rt *Router) reject(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Tax RAG API is running",
	})
}

func (rt *Router) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(OpenAPISpec())
}

type turnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type askRequest struct {
	Question string        `json:"question"`
	History  []turnPayload `json:"history"`
	Summary  string        `json:"summary"`
}

type askResponse struct {
	Answer           string             `json:"answer"`
	GroundedInCorpus bool               `json:"grounded_in_corpus"`
	IsWebSearch      bool               `json:"is_web_search"`
	Partitions       []domain.Partition `json:"partitions"`
	DocumentCount    int                `json:"document_count"`
	ElapsedTime      float64            `json:"elapsed_time"`
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	query, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := withOptionalTimeout(r.Context(), rt.cfg.RequestTimeout)
	defer cancel()

	result, err := rt.answerer.Answer(ctx, query)
	if err != nil {
		rt.writeDomainError(w, r, "answer", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordAnswer(serviceName, "ask", string(result.Grounding), string(result.GateReason), result.DocumentCount, result.Elapsed)
	}

	partitions := result.Partitions
	if partitions == nil {
		partitions = []domain.Partition{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:           result.Answer,
		GroundedInCorpus: result.GroundedInCorpus,
		IsWebSearch:      result.Grounding == domain.GroundingWeb,
		Partitions:       partitions,
		DocumentCount:    result.DocumentCount,
		ElapsedTime:      result.Elapsed.Seconds(),
	})
}

// askStream writes each re-chunked fragment as soon as it arrives. Once the
// status line is out, a generation failure can only end the body early.
// RequestTimeout bounds the whole stream, as it bounds a blocking answer.
func (rt *Router) askStream(w http.ResponseWriter, r *http.Request) {
	query, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := withOptionalTimeout(r.Context(), rt.cfg.RequestTimeout)
	defer cancel()

	started := time.Now()
	stream, err := rt.answerer.AnswerStream(ctx, query)
	if err != nil {
		rt.writeDomainError(w, r, "answer_stream", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordAnswer(serviceName, "ask_stream", string(stream.Grounding), string(stream.GateReason), stream.DocumentCount, 0)
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	fragments := 0
	for event := range stream.Events {
		if event.Err != nil {
			slog.Error("answer_stream_aborted",
				"request_id", requestIDFromContext(r.Context()),
				"fragments", fragments,
				"error", event.Err,
			)
			return
		}
		if _, err := io.WriteString(w, event.Text); err != nil {
			return
		}
		fragments++
		if flusher != nil {
			flusher.Flush()
		}
	}
	slog.Info("answer_stream_completed",
		"request_id", requestIDFromContext(r.Context()),
		"grounding", stream.Grounding,
		"fragments", fragments,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

type summarizeRequest struct {
	Turns             []turnPayload `json:"turns"`
	PreviousSummary   string        `json:"previous_summary"`
	PreviousTurnCount int           `json:"previous_turn_count"`
}

type summarizeResponse struct {
	Summary   string `json:"summary"`
	TurnCount int    `json:"turn_count"`
}

func (rt *Router) summarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	turns, err := parseTurns(req.Turns)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PreviousTurnCount < 0 {
		writeError(w, http.StatusBadRequest, "previous_turn_count must not be negative")
		return
	}

	var previous *domain.ConversationSummary
	mode := "initial"
	if req.PreviousSummary != "" || req.PreviousTurnCount > 0 {
		previous = &domain.ConversationSummary{Text: req.PreviousSummary, TurnCount: req.PreviousTurnCount}
	}
	if !previous.Empty() {
		mode = "incremental"
	}

	ctx, cancel := withOptionalTimeout(r.Context(), rt.cfg.RequestTimeout)
	defer cancel()

	summary, err := rt.summarizer.Summarize(ctx, turns, previous)
	if rt.metrics != nil {
		rt.metrics.RecordSummary(serviceName, mode, err)
	}
	if err != nil {
		rt.writeDomainError(w, r, "summarize", err)
		return
	}
	writeJSON(w, http.StatusOK, summarizeResponse{Summary: summary.Text, TurnCount: summary.TurnCount})
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (domain.Query, bool) {
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return domain.Query{}, false
	}
	history, err := parseTurns(req.History)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Query{}, false
	}
	query, err := domain.NewQuery(req.Question, history, req.Summary)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), "question is required")
		return domain.Query{}, false
	}
	return query, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func parseTurns(raw []turnPayload) ([]domain.Turn, error) {
	turns := make([]domain.Turn, 0, len(raw))
	for _, t := range raw {
		role, ok := domain.ParseRole(t.Role)
		if !ok {
			return nil, errors.New("turn role must be user or assistant")
		}
		turns = append(turns, domain.Turn{Role: role, Content: t.Content})
	}
	return turns, nil
}

// writeDomainError keeps pipeline internals out of the response body.
func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"operation", op,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", attrs...)
	} else {
		slog.Warn("request_failed", attrs...)
	}
	writeError(w, status, publicErrorMessage(status))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
