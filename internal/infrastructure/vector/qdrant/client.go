package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/resilience"
)

var (
	_ ports.DenseIndex       = (*Client)(nil)
	_ ports.DenseIndexWriter = (*Client)(nil)
)

const upsertBatchSize = 128

type Config struct {
	BaseURL          string
	CollectionPrefix string
	Timeout          time.Duration
}

// Client keeps one Qdrant collection per statute partition. The set of
// existing collections is loaded by Discover and only changes when the
// indexer writes.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	executor   *resilience.Executor

	mu      sync.RWMutex
	known   map[domain.Partition]bool
	ensured map[domain.Partition]int
}

func New(cfg Config, executor *resilience.Executor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		prefix:     cfg.CollectionPrefix,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		known:      make(map[domain.Partition]bool),
		ensured:    make(map[domain.Partition]int),
	}
}

func (c *Client) collection(partition domain.Partition) string {
	return c.prefix + partition.String()
}

// Discover records which partitions already have a collection.
func (c *Client) Discover(ctx context.Context) error {
	var response struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := c.call(ctx, http.MethodGet, "/collections", nil, &response, "list collections"); err != nil {
		return err
	}

	names := make(map[string]bool, len(response.Result.Collections))
	for _, col := range response.Result.Collections {
		names[col.Name] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, partition := range domain.Partitions() {
		c.known[partition] = names[c.collection(partition)]
	}
	return nil
}

func (c *Client) HasPartition(partition domain.Partition) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known[partition]
}

func (c *Client) SearchDense(
	ctx context.Context,
	partition domain.Partition,
	vector []float32,
	k int,
) ([]domain.RetrievedDocument, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection(partition))
	if err := c.call(ctx, http.MethodPost, path, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedDocument, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		text := getStringPayload(r.Payload, "text")
		if text == "" {
			continue
		}
		meta := map[string]string{
			domain.MetaPartition: partition.String(),
			domain.MetaSource:    getStringPayload(r.Payload, "source"),
		}
		if page := getStringPayload(r.Payload, "page"); page != "" {
			meta[domain.MetaPage] = page
		}
		out = append(out, domain.RetrievedDocument{
			Content:  text,
			Metadata: meta,
			Score:    r.Score,
			Origin:   domain.OriginCorpus,
		})
	}
	return out, nil
}

// ResetPartition drops the partition collection so that a rebuild starts empty.
func (c *Client) ResetPartition(ctx context.Context, partition domain.Partition) error {
	path := "/collections/" + c.collection(partition)
	err := c.call(ctx, http.MethodDelete, path, nil, nil, "delete collection")
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[partition] = false
	delete(c.ensured, partition)
	return nil
}

func (c *Client) IndexChunks(
	ctx context.Context,
	partition domain.Partition,
	chunks []domain.IndexedChunk,
	vectors [][]float32,
) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch")
	}

	if err := c.ensureCollection(ctx, partition, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection(partition))
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		points := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			chunk := chunks[i]
			points = append(points, point{
				ID:     pointID(chunk.ID),
				Vector: vectors[i],
				Payload: map[string]any{
					"chunk_id":  chunk.ID,
					"partition": partition.String(),
					"source":    chunk.Source,
					"page":      strconv.Itoa(chunk.Page),
					"text":      chunk.Text,
				},
			})
		}
		if err := c.call(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert"); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.known[partition] = true
	c.mu.Unlock()
	return nil
}

// pointID is stable for a chunk so that re-indexing overwrites instead of duplicating.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (c *Client) ensureCollection(ctx context.Context, partition domain.Partition, vectorSize int) error {
	c.mu.RLock()
	size, ok := c.ensured[partition]
	c.mu.RUnlock()
	if ok && size == vectorSize {
		return nil
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := c.call(ctx, http.MethodPut, "/collections/"+c.collection(partition), reqBody, nil, "ensure collection")
	// 409 means the collection already exists.
	if err != nil && !isStatus(err, http.StatusConflict) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensured[partition] = vectorSize
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
