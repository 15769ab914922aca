package lexical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

var (
	_ ports.LexicalIndex       = (*Store)(nil)
	_ ports.LexicalIndexWriter = (*Store)(nil)
)

const (
	IndexSuffix = ".bleve"

	fieldContent   = "content"
	fieldPartition = "partition"
	fieldSource    = "source"
	fieldPage      = "page"

	maxBatchSize = 100
)

type chunkDocument struct {
	Content   string `json:"content"`
	Partition string `json:"partition"`
	Source    string `json:"source"`
	Page      string `json:"page"`
}

// Store keeps one bleve index per partition under a base directory.
// Indexes opened for serving are read-only.
type Store struct {
	dir string

	mu      sync.RWMutex
	indexes map[domain.Partition]bleve.Index
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, indexes: make(map[domain.Partition]bleve.Index)}
}

func (s *Store) indexPath(partition domain.Partition) string {
	return filepath.Join(s.dir, partition.String()+IndexSuffix)
}

// OpenAll opens every partition index found on disk and returns the number opened.
func (s *Store) OpenAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opened := 0
	for _, partition := range domain.Partitions() {
		path := s.indexPath(partition)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		index, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
		if err != nil {
			slog.Warn("lexical_index_open_failed", "partition", partition, "path", path, "error", err)
			continue
		}
		if previous, ok := s.indexes[partition]; ok {
			_ = previous.Close()
		}
		s.indexes[partition] = index
		opened++
	}
	return opened, nil
}

func (s *Store) HasPartition(partition domain.Partition) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[partition]
	return ok
}

func (s *Store) SearchLexical(ctx context.Context, partition domain.Partition, query string, k int) ([]domain.RetrievedDocument, error) {
	s.mu.RLock()
	index, ok := s.indexes[partition]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lexical index for %s is not open", partition)
	}

	match := bleve.NewMatchQuery(query)
	match.SetField(fieldContent)
	req := bleve.NewSearchRequest(match)
	req.Size = k
	req.Fields = []string{fieldContent, fieldSource, fieldPage}

	result, err := index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search %s: %w", partition, err)
	}

	out := make([]domain.RetrievedDocument, 0, len(result.Hits))
	for _, hit := range result.Hits {
		content, _ := hit.Fields[fieldContent].(string)
		if content == "" {
			continue
		}
		meta := map[string]string{domain.MetaPartition: partition.String()}
		if source, ok := hit.Fields[fieldSource].(string); ok {
			meta[domain.MetaSource] = source
		}
		if page, ok := hit.Fields[fieldPage].(string); ok && page != "" {
			meta[domain.MetaPage] = page
		}
		out = append(out, domain.RetrievedDocument{
			Content:  content,
			Metadata: meta,
			Score:    hit.Score,
			Origin:   domain.OriginCorpus,
		})
	}
	return out, nil
}

// RebuildPartition writes a fresh index next to the current one and swaps it in.
func (s *Store) RebuildPartition(ctx context.Context, partition domain.Partition, chunks []domain.IndexedChunk) error {
	if len(chunks) == 0 {
		return errors.New("no chunks to index")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create lexical index dir: %w", err)
	}

	path := s.indexPath(partition)
	staging := path + ".tmp"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging index: %w", err)
	}

	index, err := bleve.New(staging, newIndexMapping())
	if err != nil {
		return fmt.Errorf("create lexical index: %w", err)
	}
	if err := writeChunks(ctx, index, chunks); err != nil {
		_ = index.Close()
		_ = os.RemoveAll(staging)
		return err
	}
	if err := index.Close(); err != nil {
		return fmt.Errorf("close lexical index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if previous, ok := s.indexes[partition]; ok {
		_ = previous.Close()
		delete(s.indexes, partition)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove previous lexical index: %w", err)
	}
	if err := os.Rename(staging, path); err != nil {
		return fmt.Errorf("activate lexical index: %w", err)
	}
	return nil
}

func writeChunks(ctx context.Context, index bleve.Index, chunks []domain.IndexedChunk) error {
	batch := index.NewBatch()
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := chunkDocument{
			Content:   chunk.Text,
			Partition: chunk.Partition.String(),
			Source:    chunk.Source,
			Page:      strconv.Itoa(chunk.Page),
		}
		if err := batch.Index(chunk.ID, doc); err != nil {
			return fmt.Errorf("batch chunk %s: %w", chunk.ID, err)
		}
		if batch.Size() >= maxBatchSize {
			if err := index.Batch(batch); err != nil {
				return fmt.Errorf("write lexical batch: %w", err)
			}
			batch = index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := index.Batch(batch); err != nil {
			return fmt.Errorf("write lexical batch: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for partition, index := range s.indexes {
		if err := index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", partition, err))
		}
		delete(s.indexes, partition)
	}
	return errors.Join(errs...)
}

// newIndexMapping analyzes statute text with the CJK bigram analyzer, which
// handles Korean without a morphological dictionary.
func newIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = cjk.AnalyzerName
	contentField.Store = true
	docMapping.AddFieldMappingsAt(fieldContent, contentField)

	for _, name := range []string{fieldPartition, fieldSource, fieldPage} {
		field := bleve.NewTextFieldMapping()
		field.Analyzer = keyword.Name
		field.Store = true
		docMapping.AddFieldMappingsAt(name, field)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = cjk.AnalyzerName
	return indexMapping
}
