package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

var _ ports.SourceStorage = (*Storage)(nil)

// Storage reads statute files laid out as <base>/<partition>/<file>.
// Keys are slash separated and relative to the base directory.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/statutes"
	}
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("open statute dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("statute path %s is not a directory", basePath)
	}
	return &Storage{basePath: basePath}, nil
}

// List returns the partition's regular files in name order. A missing
// partition directory yields no keys.
func (s *Storage) List(_ context.Context, partition domain.Partition) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, partition.String()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list partition dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		keys = append(keys, path.Join(partition.String(), entry.Name()))
	}
	return keys, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	clean := path.Clean("/" + key)
	f, err := os.Open(filepath.Join(s.basePath, filepath.FromSlash(clean)))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Partitions reports the partition directories present under the base path.
// Directories that do not name a known partition are returned separately.
func (s *Storage) Partitions(_ context.Context) ([]domain.Partition, []string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, nil, fmt.Errorf("list statute dir: %w", err)
	}

	var (
		known   []domain.Partition
		unknown []string
	)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if partition, ok := domain.ParsePartition(entry.Name()); ok {
			known = append(known, partition)
			continue
		}
		unknown = append(unknown, entry.Name())
	}
	return known, unknown, nil
}
