package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

var _ ports.Chunker = (*Splitter)(nil)

// articleHeader matches statute article openings such as "제55조(세율)" or "제12조의2(".
var articleHeader = regexp.MustCompile(`(?m)^[ \t]*제\d+조(?:의\d+)?[ \t]*\(`)

// Splitter cuts statute text at article boundaries and packs short articles
// together up to ChunkSize runes. Articles longer than ChunkSize fall back to
// an overlapping rune window.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 700
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	var (
		out     []string
		pending strings.Builder
	)
	flush := func() {
		if chunk := strings.TrimSpace(pending.String()); chunk != "" {
			out = append(out, chunk)
		}
		pending.Reset()
	}

	for _, article := range splitArticles(text) {
		size := utf8.RuneCountInString(article)
		if size > s.ChunkSize {
			flush()
			out = append(out, s.window(article)...)
			continue
		}
		if pending.Len() > 0 && utf8.RuneCountInString(pending.String())+1+size > s.ChunkSize {
			flush()
		}
		if pending.Len() > 0 {
			pending.WriteByte('\n')
		}
		pending.WriteString(article)
	}
	flush()
	return out
}

func splitArticles(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	starts := articleHeader.FindAllStringIndex(text, -1)
	if len(starts) == 0 {
		return []string{text}
	}

	out := make([]string, 0, len(starts)+1)
	if preamble := strings.TrimSpace(text[:starts[0][0]]); preamble != "" {
		out = append(out, preamble)
	}
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		if article := strings.TrimSpace(text[loc[0]:end]); article != "" {
			out = append(out, article)
		}
	}
	return out
}

func (s *Splitter) window(text string) []string {
	runes := []rune(text)
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
