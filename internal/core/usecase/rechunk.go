package usecase

import (
	"strings"
	"unicode/utf8"
)

const defaultStreamMinChunkRunes = 20

// Rechunker buffers streamed fragments and releases them at word or sentence
// boundaries, or once the buffer holds minRunes runes.
type Rechunker struct {
	minRunes int
	buf      strings.Builder
}

func NewRechunker(minRunes int) *Rechunker {
	if minRunes <= 0 {
		minRunes = defaultStreamMinChunkRunes
	}
	return &Rechunker{minRunes: minRunes}
}

// Push appends a fragment and returns the buffered text when it is ready to flush.
func (r *Rechunker) Push(fragment string) (string, bool) {
	if fragment == "" {
		return "", false
	}
	r.buf.WriteString(fragment)
	if !r.ready() {
		return "", false
	}
	return r.take(), true
}

// Flush returns whatever is still buffered.
func (r *Rechunker) Flush() (string, bool) {
	if r.buf.Len() == 0 {
		return "", false
	}
	return r.take(), true
}

func (r *Rechunker) ready() bool {
	text := r.buf.String()
	if utf8.RuneCountInString(text) >= r.minRunes {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(text)
	return isChunkBoundary(last)
}

func (r *Rechunker) take() string {
	out := r.buf.String()
	r.buf.Reset()
	return out
}

func isChunkBoundary(r rune) bool {
	switch r {
	case ' ', '\n', '\t', '.', '!', '?', '。', '…':
		return true
	default:
		return false
	}
}
