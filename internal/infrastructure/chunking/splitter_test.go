package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"
)

const vatExcerpt = `부가가치세법
제1조(목적) 이 법은 부가가치세의 과세 요건 및 절차를 규정한다.
제2조(정의) 이 법에서 사용하는 용어의 뜻은 다음과 같다.
제3조의2(납세의무자) 사업자는 부가가치세를 납부할 의무가 있다.`

func TestSplitPacksShortArticles(t *testing.T) {
	chunks := NewSplitter(700, 120).Split(vatExcerpt)
	if len(chunks) != 1 {
		t.Fatalf("expected short articles packed into one chunk, got %d: %q", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "부가가치세법\n제1조(목적)") {
		t.Fatalf("unexpected chunk %q", chunks[0])
	}
}

func TestSplitKeepsArticlesWhole(t *testing.T) {
	chunks := NewSplitter(40, 10).Split(vatExcerpt)
	if len(chunks) != 4 {
		t.Fatalf("expected one chunk per article, got %d: %q", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[3], "제3조의2(납세의무자)") {
		t.Fatalf("expected article boundary at chunk start, got %q", chunks[3])
	}
}

func TestSplitWindowsLongArticle(t *testing.T) {
	long := "제10조(세율) " + strings.Repeat("가", 200)
	chunks := NewSplitter(100, 20).Split(long)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if utf8.RuneCountInString(chunk) > 100 {
			t.Fatalf("chunk exceeds size: %d runes", utf8.RuneCountInString(chunk))
		}
	}
}

func TestSplitWithoutArticlesFallsBackToWindow(t *testing.T) {
	chunks := NewSplitter(10, 2).Split(strings.Repeat("나", 25))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(chunks))
	}
	if NewSplitter(10, 2).Split("   ") != nil {
		t.Fatalf("expected no chunks for blank text")
	}
}
