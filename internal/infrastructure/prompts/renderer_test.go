package prompts

import (
	"strings"
	"testing"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

type document struct {
	Index     int
	Partition string
	Source    string
	Page      string
	Title     string
	Content   string
}

type answerData struct {
	Question  string
	Documents []document
	History   []domain.Turn
	Summary   string
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewDefault()
	if err != nil {
		t.Fatalf("NewDefault() error = %v", err)
	}
	return r
}

func TestRenderRouterListsEveryPartition(t *testing.T) {
	messages, err := newRenderer(t).Render("partition_router", struct {
		Question   string
		Partitions []domain.Partition
	}{Question: "양도소득세 신고 기한은?", Partitions: domain.Partitions()})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(messages) != 2 || messages[0].Role != domain.ChatRoleSystem || messages[1].Role != domain.ChatRoleUser {
		t.Fatalf("unexpected messages %+v", messages)
	}
	for _, partition := range domain.Partitions() {
		if !strings.Contains(messages[0].Content, "- "+partition.String()+": ") {
			t.Fatalf("router prompt misses %s", partition)
		}
	}
	if !strings.Contains(messages[0].Content, "소득세법 (개인소득, 급여, 사업소득)") {
		t.Fatalf("expected partition descriptions in router prompt")
	}
	if messages[1].Content != "양도소득세 신고 기한은?" {
		t.Fatalf("unexpected user message %q", messages[1].Content)
	}
}

func TestRenderLawAnswerIncludesContextAndConversation(t *testing.T) {
	messages, err := newRenderer(t).Render("law_answer", answerData{
		Question: "종합소득세 세율은?",
		Documents: []document{
			{Index: 1, Partition: "income-tax-act", Source: "소득세법.pdf", Page: "12", Content: "제55조(세율) 거주자의 종합소득에 대한 소득세는 ..."},
		},
		History: []domain.Turn{
			{Role: domain.RoleUser, Content: "연봉이 5천만원입니다."},
			{Role: domain.RoleAssistant, Content: "네, 알겠습니다."},
		},
		Summary: "사용자는 직장인이다.",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	system := messages[0].Content
	for _, want := range []string{
		"세법 전문가",
		"[1] 법률=income-tax-act 출처=소득세법.pdf 쪽=12",
		"제55조(세율)",
		"사용자: 연봉이 5천만원입니다.",
		"AI: 네, 알겠습니다.",
		"사용자는 직장인이다.",
	} {
		if !strings.Contains(system, want) {
			t.Fatalf("expected %q in system prompt:\n%s", want, system)
		}
	}
	if messages[1].Content != "종합소득세 세율은?" {
		t.Fatalf("unexpected user message %q", messages[1].Content)
	}
}

func TestRenderWebAnswerWithoutConversation(t *testing.T) {
	messages, err := newRenderer(t).Render("web_answer", answerData{
		Question:  "q",
		Documents: []document{{Index: 1, Source: "https://nts.go.kr", Content: "홈택스 안내"}},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(messages[0].Content, "이전 대화 요약") || strings.Contains(messages[0].Content, "최근 대화") {
		t.Fatalf("expected no conversation block:\n%s", messages[0].Content)
	}
	if !strings.Contains(messages[0].Content, "웹 검색 결과") || !strings.Contains(messages[0].Content, "홈택스 안내") {
		t.Fatalf("unexpected web prompt:\n%s", messages[0].Content)
	}
}

func TestRenderSummaryTemplates(t *testing.T) {
	r := newRenderer(t)
	turns := []domain.Turn{{Role: domain.RoleUser, Content: "부가세 신고는 언제?"}}

	initial, err := r.Render("summary_initial", struct {
		Turns           []domain.Turn
		PreviousSummary string
	}{Turns: turns})
	if err != nil {
		t.Fatalf("Render(initial) error = %v", err)
	}
	if !strings.Contains(initial[1].Content, "사용자: 부가세 신고는 언제?") {
		t.Fatalf("unexpected initial summary prompt %q", initial[1].Content)
	}

	incremental, err := r.Render("summary_incremental", struct {
		Turns           []domain.Turn
		PreviousSummary string
	}{Turns: turns, PreviousSummary: "이전 요약 본문"})
	if err != nil {
		t.Fatalf("Render(incremental) error = %v", err)
	}
	if !strings.Contains(incremental[1].Content, "이전 요약 본문") {
		t.Fatalf("expected previous summary in prompt %q", incremental[1].Content)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := newRenderer(t).Render("missing", nil); err == nil {
		t.Fatalf("expected error for unknown template")
	}
}

func TestNewRejectsBrokenCatalog(t *testing.T) {
	if _, err := New([]byte("templates:\n  bad:\n    user: \"{{ .Question \"\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}
