package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

func TestDecideGrounding(t *testing.T) {
	cases := []struct {
		name    string
		count   int
		verdict domain.RelevanceVerdict
		err     error
		want    domain.GateDecision
	}{
		{"no documents", 0, 0, nil, domain.GateDecision{Grounding: domain.GroundingWeb, Reason: domain.GateNoDocuments}},
		{"two documents", 2, domain.VerdictUnanswerable, nil, domain.GateDecision{Grounding: domain.GroundingCorpus, Reason: domain.GateVolume}},
		{"many documents", 8, 0, nil, domain.GateDecision{Grounding: domain.GroundingCorpus, Reason: domain.GateVolume}},
		{"single answerable", 1, domain.VerdictAnswerable, nil, domain.GateDecision{Grounding: domain.GroundingCorpus, Reason: domain.GateClassifierGrounded}},
		{"single unanswerable", 1, domain.VerdictUnanswerable, nil, domain.GateDecision{Grounding: domain.GroundingWeb, Reason: domain.GateClassifierRejected}},
		{"single classifier error", 1, domain.VerdictUnanswerable, errors.New("boom"), domain.GateDecision{Grounding: domain.GroundingCorpus, Reason: domain.GateClassifierFailed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decideGrounding(tc.count, tc.verdict, tc.err); got != tc.want {
				t.Fatalf("decideGrounding() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func newGateForTest(reply string) (*RelevanceGate, *modelFake, *promptFake) {
	model := &modelFake{jsonReplies: map[string][]byte{PromptRelevanceCheck: []byte(reply)}}
	prompts := &promptFake{}
	return NewRelevanceGate(model, prompts, domain.ModelProfile{Model: primaryModel}, 600), model, prompts
}

func TestEvaluateSkipsClassifierUnlessSingleDocument(t *testing.T) {
	for _, count := range []int{0, 2, 3} {
		gate, model, _ := newGateForTest(`{"score":1}`)
		docs := make([]domain.RetrievedDocument, 0, count)
		for i := 0; i < count; i++ {
			docs = append(docs, statuteDoc(domain.PartitionIncomeTax, string(rune('a'+i))))
		}

		gate.Evaluate(context.Background(), "q", docs)
		if calls := model.jsonCallCount(PromptRelevanceCheck); calls != 0 {
			t.Fatalf("count=%d: expected no classifier call, got %d", count, calls)
		}
	}
}

func TestEvaluateSingleDocumentFollowsVerdict(t *testing.T) {
	gate, model, prompts := newGateForTest(`{"score":0}`)
	doc := statuteDoc(domain.PartitionIncomeTax, "제55조(세율) 거주자의 종합소득에 대한 소득세는 ...")

	decision := gate.Evaluate(context.Background(), "종합소득세율은?", []domain.RetrievedDocument{doc})
	if decision.Grounding != domain.GroundingCorpus || decision.Reason != domain.GateClassifierGrounded {
		t.Fatalf("expected corpus grounding, got %+v", decision)
	}
	if model.jsonCallCount(PromptRelevanceCheck) != 1 {
		t.Fatalf("expected one classifier call")
	}
	data, _ := prompts.lastData(PromptRelevanceCheck)
	if rendered := data.(relevancePromptData); len(rendered.Documents) != 1 || rendered.Question != "종합소득세율은?" {
		t.Fatalf("unexpected classifier prompt data: %+v", rendered)
	}

	gate, _, _ = newGateForTest(`{"score":1}`)
	decision = gate.Evaluate(context.Background(), "q", []domain.RetrievedDocument{doc})
	if decision.Grounding != domain.GroundingWeb || decision.Reason != domain.GateClassifierRejected {
		t.Fatalf("expected web fallback, got %+v", decision)
	}
}

func TestEvaluateFailsOpenOnClassifierProblems(t *testing.T) {
	doc := statuteDoc(domain.PartitionIncomeTax, "x")
	for name, reply := range map[string]string{
		"out of range": `{"score":7}`,
		"missing":      `{}`,
		"not json":     `yes`,
	} {
		t.Run(name, func(t *testing.T) {
			gate, _, _ := newGateForTest(reply)
			decision := gate.Evaluate(context.Background(), "q", []domain.RetrievedDocument{doc})
			if decision.Grounding != domain.GroundingCorpus || decision.Reason != domain.GateClassifierFailed {
				t.Fatalf("expected fail-open to corpus, got %+v", decision)
			}
		})
	}

	gate, model, _ := newGateForTest(`{"score":1}`)
	model.jsonErr = domain.WrapError(domain.ErrTemporary, "chat", errors.New("connection refused"))
	if decision := gate.Evaluate(context.Background(), "q", []domain.RetrievedDocument{doc}); decision.Grounding != domain.GroundingCorpus {
		t.Fatalf("expected corpus grounding on transport error, got %+v", decision)
	}
}

func TestDecodeRelevanceVerdictMarksMalformedOutput(t *testing.T) {
	if _, err := decodeRelevanceVerdict([]byte(`{"score":2}`)); !domain.IsKind(err, domain.ErrMalformedOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
	verdict, err := decodeRelevanceVerdict([]byte(`{"score":1}`))
	if err != nil || verdict != domain.VerdictUnanswerable {
		t.Fatalf("expected unanswerable verdict, got %v (%v)", verdict, err)
	}
}
