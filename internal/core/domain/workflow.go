package domain

import (
	"errors"
	"time"
)

var errEmptyQuestion = errors.New("question is empty")

type Grounding string

const (
	GroundingCorpus Grounding = "corpus"
	GroundingWeb    Grounding = "web"
)

// Stage is a node of the answering state machine.
type Stage string

const (
	StageStart     Stage = "start"
	StageRetrieve  Stage = "retrieve"
	StageWebSearch Stage = "web_search"
	StageGenerate  Stage = "generate"
	StageDone      Stage = "done"
)

// GateReason records why the relevance gate chose its grounding.
type GateReason string

const (
	GateNoDocuments        GateReason = "no_documents"
	GateVolume             GateReason = "volume"
	GateClassifierGrounded GateReason = "classifier_grounded"
	GateClassifierRejected GateReason = "classifier_rejected"
	GateClassifierFailed   GateReason = "classifier_failed"
)

type GateDecision struct {
	Grounding Grounding
	Reason    GateReason
}

// RelevanceVerdict is the binary classifier output: 0 answers from the
// document, 1 does not.
type RelevanceVerdict int

const (
	VerdictAnswerable   RelevanceVerdict = 0
	VerdictUnanswerable RelevanceVerdict = 1
)

func (v RelevanceVerdict) Valid() bool {
	return v == VerdictAnswerable || v == VerdictUnanswerable
}

// WorkflowState is threaded through one request and discarded afterwards.
type WorkflowState struct {
	Query      Query
	Partitions []Partition
	Documents  []RetrievedDocument
	Grounding  Grounding
	GateReason GateReason
	Answer     string
}

func (s *WorkflowState) GroundedInCorpus() bool {
	return s.Grounding == GroundingCorpus
}

type AnswerResult struct {
	Answer           string        `json:"answer"`
	GroundedInCorpus bool          `json:"grounded_in_corpus"`
	Grounding        Grounding     `json:"grounding"`
	Partitions       []Partition   `json:"partitions"`
	DocumentCount    int           `json:"document_count"`
	GateReason       GateReason    `json:"gate_reason"`
	Elapsed          time.Duration `json:"-"`
}

// StreamEvent carries either a re-chunked text fragment or the terminal error.
type StreamEvent struct {
	Text string
	Err  error
}

// AnswerStream describes a streamed answer. Events is closed after the last
// fragment or after the first error.
type AnswerStream struct {
	Grounding     Grounding
	Partitions    []Partition
	DocumentCount int
	GateReason    GateReason
	Events        <-chan StreamEvent
}
