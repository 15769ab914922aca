package domain

import "strings"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant, "ai":
		return RoleAssistant, true
	default:
		return "", false
	}
}

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Query is the immutable input of one question-answering request.
type Query struct {
	Question string
	History  []Turn
	Summary  string
}

func NewQuery(question string, history []Turn, summary string) (Query, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Query{}, WrapError(ErrInvalidInput, "new query", errEmptyQuestion)
	}
	turns := make([]Turn, len(history))
	copy(turns, history)
	return Query{
		Question: question,
		History:  turns,
		Summary:  strings.TrimSpace(summary),
	}, nil
}

// RecentTurns returns at most limit turns from the end of the history.
func (q Query) RecentTurns(limit int) []Turn {
	if limit <= 0 || len(q.History) == 0 {
		return nil
	}
	if len(q.History) <= limit {
		return q.History
	}
	return q.History[len(q.History)-limit:]
}

// ConversationSummary is a running digest supplied by the caller on every request.
type ConversationSummary struct {
	Text      string `json:"summary"`
	TurnCount int    `json:"turn_count"`
}

func (s *ConversationSummary) Empty() bool {
	return s == nil || strings.TrimSpace(s.Text) == ""
}
