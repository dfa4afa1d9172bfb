package relay

import (
	"github.com/lexiqai/caption-gateway/internal/caption"
)

// Client message types
const (
	MessagePartial = "partial"
	MessageFinal   = "final"
	MessageError   = "error"
)

// PartialMessage carries the in-progress text of the current segment
type PartialMessage struct {
	Type       string `json:"type"`
	SourceText string `json:"sourceText"`
	TargetText string `json:"targetText"`
	T0         int64  `json:"t0"`
	T1         int64  `json:"t1"`
}

// FinalMessage carries one finalized segment
type FinalMessage struct {
	Type string `json:"type"`
	caption.Segment
}

// ErrorMessage reports a non-fatal upstream problem to the client
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newPartialMessage(p caption.Partial) PartialMessage {
	return PartialMessage{
		Type:       MessagePartial,
		SourceText: p.SourceText,
		TargetText: p.TargetText,
		T0:         p.T0,
		T1:         p.T1,
	}
}

func newFinalMessage(seg caption.Segment) FinalMessage {
	return FinalMessage{Type: MessageFinal, Segment: seg}
}

func newErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: MessageError, Error: msg}
}
