package stt

import (
	"context"
	"errors"
	"fmt"
)

// Boundary marker texts. They carry no linguistic content.
const (
	EndMarker      = "<end>"
	FinalizeMarker = "<fin>"
)

// Translation roles a token can carry
const (
	StatusOriginal    = "original"
	StatusTranslation = "translation"
	StatusNone        = "none"
)

var (
	// ErrSessionClosed is returned when writing to a session that has been closed
	ErrSessionClosed = errors.New("stt session is closed")

	// ErrNotStreaming is returned when a finalize directive is sent before the
	// session reached Streaming or after it errored
	ErrNotStreaming = errors.New("stt session is not streaming")

	// ErrMalformedMessage wraps provider messages that could not be decoded
	ErrMalformedMessage = errors.New("malformed provider message")
)

// Token is the smallest unit of provider output
type Token struct {
	Text              string  `json:"text"`
	IsFinal           bool    `json:"is_final,omitempty"`
	Language          string  `json:"language,omitempty"`
	TranslationStatus string  `json:"translation_status,omitempty"`
	StartMs           *int64  `json:"start_ms,omitempty"`
	EndMs             *int64  `json:"end_ms,omitempty"`
	Speaker           string  `json:"speaker,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
}

// IsMarker reports whether the token is a boundary sentinel
func (t Token) IsMarker() bool {
	return t.Text == EndMarker || t.Text == FinalizeMarker
}

// ContainsBoundary reports whether any token in the batch is a boundary marker
func ContainsBoundary(tokens []Token) bool {
	for _, tk := range tokens {
		if tk.IsMarker() {
			return true
		}
	}
	return false
}

// Ms returns a pointer to a millisecond offset, for building tokens
func Ms(v int64) *int64 {
	return &v
}

// ProviderError is an error-coded message reported by the provider
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// EventKind classifies events emitted by an upstream session
type EventKind int

const (
	EventTokens EventKind = iota
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventTokens:
		return "tokens"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one message from the upstream session to the relay
type Event struct {
	Kind EventKind

	// Tokens is set for EventTokens
	Tokens []Token

	// Boundary is true when Tokens contains an end or finalize marker
	Boundary bool

	// Err is set for EventError (a *ProviderError or a malformed message)
	// and, optionally, for EventClosed when the connection dropped
	Err error
}

// Session is one live connection to the streaming provider
type Session interface {
	// SendAudio forwards raw audio bytes verbatim, in call order
	SendAudio(data []byte) error

	// Finalize asks the provider to end the current utterance now
	Finalize() error

	// Events returns the ordered stream of provider events. The channel is
	// closed after the EventClosed event.
	Events() <-chan Event

	// State returns the current adapter state
	State() State

	// Close releases provider resources. Safe to call more than once.
	Close() error
}

// Provider opens streaming sessions
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// Open connects, configures and returns a session in the Streaming state
	Open(ctx context.Context) (Session, error)
}
