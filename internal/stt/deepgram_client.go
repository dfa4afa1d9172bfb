package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

// deepgramCallback implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type deepgramCallback struct {
	*websocketv1api.DefaultCallbackHandler
	session *deepgramSession

	// continued is set once the current utterance has committed text, so the
	// next result is joined with a space
	continued bool
}

// Message converts one transcription result into a single token. Interim
// results are non-final and replace each other; final results commit.
func (c *deepgramCallback) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	if c.session.State() == StateErrored {
		c.session.logger.Debug().Msg("Dropping result from errored session")
		return nil
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	token := deepgramToken(alt.Transcript, msg.IsFinal, msg.Start, msg.Duration, c.session.language, c.continued)
	token.Confidence = alt.Confidence
	if msg.IsFinal {
		c.continued = true
	}

	c.session.emit(Event{Kind: EventTokens, Tokens: []Token{token}})
	return nil
}

// UtteranceEnd marks a segment boundary
func (c *deepgramCallback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.continued = false
	if c.session.State() == StateErrored {
		return nil
	}
	c.session.emit(Event{
		Kind:     EventTokens,
		Tokens:   []Token{{Text: EndMarker, IsFinal: true}},
		Boundary: true,
	})
	return nil
}

func (c *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	_ = c.session.transition(StateErrored)
	c.session.logger.Error().
		Str("type", er.Type).
		Str("description", er.Description).
		Msg("Deepgram reported an error")
	c.session.emit(Event{Kind: EventError, Err: &ProviderError{Message: strings.TrimSpace(er.Type + " " + er.Description)}})
	return nil
}

func (c *deepgramCallback) Close(cr *msginterfaces.CloseResponse) error {
	c.session.finish(nil)
	return nil
}

// deepgramToken builds a source token from one result. Offsets arrive in
// seconds.
func deepgramToken(transcript string, isFinal bool, start, duration float64, language string, continued bool) Token {
	text := transcript
	if continued {
		text = " " + text
	}
	return Token{
		Text:              text,
		IsFinal:           isFinal,
		Language:          language,
		TranslationStatus: StatusOriginal,
		StartMs:           Ms(int64(start * 1000)),
		EndMs:             Ms(int64((start + duration) * 1000)),
	}
}

// DeepgramProvider opens live transcription sessions with the Deepgram SDK.
// It has no translation stream.
type DeepgramProvider struct {
	config *config.Config
	logger zerolog.Logger
}

// NewDeepgramProvider creates a Deepgram streaming provider
func NewDeepgramProvider(cfg *config.Config) *DeepgramProvider {
	return &DeepgramProvider{
		config: cfg,
		logger: observability.WithComponent("deepgram"),
	}
}

func (p *DeepgramProvider) Name() string {
	return config.ProviderDeepgram
}

// Open begins a new Deepgram streaming transcription session
func (p *DeepgramProvider) Open(ctx context.Context) (Session, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	s := &deepgramSession{
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		cancel:   cancel,
		language: p.config.SourceLanguage(),
		logger:   p.logger,
	}

	// Browser audio is a container format, so encoding is left to detection
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          p.config.DeepgramModel,
		Language:       p.config.SourceLanguage(),
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: fmt.Sprintf("%d", p.config.SilenceFinalizeMs),
		VadEvents:      true,
	}

	callback := &deepgramCallback{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		session:                s,
	}

	client, err := listenClient.NewWSUsingCallback(sessCtx, p.config.DeepgramAPIKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		_ = s.transition(StateErrored)
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	s.client = client

	retryConfig := &resilience.RetryConfig{
		MaxAttempts:       max(1, p.config.RetryMaxAttempts),
		InitialBackoff:    time.Duration(p.config.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
	err = resilience.Retry(ctx, func() error {
		if !client.Connect() {
			return errors.New("deepgram websocket unavailable")
		}
		return nil
	}, retryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		cancel()
		_ = s.transition(StateErrored)
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}

	// Options travel with the connect request
	_ = s.transition(StateConfigured)
	_ = s.transition(StateStreaming)

	p.logger.Info().
		Str("model", p.config.DeepgramModel).
		Str("language", p.config.SourceLanguage()).
		Msg("Deepgram streaming session opened")
	return s, nil
}

// deepgramSession adapts the callback-driven SDK client to the Session
// event channel
type deepgramSession struct {
	stateMachine

	client   *listenClient.WSCallback
	language string
	cancel   context.CancelFunc

	events       chan Event
	done         chan struct{}
	closeOnce    sync.Once
	emitMu       sync.Mutex
	eventsClosed bool

	logger zerolog.Logger
}

func (s *deepgramSession) Events() <-chan Event {
	return s.events
}

func (s *deepgramSession) SendAudio(data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if _, err := s.client.Write(data); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

func (s *deepgramSession) Finalize() error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	if err := s.client.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize Deepgram utterance: %w", err)
	}
	return nil
}

func (s *deepgramSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.transition(StateClosed)
		close(s.done)
		s.client.Finish()
		s.cancel()
		s.finish(nil)
		s.logger.Debug().Msg("Deepgram streaming session closed")
	})
	return nil
}

func (s *deepgramSession) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// finish emits the closed event and closes the channel, once
func (s *deepgramSession) finish(err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	_ = s.transition(StateClosed)
	select {
	case s.events <- Event{Kind: EventClosed, Err: err}:
	case <-s.done:
	}
	s.eventsClosed = true
	close(s.events)
}
