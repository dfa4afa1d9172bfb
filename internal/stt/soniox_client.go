package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

// TranslationConfig requests provider-side translation
type TranslationConfig struct {
	Type           string `json:"type"` // one_way
	TargetLanguage string `json:"target_language"`
}

// sonioxStreamConfig is the single configuration message sent after connect
type sonioxStreamConfig struct {
	APIKey                  string             `json:"api_key"`
	Model                   string             `json:"model"`
	AudioFormat             string             `json:"audio_format"`
	LanguageHints           []string           `json:"language_hints,omitempty"`
	EnableEndpointDetection bool               `json:"enable_endpoint_detection"`
	Translation             *TranslationConfig `json:"translation,omitempty"`
}

// sonioxResponse covers token, error and end-of-stream messages
type sonioxResponse struct {
	Tokens           []Token `json:"tokens"`
	FinalAudioProcMs int64   `json:"final_audio_proc_ms,omitempty"`
	TotalAudioProcMs int64   `json:"total_audio_proc_ms,omitempty"`
	ErrorCode        int     `json:"error_code,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	Finished         bool    `json:"finished,omitempty"`
}

// SonioxProvider opens real-time sessions against the Soniox WebSocket API
type SonioxProvider struct {
	config *config.Config
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewSonioxProvider creates a provider for the configured Soniox endpoint
func NewSonioxProvider(cfg *config.Config) *SonioxProvider {
	return &SonioxProvider{
		config: cfg,
		url:    cfg.SonioxWSURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  16384,
		},
		logger: observability.WithComponent("soniox"),
	}
}

func (p *SonioxProvider) Name() string {
	return config.ProviderSoniox
}

// streamConfig builds the configuration message from service config
func (p *SonioxProvider) streamConfig() sonioxStreamConfig {
	msg := sonioxStreamConfig{
		APIKey:                  p.config.SonioxAPIKey,
		Model:                   p.config.Model,
		AudioFormat:             "auto",
		LanguageHints:           p.config.LanguageHints,
		EnableEndpointDetection: p.config.EnableEndpointDetection,
	}
	if target := p.config.TranslationTarget(); target != "" {
		msg.Translation = &TranslationConfig{Type: "one_way", TargetLanguage: target}
	}
	return msg
}

// Open connects to Soniox, sends the configuration message and starts
// the read loop. The returned session is in the Streaming state.
func (p *SonioxProvider) Open(ctx context.Context) (Session, error) {
	s := &sonioxSession{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		logger: p.logger,
	}

	retryConfig := &resilience.RetryConfig{
		MaxAttempts:       max(1, p.config.RetryMaxAttempts),
		InitialBackoff:    time.Duration(p.config.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}

	err := resilience.Retry(ctx, func() error {
		conn, resp, err := p.dialer.DialContext(ctx, p.url, nil)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("dial %s: http %d: %w", p.url, resp.StatusCode, err)
			}
			return fmt.Errorf("dial %s: %w", p.url, err)
		}
		s.conn = conn
		return nil
	}, retryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		_ = s.transition(StateErrored)
		return nil, fmt.Errorf("failed to connect to soniox: %w", err)
	}

	if err := s.writeJSON(p.streamConfig()); err != nil {
		_ = s.transition(StateErrored)
		s.conn.Close()
		return nil, fmt.Errorf("failed to send soniox config: %w", err)
	}
	_ = s.transition(StateConfigured)

	go s.readLoop()

	_ = s.transition(StateStreaming)

	p.logger.Info().
		Str("model", p.config.Model).
		Strs("language_hints", p.config.LanguageHints).
		Str("target_language", p.config.TranslationTarget()).
		Msg("Soniox streaming session opened")
	return s, nil
}

// sonioxSession is one Soniox WebSocket connection
type sonioxSession struct {
	stateMachine

	conn    *websocket.Conn
	writeMu sync.Mutex

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

func (s *sonioxSession) Events() <-chan Event {
	return s.events
}

// SendAudio writes one binary frame. Empty chunks are skipped since an
// empty frame means end-of-audio to Soniox.
func (s *sonioxSession) SendAudio(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send audio to soniox: %w", err)
	}
	return nil
}

// Finalize sends the manual finalization directive
func (s *sonioxSession) Finalize() error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	return s.writeJSON(map[string]string{"type": "finalize"})
}

func (s *sonioxSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close signals end of audio, closes the socket and discards any events
// still in flight.
func (s *sonioxSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.transition(StateClosed)
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.BinaryMessage, []byte{})
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
		s.logger.Debug().Msg("Soniox streaming session closed")
	})
	return err
}

// emit delivers an event unless the session is already closed
func (s *sonioxSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// readLoop is the only producer of events
func (s *sonioxSession) readLoop() {
	var closeErr error
	defer func() {
		_ = s.transition(StateClosed)
		s.emit(Event{Kind: EventClosed, Err: closeErr})
		close(s.events)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					closeErr = err
					s.logger.Warn().Err(err).Msg("Soniox connection lost")
				}
			}
			return
		}

		var msg sonioxResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse Soniox message")
			s.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrMalformedMessage, err)})
			continue
		}

		if msg.ErrorCode != 0 || msg.ErrorMessage != "" {
			_ = s.transition(StateErrored)
			perr := &ProviderError{Code: msg.ErrorCode, Message: msg.ErrorMessage}
			s.logger.Error().
				Int("error_code", msg.ErrorCode).
				Str("error_message", msg.ErrorMessage).
				Msg("Soniox reported an error")
			s.emit(Event{Kind: EventError, Err: perr})
			continue
		}

		if len(msg.Tokens) > 0 {
			if s.State() == StateErrored {
				s.logger.Debug().Int("tokens", len(msg.Tokens)).Msg("Dropping tokens from errored session")
			} else {
				s.emit(Event{
					Kind:     EventTokens,
					Tokens:   msg.Tokens,
					Boundary: ContainsBoundary(msg.Tokens),
				})
			}
		}

		if msg.Finished {
			return
		}
	}
}
