package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/caption-gateway/internal/caption"
	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
	"github.com/lexiqai/caption-gateway/internal/stt"
)

const writeWait = 10 * time.Second

// SegmentSink receives every finalized segment
type SegmentSink interface {
	Append(seg caption.Segment) error
}

// AudioSaver persists raw client audio. Save must not block.
type AudioSaver interface {
	Save(clientID string, data []byte) bool
}

// Options configures every session of a relay
type Options struct {
	SourceLanguage    string
	TargetLanguage    string
	Finalizer         FinalizerConfig
	EmitEmptySegments bool
	Reconnect         resilience.ReconnectConfig
}

// OptionsFromConfig builds session options from service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SourceLanguage: cfg.SourceLanguage(),
		TargetLanguage: cfg.TranslationTarget(),
		Finalizer: FinalizerConfig{
			Tick:       cfg.FinalizeTick(),
			Silence:    cfg.SilenceThreshold(),
			MaxSegment: cfg.MaxSegmentDuration(),
		},
		EmitEmptySegments: cfg.EmitEmptySegments,
		Reconnect: resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  10 * time.Second,
		},
	}
}

// Session bridges one client WebSocket and one upstream STT session.
//
// Three tasks run per session: the client read loop is the only writer of
// lastAudio, the upstream pump is the only user of the aggregator and the
// only writer to the client socket, and the finalizer only reads.
type Session struct {
	id       string
	conn     *websocket.Conn
	provider stt.Provider
	opts     Options

	upMu     sync.RWMutex
	upstream stt.Session
	closed   bool

	aggregator *caption.Aggregator
	finalizer  *Finalizer

	lastAudio     atomic.Int64 // unix nanos
	segmentOpened atomic.Int64 // unix nanos, 0 when no segment is open

	sink  SegmentSink
	audio AudioSaver

	cancel    context.CancelFunc
	closeOnce sync.Once

	metrics *observability.SessionMetrics
	logger  zerolog.Logger
}

func newSession(id string, conn *websocket.Conn, provider stt.Provider, upstream stt.Session, sink SegmentSink, audio AudioSaver, opts Options, cancel context.CancelFunc) *Session {
	s := &Session{
		id:         id,
		conn:       conn,
		provider:   provider,
		opts:       opts,
		upstream:   upstream,
		aggregator: caption.NewAggregator(opts.SourceLanguage, opts.TargetLanguage),
		sink:       sink,
		audio:      audio,
		cancel:     cancel,
		metrics:    observability.NewSessionMetrics(id, provider.Name()),
		logger:     observability.WithClientID(id).With().Str("provider", provider.Name()).Logger(),
	}
	s.lastAudio.Store(time.Now().UnixNano())
	s.finalizer = NewFinalizer(opts.Finalizer, s.lastAudioAt, s.segmentOpenedAt, s.sendFinalize)
	return s
}

// ID returns the client id
func (s *Session) ID() string {
	return s.id
}

// Run serves the session until the client leaves or the upstream cannot
// be recovered. The session is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Caption session started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.cancel()
		return s.readClient()
	})
	g.Go(func() error {
		defer s.cancel()
		return s.pumpUpstream(gctx)
	})
	g.Go(func() error {
		s.finalizer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		// Unblocks the client read loop on teardown
		<-gctx.Done()
		s.Close()
		return nil
	})

	err := g.Wait()

	partials, finals, audioBytes, duration := s.metrics.Summary()
	s.logger.Info().
		Int("partials", partials).
		Int("finals", finals).
		Int64("audio_bytes", audioBytes).
		Dur("duration", duration).
		Msg("Caption session ended")
	return err
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.upMu.Lock()
		s.closed = true
		up := s.upstream
		s.upMu.Unlock()
		if up != nil {
			if err := up.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Error closing upstream session")
			}
		}

		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = s.conn.Close()
		s.metrics.RecordSessionEnd()
	})
}

func (s *Session) currentUpstream() stt.Session {
	s.upMu.RLock()
	defer s.upMu.RUnlock()
	return s.upstream
}

// setUpstream swaps in a reconnected session. It reports false and closes
// up when the relay session already closed.
func (s *Session) setUpstream(up stt.Session) bool {
	s.upMu.Lock()
	if s.closed {
		s.upMu.Unlock()
		_ = up.Close()
		return false
	}
	s.upstream = up
	s.upMu.Unlock()
	return true
}

func (s *Session) lastAudioAt() time.Time {
	return time.Unix(0, s.lastAudio.Load())
}

func (s *Session) segmentOpenedAt() time.Time {
	v := s.segmentOpened.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// readClient forwards binary frames upstream. Text frames are ignored.
func (s *Session) readClient() error {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn().Err(err).Msg("Client WebSocket read error")
			}
			return nil
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.handleAudio(data)
	}
}

func (s *Session) handleAudio(data []byte) {
	s.lastAudio.Store(time.Now().UnixNano())
	s.metrics.RecordAudioBytes(int64(len(data)))

	if s.audio != nil {
		s.audio.Save(s.id, data)
	}

	if err := s.currentUpstream().SendAudio(data); err != nil {
		// Chunks arriving while the upstream is down are dropped
		if !errors.Is(err, stt.ErrSessionClosed) {
			s.logger.Warn().Err(err).Msg("Failed to forward audio upstream")
			s.metrics.RecordError("stt_send_error", s.provider.Name())
		}
	}
}

func (s *Session) sendFinalize(reason string) error {
	err := s.currentUpstream().Finalize()
	if err != nil {
		if !errors.Is(err, stt.ErrSessionClosed) && !errors.Is(err, stt.ErrNotStreaming) {
			s.logger.Warn().Err(err).Str("reason", reason).Msg("Failed to send finalize directive")
		}
		return err
	}
	s.metrics.RecordFinalize(reason)
	s.logger.Debug().Str("reason", reason).Msg("Finalize directive sent")
	return nil
}

// pumpUpstream consumes upstream events in order
func (s *Session) pumpUpstream(ctx context.Context) error {
	for {
		up := s.currentUpstream()

		var ev stt.Event
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case ev, ok = <-up.Events():
		}
		if !ok {
			ev = stt.Event{Kind: stt.EventClosed}
		}

		switch ev.Kind {
		case stt.EventTokens:
			s.handleTokens(ev)

		case stt.EventError:
			s.handleUpstreamError(ev.Err)

		case stt.EventClosed:
			if ctx.Err() != nil {
				return nil
			}
			if err := s.reconnect(ctx, ev.Err); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.send(newErrorMessage("upstream unavailable"))
				return err
			}
		}
	}
}

func (s *Session) handleTokens(ev stt.Event) {
	if s.aggregator.ApplyTokens(ev.Tokens) {
		p := s.aggregator.Partial()
		if s.segmentOpened.Load() == 0 && (p.SourceText != "" || p.TargetText != "") {
			s.segmentOpened.Store(time.Now().UnixNano())
		}
		if s.send(newPartialMessage(p)) == nil {
			s.metrics.RecordPartial()
		}
	}

	if ev.Boundary {
		s.finalizeSegment()
	}
}

func (s *Session) finalizeSegment() {
	seg := s.aggregator.FinalizeSegment()
	s.segmentOpened.Store(0)

	if seg.IsEmpty() {
		s.metrics.RecordEmptySegment()
		if !s.opts.EmitEmptySegments {
			return
		}
	}

	if err := s.sink.Append(seg); err != nil {
		s.logger.Error().Err(err).Str("segment_id", seg.ID).Msg("Failed to append segment to transcript")
		observability.RecordPersistenceFailure("transcript_append")
	}

	if s.send(newFinalMessage(seg)) == nil {
		s.metrics.RecordFinal()
	}
	s.logger.Debug().
		Str("segment_id", seg.ID).
		Int64("t0", seg.T0).
		Int64("t1", seg.T1).
		Msg("Segment finalized")
}

func (s *Session) handleUpstreamError(err error) {
	kind := "protocol"
	msg := "upstream error"

	var perr *stt.ProviderError
	switch {
	case errors.As(err, &perr):
		kind = "provider"
		msg = perr.Error()
	case errors.Is(err, stt.ErrMalformedMessage):
		kind = "parse"
		msg = "malformed upstream message"
	}

	s.metrics.RecordProviderError(kind)
	if s.send(newErrorMessage(msg)) == nil {
		s.metrics.RecordClientError()
	}
}

// reconnect replaces a dropped upstream while the client is still here
func (s *Session) reconnect(ctx context.Context, cause error) error {
	s.logger.Warn().Err(cause).Msg("Upstream session closed, reconnecting")
	_ = s.currentUpstream().Close()

	cfg := s.opts.Reconnect
	cfg.Logger = s.logger
	err := resilience.Reconnect(ctx, func() error {
		up, err := s.provider.Open(ctx)
		if err != nil {
			return err
		}
		if !s.setUpstream(up) {
			return context.Canceled
		}
		return nil
	}, &cfg)

	if ctx.Err() == nil {
		s.metrics.RecordReconnect(err == nil)
	}
	return err
}

// send writes one JSON message to the client. Only the pump calls it.
func (s *Session) send(v interface{}) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write to client")
		return err
	}
	return nil
}
