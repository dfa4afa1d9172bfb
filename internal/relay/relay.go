package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/stt"
)

// Relay accepts caption clients and runs one Session per connection
type Relay struct {
	provider stt.Provider
	sink     SegmentSink
	audio    AudioSaver
	registry *Registry
	opts     Options

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a relay. audio may be nil when audio persistence is off.
func New(provider stt.Provider, sink SegmentSink, audio AudioSaver, registry *Registry, opts Options) *Relay {
	return &Relay{
		provider: provider,
		sink:     sink,
		audio:    audio,
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			// The capture page may be served from another origin
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  16384,
			WriteBufferSize: 4096,
		},
		logger: observability.WithComponent("relay"),
	}
}

// Registry returns the live session registry
func (r *Relay) Registry() *Registry {
	return r.registry
}

// HandleWS is the entry point for caption client WebSocket connections
func (r *Relay) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error
			r.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		clientID := uuid.NewString()
		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()

		upstream, err := r.provider.Open(ctx)
		if err != nil {
			r.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to open upstream session")
			observability.RecordProviderOpenFailure(r.provider.Name())
			r.reject(conn, "upstream unavailable")
			return
		}

		session := newSession(clientID, conn, r.provider, upstream, r.sink, r.audio, r.opts, cancel)
		if !r.registry.Add(session) {
			_ = upstream.Close()
			r.reject(conn, "server shutting down")
			return
		}
		defer r.registry.Remove(clientID)

		if err := session.Run(ctx); err != nil {
			r.logger.Warn().Err(err).Str("client_id", clientID).Msg("Caption session ended with error")
		}
	}
}

// reject reports a startup failure to the client and closes the socket
func (r *Relay) reject(conn *websocket.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(newErrorMessage(msg))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, msg),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}
