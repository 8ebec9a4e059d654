package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/drawboard/internal/board"
	"github.com/christopherjohns/drawboard/internal/metrics"
	"github.com/christopherjohns/drawboard/internal/stroke"
)

// defaultReadLimit is the largest frame accepted from a client.
const defaultReadLimit = 64 << 10

// Handler upgrades HTTP requests to WebSockets and feeds client events to
// the relay.
type Handler struct {
	hub            *Hub
	relay          *board.Relay
	logger         zerolog.Logger
	originPatterns []string
	readLimit      int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// patterns. Without any, only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// WithReadLimit sets the maximum frame size in bytes.
func WithReadLimit(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// NewHandler creates a new WebSocket Handler.
func NewHandler(hub *Hub, relay *board.Relay, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:       hub,
		relay:     relay,
		logger:    logger.With().Str("component", "ws").Logger(),
		readLimit: defaultReadLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the HTTP connection to a WebSocket and runs the
// read loop for the client until it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(h.readLimit)

	client := &Client{
		conn: conn,
		id:   uuid.NewString(),
	}

	connCtx := h.hub.register(client)
	if connCtx.Err() != nil {
		return
	}
	h.logger.Info().Str("conn_id", client.id).Str("remote_addr", r.RemoteAddr).Msg("client connected")

	defer func() {
		h.relay.Disconnect(client.id)
		h.hub.unregister(client)
		h.logger.Info().Str("conn_id", client.id).Msg("client disconnected")
	}()

	h.readLoop(r.Context(), connCtx, client)
}

// readLoop reads frames from the client until the connection closes
// or the connection manager cancels connCtx.
func (h *Handler) readLoop(ctx, connCtx context.Context, client *Client) {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-connCtx.Done():
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(readCtx)
		if err != nil {
			// Normal close, read limit exceeded or context cancelled.
			return
		}

		// Mark activity so idle reaping doesn't close active connections.
		h.hub.ConnMgr().TouchActivity(client)

		var env board.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Debug().Err(err).Str("conn_id", client.id).Msg("dropping malformed frame")
			continue
		}
		h.dispatch(readCtx, client, env)
	}
}

// dispatch hands one client event to the relay. Draw and pen payloads are
// passed through as sent; only their roomId is read. Payloads that cannot be
// routed to a room are dropped since the protocol has no error replies.
func (h *Handler) dispatch(ctx context.Context, client *Client, env board.Envelope) {
	var err error
	switch env.Type {
	case board.EventSetUsername:
		var p board.AnnouncePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			h.relay.Announce(ctx, client.id, p.Username, p.RoomID)
		}
	case board.EventDraw:
		var seg stroke.Segment
		if seg, err = stroke.Parse(env.Payload); err == nil {
			h.relay.Draw(ctx, seg)
		}
	case board.EventUpdatePen:
		var p board.PenPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			h.relay.UpdatePen(client.id, p.Color, p.Size, p.RoomID)
		}
	case board.EventClearCanvas:
		var roomID string
		if err = json.Unmarshal(env.Payload, &roomID); err == nil {
			h.relay.Clear(ctx, roomID)
		}
	default:
		metrics.EventsReceived.WithLabelValues("unknown").Inc()
		h.logger.Debug().Str("conn_id", client.id).Str("type", env.Type).Msg("ignoring unknown event")
		return
	}

	metrics.EventsReceived.WithLabelValues(env.Type).Inc()
	if err != nil {
		h.logger.Debug().Err(err).Str("conn_id", client.id).Str("type", env.Type).Msg("dropping undecodable payload")
	}
}
