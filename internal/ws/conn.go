package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/drawboard/internal/metrics"
)

const (
	// defaultSendBufferSize is how many relay frames may wait for one client.
	defaultSendBufferSize = 256

	// writeTimeout bounds a single frame write.
	writeTimeout = 5 * time.Second

	// idleCheckInterval caps the period of the idle sweep.
	idleCheckInterval = 30 * time.Second
)

// session is the manager's bookkeeping for one registered client.
type session struct {
	cancel      context.CancelFunc
	connectedAt time.Time
	lastActive  time.Time
}

// ConnStats is a snapshot of the manager's counters, reported by /health.
type ConnStats struct {
	Active          int   `json:"active"`
	MaxConns        int   `json:"max_conns"`
	Rejected        int64 `json:"rejected"`
	DroppedMessages int64 `json:"dropped_messages"`
	IdleReaped      int64 `json:"idle_reaped"`
}

// ConnManager owns the outbound side of every board connection. The Hub
// registers each accepted client here; the manager gives it a queue drained
// by a write pump, so relay broadcasts never wait on a slow socket. It also
// enforces the connection cap and closes clients that stop sending.
type ConnManager struct {
	mu         sync.Mutex
	clients    map[*Client]*session
	closed     bool
	maxConns   int
	idleTTL    time.Duration
	bufferSize int
	stopIdle   context.CancelFunc
	logger     zerolog.Logger

	rejected        atomic.Int64
	droppedMessages atomic.Int64
	idleReaped      atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns caps concurrent connections. Clients over the cap are closed
// with StatusTryAgainLater. 0 means no cap (default).
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// WithIdleTimeout closes clients that have sent nothing for d. 0 disables
// the sweep (default).
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.idleTTL = d
	}
}

// WithSendBuffer sets the per-client outbound queue length.
func WithSendBuffer(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		if n > 0 {
			cm.bufferSize = n
		}
	}
}

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(logger zerolog.Logger) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.logger = logger
	}
}

// NewConnManager creates a ConnManager and, if an idle timeout is set,
// starts its sweep.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		clients:    make(map[*Client]*session),
		bufferSize: defaultSendBufferSize,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.idleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopIdle = cancel
		go cm.idleReapLoop(ctx)
	}
	return cm
}

// Add admits a client and starts its write pump. The Handler stops reading
// from the socket once the returned context is done, which happens when the
// client is reaped or the server shuts down. A client that cannot be
// admitted is closed and gets an already cancelled context.
func (cm *ConnManager) Add(c *Client) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		metrics.ConnectionsRejected.WithLabelValues("shutdown").Inc()
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return cancelledContext()
	}
	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.rejected.Add(1)
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		c.conn.Close(websocket.StatusTryAgainLater, "server at capacity")
		return cancelledContext()
	}

	now := time.Now()
	c.send = make(chan []byte, cm.bufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	cm.clients[c] = &session{
		cancel:      cancel,
		connectedAt: now,
		lastActive:  now,
	}
	metrics.ConnectionsActive.Inc()

	go cm.writePump(ctx, c)
	return ctx
}

// Remove releases a client after its read loop has ended.
func (cm *ConnManager) Remove(c *Client) {
	cm.mu.Lock()
	s := cm.detachLocked(c)
	cm.mu.Unlock()

	if s != nil {
		s.cancel()
		cm.logger.Debug().
			Str("conn_id", c.id).
			Dur("duration", time.Since(s.connectedAt)).
			Msg("connection released")
	}
}

// detachLocked forgets c and closes its queue, returning its session or nil
// if c was not registered. Must be called while holding mu.
func (cm *ConnManager) detachLocked(c *Client) *session {
	s, ok := cm.clients[c]
	if !ok {
		return nil
	}
	delete(cm.clients, c)
	close(c.send)
	metrics.ConnectionsActive.Dec()
	return s
}

// Send queues a relay frame for c without blocking. A full queue drops the
// frame; frames for a client already released are discarded. It reports
// whether the frame was queued.
func (cm *ConnManager) Send(c *Client, data []byte) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		cm.droppedMessages.Add(1)
		metrics.MessagesDropped.Inc()
		cm.logger.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping frame")
		return false
	}
}

// TouchActivity is called by the Handler for every frame it reads from c.
func (cm *ConnManager) TouchActivity(c *Client) {
	cm.mu.Lock()
	if s, ok := cm.clients[c]; ok {
		s.lastActive = time.Now()
	}
	cm.mu.Unlock()
}

// Count returns the number of admitted clients.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns a snapshot of the manager's counters.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	cm.mu.Unlock()
	return ConnStats{
		Active:          active,
		MaxConns:        cm.maxConns,
		Rejected:        cm.rejected.Load(),
		DroppedMessages: cm.droppedMessages.Load(),
		IdleReaped:      cm.idleReaped.Load(),
	}
}

// Shutdown closes every client with StatusGoingAway and refuses new ones.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	released := make(map[*Client]*session, len(cm.clients))
	for c := range cm.clients {
		released[c] = cm.detachLocked(c)
	}
	cm.mu.Unlock()

	if cm.stopIdle != nil {
		cm.stopIdle()
	}
	for c, s := range released {
		s.cancel()
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (cm *ConnManager) idleReapLoop(ctx context.Context) {
	interval := min(idleCheckInterval, cm.idleTTL/2)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.reapIdle()
		}
	}
}

// reapIdle closes clients whose last frame is older than idleTTL. Their
// read loops end through the cancelled context and the Handler then runs
// the relay's disconnect.
func (cm *ConnManager) reapIdle() {
	cm.mu.Lock()
	cutoff := time.Now().Add(-cm.idleTTL)
	stale := make(map[*Client]*session)
	for c, s := range cm.clients {
		if s.lastActive.Before(cutoff) {
			stale[c] = cm.detachLocked(c)
		}
	}
	cm.mu.Unlock()

	for c, s := range stale {
		s.cancel()
		c.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
		cm.idleReaped.Add(1)
		metrics.IdleReaped.Inc()
		cm.logger.Info().
			Str("conn_id", c.id).
			Dur("duration", time.Since(s.connectedAt)).
			Msg("reaped idle connection")
	}
}

// writePump writes queued frames to the socket until the queue is closed,
// ctx is cancelled or a write fails.
func (cm *ConnManager) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				cm.logger.Debug().Err(err).Str("conn_id", c.id).Msg("write failed")
				return
			}
		}
	}
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
