package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// trackDirect puts a client into the manager without a real connection, for
// tests that only exercise the send channel.
func trackDirect(cm *ConnManager, c *Client, buffer int) context.CancelFunc {
	c.send = make(chan []byte, buffer)
	_, cancel := context.WithCancel(context.Background())
	cm.mu.Lock()
	cm.clients[c] = &session{cancel: cancel, connectedAt: time.Now(), lastActive: time.Now()}
	cm.mu.Unlock()
	return cancel
}

func TestConnManagerAddRemove(t *testing.T) {
	cm := NewConnManager()

	var mu sync.Mutex
	var serverConn *websocket.Conn
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		serverConn = conn
		mu.Unlock()
		// Block until test closes.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	wsConn := dialWS(t, ts.URL)
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return serverConn != nil
	})
	mu.Lock()
	client := &Client{conn: serverConn, id: "test-1"}
	mu.Unlock()
	if client.conn == nil {
		t.Fatal("server connection was not set")
	}

	ctx := cm.Add(client)
	if cm.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", cm.Count())
	}
	if client.send == nil {
		t.Fatal("expected send channel to be initialized")
	}

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled yet")
	default:
	}

	cm.Remove(client)
	if cm.Count() != 0 {
		t.Fatalf("expected 0 connections after remove, got %d", cm.Count())
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled after remove")
	}
}

func TestConnManagerSendBufferFull(t *testing.T) {
	cm := NewConnManager()
	client := &Client{id: "slow-consumer"}
	cancel := trackDirect(cm, client, 4)
	defer cancel()

	for i := 0; i < 4; i++ {
		if !cm.Send(client, []byte("frame")) {
			t.Fatalf("send %d should have succeeded", i)
		}
	}

	if cm.Send(client, []byte("overflow")) {
		t.Fatal("expected send to fail when buffer is full")
	}
	if cm.Stats().DroppedMessages != 1 {
		t.Errorf("expected 1 dropped message, got %d", cm.Stats().DroppedMessages)
	}
}

func TestConnManagerSendAfterRemove(t *testing.T) {
	cm := NewConnManager()
	client := &Client{id: "gone"}
	cancel := trackDirect(cm, client, 4)
	defer cancel()

	cm.Remove(client)

	// The send channel is closed now; Send must not panic.
	if cm.Send(client, []byte("late")) {
		t.Fatal("expected send to removed client to fail")
	}
}

func TestConnManagerDoubleRemove(t *testing.T) {
	cm := NewConnManager()
	client := &Client{id: "test-double"}
	cancel := trackDirect(cm, client, 1)
	defer cancel()

	cm.Remove(client)
	if cm.Count() != 0 {
		t.Fatalf("expected 0, got %d", cm.Count())
	}

	// Second remove should be a no-op (no panic).
	cm.Remove(client)
}

func TestConnManagerConcurrentBroadcast(t *testing.T) {
	hub := NewHub()

	ts := newTestServer(t, hub, "room1")
	defer ts.Close()

	const numClients = 5
	conns := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conns[i] = dialWS(t, fmt.Sprintf("%s?id=c%d", ts.URL, i))
		defer conns[i].Close(websocket.StatusNormalClosure, "")
	}

	waitFor(t, func() bool { return hub.ClientCount("room1") == numClients })
	if hub.ClientCount("room1") != numClients {
		t.Fatalf("expected %d clients, got %d", numClients, hub.ClientCount("room1"))
	}

	const numFrames = 10
	var wg sync.WaitGroup
	for i := 0; i < numFrames; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Broadcast("room1", []byte(`{"type":"draw"}`))
		}()
	}
	wg.Wait()

	for ci, conn := range conns {
		for mi := 0; mi < numFrames; mi++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _, err := conn.Read(ctx)
			cancel()
			if err != nil {
				t.Fatalf("client %d: read frame %d error: %v", ci, mi, err)
			}
		}
	}
}

func TestConnManagerMaxConns(t *testing.T) {
	hub := NewHub(WithMaxConns(1))

	ts := newTestServer(t, hub, "room1")
	defer ts.Close()

	first := dialWS(t, ts.URL+"?id=first")
	defer first.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return hub.ConnMgr().Count() == 1 })

	second := dialWS(t, ts.URL+"?id=second")
	defer second.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := second.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Fatalf("expected StatusTryAgainLater, got %v", err)
	}
	if hub.ConnMgr().Stats().Rejected != 1 {
		t.Errorf("expected 1 rejection, got %d", hub.ConnMgr().Stats().Rejected)
	}
	if hub.ClientCount("room1") != 1 {
		t.Errorf("expected only the first client in room1, got %d", hub.ClientCount("room1"))
	}
}

func TestConnManagerIdleReap(t *testing.T) {
	hub := NewHub(WithIdleTimeout(50 * time.Millisecond))
	defer hub.Shutdown()

	ts := newTestServer(t, hub, "room1")
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected idle close with StatusPolicyViolation, got %v", err)
	}
	if hub.ConnMgr().Stats().IdleReaped != 1 {
		t.Errorf("expected 1 reaped connection, got %d", hub.ConnMgr().Stats().IdleReaped)
	}
}

func TestConnManagerShutdown(t *testing.T) {
	hub := NewHub()

	ts := newTestServer(t, hub, "room1")
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { return hub.ClientCount("room1") == 1 })
	if hub.ConnMgr().Count() != 1 {
		t.Fatalf("expected 1 managed connection, got %d", hub.ConnMgr().Count())
	}

	hub.Shutdown()

	if hub.ConnMgr().Count() != 0 {
		t.Fatalf("expected 0 connections after shutdown, got %d", hub.ConnMgr().Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("expected StatusGoingAway after shutdown, got %v", err)
	}
}

func TestConnManagerShutdownRejectsNew(t *testing.T) {
	cm := NewConnManager()
	cm.Shutdown()

	rejected := make(chan bool, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := cm.Add(&Client{conn: conn, id: "late"})
		rejected <- ctx.Err() != nil
	}))
	defer ts.Close()

	wsConn := dialWS(t, ts.URL)
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	select {
	case ok := <-rejected:
		if !ok {
			t.Error("expected context to be cancelled for rejected client")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
	if cm.Count() != 0 {
		t.Fatalf("expected 0 connections after shutdown, got %d", cm.Count())
	}
}
