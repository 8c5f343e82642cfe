package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pairchat/pkg/types"
)

const eventTimeout = 3 * time.Second

// testClient is a WebSocket peer that collects every envelope it receives
type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	events chan types.Envelope
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func dialClient(t *testing.T, addr, roomID string) *testClient {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	if roomID != "" {
		u.RawQuery = url.Values{"roomId": {roomID}}.Encode()
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", u.String(), err)
	}

	c := &testClient{
		t:      t,
		conn:   conn,
		events: make(chan types.Envelope, 100),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.Close)
	return c
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.events <- env
	}
}

func (c *testClient) send(event string, data interface{}) {
	c.t.Helper()

	frame := map[string]interface{}{"event": event}
	if data != nil {
		frame["data"] = data
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Fatalf("Failed to send %s: %v", event, err)
	}
}

func (c *testClient) chat(userID, roomID, content string) {
	c.t.Helper()
	c.send(types.EventChatSend, map[string]string{"userId": userID, "roomId": roomID, "content": content})
}

// expect waits for the next envelope and requires its event name
func (c *testClient) expect(event string) types.Envelope {
	c.t.Helper()

	select {
	case env := <-c.events:
		if env.Event != event {
			c.t.Fatalf("Expected %s, got %s %s", event, env.Event, string(env.Data))
		}
		return env
	case <-time.After(eventTimeout):
		c.t.Fatalf("Timed out waiting for %s", event)
	}
	return types.Envelope{}
}

// collect gathers n envelopes regardless of order
func (c *testClient) collect(n int) map[string][]types.Envelope {
	c.t.Helper()

	got := make(map[string][]types.Envelope)
	for i := 0; i < n; i++ {
		select {
		case env := <-c.events:
			got[env.Event] = append(got[env.Event], env)
		case <-time.After(eventTimeout):
			c.t.Fatalf("Timed out after %d of %d events: %v", i, n, eventNames(got))
		}
	}
	return got
}

// expectSilence fails if anything arrives within d
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()

	select {
	case env := <-c.events:
		c.t.Fatalf("Expected no events, got %s %s", env.Event, string(env.Data))
	case <-time.After(d):
	}
}

func (c *testClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func decode[T any](t *testing.T, env types.Envelope) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", env.Event, err)
	}
	return v
}

func eventNames(got map[string][]types.Envelope) string {
	s := ""
	for name, envs := range got {
		s += fmt.Sprintf("%s×%d ", name, len(envs))
	}
	return s
}
