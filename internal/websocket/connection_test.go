package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SendBuffer = 4
	return opts
}

// dialTestPeer returns a client socket whose server side reports every text frame it reads
func dialTestPeer(t *testing.T) (*websocket.Conn, <-chan string) {
	t.Helper()

	received := make(chan string, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	return conn, received
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	ws, _ := dialTestPeer(t)
	conn := NewConnection(ws, testOptions())
	defer conn.Close()

	if conn.ID() == "" {
		t.Error("Connection should have an id")
	}
	if conn.RemoteAddr() == "" {
		t.Error("Connection should record the remote address")
	}
	if cap(conn.writeCh) != 4 {
		t.Errorf("Expected write channel buffer of 4, got %d", cap(conn.writeCh))
	}

	other := NewConnection(nil, testOptions())
	if other.ID() == conn.ID() {
		t.Error("Connection ids must be unique")
	}
}

func TestConnection_SendDeliversFrames(t *testing.T) {
	ws, received := dialTestPeer(t)
	conn := NewConnection(ws, testOptions())
	defer conn.Close()

	if err := conn.Send([]byte(`{"event":"match:fail","data":{}}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := conn.Send([]byte(`{"event":"match:cancel","data":{}}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for _, want := range []string{`{"event":"match:fail","data":{}}`, `{"event":"match:cancel","data":{}}`} {
		select {
		case got := <-received:
			if got != want {
				t.Errorf("Expected %s, got %s", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s", want)
		}
	}
}

func TestConnection_SendNeverBlocks(t *testing.T) {
	// no writer goroutine runs for a nil socket, so the buffer fills
	conn := NewConnection(nil, testOptions())

	for i := 0; i < 4; i++ {
		if err := conn.Send([]byte("x")); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	if err := conn.Send([]byte("x")); err != ErrSendBufferFull {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	ws, _ := dialTestPeer(t)
	conn := NewConnection(ws, testOptions())

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed after Close")
	}
	if err := conn.Send([]byte("x")); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}
