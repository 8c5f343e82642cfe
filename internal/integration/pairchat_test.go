package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"pairchat/internal/app"
	"pairchat/internal/config"
	"pairchat/internal/metrics"
	"pairchat/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "pairchat.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.WebSocket.HandshakesPerMinute = 0
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()

	application, err := app.NewApplication(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Stop returned: %v", err)
		}
	})
	return application
}

// pair connects two clients and matches them
func pair(t *testing.T, addr string) (a, b *testClient, successA, successB types.MatchSuccess) {
	t.Helper()

	a = dialClient(t, addr, "")
	a.send(types.EventMatchStart, map[string]string{"device": "mobile"})
	// let A reach the pool before B arrives
	time.Sleep(50 * time.Millisecond)

	b = dialClient(t, addr, "")
	b.send(types.EventMatchStart, map[string]string{"device": "desktop"})

	successA = decode[types.MatchSuccess](t, a.expect(types.EventMatchSuccess))
	successB = decode[types.MatchSuccess](t, b.expect(types.EventMatchSuccess))
	return a, b, successA, successB
}

func TestPairChat_MatchAndChat(t *testing.T) {
	application := startApp(t, testConfig(t))
	addr := application.Addr()

	a, b, successA, successB := pair(t, addr)

	if successA.RoomID == "" || successA.RoomID != successB.RoomID {
		t.Fatalf("Both sides should share a room: %+v %+v", successA, successB)
	}
	if successA.UserID == successB.UserID {
		t.Fatal("Each side should receive its own user id")
	}

	a.chat(successA.UserID, successA.RoomID, "hello")

	for _, c := range []*testClient{a, b} {
		msg := decode[types.ChatReceive](t, c.expect(types.EventChatReceive))
		if msg.Content != "hello" || msg.UserID != successA.UserID || msg.ID == "" {
			t.Errorf("Unexpected chat:receive: %+v", msg)
		}
	}
}

func TestPairChat_RejectsChatOutsideRoom(t *testing.T) {
	application := startApp(t, testConfig(t))
	addr := application.Addr()

	_, b, successA, _ := pair(t, addr)

	stranger := dialClient(t, addr, "")
	stranger.chat("intruder", successA.RoomID, "let me in")

	b.expectSilence(200 * time.Millisecond)
	stranger.expectSilence(50 * time.Millisecond)
}

func TestPairChat_MatchTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Match.Timeout = 200 * time.Millisecond
	application := startApp(t, cfg)

	c := dialClient(t, application.Addr(), "")
	c.send(types.EventMatchStart, map[string]string{"device": "mobile"})
	c.expect(types.EventMatchFail)

	stats, err := application.CoreStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.WaitingPool != 0 {
		t.Errorf("Expected empty pool after timeout, got %d", stats.WaitingPool)
	}
}

func TestPairChat_Cancel(t *testing.T) {
	application := startApp(t, testConfig(t))

	c := dialClient(t, application.Addr(), "")
	c.send(types.EventMatchStart, map[string]string{})
	c.send(types.EventMatchCancel, nil)
	c.expect(types.EventMatchCancel)

	// a second cancel is a no-op
	c.send(types.EventMatchCancel, nil)
	c.expectSilence(200 * time.Millisecond)
}

func TestPairChat_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.BlockDuration = 300 * time.Millisecond
	application := startApp(t, cfg)

	a, b, successA, _ := pair(t, application.Addr())

	for i := 0; i < 6; i++ {
		a.chat(successA.UserID, successA.RoomID, "spam")
	}

	// five forwarded messages plus the block, in any interleaving
	got := b.collect(6)
	if len(got[types.EventChatReceive]) != 5 {
		t.Errorf("Expected 5 forwarded messages, got %s", eventNames(got))
	}
	if len(got[types.EventChatBlock]) != 1 {
		t.Fatalf("Expected one chat:block, got %s", eventNames(got))
	}
	block := decode[types.ChatBlock](t, got[types.EventChatBlock][0])
	if block.UserID != successA.UserID || block.Error != types.ChatBlockReason {
		t.Errorf("Unexpected block payload: %+v", block)
	}

	unblock := decode[types.ChatUnblock](t, b.expect(types.EventChatUnblock))
	if unblock.UserID != successA.UserID {
		t.Errorf("Unexpected unblock payload: %+v", unblock)
	}

	// the sender sees the same room notifications
	a.collect(7)

	a.chat(successA.UserID, successA.RoomID, "back again")
	b.expect(types.EventChatReceive)

	m := application.Metrics()
	if got := testutil.ToFloat64(m.ChatMessages(metrics.ResultRateLimited)); got != 1 {
		t.Errorf("Expected 1 rate-limited message, got %v", got)
	}
}

func TestPairChat_LeaveAndReconnect(t *testing.T) {
	application := startApp(t, testConfig(t))
	addr := application.Addr()

	a, b, successA, _ := pair(t, addr)

	a.chat(successA.UserID, successA.RoomID, "first")
	a.expect(types.EventChatReceive)
	b.expect(types.EventChatReceive)

	a.send(types.EventMatchLeave, map[string]string{"userId": successA.UserID})
	b.expect(types.EventMatchLeave)
	a.expect(types.EventMatchLeave)

	// B drops and comes back to the same room
	b.Close()
	back := dialClient(t, addr, successA.RoomID)

	got := back.collect(2)
	if len(got[types.EventChatHistory]) != 1 || len(got[types.EventMatchLeave]) != 1 {
		t.Fatalf("Expected history and leave on reconnect, got %s", eventNames(got))
	}

	history := decode[types.ChatHistory](t, got[types.EventChatHistory][0])
	if history.RoomID != successA.RoomID || len(history.Messages) != 1 || history.Messages[0].Content != "first" {
		t.Errorf("Unexpected history: %+v", history)
	}
}

func TestPairChat_ReconnectUnknownRoom(t *testing.T) {
	application := startApp(t, testConfig(t))

	c := dialClient(t, application.Addr(), "no-such-room")
	c.expect(types.EventMatchReconnectFail)
}

func TestPairChat_HTTPEndpoints(t *testing.T) {
	application := startApp(t, testConfig(t))
	base := "http://" + application.Addr()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected healthy, got %d", resp.StatusCode)
	}

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Unexpected health: %v", health)
	}

	metricsResp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer metricsResp.Body.Close()

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, metricsResp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "pairchat_waiting_pool_size") {
		t.Error("Metrics endpoint should expose pairchat collectors")
	}
}

func TestPairChat_DisconnectLeavesPool(t *testing.T) {
	application := startApp(t, testConfig(t))

	c := dialClient(t, application.Addr(), "")
	c.send(types.EventMatchStart, map[string]string{})
	time.Sleep(50 * time.Millisecond)
	c.Close()

	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		stats, err := application.CoreStats(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if stats.WaitingPool == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("Disconnected connection stayed in the waiting pool")
}

func TestPairChat_LeaveWhileWaiting(t *testing.T) {
	application := startApp(t, testConfig(t))
	addr := application.Addr()

	c := dialClient(t, addr, "")
	c.send(types.EventMatchStart, map[string]string{"device": "mobile"})
	c.send(types.EventMatchLeave, map[string]string{"userId": "anything-valid"})
	c.send(types.EventMatchStart, map[string]string{"device": "mobile"})

	c.expectSilence(200 * time.Millisecond)
	stats, err := application.CoreStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.WaitingPool != 1 {
		t.Fatalf("Expected one pool entry, got %d", stats.WaitingPool)
	}

	d := dialClient(t, addr, "")
	d.send(types.EventMatchStart, map[string]string{"device": "desktop"})

	successC := decode[types.MatchSuccess](t, c.expect(types.EventMatchSuccess))
	successD := decode[types.MatchSuccess](t, d.expect(types.EventMatchSuccess))
	if successC.RoomID != successD.RoomID || successC.UserID == successD.UserID {
		t.Errorf("Expected a pairing of two distinct users: %+v %+v", successC, successD)
	}
	c.expectSilence(100 * time.Millisecond)
}

func TestPairChat_RejectsActingForPeer(t *testing.T) {
	application := startApp(t, testConfig(t))

	a, b, _, successB := pair(t, application.Addr())

	a.chat(successB.UserID, successB.RoomID, "spoofed")
	a.send(types.EventMatchLeave, map[string]string{"userId": successB.UserID})
	b.expectSilence(200 * time.Millisecond)

	b.chat(successB.UserID, successB.RoomID, "still here")
	msg := decode[types.ChatReceive](t, a.expect(types.EventChatReceive))
	if msg.UserID != successB.UserID || msg.Content != "still here" {
		t.Errorf("Unexpected chat:receive: %+v", msg)
	}
}
