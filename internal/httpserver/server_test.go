package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshsignal/room-relay/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:           "127.0.0.1:0",
		Mode:                 config.ModeDev,
		LogFormat:            config.LogFormatText,
		LogLevel:             slog.LevelInfo,
		ShutdownTimeout:      2 * time.Second,
		MaxClientsPerRoom:    4,
		MaxRoomNameBytes:     128,
		MaxPasswordBytes:     128,
		WSIdleTimeout:        60 * time.Second,
		WSPingInterval:       20 * time.Second,
		MaxMessageBytes:      64 * 1024,
		MaxMessagesPerSecond: 50,
	}
}

func startTestServer(t *testing.T, cfg config.Config) (baseURL string, srv *Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Version: "1.2.3", Commit: "abc", BuildTime: "time"}
	srv = New(cfg, log, build)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String(), srv
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig())

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ready"] != true {
			t.Fatalf("body=%v, want ready=true", body)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Version: "1.2.3", Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestRequestIDHeader(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig())

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected generated X-Request-ID header")
	}

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("X-Request-ID=%q, want caller's value echoed", got)
	}
}

func TestWebSocketEndpoint_FullFlow(t *testing.T) {
	baseURL, srv := startTestServer(t, testConfig())
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	host, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer host.Close()

	if err := host.WriteMessage(websocket.TextMessage, []byte(`{"type":"create_room","room_name":"lobby"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = host.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := host.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var created struct {
		Type   string `json:"type"`
		PeerID int    `json:"peer_id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Type != "room_created" || created.PeerID != 1 {
		t.Fatalf("got %+v, want room_created for peer 1", created)
	}

	if got := srv.Registry().RoomCount(); got != 1 {
		t.Fatalf("RoomCount=%d, want 1", got)
	}
}

func TestWebSocketEndpoint_RejectsCrossOrigin(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig())
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	hdr := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err == nil {
		t.Fatalf("expected cross-origin dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %+v", resp)
	}
}

func TestWebSocketEndpoint_AllowsListedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	baseURL, _ := startTestServer(t, cfg)
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	hdr := http.Header{"Origin": []string{"https://app.example.com"}}
	c, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v (resp=%+v)", err, resp)
	}
	c.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	baseURL, srv := startTestServer(t, testConfig())
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"create_room","room_name":"m"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.ReadMessage(); err != nil {
		t.Fatalf("read: %v", err)
	}

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `room_relay_events_total{event="rooms_created"} 1`) {
		t.Fatalf("metrics output missing rooms_created sample:\n%s", body)
	}
	if srv.Metrics().Get("rooms_created") != 1 {
		t.Fatalf("rooms_created counter not incremented")
	}
}
