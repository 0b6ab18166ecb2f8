package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"queue-sync/src/models"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestChannelURL(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	valid := signedToken(t, now.Add(time.Hour))
	expired := signedToken(t, now.Add(-time.Hour))

	tests := []struct {
		name      string
		base      string
		token     string
		want      string
		wantToken bool
	}{
		{"plain", "wss://api.example.com", "", "wss://api.example.com/ws/queues/b1/2025-06-01", false},
		{"base path and slash", "ws://localhost:9000/api/", "", "ws://localhost:9000/api/ws/queues/b1/2025-06-01", false},
		{"valid jwt", "wss://api.example.com", valid, "wss://api.example.com/ws/queues/b1/2025-06-01?token=", true},
		{"expired jwt dropped", "wss://api.example.com", expired, "wss://api.example.com/ws/queues/b1/2025-06-01", false},
		{"opaque token kept", "wss://api.example.com", "opaque", "wss://api.example.com/ws/queues/b1/2025-06-01?token=opaque", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &models.MConfig{}
			cfg.Backend.WSBaseURL = tt.base
			cfg.Backend.Token = tt.token
			d := NewWebSocketDialer(cfg, nil)
			d.Now = func() time.Time { return now }

			got, err := d.ChannelURL(keyA)
			if err != nil {
				t.Fatalf("ChannelURL: %v", err)
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Fatalf("url = %s, want prefix %s", got, tt.want)
			}
			if strings.Contains(got, "token=") != tt.wantToken {
				t.Fatalf("token presence wrong in %s", got)
			}
		})
	}
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	gotPath := make(chan string, 1)
	gotReply := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath <- r.URL.Path + "?" + r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_, data, err := conn.ReadMessage()
		if err == nil {
			gotReply <- string(data)
		}
		// wait for the client to close
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := &models.MConfig{}
	cfg.Backend.WSBaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Backend.Token = "opaque"
	cfg.Reconnect.HandshakeTimeoutMs = 2000
	cfg.Reconnect.ReadTimeoutMs = 2000

	d := NewWebSocketDialer(cfg, nil)
	ch, err := d.Dial(context.Background(), keyA)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	if p := <-gotPath; p != "/ws/queues/b1/2025-06-01?token=opaque" {
		t.Fatalf("server saw %s", p)
	}

	data, err := ch.ReadMessage()
	if err != nil || string(data) != `{"type":"ping"}` {
		t.Fatalf("ReadMessage = %q, %v", data, err)
	}
	if err := ch.WriteMessage([]byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case reply := <-gotReply:
		if reply != `{"type":"pong"}` {
			t.Fatalf("server got %s", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never got the reply")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// second close is a no-op
	_ = ch.Close()
}

func TestWebSocketDialerRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := &models.MConfig{}
	cfg.Backend.WSBaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	d := NewWebSocketDialer(cfg, nil)

	_, err := d.Dial(context.Background(), keyA)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want handshake rejection with status", err)
	}
}
