package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-transcript-relay/internal/auth"
	"voice-transcript-relay/internal/config"
	"voice-transcript-relay/internal/persist"
)

const wsTestSecret = "ws-test-secret"

type noopSink struct{}

func (noopSink) StartSession(context.Context, persist.SessionStart) error    { return nil }
func (noopSink) AddFinalSegment(context.Context, persist.FinalSegment) error { return nil }
func (noopSink) EndSession(context.Context, string) error                    { return nil }
func (noopSink) ArchiveTranscript(context.Context, persist.TranscriptArchive) error {
	return nil
}

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Configuration{}
	cfg.STT.Vendor = "mock"
	cfg.STT.TargetRateHz = 16000
	cfg.STT.FrameDurationMs = 20

	ws := NewWSHandler(cfg, auth.NewTokenVerifier(wsTestSecret), noopSink{}, zerolog.Nop())
	// Serve just the listen endpoint; the full router is exercised in main.
	srv := httptest.NewServer(http.HandlerFunc(ws.HandleListen))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func signToken(t *testing.T) string {
	t.Helper()
	token, err := auth.Sign(wsTestSecret, auth.SessionCredential{
		SubjectID:    "subj-1",
		SessionID:    "sess-ws",
		AudioSource:  auth.SourcePhone,
		SampleRateHz: 16000,
	}, time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return token
}

func TestHandleListen_RejectsMissingToken(t *testing.T) {
	srv := startTestServer(t)
	conn := dial(t, srv, "")

	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != 4401 {
		t.Errorf("expected close code 4401, got %d", closeErr.Code)
	}
}

func TestHandleListen_TranscribesAndClosesOnStop(t *testing.T) {
	srv := startTestServer(t)
	conn := dial(t, srv, signToken(t))

	err := conn.WriteJSON(map[string]any{
		"audio_source":   "phone",
		"encoding":       "linear_pcm16",
		"sample_rate_hz": 16000,
	})
	if err != nil {
		t.Fatalf("config write failed: %v", err)
	}

	// The mock vendor advances its script one step per frame.
	frame := make([]byte, 640)
	for i := 0; i < 6; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("audio write failed: %v", err)
		}
	}

	// Expect at least one partial and one final before closing.
	var sawPartial, sawFinal bool
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !(sawPartial && sawFinal) {
		var evt struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("expected transcript events, got %v (partial=%v final=%v)", err, sawPartial, sawFinal)
		}
		switch evt.Type {
		case "partial":
			sawPartial = true
		case "final":
			sawFinal = true
			if evt.Text == "" {
				t.Error("final with empty text")
			}
		}
	}

	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		t.Fatalf("stop write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue // trailing transcript events during drain
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("expected close frame, got %v", err)
		}
		if closeErr.Code != websocket.CloseNormalClosure {
			t.Errorf("expected close code 1000, got %d", closeErr.Code)
		}
		return
	}
}

func TestHandleListen_AudioBeforeConfig(t *testing.T) {
	srv := startTestServer(t)
	conn := dial(t, srv, signToken(t))

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("audio write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != 4401 {
		t.Errorf("expected close code 4401, got %d", closeErr.Code)
	}
	if closeErr.Text != "Expected config" {
		t.Errorf("unexpected close reason %q", closeErr.Text)
	}
}
