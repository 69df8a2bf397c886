package assemblyai

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voice-transcript-relay/internal/service/stt"
)

type recordingCallback struct {
	mu       sync.Mutex
	partials []stt.Result
	finals   []stt.Result
	errs     []error
	gotFinal chan struct{}
	gotErr   chan struct{}
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{
		gotFinal: make(chan struct{}, 8),
		gotErr:   make(chan struct{}, 8),
	}
}

func (c *recordingCallback) OnPartial(r stt.Result) {
	c.mu.Lock()
	c.partials = append(c.partials, r)
	c.mu.Unlock()
}

func (c *recordingCallback) OnFinal(r stt.Result) {
	c.mu.Lock()
	c.finals = append(c.finals, r)
	c.mu.Unlock()
	c.gotFinal <- struct{}{}
}

func (c *recordingCallback) OnError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.gotErr <- struct{}{}
}

// vendorStub is a websocket server speaking just enough of the realtime
// protocol to exercise the adapter.
type vendorStub struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	auth    string
	query   map[string]string
	audio   [][]byte
	conn    *websocket.Conn
	connSet chan struct{}
}

func newVendorStub(t *testing.T) *vendorStub {
	return &vendorStub{t: t, connSet: make(chan struct{})}
}

func (v *vendorStub) handler(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	v.auth = r.Header.Get("Authorization")
	v.query = map[string]string{}
	for k := range r.URL.Query() {
		v.query[k] = r.URL.Query().Get(k)
	}
	v.mu.Unlock()

	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.t.Errorf("upgrade failed: %v", err)
		return
	}
	v.mu.Lock()
	v.conn = conn
	v.mu.Unlock()
	close(v.connSet)

	for {
		var raw map[string]any
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}
		if term, ok := raw["terminate_session"].(bool); ok && term {
			conn.WriteJSON(map[string]string{"message_type": "SessionTerminated"})
			continue
		}
		if data, ok := raw["audio_data"].(string); ok {
			decoded, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				v.t.Errorf("audio_data is not base64: %v", err)
				continue
			}
			v.mu.Lock()
			v.audio = append(v.audio, decoded)
			v.mu.Unlock()
		}
	}
}

func (v *vendorStub) send(t *testing.T, msg any) {
	t.Helper()
	select {
	case <-v.connSet:
	case <-time.After(2 * time.Second):
		t.Fatal("vendor stub never got a connection")
	}
	if err := v.conn.WriteJSON(msg); err != nil {
		t.Fatalf("stub write failed: %v", err)
	}
}

func startAdapter(t *testing.T, opts stt.Options) (*Adapter, *vendorStub, *recordingCallback) {
	t.Helper()
	stub := newVendorStub(t)
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)

	a := New(Config{
		APIKey:  "test-key",
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	cb := newRecordingCallback()
	if err := a.Start(context.Background(), opts, cb); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, stub, cb
}

func TestStart_SendsAuthAndSessionParams(t *testing.T) {
	_, stub, _ := startAdapter(t, stt.Options{
		SampleRateHz: 16000,
		Diarize:      true,
		Punctuate:    true,
		Language:     "en-US",
	})

	select {
	case <-stub.connSet:
	case <-time.After(2 * time.Second):
		t.Fatal("adapter never connected")
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.auth != "test-key" {
		t.Errorf("expected Authorization 'test-key', got %q", stub.auth)
	}
	want := map[string]string{
		"sample_rate":    "16000",
		"speaker_labels": "true",
		"punctuate":      "true",
		"language":       "en-US",
	}
	for k, v := range want {
		if stub.query[k] != v {
			t.Errorf("query %s: expected %q, got %q", k, v, stub.query[k])
		}
	}
}

func TestSendAudio_EncodesBase64(t *testing.T) {
	a, stub, _ := startAdapter(t, stt.Options{SampleRateHz: 16000})

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	if err := a.SendAudio(context.Background(), frame); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		stub.mu.Lock()
		n := len(stub.audio)
		stub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("vendor stub never received audio")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stub.mu.Lock()
	got := stub.audio[0]
	stub.mu.Unlock()
	if string(got) != string(frame) {
		t.Errorf("audio round-trip mismatch: %v", got)
	}
}

func TestReadLoop_MapsTranscripts(t *testing.T) {
	_, stub, cb := startAdapter(t, stt.Options{SampleRateHz: 16000})

	stub.send(t, map[string]any{
		"message_type": "PartialTranscript",
		"text":         "hello wor",
		"audio_start":  100,
		"audio_end":    900,
	})
	// Silence markers must not reach the callback.
	stub.send(t, map[string]any{
		"message_type": "PartialTranscript",
		"text":         "",
	})
	stub.send(t, map[string]any{
		"message_type": "FinalTranscript",
		"text":         "Hello world.",
		"audio_start":  100,
		"audio_end":    1200,
		"words": []map[string]any{
			{"text": "Hello", "start": 100, "end": 600, "speaker": "A"},
			{"text": "world.", "start": 650, "end": 1200, "speaker": "A"},
		},
	})

	select {
	case <-cb.gotFinal:
	case <-time.After(2 * time.Second):
		t.Fatal("never received final")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.partials) != 1 {
		t.Fatalf("expected 1 partial, got %d", len(cb.partials))
	}
	if cb.partials[0].Text != "hello wor" || cb.partials[0].EndMs != 900 {
		t.Errorf("unexpected partial: %+v", cb.partials[0])
	}
	if len(cb.finals) != 1 {
		t.Fatalf("expected 1 final, got %d", len(cb.finals))
	}
	final := cb.finals[0]
	if final.Text != "Hello world." || final.StartMs != 100 || final.EndMs != 1200 {
		t.Errorf("unexpected final: %+v", final)
	}
	if len(final.Words) != 2 || final.Words[0].Speaker != "A" {
		t.Errorf("unexpected words: %+v", final.Words)
	}
}

func TestReadLoop_SessionErrorReportedOnce(t *testing.T) {
	_, stub, cb := startAdapter(t, stt.Options{SampleRateHz: 16000})

	stub.send(t, map[string]any{"error": "Session idle for too long"})

	select {
	case <-cb.gotErr:
	case <-time.After(2 * time.Second):
		t.Fatal("never received error")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errs) != 1 {
		t.Fatalf("expected exactly 1 error, got %d", len(cb.errs))
	}
	if !strings.Contains(cb.errs[0].Error(), "Session idle") {
		t.Errorf("unexpected error: %v", cb.errs[0])
	}
}

func TestClose_SuppressesReadError(t *testing.T) {
	a, _, cb := startAdapter(t, stt.Options{SampleRateHz: 16000})

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-cb.gotErr:
		t.Fatal("close must not surface as a vendor error")
	case <-time.After(200 * time.Millisecond):
	}

	if err := a.SendAudio(context.Background(), []byte{1}); err == nil {
		t.Error("expected error sending after close")
	}
}

func TestTerminate_SendsTerminateMessage(t *testing.T) {
	a, stub, _ := startAdapter(t, stt.Options{SampleRateHz: 16000})

	select {
	case <-stub.connSet:
	case <-time.After(2 * time.Second):
		t.Fatal("adapter never connected")
	}
	if err := a.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	// Stub answers SessionTerminated; the read loop must exit cleanly
	// without invoking OnError. Exercised implicitly by Close below.
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
