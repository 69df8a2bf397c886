// Package assemblyai provides a streaming STT adapter for the AssemblyAI
// realtime websocket API.
package assemblyai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"voice-transcript-relay/internal/models"
	"voice-transcript-relay/internal/service/stt"
)

const defaultBaseURL = "wss://api.assemblyai.com/v2/realtime/ws"

// Config holds vendor credentials and endpoint.
type Config struct {
	APIKey string

	// BaseURL overrides the production endpoint, for tests.
	BaseURL string
}

// Adapter implements stt.Adapter over the AssemblyAI realtime protocol.
// Audio goes up as base64-encoded JSON messages; transcripts come back as
// PartialTranscript / FinalTranscript messages.
type Adapter struct {
	cfg Config

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	cb      stt.Callback
	errOnce sync.Once
}

// New creates an adapter. The session is not dialed until Start.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Adapter{cfg: cfg}
}

type realtimeWord struct {
	Text    string `json:"text"`
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Speaker string `json:"speaker,omitempty"`
}

type realtimeMessage struct {
	MessageType string         `json:"message_type"`
	Text        string         `json:"text"`
	AudioStart  int64          `json:"audio_start"`
	AudioEnd    int64          `json:"audio_end"`
	Words       []realtimeWord `json:"words"`
	Error       string         `json:"error"`
}

type audioMessage struct {
	AudioData string `json:"audio_data"`
}

type terminateMessage struct {
	TerminateSession bool `json:"terminate_session"`
}

// Start dials the realtime endpoint and begins the receive loop.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	if a.cfg.APIKey == "" {
		return errors.New("assemblyai: missing API key")
	}
	a.cb = cb

	u, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("assemblyai: endpoint: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(opts.SampleRateHz))
	q.Set("speaker_labels", strconv.FormatBool(opts.Diarize))
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", a.cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("assemblyai: dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("assemblyai: dial: %w", err)
	}
	a.conn = conn

	go a.readLoop()
	return nil
}

func (a *Adapter) readLoop() {
	for {
		var msg realtimeMessage
		if err := a.conn.ReadJSON(&msg); err != nil {
			if a.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			a.fail(fmt.Errorf("assemblyai: read: %w", err))
			return
		}

		switch msg.MessageType {
		case "PartialTranscript":
			// Empty partials mark silence; nothing to relay.
			if msg.Text == "" {
				continue
			}
			a.cb.OnPartial(stt.Result{
				Text:    msg.Text,
				StartMs: msg.AudioStart,
				EndMs:   msg.AudioEnd,
			})
		case "FinalTranscript":
			if msg.Text == "" {
				continue
			}
			a.cb.OnFinal(stt.Result{
				Text:    msg.Text,
				StartMs: msg.AudioStart,
				EndMs:   msg.AudioEnd,
				Words:   mapWords(msg.Words),
			})
		case "SessionTerminated":
			return
		default:
			if msg.Error != "" {
				a.fail(fmt.Errorf("assemblyai: session error: %s", msg.Error))
				return
			}
		}
	}
}

func mapWords(ws []realtimeWord) []models.Word {
	if len(ws) == 0 {
		return nil
	}
	out := make([]models.Word, len(ws))
	for i, w := range ws {
		out[i] = models.Word{
			Text:    w.Text,
			StartMs: w.Start,
			EndMs:   w.End,
			Speaker: w.Speaker,
		}
	}
	return out
}

func (a *Adapter) fail(err error) {
	a.errOnce.Do(func() {
		a.cb.OnError(err)
	})
}

// SendAudio forwards one PCM frame to the vendor.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if a.closed.Load() {
		return errors.New("assemblyai: session closed")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(audioMessage{
		AudioData: base64.StdEncoding.EncodeToString(audio),
	})
}

// Terminate asks the vendor to flush pending finals and end the session.
func (a *Adapter) Terminate() error {
	if a.conn == nil || a.closed.Load() {
		return nil
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(terminateMessage{TerminateSession: true})
}

// Close tears down the websocket.
func (a *Adapter) Close() error {
	if a.conn == nil || !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.writeMu.Lock()
	a.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.writeMu.Unlock()
	return a.conn.Close()
}
