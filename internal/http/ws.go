package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-transcript-relay/internal/auth"
	"voice-transcript-relay/internal/config"
	"voice-transcript-relay/internal/persist"
	"voice-transcript-relay/internal/service/relay"
	"voice-transcript-relay/internal/service/stt"
	"voice-transcript-relay/internal/service/stt/assemblyai"
	googlestt "voice-transcript-relay/internal/service/stt/google"
	"voice-transcript-relay/internal/service/stt/mock"
	"voice-transcript-relay/internal/transcode"
)

// WSHandler upgrades listen requests and hands them to relay sessions.
type WSHandler struct {
	cfg      *config.Configuration
	verifier *auth.TokenVerifier
	sink     persist.Sink
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler builds the websocket entrypoint.
func NewWSHandler(cfg *config.Configuration, verifier *auth.TokenVerifier, sink persist.Sink, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		cfg:      cfg,
		verifier: verifier,
		sink:     sink,
		log:      logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			// Clients are native apps and firmware, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleListen serves GET /v1/listen. The connection is upgraded before the
// token check so auth failures reach the client as a close code rather than
// an HTTP error the firmware cannot parse.
func (h *WSHandler) HandleListen(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := newWSClientConn(conn)

	cred, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		h.log.Warn().Str("remote", r.RemoteAddr).Msg("rejecting unauthorized connection")
		client.Close(relay.CloseUnauthorized, "unauthorized")
		return
	}

	connID := uuid.NewString()
	logger := h.log.With().Str("connectionId", connID).Logger()

	session := relay.NewSession(
		cred,
		client,
		h.adapterFactory(),
		h.transcoderFactory(),
		h.sink,
		relay.Options{
			Vendor:          h.cfg.STT.Vendor,
			TargetRateHz:    h.cfg.STT.TargetRateHz,
			FrameDurationMs: h.cfg.STT.FrameDurationMs,
			DefaultLanguage: h.cfg.STT.LanguageCode,
		},
		logger,
	)
	session.Run(r.Context())
}

func (h *WSHandler) adapterFactory() relay.AdapterFactory {
	switch h.cfg.STT.Vendor {
	case "google":
		return func() stt.Adapter { return googlestt.New() }
	case "mock":
		return func() stt.Adapter { return mock.New() }
	default:
		return func() stt.Adapter {
			return assemblyai.New(assemblyai.Config{
				APIKey:  h.cfg.STT.AssemblyAIKey,
				BaseURL: h.cfg.STT.AssemblyAIURL,
			})
		}
	}
}

func (h *WSHandler) transcoderFactory() relay.TranscoderFactory {
	return func(ctx context.Context, cfg *relay.SessionConfig) (relay.Transcoder, error) {
		return transcode.Start(ctx, transcode.Options{
			BinPath:      h.cfg.Transcode.FFmpegPath,
			Container:    string(cfg.Container),
			TargetRateHz: h.cfg.STT.TargetRateHz,
		})
	}
}

// wsClientConn adapts a gorilla connection to relay.ClientConn. Writes are
// serialized; the session's event loop and teardown may both write.
type wsClientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSClientConn(conn *websocket.Conn) *wsClientConn {
	return &wsClientConn{conn: conn}
}

func (c *wsClientConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *wsClientConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsClientConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
