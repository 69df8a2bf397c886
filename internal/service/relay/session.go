package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-transcript-relay/internal/audio"
	"voice-transcript-relay/internal/auth"
	"voice-transcript-relay/internal/models"
	"voice-transcript-relay/internal/observability/metrics"
	"voice-transcript-relay/internal/persist"
	"voice-transcript-relay/internal/service/stt"
)

// errTranscoderStart marks a decode pipeline launch failure so the close
// reason names the right culprit.
var errTranscoderStart = errors.New("transcoder start failed")

// Session states. Transitions only move forward.
const (
	StateAwaitingConfig int32 = iota
	StateStreaming
	StateDraining
	StateClosed
)

func stateName(s int32) string {
	switch s {
	case StateAwaitingConfig:
		return "awaiting_config"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Close codes sent to the client.
const (
	CloseNormal       = 1000
	CloseUnauthorized = 4401
	CloseUpstream     = 4501
)

// Websocket message types, mirroring the transport's constants so the
// session stays transport-agnostic.
const (
	TextMessage   = 1
	BinaryMessage = 2
)

// ClientConn is the session's view of the client websocket.
type ClientConn interface {
	// ReadMessage blocks for the next client message.
	ReadMessage() (messageType int, data []byte, err error)

	// WriteJSON sends one JSON payload to the client.
	WriteJSON(v any) error

	// Close sends a close frame with the given code and reason, then
	// tears down the connection.
	Close(code int, reason string) error
}

// AdapterFactory builds the vendor adapter for one session.
type AdapterFactory func() stt.Adapter

// Transcoder is the session's view of the decode pipeline.
type Transcoder interface {
	Write(data []byte) (int, error)
	Output() io.Reader
	Kill()
	Wait() error
}

// TranscoderFactory launches a decode pipeline for one session.
type TranscoderFactory func(ctx context.Context, cfg *SessionConfig) (Transcoder, error)

// Options tunes session behavior.
type Options struct {
	// Vendor labels the STT vendor for logs and metrics.
	Vendor string

	// TargetRateHz is the PCM rate forwarded to the vendor. Defaults
	// to 16000.
	TargetRateHz int

	// FrameDurationMs is the PCM re-slicing granularity on the transcode
	// path. Defaults to 20.
	FrameDurationMs int

	// DefaultLanguage is used when the client config does not name one.
	DefaultLanguage string
}

func (o Options) withDefaults() Options {
	if o.Vendor == "" {
		o.Vendor = "unknown"
	}
	if o.TargetRateHz == 0 {
		o.TargetRateHz = 16000
	}
	if o.FrameDurationMs == 0 {
		o.FrameDurationMs = 20
	}
	return o
}

const (
	// eventQueueSize bounds the fan-in channel. Finals and control events
	// block on a full queue; vendor partials are shed instead.
	eventQueueSize = 256

	// sendQueueSize bounds PCM frames waiting for the vendor. When full,
	// the oldest frame is dropped so live audio keeps flowing.
	sendQueueSize = 64

	teardownTimeout = 5 * time.Second

	// drainQuiet ends the teardown drain once the vendor has been silent
	// this long.
	drainQuiet = 300 * time.Millisecond
)

// Session drives one client connection from config negotiation through
// teardown. Run owns the state machine; reader goroutines only post events.
type Session struct {
	cred    *auth.SessionCredential
	conn    ClientConn
	adapter stt.Adapter
	sink    persist.Sink
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Metrics
	started time.Time

	newAdapter    AdapterFactory
	newTranscoder TranscoderFactory

	state  atomic.Int32
	events chan event
	done   chan struct{}

	cfg        *SessionConfig
	transcoder Transcoder
	splitter   *audio.Splitter
	sendQ      chan []byte

	teardown sync.Once
	persists sync.WaitGroup

	dropped    atomic.Int64
	partialSeq int64
	finalSeq   int64
	segments   []models.Segment

	cancel context.CancelFunc
}

// NewSession wires a session. Run must be called to start it.
func NewSession(
	cred *auth.SessionCredential,
	conn ClientConn,
	newAdapter AdapterFactory,
	newTranscoder TranscoderFactory,
	sink persist.Sink,
	opts Options,
	logger zerolog.Logger,
) *Session {
	return &Session{
		cred:          cred,
		conn:          conn,
		newAdapter:    newAdapter,
		newTranscoder: newTranscoder,
		sink:          sink,
		opts:          opts.withDefaults(),
		log: logger.With().
			Str("sessionId", cred.SessionID).
			Str("subjectId", cred.SubjectID).
			Logger(),
		metrics: metrics.DefaultMetrics,
		events:  make(chan event, eventQueueSize),
		done:    make(chan struct{}),
		sendQ:   make(chan []byte, sendQueueSize),
	}
}

// Run blocks until the session is closed.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.started = time.Now()
	s.metrics.RecordSessionStart()
	s.log.Info().Str("state", stateName(s.state.Load())).Msg("session started")

	go s.readClient()

	defer s.finish(CloseNormal, "")

	for {
		select {
		case <-ctx.Done():
			s.finish(CloseNormal, "server shutting down")
			return
		case ev := <-s.events:
			s.dispatch(ctx, ev)
		case <-s.done:
			return
		}
		if s.state.Load() == StateClosed {
			return
		}
	}
}

// readClient pumps client frames into the event loop.
func (s *Session) readClient() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.post(event{kind: evClientGone, err: err})
			return
		}
		switch mt {
		case TextMessage:
			s.post(event{kind: evClientText, data: data})
		case BinaryMessage:
			s.metrics.RecordAudioReceived(len(data))
			s.post(event{kind: evClientBinary, data: data})
		}
	}
}

// post delivers an event to the loop. Vendor partials are shed when the
// queue is full; everything else waits, bailing out if the session died.
func (s *Session) post(ev event) {
	if ev.kind == evVendorPartial {
		select {
		case s.events <- ev:
		default:
			s.dropped.Add(1)
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) dispatch(ctx context.Context, ev event) {
	switch s.state.Load() {
	case StateAwaitingConfig:
		s.dispatchAwaitingConfig(ctx, ev)
	case StateStreaming:
		s.dispatchStreaming(ctx, ev)
	}
}

func (s *Session) dispatchAwaitingConfig(ctx context.Context, ev event) {
	switch ev.kind {
	case evClientText:
		cfg, err := ParseSessionConfig(ev.data)
		if err != nil {
			s.log.Warn().Err(err).Msg("rejecting session config")
			s.finish(CloseUnauthorized, "Bad config")
			return
		}
		if err := s.startStreaming(ctx, cfg); err != nil {
			s.log.Error().Err(err).Msg("failed to start streaming")
			reason := "vendor failure"
			if errors.Is(err, errTranscoderStart) {
				reason = "transcoder failed"
			}
			s.finish(CloseUpstream, reason)
		}
	case evClientBinary:
		s.log.Warn().Msg("audio before config")
		s.finish(CloseUnauthorized, "Expected config")
	case evClientGone:
		s.finish(CloseNormal, "")
	}
}

// startStreaming opens the vendor stream and, for compressed audio, the
// decode pipeline. On success the session enters StateStreaming.
func (s *Session) startStreaming(ctx context.Context, cfg *SessionConfig) error {
	adapter := s.newAdapter()
	lang := cfg.Language
	if lang == "" {
		lang = s.opts.DefaultLanguage
	}
	sttOpts := stt.Options{
		SampleRateHz: s.opts.TargetRateHz,
		Diarize:      cfg.Diarize,
		Punctuate:    cfg.Punctuate,
		Language:     lang,
	}
	if !cfg.NeedsTranscode() {
		// PCM passes straight through at the client's own rate.
		sttOpts.SampleRateHz = cfg.SampleRateHz
	}
	if err := adapter.Start(ctx, sttOpts, &vendorBridge{s: s}); err != nil {
		return err
	}
	s.adapter = adapter
	s.cfg = cfg

	if cfg.NeedsTranscode() {
		tc, err := s.newTranscoder(ctx, cfg)
		if err != nil {
			s.metrics.RecordTranscoderFailure()
			return fmt.Errorf("%w: %v", errTranscoderStart, err)
		}
		s.metrics.RecordTranscoderLaunch()
		s.transcoder = tc
		s.splitter = audio.NewSplitter(
			audio.FrameBytes(s.opts.TargetRateHz, 1, s.opts.FrameDurationMs))
		go s.pumpTranscoder()
	}

	s.setState(StateStreaming)
	go s.writeVendor(ctx)

	s.persists.Add(1)
	go func() {
		defer s.persists.Done()
		pctx, pcancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer pcancel()
		if err := s.sink.StartSession(pctx, persist.SessionStart{
			SessionID:    s.cred.SessionID,
			SubjectID:    s.cred.SubjectID,
			AudioSource:  string(s.cred.AudioSource),
			Vendor:       s.opts.Vendor,
			SampleRateHz: cfg.SampleRateHz,
		}); err != nil {
			s.metrics.RecordPersistError("start_session")
			s.log.Error().Err(err).Msg("failed to record session start")
		}
	}()

	s.log.Info().
		Str("encoding", string(cfg.Encoding)).
		Str("container", string(cfg.Container)).
		Int("sampleRateHz", cfg.SampleRateHz).
		Bool("diarize", cfg.Diarize).
		Msg("streaming started")
	return nil
}

func (s *Session) dispatchStreaming(ctx context.Context, ev event) {
	switch ev.kind {
	case evClientBinary:
		if s.transcoder != nil {
			if _, err := s.transcoder.Write(ev.data); err != nil {
				s.log.Error().Err(err).Msg("transcoder write failed")
				s.finish(CloseUpstream, "transcoder exited")
			}
			return
		}
		s.enqueuePCM(ev.data)

	case evClientText:
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(ev.data, &msg); err == nil && msg.Type == "stop" {
			s.finish(CloseNormal, "")
			return
		}
		// Anything else, including a second config, is ignored.
		s.log.Debug().Msg("ignoring text message while streaming")

	case evVendorPartial:
		s.partialSeq++
		s.metrics.RecordPartialTranscript()
		if err := s.conn.WriteJSON(models.TranscriptPartial{
			Type:               "partial",
			Text:               ev.result.Text,
			StartMs:            ev.result.StartMs,
			EndMs:              ev.result.EndMs,
			DiarizationEnabled: s.cfg.Diarize,
		}); err != nil {
			s.log.Warn().Err(err).Msg("failed to write partial")
		}

	case evVendorFinal:
		s.handleFinal(ev.result)

	case evVendorError:
		s.metrics.RecordVendorError(s.opts.Vendor)
		s.log.Error().Err(ev.err).Msg("vendor stream failed")
		s.finish(CloseUpstream, "vendor failure")

	case evTranscoderExit:
		if ev.err != nil {
			s.metrics.RecordTranscoderFailure()
			s.log.Error().Err(ev.err).Msg("transcoder exited")
			s.finish(CloseUpstream, "transcoder exited")
		}

	case evClientGone:
		s.log.Info().Msg("client disconnected")
		s.finish(CloseNormal, "")
	}
}

// handleFinal relays a confirmed segment to the client, accumulates it for
// the archive, and persists it asynchronously.
func (s *Session) handleFinal(r stt.Result) {
	s.finalSeq++
	s.metrics.RecordFinalTranscript()
	seg := models.Segment{
		Text:    r.Text,
		StartMs: r.StartMs,
		EndMs:   r.EndMs,
		Words:   r.Words,
	}
	s.segments = append(s.segments, seg)

	if err := s.conn.WriteJSON(models.TranscriptFinal{
		Type:               "final",
		Text:               seg.Text,
		StartMs:            seg.StartMs,
		EndMs:              seg.EndMs,
		Words:              seg.Words,
		DiarizationEnabled: s.cfg.Diarize,
	}); err != nil {
		s.log.Warn().Err(err).Msg("failed to write final")
	}

	s.persists.Add(1)
	go func() {
		defer s.persists.Done()
		pctx, pcancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer pcancel()
		if err := s.sink.AddFinalSegment(pctx, persist.FinalSegment{
			SessionID: s.cred.SessionID,
			Segment:   seg,
		}); err != nil {
			s.metrics.RecordPersistError("add_segment")
			s.log.Error().Err(err).Msg("failed to persist segment")
		}
	}()
}

// pumpTranscoder reads decoded PCM, re-slices it into vendor frames, and
// queues them for sending.
func (s *Session) pumpTranscoder() {
	buf := make([]byte, 4096)
	for {
		n, err := s.transcoder.Output().Read(buf)
		if n > 0 {
			for _, frame := range s.splitter.Push(buf[:n]) {
				s.enqueuePCM(frame)
			}
		}
		if err != nil {
			if tail := s.splitter.Flush(); len(tail) > 0 {
				s.enqueuePCM(tail)
			}
			waitErr := s.transcoder.Wait()
			if err != io.EOF {
				waitErr = err
			}
			s.post(event{kind: evTranscoderExit, err: waitErr})
			return
		}
	}
}

// enqueuePCM queues a frame for the vendor, dropping the oldest queued
// frame when the vendor cannot keep up.
func (s *Session) enqueuePCM(frame []byte) {
	for {
		select {
		case s.sendQ <- frame:
			s.metrics.RecordFrameForwarded()
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.sendQ:
			s.dropped.Add(1)
			s.metrics.RecordFrameDropped()
		default:
		}
	}
}

// writeVendor drains the send queue into the vendor adapter.
func (s *Session) writeVendor(ctx context.Context) {
	for {
		select {
		case frame := <-s.sendQ:
			if err := s.adapter.SendAudio(ctx, frame); err != nil {
				s.post(event{kind: evVendorError, err: err})
				return
			}
		case <-s.done:
			return
		}
	}
}

// drainVendor relays finals the vendor flushes after Terminate, ending
// after a quiet period or the teardown deadline.
func (s *Session) drainVendor() {
	deadline := time.After(teardownTimeout)
	for {
		select {
		case ev := <-s.events:
			if ev.kind == evVendorFinal {
				s.handleFinal(ev.result)
			}
		case <-time.After(drainQuiet):
			return
		case <-deadline:
			return
		}
	}
}

// vendorBridge adapts stt.Callback onto the event loop.
type vendorBridge struct {
	s *Session
}

func (b *vendorBridge) OnPartial(r stt.Result) {
	b.s.post(event{kind: evVendorPartial, result: r})
}

func (b *vendorBridge) OnFinal(r stt.Result) {
	b.s.post(event{kind: evVendorFinal, result: r})
}

func (b *vendorBridge) OnError(err error) {
	b.s.post(event{kind: evVendorError, err: err})
}

// finish tears the session down exactly once: drain the vendor, stop the
// transcoder, flush persistence, archive the transcript, close the client.
func (s *Session) finish(code int, reason string) {
	s.teardown.Do(func() {
		s.setState(StateDraining)

		if s.adapter != nil {
			if err := s.adapter.Terminate(); err != nil {
				s.log.Warn().Err(err).Msg("vendor terminate failed")
			}
			if code == CloseNormal && s.cfg != nil {
				s.drainVendor()
			}
		}
		if s.transcoder != nil {
			s.transcoder.Kill()
		}
		if s.adapter != nil {
			if err := s.adapter.Close(); err != nil {
				s.log.Warn().Err(err).Msg("vendor close failed")
			}
		}

		s.persists.Wait()

		pctx, pcancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer pcancel()

		if len(s.segments) > 0 {
			sort.SliceStable(s.segments, func(i, j int) bool {
				return s.segments[i].StartMs < s.segments[j].StartMs
			})
			texts := make([]string, len(s.segments))
			for i, seg := range s.segments {
				texts[i] = seg.Text
			}
			if err := s.sink.ArchiveTranscript(pctx, persist.TranscriptArchive{
				SessionID: s.cred.SessionID,
				SubjectID: s.cred.SubjectID,
				FullText:  strings.Join(texts, " "),
			}); err != nil {
				s.metrics.RecordPersistError("archive")
				s.log.Error().Err(err).Msg("failed to archive transcript")
			}
		}
		if s.cfg != nil {
			if err := s.sink.EndSession(pctx, s.cred.SessionID); err != nil {
				s.metrics.RecordPersistError("end_session")
				s.log.Error().Err(err).Msg("failed to record session end")
			}
		}

		if err := s.conn.Close(code, reason); err != nil {
			s.log.Debug().Err(err).Msg("client close failed")
		}

		s.setState(StateClosed)
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}

		s.metrics.RecordSessionEnd(code == CloseNormal, time.Since(s.started).Seconds())
		s.log.Info().
			Int("closeCode", code).
			Int64("partials", s.partialSeq).
			Int64("finals", s.finalSeq).
			Int("segments", len(s.segments)).
			Int64("droppedFrames", s.dropped.Load()).
			Msg("session closed")
	})
}

func (s *Session) setState(next int32) {
	prev := s.state.Swap(next)
	if prev != next {
		s.log.Debug().
			Str("from", stateName(prev)).
			Str("to", stateName(next)).
			Msg("state transition")
	}
}
