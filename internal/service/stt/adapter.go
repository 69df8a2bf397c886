// Package stt defines the interface for streaming Speech-to-Text vendors.
package stt

import (
	"context"

	"voice-transcript-relay/internal/models"
)

// Result is one transcript hypothesis, partial or final, normalized across
// vendors. Times are milliseconds relative to the start of the audio stream.
type Result struct {
	Text    string
	StartMs int64
	EndMs   int64

	// Words carries word-level timing and speaker labels when the vendor
	// provides them. Only populated on finals.
	Words []models.Word
}

// Callback receives transcript results from the vendor. Implementations
// must not block; adapters invoke these from their receive loop.
type Callback interface {
	// OnPartial is called for interim hypotheses that may still be revised.
	OnPartial(r Result)

	// OnFinal is called for vendor-confirmed results.
	OnFinal(r Result)

	// OnError is called at most once, when the vendor stream fails.
	OnError(err error)
}

// Options configures a vendor session.
type Options struct {
	SampleRateHz int
	Diarize      bool
	Punctuate    bool
	Language     string
}

// Adapter defines the interface for streaming STT vendors.
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, opts Options, cb Callback) error

	// SendAudio sends a frame of 16-bit little-endian PCM to the vendor.
	SendAudio(ctx context.Context, audio []byte) error

	// Terminate signals end of audio. The vendor flushes pending finals
	// before its stream ends; the adapter keeps delivering callbacks
	// until then.
	Terminate() error

	// Close tears down the session and releases resources.
	Close() error
}
