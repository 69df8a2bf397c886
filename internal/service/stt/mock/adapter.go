// Package mock provides an STT adapter for local development and tests
// without vendor credentials. It plays back scripted utterances with
// progressive partials and exactly one final per utterance.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"voice-transcript-relay/internal/models"
	"voice-transcript-relay/internal/service/stt"
)

// SimulatedUtterance is one scripted utterance.
type SimulatedUtterance struct {
	Partials []string // progressive partial transcripts
	Final    string   // final transcript text
	StartMs  int64    // audio-time start of the utterance
	EndMs    int64    // audio-time end of the utterance
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"remind me", "remind me to call"},
		Final:    "Remind me to call the pharmacy tomorrow.",
		StartMs:  200,
		EndMs:    2600,
	},
	{
		Partials: []string{"what was", "what was the name of"},
		Final:    "What was the name of that restaurant?",
		StartMs:  3100,
		EndMs:    5400,
	},
	{
		Partials: []string{"okay let's", "okay let's meet at"},
		Final:    "Okay, let's meet at noon on Thursday.",
		StartMs:  6000,
		EndMs:    8200,
	},
}

// Adapter implements stt.Adapter with scripted responses. It emits one
// partial per audio frame until the script runs out, then a single final.
type Adapter struct {
	mu           sync.Mutex
	cb           stt.Callback
	utterance    SimulatedUtterance
	partialIndex int
	finalSent    bool
	closed       bool
	delay        time.Duration
}

var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a mock adapter, cycling through DefaultUtterances.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{
		utterance: DefaultUtterances[idx],
		delay:     50 * time.Millisecond,
	}
}

// NewScripted creates a mock adapter playing a specific utterance with no
// simulated processing delay. For tests.
func NewScripted(u SimulatedUtterance) *Adapter {
	return &Adapter{utterance: u}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return nil
}

// SendAudio advances the script by one step per frame received.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	if a.partialIndex < len(a.utterance.Partials) {
		partial := a.utterance.Partials[a.partialIndex]
		a.partialIndex++
		endMs := a.utterance.StartMs + int64(a.partialIndex)*300
		go a.deliver(func(cb stt.Callback) {
			cb.OnPartial(stt.Result{
				Text:    partial,
				StartMs: a.utterance.StartMs,
				EndMs:   endMs,
			})
		})
		return nil
	}

	a.sendFinalLocked()
	return nil
}

// Terminate flushes the final if the script never reached it.
func (a *Adapter) Terminate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.sendFinalLocked()
	}
	return nil
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// sendFinalLocked emits the scripted final exactly once. Word timings are
// synthesized by spreading the utterance span evenly across its words.
func (a *Adapter) sendFinalLocked() {
	if a.finalSent || a.cb == nil {
		return
	}
	a.finalSent = true
	utt := a.utterance

	go a.deliver(func(cb stt.Callback) {
		cb.OnFinal(stt.Result{
			Text:    utt.Final,
			StartMs: utt.StartMs,
			EndMs:   utt.EndMs,
			Words:   synthesizeWords(utt),
		})
	})
}

func (a *Adapter) deliver(fn func(stt.Callback)) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	cb := a.cb
	closed := a.closed
	a.mu.Unlock()
	if !closed && cb != nil {
		fn(cb)
	}
}

func synthesizeWords(u SimulatedUtterance) []models.Word {
	parts := strings.Fields(u.Final)
	if len(parts) == 0 {
		return nil
	}
	span := (u.EndMs - u.StartMs) / int64(len(parts))
	words := make([]models.Word, len(parts))
	for i, p := range parts {
		words[i] = models.Word{
			Text:    p,
			StartMs: u.StartMs + int64(i)*span,
			EndMs:   u.StartMs + int64(i+1)*span,
		}
	}
	words[len(words)-1].EndMs = u.EndMs
	return words
}
