package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"voice-transcript-relay/internal/service/stt"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu       sync.Mutex
	partials []stt.Result
	finals   []stt.Result
	errors   []error
}

func (c *testCallback) OnPartial(r stt.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, r)
}

func (c *testCallback) OnFinal(r stt.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, r)
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) getPartials() []stt.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stt.Result{}, c.partials...)
}

func (c *testCallback) getFinals() []stt.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stt.Result{}, c.finals...)
}

func scripted() SimulatedUtterance {
	return SimulatedUtterance{
		Partials: []string{"remind me", "remind me to call"},
		Final:    "Remind me to call the pharmacy.",
		StartMs:  200,
		EndMs:    2200,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAdapter_SendAudio_TriggersPartials(t *testing.T) {
	adapter := NewScripted(scripted())
	cb := &testCallback{}
	adapter.Start(context.Background(), stt.Options{SampleRateHz: 16000}, cb)

	for i := 0; i < 2; i++ {
		if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	waitFor(t, func() bool { return len(cb.getPartials()) == 2 })

	partials := cb.getPartials()
	if partials[0].Text != "remind me" {
		t.Errorf("unexpected first partial: %+v", partials[0])
	}
	if partials[1].Text != "remind me to call" {
		t.Errorf("unexpected second partial: %+v", partials[1])
	}
	for i, p := range partials {
		if p.StartMs != 200 {
			t.Errorf("partial %d: expected start 200, got %d", i, p.StartMs)
		}
	}
}

func TestAdapter_FinalAfterScriptExhausted(t *testing.T) {
	adapter := NewScripted(scripted())
	cb := &testCallback{}
	adapter.Start(context.Background(), stt.Options{}, cb)

	// Two frames consume the partials; the third triggers the final.
	for i := 0; i < 3; i++ {
		adapter.SendAudio(context.Background(), []byte("audio"))
	}
	waitFor(t, func() bool { return len(cb.getFinals()) == 1 })

	final := cb.getFinals()[0]
	if final.Text != "Remind me to call the pharmacy." {
		t.Errorf("unexpected final text: %q", final.Text)
	}
	if final.StartMs != 200 || final.EndMs != 2200 {
		t.Errorf("expected bounds [200, 2200], got [%d, %d]", final.StartMs, final.EndMs)
	}
	if len(final.Words) != 6 {
		t.Fatalf("expected 6 words, got %d", len(final.Words))
	}
	if final.Words[0].StartMs != 200 || final.Words[5].EndMs != 2200 {
		t.Errorf("word timings do not cover the utterance: %+v", final.Words)
	}

	// Further audio must not produce a second final.
	adapter.SendAudio(context.Background(), []byte("audio"))
	time.Sleep(50 * time.Millisecond)
	if n := len(cb.getFinals()); n != 1 {
		t.Errorf("expected exactly 1 final, got %d", n)
	}
}

func TestAdapter_TerminateFlushesFinal(t *testing.T) {
	adapter := NewScripted(scripted())
	cb := &testCallback{}
	adapter.Start(context.Background(), stt.Options{}, cb)

	adapter.SendAudio(context.Background(), []byte("audio"))
	if err := adapter.Terminate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return len(cb.getFinals()) == 1 })
}

func TestAdapter_CloseStopsDelivery(t *testing.T) {
	adapter := NewScripted(scripted())
	cb := &testCallback{}
	adapter.Start(context.Background(), stt.Options{}, cb)

	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}

	// Audio after close is silently dropped.
	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(cb.getPartials()) != 0 || len(cb.getFinals()) != 0 {
		t.Error("expected no callbacks after close")
	}
}

func TestAdapter_NoCallbackSet(t *testing.T) {
	adapter := NewScripted(scripted())

	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_CyclesThroughUtterances(t *testing.T) {
	first := New().utterance.Final
	second := New().utterance.Final
	if first == second {
		t.Log("utterances may repeat once the counter cycles")
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
		if utt.EndMs <= utt.StartMs {
			t.Errorf("utterance %d has invalid bounds [%d, %d]", i, utt.StartMs, utt.EndMs)
		}
	}
}
