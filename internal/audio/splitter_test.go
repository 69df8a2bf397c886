package audio

import (
	"bytes"
	"testing"
)

func TestFrameBytes(t *testing.T) {
	// 16 kHz mono 16-bit at 20 ms is the vendor's expected granularity.
	if got := FrameBytes(16000, 1, 20); got != 640 {
		t.Errorf("expected 640 bytes, got %d", got)
	}
	if got := FrameBytes(48000, 2, 20); got != 3840 {
		t.Errorf("expected 3840 bytes, got %d", got)
	}
}

func TestSplitter_ExactFrames(t *testing.T) {
	s := NewSplitter(640)

	frames := s.Push(make([]byte, 1280))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != 640 {
			t.Errorf("frame %d: expected 640 bytes, got %d", i, len(f))
		}
	}
	if s.Pending() != 0 {
		t.Errorf("expected no pending bytes, got %d", s.Pending())
	}
}

func TestSplitter_CarriesRemainderAcrossPushes(t *testing.T) {
	s := NewSplitter(640)

	if frames := s.Push(make([]byte, 400)); len(frames) != 0 {
		t.Fatalf("expected no frames yet, got %d", len(frames))
	}
	if s.Pending() != 400 {
		t.Errorf("expected 400 pending bytes, got %d", s.Pending())
	}

	frames := s.Push(make([]byte, 400))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if s.Pending() != 160 {
		t.Errorf("expected 160 pending bytes, got %d", s.Pending())
	}
}

func TestSplitter_FlushReturnsTrailingPartial(t *testing.T) {
	s := NewSplitter(640)
	s.Push(make([]byte, 800))

	tail := s.Flush()
	if len(tail) != 160 {
		t.Fatalf("expected 160-byte tail, got %d", len(tail))
	}
	if s.Pending() != 0 {
		t.Errorf("expected empty splitter after flush, got %d pending", s.Pending())
	}
	if tail2 := s.Flush(); tail2 != nil {
		t.Errorf("expected nil on second flush, got %d bytes", len(tail2))
	}
}

func TestSplitter_FramesAreCopies(t *testing.T) {
	s := NewSplitter(4)
	in := []byte{1, 2, 3, 4}
	frames := s.Push(in)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	// Mutating the input after Push must not affect the emitted frame.
	in[0] = 9
	if !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Errorf("frame aliases the input buffer: %v", frames[0])
	}
}
