// Package audio provides PCM frame re-slicing for the decode pipeline.
package audio

// FrameBytes returns the size in bytes of one frame of 16-bit PCM of the
// given duration.
func FrameBytes(sampleRateHz, channels, frameMs int) int {
	return sampleRateHz * channels * 2 * frameMs / 1000
}

// Splitter re-slices an arbitrary PCM byte stream into fixed-size frames.
// The transcoder emits whatever chunk sizes its decoder produces; the vendor
// expects a consistent framing granularity.
type Splitter struct {
	frameSize int
	buf       []byte
}

// NewSplitter creates a splitter emitting frames of frameSize bytes.
func NewSplitter(frameSize int) *Splitter {
	return &Splitter{frameSize: frameSize}
}

// Push appends p and returns any complete frames now available. Returned
// frames are copies; callers may retain them after the input buffer is
// reused.
func (s *Splitter) Push(p []byte) [][]byte {
	s.buf = append(s.buf, p...)
	var frames [][]byte
	for len(s.buf) >= s.frameSize {
		frame := make([]byte, s.frameSize)
		copy(frame, s.buf[:s.frameSize])
		frames = append(frames, frame)
		s.buf = s.buf[s.frameSize:]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return frames
}

// Flush returns the trailing partial frame, if any. A short final frame is
// forwarded as-is rather than padded or held back.
func (s *Splitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	tail := make([]byte, len(s.buf))
	copy(tail, s.buf)
	s.buf = nil
	return tail
}

// Pending returns the number of buffered bytes not yet emitted.
func (s *Splitter) Pending() int {
	return len(s.buf)
}
