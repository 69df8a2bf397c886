// Package transcode wraps an ffmpeg subprocess that decodes compressed
// client audio into 16-bit little-endian PCM.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// Options configures one transcoder pipeline.
type Options struct {
	// BinPath is the ffmpeg binary. Defaults to "ffmpeg" on PATH.
	BinPath string

	// Container is the negotiated input container ("raw", "ogg", "webm").
	// The container carries its own sample rate; only the output side is
	// configured here.
	Container string

	// TargetRateHz is the PCM output rate. Defaults to 16000.
	TargetRateHz int

	// Channels is the PCM output channel count. Defaults to 1.
	Channels int
}

func (o Options) withDefaults() Options {
	if o.BinPath == "" {
		o.BinPath = "ffmpeg"
	}
	if o.TargetRateHz == 0 {
		o.TargetRateHz = 16000
	}
	if o.Channels == 0 {
		o.Channels = 1
	}
	return o
}

// demuxFormat maps the negotiated container to an ffmpeg demuxer name.
// Wearable firmware that negotiates "raw" frames its opus packets in ogg
// pages, so raw decodes through the ogg demuxer.
func demuxFormat(container string) string {
	if container == "webm" {
		return "webm"
	}
	return "ogg"
}

func (o Options) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", demuxFormat(o.Container),
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(o.Channels),
		"-ar", strconv.Itoa(o.TargetRateHz),
		"pipe:1",
	}
}

// Pipeline is a running ffmpeg process. Audio goes in via Write, decoded
// PCM comes out via Output. Kill and Wait are safe to call from a goroutine
// other than the writer.
type Pipeline struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *bytes.Buffer

	killed   atomic.Bool
	waitOnce sync.Once
	waitErr  error
}

// Start launches the ffmpeg subprocess. The process is tied to ctx; when ctx
// is cancelled the process is killed.
func Start(ctx context.Context, o Options) (*Pipeline, error) {
	o = o.withDefaults()

	cmd := exec.CommandContext(ctx, o.BinPath, o.args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transcode: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcode: stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transcode: start %s: %w", o.BinPath, err)
	}

	return &Pipeline{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// Write feeds compressed audio to the decoder.
func (p *Pipeline) Write(data []byte) (int, error) {
	return p.stdin.Write(data)
}

// CloseInput signals end of input. The decoder drains its buffers, emits any
// remaining PCM on Output, and exits.
func (p *Pipeline) CloseInput() error {
	return p.stdin.Close()
}

// Output returns the decoded PCM stream. It reaches io.EOF after CloseInput
// or process exit.
func (p *Pipeline) Output() io.Reader {
	return p.stdout
}

// Kill terminates the process immediately. After Kill, Wait reports no
// error for the forced exit.
func (p *Pipeline) Kill() {
	if !p.killed.CompareAndSwap(false, true) {
		return
	}
	p.stdin.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// Wait blocks until the process exits and returns its status. A non-zero
// exit carries the tail of stderr so decode failures are diagnosable.
func (p *Pipeline) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if err == nil || p.killed.Load() {
			return
		}
		if msg := bytes.TrimSpace(p.stderr.Bytes()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", err, tail(msg, 512))
		}
		p.waitErr = err
	})
	return p.waitErr
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
