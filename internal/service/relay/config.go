// Package relay implements the per-connection transcription session: config
// negotiation, audio forwarding, transcript fan-out, and teardown.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Encoding identifies the client's audio encoding.
type Encoding string

const (
	EncodingPCM16 Encoding = "linear_pcm16"
	EncodingOpus  Encoding = "opus"
)

// Container identifies the framing the client wraps compressed audio in.
type Container string

const (
	ContainerRaw  Container = "raw"
	ContainerOgg  Container = "ogg"
	ContainerWebM Container = "webm"
)

// ErrBadConfig reports a malformed or invalid session config message.
var ErrBadConfig = errors.New("bad session config")

// SessionConfig is the first text message a client sends after connecting.
// It is accepted exactly once per session.
type SessionConfig struct {
	AudioSource     string    `json:"audio_source"`
	Encoding        Encoding  `json:"encoding"`
	Container       Container `json:"container,omitempty"`
	SampleRateHz    int       `json:"sample_rate_hz"`
	ChannelCount    int       `json:"channel_count,omitempty"`
	FrameDurationMs int       `json:"frame_duration_ms,omitempty"`
	Language        string    `json:"language,omitempty"`
	Diarize         bool      `json:"diarize,omitempty"`
	Punctuate       bool      `json:"punctuate,omitempty"`
}

// NeedsTranscode reports whether the session requires the ffmpeg pipeline.
func (c *SessionConfig) NeedsTranscode() bool {
	return c.Encoding == EncodingOpus
}

// ParseSessionConfig decodes and validates a config message. All failures
// wrap ErrBadConfig.
func ParseSessionConfig(data []byte) (*SessionConfig, error) {
	var cfg SessionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if cfg.ChannelCount == 0 {
		cfg.ChannelCount = 1
	}

	switch cfg.Encoding {
	case EncodingPCM16:
		if cfg.Container != "" && cfg.Container != ContainerRaw {
			return nil, fmt.Errorf("%w: container %q invalid for %s", ErrBadConfig, cfg.Container, cfg.Encoding)
		}
	case EncodingOpus:
		switch cfg.Container {
		case ContainerRaw, ContainerOgg, ContainerWebM:
		case "":
			return nil, fmt.Errorf("%w: container required for %s", ErrBadConfig, cfg.Encoding)
		default:
			return nil, fmt.Errorf("%w: unknown container %q", ErrBadConfig, cfg.Container)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrBadConfig, cfg.Encoding)
	}

	if cfg.SampleRateHz <= 0 {
		return nil, fmt.Errorf("%w: sample_rate_hz must be positive", ErrBadConfig)
	}
	if cfg.ChannelCount < 1 || cfg.ChannelCount > 2 {
		return nil, fmt.Errorf("%w: channel_count must be 1 or 2", ErrBadConfig)
	}
	return &cfg, nil
}
