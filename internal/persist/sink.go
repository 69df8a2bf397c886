// Package persist records sessions and finalized transcript segments.
package persist

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"voice-transcript-relay/internal/events"
	"voice-transcript-relay/internal/models"
)

// SessionStart describes a newly configured session.
type SessionStart struct {
	SessionID    string
	SubjectID    string
	AudioSource  string
	Vendor       string
	SampleRateHz int
}

// FinalSegment is one vendor-confirmed segment to record.
type FinalSegment struct {
	SessionID string
	Segment   models.Segment
}

// TranscriptArchive is the assembled full-session transcript.
type TranscriptArchive struct {
	SessionID string
	SubjectID string
	FullText  string
}

// Sink receives session lifecycle and transcript data. Implementations must
// tolerate being called from multiple goroutines.
type Sink interface {
	StartSession(ctx context.Context, s SessionStart) error
	AddFinalSegment(ctx context.Context, seg FinalSegment) error
	EndSession(ctx context.Context, sessionID string) error
	ArchiveTranscript(ctx context.Context, a TranscriptArchive) error
}

// CompositeSink fans writes out to Postgres and Kafka. Either backend may
// be nil, in which case its share of the work is skipped; with both nil the
// sink only logs, which is the local development mode.
type CompositeSink struct {
	store   *Store
	archive *events.Publisher
	log     zerolog.Logger
}

// New builds the composite sink.
func New(store *Store, archive *events.Publisher, logger zerolog.Logger) *CompositeSink {
	return &CompositeSink{
		store:   store,
		archive: archive,
		log:     logger.With().Str("component", "persist").Logger(),
	}
}

func (c *CompositeSink) StartSession(ctx context.Context, s SessionStart) error {
	if c.store == nil {
		c.log.Debug().Str("sessionId", s.SessionID).Msg("store disabled, session start not recorded")
		return nil
	}
	return c.store.InsertSession(ctx, s)
}

func (c *CompositeSink) AddFinalSegment(ctx context.Context, seg FinalSegment) error {
	var storeErr, pubErr error
	if c.store != nil {
		storeErr = c.store.InsertSegment(ctx, seg)
	}
	if c.archive != nil {
		pubErr = c.archive.PublishFinal(ctx, seg.SessionID, seg.Segment)
	}
	if c.store == nil && c.archive == nil {
		c.log.Debug().
			Str("sessionId", seg.SessionID).
			Int64("startMs", seg.Segment.StartMs).
			Msg("persistence disabled, segment not recorded")
	}
	return errors.Join(storeErr, pubErr)
}

func (c *CompositeSink) EndSession(ctx context.Context, sessionID string) error {
	if c.store == nil {
		return nil
	}
	return c.store.EndSession(ctx, sessionID)
}

func (c *CompositeSink) ArchiveTranscript(ctx context.Context, a TranscriptArchive) error {
	if c.archive == nil {
		c.log.Debug().Str("sessionId", a.SessionID).Msg("archive disabled, transcript not published")
		return nil
	}
	return c.archive.PublishArchive(ctx, a.SessionID, a.SubjectID, a.FullText)
}
