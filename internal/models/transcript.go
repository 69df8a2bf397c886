// Package models defines the wire payloads the relay emits to clients and
// downstream consumers.
package models

// Word is one recognized word with audio-time bounds.
type Word struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Speaker string `json:"speaker,omitempty"`
}

// Segment is a finalized transcript unit as accumulated by a session and
// handed to the persistence sink.
type Segment struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Words   []Word `json:"words,omitempty"`
}

// TranscriptPartial is the outbound payload for an interim result. Partials
// are ephemeral; later partials or a final covering the same span supersede
// them.
type TranscriptPartial struct {
	Type               string `json:"type"` // always "partial"
	Text               string `json:"text"`
	StartMs            int64  `json:"start_ms"`
	EndMs              int64  `json:"end_ms"`
	DiarizationEnabled bool   `json:"diarization_enabled"`
}

// TranscriptFinal is the outbound payload for a vendor-confirmed result.
type TranscriptFinal struct {
	Type               string `json:"type"` // always "final"
	Text               string `json:"text"`
	StartMs            int64  `json:"start_ms"`
	EndMs              int64  `json:"end_ms"`
	Words              []Word `json:"words,omitempty"`
	DiarizationEnabled bool   `json:"diarization_enabled"`
}

// SegmentRecorded is the Kafka fan-out event emitted for each persisted
// final segment.
type SegmentRecorded struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	StartMs   int64  `json:"startMs"`
	EndMs     int64  `json:"endMs"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ArchiveDocument carries a full session transcript to the document archive:
// the text plus the location the downstream indexer should file it under.
type ArchiveDocument struct {
	EventType  string            `json:"eventType"`
	Collection string            `json:"collection"`
	Path       string            `json:"path"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
