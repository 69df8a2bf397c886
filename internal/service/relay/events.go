package relay

import "voice-transcript-relay/internal/service/stt"

// eventKind tags the origin of a session event.
type eventKind int

const (
	evClientText eventKind = iota
	evClientBinary
	evClientGone
	evVendorPartial
	evVendorFinal
	evVendorError
	evTranscoderExit
)

// event is the fan-in unit for the session loop. Client reads, vendor
// callbacks, and the transcoder pump all funnel through one channel so the
// state machine runs single-threaded.
type event struct {
	kind   eventKind
	data   []byte     // client payloads
	result stt.Result // vendor transcripts
	err    error      // vendor or transcoder failures
}
