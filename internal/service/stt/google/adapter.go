// Package google provides a streaming STT adapter for Google Cloud
// Speech-to-Text.
package google

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-transcript-relay/internal/models"
	"voice-transcript-relay/internal/service/stt"
)

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Adapter struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback

	terminated bool
	mu         sync.Mutex
	errOnce    sync.Once
}

// New creates a Google STT adapter. The client is not dialed until Start.
func New() *Adapter {
	return &Adapter{}
}

// Start dials the API, opens a streaming recognize session, and sends the
// initial config.
func (a *Adapter) Start(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return err
	}
	stream, err := c.StreamingRecognize(ctx)
	if err != nil {
		c.Close()
		return err
	}
	a.client = c
	a.stream = stream
	a.cb = cb

	cfg := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(opts.SampleRateHz),
		LanguageCode:               opts.Language,
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: opts.Punctuate,
	}
	if opts.Diarize {
		cfg.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
		}
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         cfg,
				InterimResults: true,
			},
		},
	}); err != nil {
		c.Close()
		return err
	}

	go a.listen()
	return nil
}

// listen receives recognition responses and maps them onto the callback.
func (a *Adapter) listen() {
	for {
		resp, err := a.stream.Recv()
		if err != nil {
			a.mu.Lock()
			terminated := a.terminated
			a.mu.Unlock()
			// EOF after CloseSend is the normal end of stream, as is
			// the cancellation raised by session teardown.
			if terminated && errors.Is(err, io.EOF) {
				return
			}
			if status.Code(err) == codes.Canceled {
				return
			}
			a.errOnce.Do(func() { a.cb.OnError(err) })
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			if r.IsFinal {
				a.cb.OnFinal(mapFinal(r, alt))
			} else {
				a.cb.OnPartial(stt.Result{
					Text:  alt.Transcript,
					EndMs: r.ResultEndTime.AsDuration().Milliseconds(),
				})
			}
		}
	}
}

// mapFinal derives segment bounds from word offsets when present, falling
// back to the result end time.
func mapFinal(r *speechpb.StreamingRecognitionResult, alt *speechpb.SpeechRecognitionAlternative) stt.Result {
	res := stt.Result{
		Text:  alt.Transcript,
		EndMs: r.ResultEndTime.AsDuration().Milliseconds(),
	}
	if len(alt.Words) == 0 {
		return res
	}

	words := make([]models.Word, len(alt.Words))
	for i, w := range alt.Words {
		words[i] = models.Word{
			Text:    w.Word,
			StartMs: w.StartTime.AsDuration().Milliseconds(),
			EndMs:   w.EndTime.AsDuration().Milliseconds(),
		}
		if w.SpeakerTag != 0 {
			words[i].Speaker = strconv.Itoa(int(w.SpeakerTag))
		}
	}
	res.Words = words
	res.StartMs = words[0].StartMs
	res.EndMs = words[len(words)-1].EndMs
	return res
}

// SendAudio forwards one PCM frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Terminate half-closes the stream so the API flushes pending finals.
func (a *Adapter) Terminate() error {
	if a.stream == nil {
		return nil
	}
	a.mu.Lock()
	a.terminated = true
	a.mu.Unlock()
	return a.stream.CloseSend()
}

// Close releases the API client.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}
