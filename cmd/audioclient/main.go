// Command audioclient streams a WAV file to a running relay and prints the
// transcript events it gets back. Development tool.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"voice-transcript-relay/internal/auth"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

const chunkIntervalMs = 20

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/listen", "Relay websocket URL")
	secret := flag.String("secret", "dev-secret", "Token signing secret (must match the server)")
	subject := flag.String("subject", "subj-demo", "Subject ID")
	diarize := flag.Bool("diarize", false, "Request speaker labels")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if numChannels != 1 || bitsPerSample != 16 {
		log.Fatal("Only 16-bit mono supported")
	}

	sessionID := uuid.NewString()
	token, err := auth.Sign(*secret, auth.SessionCredential{
		SubjectID:    *subject,
		SessionID:    sessionID,
		AudioSource:  auth.SourcePhone,
		SampleRateHz: int(sampleRate),
	}, time.Hour)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected: sessionId=%s subjectId=%s", sessionID, *subject)

	cfgMsg := map[string]any{
		"audio_source":   "phone",
		"encoding":       "linear_pcm16",
		"sample_rate_hz": sampleRate,
		"language":       "en-US",
		"diarize":        *diarize,
		"punctuate":      true,
	}
	if err := conn.WriteJSON(cfgMsg); err != nil {
		log.Fatalf("Failed to send config: %v", err)
	}

	// 16-bit mono at the file's rate, sliced into 20 ms frames.
	chunkSize := int(sampleRate) * 2 * chunkIntervalMs / 1000

	g, _ := errgroup.WithContext(context.Background())

	g.Go(func() error {
		chunk := make([]byte, chunkSize)
		var totalBytes int64
		var chunkNum int
		startTime := time.Now()

		for {
			n, err := f.Read(chunk)
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			chunkNum++
			totalBytes += int64(n)
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
				return fmt.Errorf("send frame: %w", err)
			}
			if chunkNum%100 == 0 {
				log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
			}
			time.Sleep(chunkIntervalMs * time.Millisecond)
		}

		log.Printf("Finished streaming: %d chunks, %d bytes in %v",
			chunkNum, totalBytes, time.Since(startTime))
		return conn.WriteJSON(map[string]string{"type": "stop"})
	})

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if closeErr, ok := err.(*websocket.CloseError); ok {
					log.Printf("Session closed: code=%d reason=%q", closeErr.Code, closeErr.Text)
					return nil
				}
				return fmt.Errorf("read transcript: %w", err)
			}

			var evt struct {
				Type    string `json:"type"`
				Text    string `json:"text"`
				StartMs int64  `json:"start_ms"`
				EndMs   int64  `json:"end_ms"`
			}
			if err := json.Unmarshal(data, &evt); err != nil {
				log.Printf("Unparseable event: %s", data)
				continue
			}
			log.Printf("[%s] %d-%dms: %s", evt.Type, evt.StartMs, evt.EndMs, evt.Text)
		}
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Client error: %v", err)
	}
}
