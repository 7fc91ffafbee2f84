// Package transcribe turns captured audio into raw transcript text.
//
// Transcription sits before the commit boundary: a failure here is fatal for
// the ingestion attempt, because without a transcript there is nothing to
// store in the raw tier.
package transcribe

import (
	"context"
	"errors"
	"io"
)

// ErrTranscription is returned when transcription fails or times out. The
// ingestion pipeline treats it as fatal for the attempt; the client retries
// with the same idempotency key.
var ErrTranscription = errors.New("transcription failed")

// Transcript is the output of a transcription call.
type Transcript struct {
	// Text is the raw transcript. Never rewritten after storage.
	Text string

	// DurationSec is the audio duration reported by the backend, zero if
	// the backend does not report one.
	DurationSec int
}

// Transcriber converts audio into text.
type Transcriber interface {
	// Transcribe reads audio and returns its transcript. The filename hint
	// carries the container format ("note.ogg", "note.wav").
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*Transcript, error)

	// Close releases any resources held by the transcriber.
	Close() error
}
