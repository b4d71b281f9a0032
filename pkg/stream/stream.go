// Package stream implements the per-connection processing streams of
// the gateway: streaming recognition, streaming synthesis, and speaker
// identification.
//
// Every stream follows the same shape: writes append to an unbounded
// input queue, a single goroutine consumes the queue and drives the
// engine, and results come out of an output queue via Read. CloseSend
// ends the input gracefully, letting buffered work finish before Read
// reports iterator.Done. Close tears the stream down; work already
// running finishes on its own and its output is discarded.
package stream

import (
	"errors"
	"time"
)

// ErrEngineFailure indicates that the engine errored while processing
// and the stream cannot continue. It is terminal: once Read returns it,
// every later Read returns it too.
var ErrEngineFailure = errors.New("stream: engine failure")

// Transcript is one recognition result. A final transcript closes an
// utterance; the next partial starts the following one.
type Transcript struct {
	// Index numbers the utterance this text belongs to, starting at 0.
	Index int `json:"idx"`

	// Text is the transcript accumulated for the utterance so far.
	Text string `json:"text"`

	// Final reports whether the utterance is complete.
	Final bool `json:"finished"`

	// Speaker is the annotated speaker name, when annotation is on.
	Speaker string `json:"speaker,omitempty"`
}

// Chunk is one piece of synthesized output. Audio chunks carry PCM16
// bytes; the last chunk of a stream has Final set and carries the
// session summary instead of audio.
type Chunk struct {
	// Audio is PCM16LE at the stream's output rate. Empty on the
	// final chunk.
	Audio []byte

	// Progress is the engine's progress through the current segment,
	// in [0, 1].
	Progress float32

	// Final marks the summary chunk.
	Final bool

	// Elapsed is the wall-clock synthesis time, final chunk only.
	Elapsed time.Duration

	// Duration is the play time of all generated audio, final only.
	Duration time.Duration

	// Samples counts all generated samples, final only.
	Samples int
}
