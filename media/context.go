// Package media provides scheduled PCM playback and block based microphone
// capture on top of small device abstractions, with ffmpeg/ffplay and file
// backed implementations for terminals.
package media

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned when the microphone cannot be opened
// because access was refused.
var ErrPermissionDenied = errors.New("media: microphone permission denied")

// ErrContextClosed is returned when scheduling on a closed AudioContext.
var ErrContextClosed = errors.New("media: audio context closed")

// AudioContext is a clocked output that plays buffers at scheduled times.
type AudioContext interface {
	// CurrentTime is the playback clock in seconds.
	CurrentTime() float64
	// Schedule plays samples starting at the given clock time. onEnded fires
	// once after the source finishes or is stopped. It is never called
	// synchronously from Schedule or Source.Stop.
	Schedule(samples []float32, sampleRate int, at float64, onEnded func()) (Source, error)
	Close() error
}

// Source is one scheduled buffer.
type Source interface {
	// Stop silences the source. Stopping twice is not an error.
	Stop() error
}

// ContextFactory opens an AudioContext at the given sample rate.
type ContextFactory func(sampleRate int) (AudioContext, error)

// Microphone opens a capture stream.
type Microphone interface {
	Open(ctx context.Context) (InputStream, error)
}

// InputStream yields mono float samples in [-1, 1] at the wire sample rate.
type InputStream interface {
	Read(p []float32) (int, error)
	// Close releases the device. Read returns an error afterwards.
	Close() error
}
