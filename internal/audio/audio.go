// Package audio plays encoded audio clips fetched from the network provider.
package audio

import "context"

// Clip is one piece of encoded audio (e.g., an MP3 or WAV file).
type Clip struct {
	// Data is the encoded audio.
	Data []byte

	// ContentType is the MIME type of Data (e.g., "audio/mpeg").
	ContentType string
}

// Sink plays clips on the device's audio output. Like the local synthesizer it
// is a shared resource: at most one clip is audible at a time.
type Sink interface {
	// Play plays c at the given playback-rate multiplier and blocks until
	// playback ended or ctx is cancelled.
	Play(ctx context.Context, c Clip, rate float64) error

	// Stop halts the clip being played, if any, and returns once it is silent.
	Stop()
}
