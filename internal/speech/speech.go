// Package speech defines the speech backend contract and the value types that
// flow between the playback orchestrator and its backends.
//
// The platform synthesizer is injected as a Synthesizer rather than reached
// through a global. Completion is reported by Speak returning, so callers
// never deal with callbacks.
package speech

import (
	"context"
	"errors"
	"strings"

	"github.com/nadzzz/parlance/internal/audio"
)

// ErrInterrupted is returned by Synthesizer.Speak when the utterance was cut
// short by Cancel.
var ErrInterrupted = errors.New("speech interrupted")

// ErrVoiceNotFound is returned when a voice URI does not name a known voice.
var ErrVoiceNotFound = errors.New("voice not found")

// Mode selects which of the two configured languages a playback targets.
type Mode string

const (
	// Primary is the default language, always spoken by the local synthesizer.
	Primary Mode = "primary"

	// Secondary is the target language, preferably spoken by the network provider.
	Secondary Mode = "secondary"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == Primary || m == Secondary
}

// Language pairs a two-letter code with the BCP 47 tag used for synthesis.
type Language struct {
	// Code is the ISO-639-1 code (e.g., "en", "eu").
	Code string `json:"code"`

	// Tag is the full language tag handed to the synthesizer (e.g., "en-US", "eu-ES").
	Tag string `json:"tag"`
}

// Languages holds the primary and secondary language of the application.
type Languages struct {
	Primary   Language `json:"primary"`
	Secondary Language `json:"secondary"`
}

// For returns the language for mode. Unknown modes map to the primary language.
func (l Languages) For(m Mode) Language {
	if m == Secondary {
		return l.Secondary
	}
	return l.Primary
}

// Voice describes one synthesis voice offered by the platform.
type Voice struct {
	// URI uniquely identifies the voice within its backend.
	URI string `json:"uri"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Lang is the voice's BCP 47 language tag (e.g., "en-GB").
	Lang string `json:"lang"`

	// Local is true when the voice runs on-device.
	Local bool `json:"local"`
}

// Speaks reports whether the voice's language tag starts with code.
func (v Voice) Speaks(code string) bool {
	return HasLanguage(v.Lang, code)
}

// HasLanguage reports whether tag starts with code, ignoring case.
func HasLanguage(tag, code string) bool {
	if code == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(tag), strings.ToLower(code))
}

// Rate and pitch bounds accepted by the voice settings.
const (
	MinRate  = 0.5
	MaxRate  = 2.0
	MinPitch = 0.0
	MaxPitch = 2.0
)

// Settings is the per-speaker voice configuration.
type Settings struct {
	// VoiceURI selects a voice; empty means the platform default.
	VoiceURI string `json:"voice_uri"`

	// Rate is the speaking-rate multiplier in [0.5, 2.0].
	Rate float64 `json:"rate"`

	// Pitch is the pitch multiplier in [0, 2.0].
	Pitch float64 `json:"pitch"`
}

// DefaultSettings returns the settings used when a speaker has none stored.
func DefaultSettings() Settings {
	return Settings{Rate: 1, Pitch: 1}
}

// Clamp returns s with rate and pitch forced into their allowed ranges.
// A zero rate is treated as unset and becomes 1.
func (s Settings) Clamp() Settings {
	if s.Rate == 0 {
		s.Rate = 1
	}
	s.Rate = clamp(s.Rate, MinRate, MaxRate)
	s.Pitch = clamp(s.Pitch, MinPitch, MaxPitch)
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Utterance is one request to the local synthesizer.
type Utterance struct {
	Text string

	// Lang is the BCP 47 tag to speak in.
	Lang string

	// Voice is the bound voice, or nil for the platform default of Lang.
	Voice *Voice

	Rate  float64
	Pitch float64
}

// Synthesizer is the on-device speech backend. It is a shared singleton:
// at most one utterance is audible at a time.
//
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Voices returns the voices known right now. The list may be empty until
	// the platform has finished enumerating them.
	Voices() []Voice

	// VoicesChanged returns a channel that is closed once the voice list has
	// been (re)populated.
	VoicesChanged() <-chan struct{}

	// Speak plays u and blocks until it finished. It returns ctx.Err() when ctx
	// is cancelled and ErrInterrupted when Cancel cut it short.
	Speak(ctx context.Context, u Utterance) error

	// Cancel stops the utterance in flight, if any. It returns only once the
	// audio has stopped.
	Cancel()

	// Close releases any resources held by the synthesizer.
	Close() error
}

// Fetcher is the network synthesis backend: one request per text chunk,
// keyed by chunk and language code, returning encoded audio.
//
// Implementations must be safe for concurrent use.
type Fetcher interface {
	// Name returns the provider identifier (e.g., "translate", "piper").
	Name() string

	// Fetch synthesises text in the language with the given ISO-639-1 code.
	Fetch(ctx context.Context, text, lang string) (audio.Clip, error)
}
