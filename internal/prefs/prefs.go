// Package prefs keeps the per-speaker voice settings. Reads are served from
// memory; edits are written through to a Persister.
package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nadzzz/parlance/internal/speech"
)

// Persister stores speaker settings durably.
type Persister interface {
	// Load returns every stored speaker's settings.
	Load(ctx context.Context) (map[string]speech.Settings, error)

	// Save stores the settings of one speaker.
	Save(ctx context.Context, speaker string, s speech.Settings) error
}

// Store is the in-memory view of the speaker settings. It is safe for
// concurrent use.
type Store struct {
	persister Persister

	mu       sync.RWMutex
	settings map[string]speech.Settings
}

// NewStore creates an empty Store. A nil persister keeps settings in memory
// only.
func NewStore(p Persister) *Store {
	return &Store{
		persister: p,
		settings:  make(map[string]speech.Settings),
	}
}

// Load replaces the in-memory settings with the persisted ones.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	stored, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading speaker settings: %w", err)
	}

	settings := make(map[string]speech.Settings, len(stored))
	for speaker, v := range stored {
		settings[speaker] = v.Clamp()
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	slog.Info("speaker settings loaded", "speakers", len(settings))
	return nil
}

// SpeakerSettings returns the settings of speaker, or the defaults when none
// are stored.
func (s *Store) SpeakerSettings(speaker string) speech.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.settings[speaker]; ok {
		return v
	}
	return speech.DefaultSettings()
}

// Set clamps v into the allowed ranges, persists it and makes it visible to
// readers. It returns the stored value. When persisting fails nothing changes.
func (s *Store) Set(ctx context.Context, speaker string, v speech.Settings) (speech.Settings, error) {
	v = v.Clamp()
	if s.persister != nil {
		if err := s.persister.Save(ctx, speaker, v); err != nil {
			return speech.Settings{}, fmt.Errorf("saving settings for %q: %w", speaker, err)
		}
	}

	s.mu.Lock()
	s.settings[speaker] = v
	s.mu.Unlock()

	slog.Debug("speaker settings updated", "speaker", speaker, "voice_uri", v.VoiceURI, "rate", v.Rate, "pitch", v.Pitch)
	return v, nil
}

// All returns a copy of every stored speaker's settings.
func (s *Store) All() map[string]speech.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]speech.Settings, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}
