package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/speech/mock"
)

var testLangs = speech.Languages{
	Primary:   speech.Language{Code: "en", Tag: "en-US"},
	Secondary: speech.Language{Code: "eu", Tag: "eu-ES"},
}

func strp(s string) *string { return &s }

// staticSettings serves fixed per-speaker settings, defaults otherwise.
type staticSettings map[string]speech.Settings

func (m staticSettings) SpeakerSettings(speaker string) speech.Settings {
	if s, ok := m[speaker]; ok {
		return s
	}
	return speech.DefaultSettings()
}

// eventLog records sequencer events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) startedIndices() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int
	for _, ev := range l.events {
		if ev.Type == EventTurnStarted {
			out = append(out, ev.Index)
		}
	}
	return out
}

func waitStarted(t *testing.T, synth *mock.Synthesizer) speech.Utterance {
	t.Helper()
	select {
	case u := <-synth.Started():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an utterance to start")
		return speech.Utterance{}
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the sequence to end")
	}
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback to return")
		return nil
	}
}

// indexOf returns the position of the first want in events at or after from.
func indexOf(events []string, want string, from int) int {
	for i := from; i < len(events); i++ {
		if events[i] == want {
			return i
		}
	}
	return -1
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
