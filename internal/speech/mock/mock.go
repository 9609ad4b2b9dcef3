// Package mock provides test doubles for the speech backends and the audio
// sink.
//
// Synthesizer can either complete every Speak immediately or hold each call
// until the test releases it with Finish, which lets tests stop or preempt
// playback while an utterance is "in flight":
//
//	synth := &mock.Synthesizer{Hold: true}
//	done := seq.Start(ctx, turns, speech.Primary, 0)
//	<-synth.Started()  // first utterance began
//	seq.Stop()
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/nadzzz/parlance/internal/audio"
	"github.com/nadzzz/parlance/internal/speech"
)

// Synthesizer is a mock implementation of speech.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// VoiceList is returned by Voices.
	VoiceList []speech.Voice

	// Changed is returned by VoicesChanged. When nil a closed channel is
	// returned, i.e. the list counts as already populated.
	Changed chan struct{}

	// SpeakErr, if non-nil, is returned by every Speak (after Finish when
	// Hold is set).
	SpeakErr error

	// Hold makes Speak block until Finish, Cancel or context cancellation.
	Hold bool

	// --- Call records ---

	// Calls records every utterance passed to Speak, in order.
	Calls []speech.Utterance

	// Cancels counts calls to Cancel.
	Cancels int

	// Events interleaves "speak:<text>" and "cancel" entries in call order.
	Events []string

	pending []chan error
	started chan speech.Utterance
}

// Voices returns a copy of VoiceList.
func (s *Synthesizer) Voices() []speech.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]speech.Voice, len(s.VoiceList))
	copy(out, s.VoiceList)
	return out
}

// SetVoices replaces VoiceList under the lock.
func (s *Synthesizer) SetVoices(v []speech.Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VoiceList = v
}

// VoicesChanged returns Changed, or a closed channel when Changed is nil.
func (s *Synthesizer) VoicesChanged() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Changed != nil {
		return s.Changed
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Started returns a channel that receives every utterance as Speak begins.
func (s *Synthesizer) Started() <-chan speech.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedLocked()
}

func (s *Synthesizer) startedLocked() chan speech.Utterance {
	if s.started == nil {
		s.started = make(chan speech.Utterance, 64)
	}
	return s.started
}

// Speak records the call and completes according to Hold. A call whose
// context is already done returns its error unrecorded, like the real
// backends.
func (s *Synthesizer) Speak(ctx context.Context, u speech.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.Calls = append(s.Calls, u)
	s.Events = append(s.Events, "speak:"+u.Text)
	err := s.SpeakErr
	var done chan error
	if s.Hold {
		done = make(chan error, 1)
		s.pending = append(s.pending, done)
	}
	started := s.startedLocked()
	s.mu.Unlock()

	select {
	case started <- u:
	default:
	}

	if done == nil {
		return err
	}
	select {
	case <-ctx.Done():
		s.drop(done)
		return ctx.Err()
	case e := <-done:
		return e
	}
}

func (s *Synthesizer) drop(done chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == done {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Cancel interrupts every held Speak with speech.ErrInterrupted.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancels++
	s.Events = append(s.Events, "cancel")
	for _, p := range s.pending {
		p <- speech.ErrInterrupted
	}
	s.pending = nil
}

// Finish completes the oldest held Speak with SpeakErr. It reports whether
// a held call existed.
func (s *Synthesizer) Finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return false
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	p <- s.SpeakErr
	return true
}

// Texts returns the text of every recorded utterance.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Text
	}
	return out
}

// CancelCount returns Cancels under the lock.
func (s *Synthesizer) CancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cancels
}

// Close is a no-op.
func (s *Synthesizer) Close() error { return nil }

// FetchCall records a single invocation of Fetcher.Fetch.
type FetchCall struct {
	Text string
	Lang string
}

// Fetcher is a mock implementation of speech.Fetcher. Each call returns a
// clip whose data is the requested text.
type Fetcher struct {
	mu sync.Mutex

	// Errs maps a zero-based call index to the error that call returns.
	Errs map[int]error

	// Block makes Fetch wait for context cancellation.
	Block bool

	// Calls records every call to Fetch in order.
	Calls []FetchCall
}

// Name returns "mock".
func (f *Fetcher) Name() string { return "mock" }

// Fetch records the call and returns the configured result.
func (f *Fetcher) Fetch(ctx context.Context, text, lang string) (audio.Clip, error) {
	f.mu.Lock()
	idx := len(f.Calls)
	f.Calls = append(f.Calls, FetchCall{Text: text, Lang: lang})
	err := f.Errs[idx]
	block := f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return audio.Clip{}, ctx.Err()
	}
	if err != nil {
		return audio.Clip{}, err
	}
	return audio.Clip{Data: []byte(text), ContentType: "audio/mpeg"}, nil
}

// Texts returns the text of every recorded fetch.
func (f *Fetcher) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Text
	}
	return out
}

// SinkPlay records a single invocation of Sink.Play.
type SinkPlay struct {
	Clip audio.Clip
	Rate float64
}

// Sink is a mock implementation of audio.Sink.
type Sink struct {
	mu sync.Mutex

	// Errs maps a zero-based call index to the error that Play returns.
	Errs map[int]error

	// Plays records every call to Play in order.
	Plays []SinkPlay

	// Stops counts calls to Stop.
	Stops int
}

// Play records the call and returns the configured error.
func (s *Sink) Play(ctx context.Context, c audio.Clip, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.Plays)
	s.Plays = append(s.Plays, SinkPlay{Clip: c, Rate: rate})
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Errs[idx]
}

// Stop counts the call.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stops++
}

// Played returns the clip data of every Play call as strings.
func (s *Sink) Played() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Plays))
	for i, p := range s.Plays {
		out[i] = string(p.Clip.Data)
	}
	return out
}

// String summarises the recorded calls, for test failure messages.
func (s *Sink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("mock.Sink{plays: %d, stops: %d}", len(s.Plays), s.Stops)
}

// Ensure the mocks implement their interfaces at compile time.
var (
	_ speech.Synthesizer = (*Synthesizer)(nil)
	_ speech.Fetcher     = (*Fetcher)(nil)
	_ audio.Sink         = (*Sink)(nil)
)
