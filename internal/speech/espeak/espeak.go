// Package espeak implements speech.Synthesizer with the espeak-ng command-line
// synthesizer. Each utterance runs one espeak-ng process that speaks directly
// to the audio device; Cancel kills it.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/text/language"

	"github.com/nadzzz/parlance/internal/speech"
)

// espeak-ng accepts speeds of 80–450 words per minute and pitch 0–99.
const (
	minWPM       = 80
	maxWPM       = 450
	maxPitch     = 99
	defaultWPM   = 175
	defaultPitch = 50
)

// Options configures a Synthesizer.
type Options struct {
	// Binary defaults to "espeak-ng".
	Binary string

	// WordsPerMinute is the speed at rate 1.0. Default: 175.
	WordsPerMinute int
}

// Synthesizer runs espeak-ng. It is safe for concurrent use; a new Speak
// stops the utterance in flight.
type Synthesizer struct {
	binary string
	wpm    int

	mu      sync.Mutex
	current *speakRun

	voicesMu sync.RWMutex
	voices   []speech.Voice
	changed  chan struct{}
}

type speakRun struct {
	cmd         *exec.Cmd
	done        chan struct{}
	interrupted atomic.Bool
}

// New creates a Synthesizer and starts enumerating the installed voices in
// the background. VoicesChanged is closed once enumeration finished.
func New(ctx context.Context, opts Options) *Synthesizer {
	if opts.Binary == "" {
		opts.Binary = "espeak-ng"
	}
	if opts.WordsPerMinute <= 0 {
		opts.WordsPerMinute = defaultWPM
	}
	s := &Synthesizer{
		binary:  opts.Binary,
		wpm:     opts.WordsPerMinute,
		changed: make(chan struct{}),
	}
	go s.loadVoices(ctx)
	return s
}

func (s *Synthesizer) loadVoices(ctx context.Context) {
	defer close(s.changed)

	out, err := exec.CommandContext(ctx, s.binary, "--voices").Output()
	if err != nil {
		slog.Warn("listing espeak voices failed", "binary", s.binary, "error", err)
		return
	}
	voices := parseVoices(out)

	s.voicesMu.Lock()
	s.voices = voices
	s.voicesMu.Unlock()
	slog.Info("espeak voices loaded", "voices", len(voices))
}

// Voices returns the installed voices; empty until enumeration finished.
func (s *Synthesizer) Voices() []speech.Voice {
	s.voicesMu.RLock()
	defer s.voicesMu.RUnlock()
	out := make([]speech.Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// VoicesChanged returns a channel closed once the voice list is known.
func (s *Synthesizer) VoicesChanged() <-chan struct{} {
	return s.changed
}

// Speak runs espeak-ng for u and blocks until it exits. A call whose
// context is already done returns without touching the utterance in flight.
func (s *Synthesizer) Speak(ctx context.Context, u speech.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var stderr bytes.Buffer
	s.mu.Lock()
	s.cancelLocked()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	cmd := exec.CommandContext(ctx, s.binary, s.args(u)...)
	cmd.Stdin = strings.NewReader(u.Text)
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("starting %s: %w", s.binary, err)
	}
	run := &speakRun{cmd: cmd, done: make(chan struct{})}
	s.current = run
	s.mu.Unlock()

	err := cmd.Wait()
	close(run.done)

	s.mu.Lock()
	if s.current == run {
		s.current = nil
	}
	s.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case run.interrupted.Load():
		return speech.ErrInterrupted
	case err != nil:
		return fmt.Errorf("espeak-ng: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Cancel kills the utterance in flight, if any, and waits for it to exit.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// cancelLocked kills the tracked run and waits for its Speak to observe the
// exit. The caller holds mu.
func (s *Synthesizer) cancelLocked() {
	run := s.current
	if run == nil {
		return
	}
	s.current = nil
	run.interrupted.Store(true)
	if run.cmd.Process != nil {
		_ = run.cmd.Process.Kill()
	}
	<-run.done
}

// Close stops any utterance in flight.
func (s *Synthesizer) Close() error {
	s.Cancel()
	return nil
}

func (s *Synthesizer) args(u speech.Utterance) []string {
	voice := s.voiceFor(u.Lang)
	if u.Voice != nil && u.Voice.URI != "" {
		voice = u.Voice.URI
	}

	args := []string{"--stdin"}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args,
		"-s", strconv.Itoa(s.speed(u.Rate)),
		"-p", strconv.Itoa(pitch(u.Pitch)),
	)
	return args
}

func (s *Synthesizer) speed(rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	wpm := int(math.Round(float64(s.wpm) * rate))
	return min(max(wpm, minWPM), maxWPM)
}

func pitch(p float64) int {
	v := int(math.Round(p * defaultPitch))
	return min(max(v, 0), maxPitch)
}

// voiceFor picks the installed voice whose language equals tag, falling back
// to the bare language name ("eu-ES" → "eu"), which espeak-ng always resolves.
func (s *Synthesizer) voiceFor(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}
	for _, v := range s.Voices() {
		if strings.EqualFold(v.Lang, t.String()) {
			return v.URI
		}
	}
	base, _ := t.Base()
	return base.String()
}

// parseVoices reads the table printed by "espeak-ng --voices":
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
func parseVoices(out []byte) []speech.Voice {
	var voices []speech.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		if first {
			first = false
			if strings.HasPrefix(strings.TrimSpace(sc.Text()), "Pty") {
				continue
			}
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		voices = append(voices, speech.Voice{
			URI:   fields[4],
			Name:  strings.ReplaceAll(fields[3], "_", " "),
			Lang:  canonicalTag(fields[1]),
			Local: true,
		})
	}
	return voices
}

func canonicalTag(s string) string {
	t, err := language.Parse(s)
	if err != nil {
		return s
	}
	return t.String()
}
