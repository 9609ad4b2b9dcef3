package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/observe"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/textutil"
)

// State is a snapshot of the sequencer.
type State struct {
	Active       bool `json:"active"`
	CurrentIndex int  `json:"current_index"`
	Cancelled    bool `json:"cancelled"`
}

// EventType names a sequencer event.
type EventType string

const (
	// EventTurnStarted is emitted right before a turn is handed to the player.
	EventTurnStarted EventType = "turn_started"

	// EventSequenceFinished is emitted once when a run passes the last turn
	// without being stopped.
	EventSequenceFinished EventType = "sequence_finished"
)

// Event reports sequencer progress.
type Event struct {
	Type EventType `json:"type"`

	// RunID identifies the play-all run; empty for single-turn playback.
	RunID string `json:"run_id,omitempty"`

	Index   int         `json:"index"`
	Speaker string      `json:"speaker,omitempty"`
	Text    string      `json:"text,omitempty"`
	Mode    speech.Mode `json:"mode,omitempty"`
}

// Playback is the player the sequencer drives. *Player implements it.
type Playback interface {
	Play(ctx context.Context, req Request) error

	// Cancel stops the playback in flight and returns once it is silent.
	Cancel()
}

// SettingsSource supplies the voice settings of a speaker. Reads are
// synchronous and happen once per turn.
type SettingsSource interface {
	SpeakerSettings(speaker string) speech.Settings
}

// SequencerOptions configures a Sequencer.
type SequencerOptions struct {
	// OnEvent receives sequencer events. It is called with the sequencer's
	// lock held and must neither block nor call back into the Sequencer.
	OnEvent func(Event)

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Sequencer plays the turns of a conversation in order ("play all") or one
// at a time ("play one"). The two modes are never concurrent: starting
// either stops the other first.
//
// Sequencer is safe for concurrent use.
type Sequencer struct {
	player   Playback
	settings SettingsSource
	onEvent  func(Event)
	metrics  *observe.Metrics

	// ctrl serialises Start, Stop and PlayOne so that a Cancel issued for
	// an old playback never hits the one that replaces it.
	ctrl sync.Mutex

	mu     sync.Mutex
	state  State
	run    *seqRun
	single *seqRun
}

// seqRun is one play-all run or one single-turn playback.
type seqRun struct {
	id        string
	cancelled bool
	playing   bool // a Play call is in flight
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSequencer creates an idle Sequencer.
func NewSequencer(player Playback, settings SettingsSource, opts SequencerOptions) *Sequencer {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Sequencer{
		player:   player,
		settings: settings,
		onEvent:  opts.OnEvent,
		metrics:  opts.Metrics,
	}
}

// State returns a snapshot of the sequencer state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start stops whatever the sequencer is playing and begins a play-all run
// over turns. A negative startIndex resumes from the current index; an index
// outside the turn list starts from 0. The returned channel is closed when
// the run ends, whether it finished or was stopped.
func (s *Sequencer) Start(ctx context.Context, turns []content.DialogueTurn, mode speech.Mode, startIndex int) <-chan struct{} {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	run := &seqRun{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	silence := s.detach()
	idx := startIndex
	if idx < 0 {
		idx = s.state.CurrentIndex
	}
	if idx < 0 || idx >= len(turns) {
		idx = 0
	}
	s.run = run
	s.state = State{Active: true, CurrentIndex: idx}
	s.mu.Unlock()

	if silence {
		s.player.Cancel()
	}

	slog.Info("sequence started", "run_id", run.id, "turns", len(turns), "start_index", idx, "mode", mode)
	go s.loop(runCtx, run, turns, mode)
	return run.done
}

func (s *Sequencer) loop(ctx context.Context, run *seqRun, turns []content.DialogueTurn, mode speech.Mode) {
	defer close(run.done)
	defer run.cancel()

	s.metrics.ActiveSequences.Add(context.Background(), 1)
	defer s.metrics.ActiveSequences.Add(context.Background(), -1)

	log := slog.With("run_id", run.id)

	for {
		s.mu.Lock()
		if s.halted(ctx, run) {
			s.mu.Unlock()
			log.Debug("sequence cancelled")
			return
		}
		idx := s.state.CurrentIndex
		if idx >= len(turns) {
			s.state = State{}
			s.run = nil
			s.emit(Event{Type: EventSequenceFinished, RunID: run.id, Index: len(turns)})
			s.mu.Unlock()
			log.Info("sequence finished")
			return
		}

		turn := turns[idx]
		text, lang := ResolveText(turn, mode)
		blank := textutil.IsBlank(text)
		if !blank {
			run.playing = true
			s.emit(Event{Type: EventTurnStarted, RunID: run.id, Index: idx, Speaker: turn.Speaker, Text: text, Mode: lang})
		}
		s.mu.Unlock()

		if blank {
			log.Debug("skipping silent turn", "turn", idx)
		} else {
			req := Request{Text: text, Mode: lang, Settings: s.settingsFor(turn.Speaker)}
			if err := s.player.Play(ctx, req); err != nil {
				log.Warn("turn playback failed, continuing", "turn", idx, "speaker", turn.Speaker, "error", err)
			}
		}

		s.mu.Lock()
		run.playing = false
		if s.halted(ctx, run) {
			s.mu.Unlock()
			log.Debug("sequence cancelled", "turn", idx)
			return
		}
		s.state.CurrentIndex = idx + 1
		s.mu.Unlock()
	}
}

// halted reports whether run was stopped or its context cancelled. A run
// whose context ended is stopped in place, keeping the current index. The
// caller holds mu.
func (s *Sequencer) halted(ctx context.Context, run *seqRun) bool {
	if run.cancelled {
		return true
	}
	if ctx.Err() == nil {
		return false
	}
	run.cancelled = true
	if s.run == run {
		s.run = nil
		s.state.Active = false
		s.state.Cancelled = true
		slog.Info("sequence stopped by context", "run_id", run.id, "turn", s.state.CurrentIndex)
	}
	return true
}

// Stop ends the active run, if any, and cancels a single-turn playback in
// flight. The audio is silent when Stop returns, and a provider call that
// completes afterwards does not advance the run. The current index is kept
// so a later Start with a negative index resumes there. Calling Stop while
// idle does nothing.
func (s *Sequencer) Stop() {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	silence := s.detach()
	s.mu.Unlock()

	if silence {
		s.player.Cancel()
	}
}

// detach marks the run and the single playback cancelled and forgets them.
// It reports whether either had a Play in flight. The caller holds mu.
func (s *Sequencer) detach() bool {
	var playing bool
	if run := s.run; run != nil {
		run.cancelled = true
		run.cancel()
		playing = run.playing
		s.run = nil
		s.state.Active = false
		s.state.Cancelled = true
		slog.Info("sequence stopped", "run_id", run.id, "turn", s.state.CurrentIndex)
	}
	if single := s.single; single != nil {
		single.cancelled = true
		single.cancel()
		playing = true
		s.single = nil
	}
	return playing
}

// PlayOne stops any active run, then plays a single turn in mode and blocks
// until it finished or was cancelled. A blank turn, or a ctx that is already
// done, returns immediately without stopping anything.
func (s *Sequencer) PlayOne(ctx context.Context, turn content.DialogueTurn, index int, mode speech.Mode) error {
	s.ctrl.Lock()
	if ctx.Err() != nil {
		s.ctrl.Unlock()
		return nil
	}

	s.mu.Lock()
	silence := s.detach()
	s.mu.Unlock()
	if silence {
		s.player.Cancel()
	}

	text, lang := ResolveText(turn, mode)
	if textutil.IsBlank(text) {
		s.ctrl.Unlock()
		return nil
	}

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	single := &seqRun{cancel: cancel, playing: true}
	s.mu.Lock()
	s.single = single
	s.emit(Event{Type: EventTurnStarted, Index: index, Speaker: turn.Speaker, Text: text, Mode: lang})
	s.mu.Unlock()
	s.ctrl.Unlock()

	defer func() {
		s.mu.Lock()
		if s.single == single {
			s.single = nil
		}
		s.mu.Unlock()
	}()

	req := Request{Text: text, Mode: lang, Settings: s.settingsFor(turn.Speaker)}
	return s.player.Play(playCtx, req)
}

func (s *Sequencer) settingsFor(speaker string) speech.Settings {
	if s.settings == nil {
		return speech.DefaultSettings()
	}
	return s.settings.SpeakerSettings(speaker)
}

// emit delivers ev. The caller holds mu.
func (s *Sequencer) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}
