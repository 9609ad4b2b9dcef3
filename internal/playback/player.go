package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/nadzzz/parlance/internal/audio"
	"github.com/nadzzz/parlance/internal/speech"
)

// Speaker voices a single Request. *Selector implements it.
type Speaker interface {
	Speak(ctx context.Context, req Request) error

	// Halt silences every backend synchronously.
	Halt()
}

// Player plays one Request at a time. Every path that emits audio goes through
// the same Player, so starting a playback always stops the previous one first.
//
// Player is safe for concurrent use.
type Player struct {
	speaker Speaker

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewPlayer creates a Player over speaker.
func NewPlayer(speaker Speaker) *Player {
	return &Player{speaker: speaker}
}

// Play stops any playback in flight, then voices req and blocks until it
// finished. Cancellation, through ctx or Cancel or a newer Play, is not an
// error: Play returns nil in that case.
func (p *Player) Play(ctx context.Context, req Request) error {
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Backends are halted under mu so a stale halt can never land after a
	// newer Play started speaking.
	p.mu.Lock()
	if ctx.Err() != nil {
		// Superseded before it started; leave the current playback alone.
		p.mu.Unlock()
		return nil
	}
	if p.cancel != nil {
		p.cancel()
		p.speaker.Halt()
	}
	p.seq++
	token := p.seq
	p.cancel = cancel
	p.mu.Unlock()

	err := p.speaker.Speak(playCtx, req)

	p.mu.Lock()
	if p.seq == token {
		p.cancel = nil
		if playCtx.Err() != nil {
			p.speaker.Halt()
		}
	}
	p.mu.Unlock()

	if playCtx.Err() != nil || err == nil || isInterruption(err) {
		return nil
	}
	return err
}

// Cancel stops the playback in flight, if any, and silences both backends
// unconditionally. It is safe to call at any time.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.speaker.Halt()
}

func isInterruption(err error) bool {
	return errors.Is(err, speech.ErrInterrupted) ||
		errors.Is(err, audio.ErrStopped) ||
		errors.Is(err, context.Canceled)
}
