// Package session ties a conversation to its playback: one Session per open
// dialogue view, created when the view mounts and closed when the user
// navigates away. The Manager keeps the sessions and makes sure only one of
// them is audible at a time.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/playback"
)

// eventBuffer is the per-subscriber channel capacity. Events beyond it are
// dropped for that subscriber.
const eventBuffer = 16

// Info describes a session.
type Info struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Title          string         `json:"title"`
	Turns          int            `json:"turns"`
	CreatedAt      time.Time      `json:"created_at"`
	State          playback.State `json:"state"`
}

// Session is the playback state of one open conversation.
type Session struct {
	id        string
	conv      content.Conversation
	createdAt time.Time
	seq       *playback.Sequencer
	player    playback.Playback

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[chan playback.Event]struct{}
	closed bool
}

func newSession(ctx context.Context, conv content.Conversation, player playback.Playback, opts Options) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        uuid.NewString(),
		conv:      conv,
		createdAt: time.Now(),
		player:    player,
		ctx:       sctx,
		cancel:    cancel,
		subs:      make(map[chan playback.Event]struct{}),
	}
	s.seq = playback.NewSequencer(player, opts.Settings, playback.SequencerOptions{
		OnEvent: s.publish,
		Metrics: opts.Metrics,
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Conversation returns the conversation the session plays.
func (s *Session) Conversation() content.Conversation { return s.conv }

// State returns the sequencer state.
func (s *Session) State() playback.State { return s.seq.State() }

// Info returns a description of the session.
func (s *Session) Info() Info {
	return Info{
		ID:             s.id,
		ConversationID: s.conv.ID,
		Title:          s.conv.Title,
		Turns:          len(s.conv.Turns),
		CreatedAt:      s.createdAt,
		State:          s.seq.State(),
	}
}

// Subscribe returns a channel of sequencer events and a function that
// unsubscribes it. The channel is closed on unsubscribe or when the session
// closes. A subscriber that falls behind misses events.
func (s *Session) Subscribe() (<-chan playback.Event, func()) {
	ch := make(chan playback.Event, eventBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// publish fans ev out to the subscribers. It runs under the sequencer lock
// and never blocks.
func (s *Session) publish(ev playback.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if ev.Type != playback.EventSequenceFinished {
			slog.Debug("dropping session event for slow subscriber", "session_id", s.id, "event", ev.Type)
			continue
		}
		// sequence_finished is never dropped; the oldest buffered event
		// makes room for it. Only publish sends, and it holds mu.
		select {
		case old := <-ch:
			slog.Debug("dropping session event for slow subscriber", "session_id", s.id, "event", old.Type)
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops the sequencer and silences the player, whether or not
// anything is playing. It is safe to call more than once.
func (s *Session) Close() {
	s.seq.Stop()
	s.player.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
