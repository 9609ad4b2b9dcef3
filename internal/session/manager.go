package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/observe"
	"github.com/nadzzz/parlance/internal/playback"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/textutil"
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")

	// ErrTurnOutOfRange is returned when a turn index is outside the conversation.
	ErrTurnOutOfRange = errors.New("turn index out of range")
)

// DefaultTestText is spoken by TestVoice when no text is given.
const DefaultTestText = "Kaixo, hau euskera ahotsaren testa da. Ondo entzuten al da?"

// Catalog supplies conversations and phrases. *content.Catalog implements it.
type Catalog interface {
	Conversation(id string) (content.Conversation, error)
	Phrase(id string) (content.Phrase, error)
}

// VoiceFinder looks up a voice by URI. *voices.Catalog implements it.
type VoiceFinder interface {
	Find(uri string) (speech.Voice, bool)
}

// Options configures a Manager.
type Options struct {
	Catalog Catalog

	// Player is shared by every session.
	Player playback.Playback

	// Settings supplies per-speaker voice settings. Nil means defaults.
	Settings playback.SettingsSource

	// Voices resolves voice URIs for TestVoice.
	Voices VoiceFinder

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Manager owns the open sessions. Starting playback anywhere stops the
// sequences of every other session first, so at most one voice is heard.
//
// Manager is safe for concurrent use.
type Manager struct {
	ctx      context.Context
	catalog  Catalog
	player   playback.Playback
	settings playback.SettingsSource
	voices   VoiceFinder
	metrics  *observe.Metrics
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session

	// reqMu guards pending, the newest detached play still running. Each
	// new request cancels it before its own goroutine starts.
	reqMu   sync.Mutex
	pending *request

	// wg tracks detached single plays.
	wg sync.WaitGroup
}

// request is a detached single play.
type request struct {
	owner  *Session
	cancel context.CancelFunc
}

// NewManager creates a Manager. Playback started through it is bound to ctx.
func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		ctx:      ctx,
		catalog:  opts.Catalog,
		player:   opts.Player,
		settings: opts.Settings,
		voices:   opts.Voices,
		metrics:  opts.Metrics,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session over the conversation with the given ID.
func (m *Manager) Create(conversationID string) (*Session, error) {
	conv, err := m.catalog.Conversation(conversationID)
	if err != nil {
		return nil, err
	}

	s := newSession(m.ctx, conv, m.player, m.opts)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session opened", "session_id", s.id, "conversation_id", conv.ID, "turns", len(conv.Turns))
	return s, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns every open session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Close tears the session down and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.Close()
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session closed", "session_id", id)
	return nil
}

// CloseAll closes every session, silences the player and waits for detached
// plays to return.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		s.Close()
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Debug("session closed", "session_id", id)
	}
	m.player.Cancel()
	m.wg.Wait()
	slog.Info("all sessions closed", "count", len(sessions))
}

// PlayAll starts playing the session's conversation from startIndex. A
// negative startIndex resumes where the last run stopped. It returns as soon
// as the run has started.
func (m *Manager) PlayAll(id string, mode speech.Mode, startIndex int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	m.supersede(nil)
	m.stopOthers(s)
	s.seq.Start(s.ctx, s.conv.Turns, mode, startIndex)
	return nil
}

// PlayTurn plays one turn of the session's conversation. It stops whatever
// the session was playing before returning; the turn itself plays in the
// background.
func (m *Manager) PlayTurn(id string, index int, mode speech.Mode) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(s.conv.Turns) {
		return fmt.Errorf("%w: %d", ErrTurnOutOfRange, index)
	}
	m.stopOthers(s)
	s.seq.Stop()

	turn := s.conv.Turns[index]
	m.detach(s.ctx, s, func(ctx context.Context) {
		if err := s.seq.PlayOne(ctx, turn, index, mode); err != nil {
			slog.Warn("turn playback failed", "session_id", s.id, "turn", index, "error", err)
		}
	})
	return nil
}

// Stop stops the session's playback. The current index is kept.
func (m *Manager) Stop(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	m.supersede(s)
	s.seq.Stop()
	return nil
}

// State returns the sequencer state of a session.
func (m *Manager) State(id string) (playback.State, error) {
	s, err := m.Get(id)
	if err != nil {
		return playback.State{}, err
	}
	return s.State(), nil
}

// PlayPhrase speaks a phrase card in mode with the default voice settings.
func (m *Manager) PlayPhrase(id string, mode speech.Mode) error {
	phrase, err := m.catalog.Phrase(id)
	if err != nil {
		return err
	}
	text, lang := playback.ResolveText(phrase.Turn(), mode)
	if textutil.IsBlank(text) {
		return nil
	}

	m.stopOthers(nil)
	req := playback.Request{Text: text, Mode: lang, Settings: speech.DefaultSettings()}
	m.detach(m.ctx, nil, func(ctx context.Context) {
		if err := m.player.Play(ctx, req); err != nil {
			slog.Warn("phrase playback failed", "phrase_id", id, "error", err)
		}
	})
	return nil
}

// TestVoice speaks text with the voice identified by uri on the local
// synthesizer. Blank text is replaced by DefaultTestText.
func (m *Manager) TestVoice(uri, text string) error {
	if m.voices == nil {
		return fmt.Errorf("%w: %s", speech.ErrVoiceNotFound, uri)
	}
	voice, ok := m.voices.Find(uri)
	if !ok {
		return fmt.Errorf("%w: %s", speech.ErrVoiceNotFound, uri)
	}
	if textutil.IsBlank(text) {
		text = DefaultTestText
	}

	m.stopOthers(nil)
	req := playback.Request{
		Text:      text,
		Mode:      speech.Primary,
		Settings:  speech.Settings{VoiceURI: voice.URI, Rate: 1, Pitch: 1},
		LocalOnly: true,
		Voice:     &voice,
	}
	m.detach(m.ctx, nil, func(ctx context.Context) {
		if err := m.player.Play(ctx, req); err != nil {
			slog.Warn("voice test failed", "voice_uri", uri, "error", err)
		}
	})
	return nil
}

// stopOthers stops the sequencer of every session except keep.
func (m *Manager) stopOthers(keep *Session) {
	m.mu.Lock()
	others := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != keep {
			others = append(others, s)
		}
	}
	m.mu.Unlock()

	for _, s := range others {
		s.seq.Stop()
	}
}

// detach runs play in the background. The context handed to play is
// cancelled by the next request, so a request that is overtaken before it
// reaches the player never plays.
func (m *Manager) detach(parent context.Context, owner *Session, play func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	req := &request{owner: owner, cancel: cancel}

	m.reqMu.Lock()
	if m.pending != nil {
		m.pending.cancel()
	}
	m.pending = req
	m.reqMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(req)
		play(ctx)
	}()
}

// supersede cancels the pending detached play. A non-nil owner limits it to
// plays of that session.
func (m *Manager) supersede(owner *Session) {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()
	if m.pending == nil || (owner != nil && m.pending.owner != owner) {
		return
	}
	m.pending.cancel()
	m.pending = nil
}

func (m *Manager) release(req *request) {
	m.reqMu.Lock()
	if m.pending == req {
		m.pending = nil
	}
	m.reqMu.Unlock()
	req.cancel()
}
