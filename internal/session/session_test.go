package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/playback"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/speech/mock"
	"github.com/nadzzz/parlance/internal/speech/voices"
)

const catalogYAML = `
conversations:
  - id: hostel
    title: Checking in
    turns:
      - speaker: Hostel Staff
        text_primary: Good evening
        text_secondary: Buenas noches
        text_alt: Gabon
      - speaker: Guest
        text_primary: Hi
        text_secondary: Hola
  - id: market
    title: At the market
    turns:
      - speaker: Seller
        text_primary: Apples
        text_secondary: Manzanas
        text_alt: Sagarrak
phrases:
  - id: thanks
    text_primary: Thank you
    text_secondary: Gracias
  - id: bye
    text_primary: Goodbye
    text_secondary: Adios
    text_alt: Agur
`

var testLangs = speech.Languages{
	Primary:   speech.Language{Code: "en", Tag: "en-US"},
	Secondary: speech.Language{Code: "eu", Tag: "eu-ES"},
}

type harness struct {
	mgr   *Manager
	synth *mock.Synthesizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := content.Parse([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	synth := &mock.Synthesizer{
		Hold: true,
		VoiceList: []speech.Voice{
			{URI: "miren", Name: "Miren", Lang: "eu-ES", Local: true},
		},
	}
	vc := voices.New(ctx, synth)
	sel := playback.NewSelector(synth, playback.SelectorOptions{Languages: testLangs, Voices: vc})
	mgr := NewManager(ctx, Options{
		Catalog: cat,
		Player:  playback.NewPlayer(sel),
		Voices:  vc,
	})
	t.Cleanup(func() {
		cancel()
		mgr.CloseAll()
	})
	return &harness{mgr: mgr, synth: synth}
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

func waitEvent(t *testing.T, ch <-chan playback.Event, typ playback.EventType) playback.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return playback.Event{}
		}
	}
}

func waitState(t *testing.T, s *Session, want func(playback.State) bool) playback.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := s.State()
		if want(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never reached, last %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreate_UnknownConversation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.mgr.Create("nope"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("err = %v, want content.ErrNotFound", err)
	}
}

func TestGet_UnknownSession(t *testing.T) {
	h := newHarness(t)
	if _, err := h.mgr.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := h.mgr.PlayAll("nope", speech.Primary, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("PlayAll err = %v, want ErrNotFound", err)
	}
	if _, err := h.mgr.State("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("State err = %v, want ErrNotFound", err)
	}
}

func TestPlayAll_EmitsEventsInOrder(t *testing.T) {
	h := newHarness(t)
	s, err := h.mgr.Create("hostel")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := h.mgr.PlayAll(s.ID(), speech.Secondary, 0); err != nil {
		t.Fatalf("PlayAll: %v", err)
	}

	ev := waitEvent(t, events, playback.EventTurnStarted)
	if ev.Index != 0 || ev.Text != "Gabon" {
		t.Fatalf("first event = %+v, want turn 0 Gabon", ev)
	}
	if u := waitStarted(t, h.synth); u.Text != "Gabon" || u.Lang != "eu-ES" {
		t.Fatalf("utterance = %+v, want Gabon in eu-ES", u)
	}
	h.synth.Finish()

	ev = waitEvent(t, events, playback.EventTurnStarted)
	if ev.Index != 1 || ev.Text != "Hi" || ev.Mode != speech.Primary {
		t.Fatalf("second event = %+v, want turn 1 Hi in primary", ev)
	}
	if u := waitStarted(t, h.synth); u.Lang != "en-US" {
		t.Fatalf("utterance lang = %q, want en-US", u.Lang)
	}
	h.synth.Finish()

	waitEvent(t, events, playback.EventSequenceFinished)
	if st := s.State(); st != (playback.State{}) {
		t.Fatalf("state = %+v, want idle", st)
	}
}

func TestPlayAll_PreemptsOtherSessions(t *testing.T) {
	h := newHarness(t)
	first, _ := h.mgr.Create("hostel")
	second, _ := h.mgr.Create("market")

	if err := h.mgr.PlayAll(first.ID(), speech.Primary, 0); err != nil {
		t.Fatalf("PlayAll: %v", err)
	}
	waitStarted(t, h.synth)

	if err := h.mgr.PlayAll(second.ID(), speech.Primary, 0); err != nil {
		t.Fatalf("PlayAll: %v", err)
	}
	if u := waitStarted(t, h.synth); u.Text != "Apples" {
		t.Fatalf("utterance = %q, want Apples", u.Text)
	}

	st := first.State()
	if st.Active || !st.Cancelled || st.CurrentIndex != 0 {
		t.Fatalf("first state = %+v, want stopped at turn 0", st)
	}
	if got := h.synth.Texts(); len(got) != 2 {
		t.Fatalf("utterances = %q, want the first session never to advance", got)
	}
}

func TestStop_KeepsIndexAndResumes(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")

	_ = h.mgr.PlayAll(s.ID(), speech.Primary, 0)
	waitStarted(t, h.synth)
	h.synth.Finish()
	waitStarted(t, h.synth)

	if err := h.mgr.Stop(s.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st, _ := h.mgr.State(s.ID())
	if st.Active || !st.Cancelled || st.CurrentIndex != 1 {
		t.Fatalf("state = %+v, want stopped at turn 1", st)
	}

	_ = h.mgr.PlayAll(s.ID(), speech.Primary, -1)
	if u := waitStarted(t, h.synth); u.Text != "Hi" {
		t.Fatalf("resumed with %q, want Hi", u.Text)
	}
}

func TestPlayTurn(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")

	if err := h.mgr.PlayTurn(s.ID(), 5, speech.Primary); !errors.Is(err, ErrTurnOutOfRange) {
		t.Fatalf("err = %v, want ErrTurnOutOfRange", err)
	}

	_ = h.mgr.PlayAll(s.ID(), speech.Primary, 0)
	waitStarted(t, h.synth)

	if err := h.mgr.PlayTurn(s.ID(), 1, speech.Primary); err != nil {
		t.Fatalf("PlayTurn: %v", err)
	}
	if st := s.State(); st.Active {
		t.Fatalf("state = %+v, want the sequence stopped", st)
	}
	if u := waitStarted(t, h.synth); u.Text != "Hi" {
		t.Fatalf("utterance = %q, want Hi", u.Text)
	}
}

// waitText drains started utterances until one with text begins, then gives
// overtaken requests time to show up.
func waitText(t *testing.T, synth *mock.Synthesizer, text string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-synth.Started():
			if u.Text == text {
				time.Sleep(50 * time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q, spoken %q", text, synth.Texts())
		}
	}
}

func lastText(synth *mock.Synthesizer) string {
	texts := synth.Texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func TestPlayTurn_NewestRequestWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		s, _ := h.mgr.Create("hostel")

		if err := h.mgr.PlayTurn(s.ID(), 0, speech.Primary); err != nil {
			t.Fatalf("PlayTurn(0): %v", err)
		}
		if err := h.mgr.PlayTurn(s.ID(), 1, speech.Primary); err != nil {
			t.Fatalf("PlayTurn(1): %v", err)
		}
		waitText(t, h.synth, "Hi")
		if got := lastText(h.synth); got != "Hi" {
			t.Fatalf("round %d: last utterance = %q, want Hi (spoken %q)", i, got, h.synth.Texts())
		}
	}
}

func TestPlayPhrase_NewestRequestWins(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")

	if err := h.mgr.PlayTurn(s.ID(), 0, speech.Primary); err != nil {
		t.Fatalf("PlayTurn: %v", err)
	}
	if err := h.mgr.PlayPhrase("thanks", speech.Primary); err != nil {
		t.Fatalf("PlayPhrase: %v", err)
	}
	if err := h.mgr.TestVoice("miren", "Kaixo"); err != nil {
		t.Fatalf("TestVoice: %v", err)
	}
	waitText(t, h.synth, "Kaixo")
	if got := lastText(h.synth); got != "Kaixo" {
		t.Fatalf("last utterance = %q, want Kaixo (spoken %q)", got, h.synth.Texts())
	}
}

func TestStop_DropsPendingTurn(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")

	if err := h.mgr.PlayTurn(s.ID(), 1, speech.Primary); err != nil {
		t.Fatalf("PlayTurn: %v", err)
	}
	if err := h.mgr.Stop(s.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Either Hi never started, or it was cut off by Stop.
	if texts := h.synth.Texts(); len(texts) > 0 && h.synth.Finish() {
		t.Fatalf("spoken %q, Hi still playing after Stop", texts)
	}
}

func TestPublish_FinishedSurvivesFullBuffer(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for i := 0; i < eventBuffer+4; i++ {
		s.publish(playback.Event{Type: playback.EventTurnStarted, Index: i})
	}
	s.publish(playback.Event{Type: playback.EventSequenceFinished, Index: 2})

	var last playback.Event
	for n := 0; n < eventBuffer; n++ {
		select {
		case last = <-events:
		case <-time.After(time.Second):
			t.Fatalf("only %d buffered events", n)
		}
	}
	if last.Type != playback.EventSequenceFinished {
		t.Fatalf("last event = %+v, want sequence_finished", last)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestClose_SilencesAndClosesSubscribers(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")
	events, _ := s.Subscribe()

	_ = h.mgr.PlayAll(s.ID(), speech.Primary, 0)
	waitStarted(t, h.synth)

	if err := h.mgr.Close(s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.mgr.Close(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Close err = %v, want ErrNotFound", err)
	}
	s.Close()

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-events:
		case <-deadline:
			t.Fatal("event channel not closed")
		}
	}
	if st := s.State(); st.Active {
		t.Fatalf("state = %+v, want inactive", st)
	}
	if got := len(h.synth.Texts()); got != 1 {
		t.Fatalf("utterances = %d, want 1", got)
	}
}

func TestClose_NeverPlayedStillCancels(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")
	if err := h.mgr.Close(s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.synth.CancelCount() == 0 {
		t.Fatal("closing an idle session did not cancel the synthesizer")
	}
}

func TestSubscribe_AfterClose(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")
	s.Close()
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("expected a closed channel")
	}
}

func TestPlayPhrase(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")
	_ = h.mgr.PlayAll(s.ID(), speech.Primary, 0)
	waitStarted(t, h.synth)

	if err := h.mgr.PlayPhrase("thanks", speech.Secondary); err != nil {
		t.Fatalf("PlayPhrase: %v", err)
	}
	u := waitStarted(t, h.synth)
	if u.Text != "Thank you" || u.Lang != "en-US" {
		t.Fatalf("utterance = %+v, want Thank you in en-US", u)
	}
	waitState(t, s, func(st playback.State) bool { return !st.Active })

	if err := h.mgr.PlayPhrase("missing", speech.Primary); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("err = %v, want content.ErrNotFound", err)
	}
}

func TestTestVoice(t *testing.T) {
	h := newHarness(t)

	if err := h.mgr.TestVoice("nobody", ""); !errors.Is(err, speech.ErrVoiceNotFound) {
		t.Fatalf("err = %v, want ErrVoiceNotFound", err)
	}

	if err := h.mgr.TestVoice("miren", ""); err != nil {
		t.Fatalf("TestVoice: %v", err)
	}
	u := waitStarted(t, h.synth)
	if u.Text != DefaultTestText {
		t.Errorf("text = %q, want the default test text", u.Text)
	}
	if u.Voice == nil || u.Voice.URI != "miren" || u.Lang != "eu-ES" {
		t.Errorf("utterance = %+v, want voice miren in eu-ES", u)
	}
}

func TestCloseAll(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mgr.Create("hostel")
	_, _ = h.mgr.Create("market")
	_ = h.mgr.PlayTurn(s.ID(), 0, speech.Primary)
	waitStarted(t, h.synth)

	done := make(chan struct{})
	go func() {
		h.mgr.CloseAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseAll did not return")
	}
	if got := len(h.mgr.List()); got != 0 {
		t.Fatalf("sessions = %d, want 0", got)
	}
}
