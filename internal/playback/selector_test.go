package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/speech/mock"
	"github.com/nadzzz/parlance/internal/speech/network"
	"github.com/nadzzz/parlance/internal/speech/voices"
)

const longSentence = "This is a very long sentence that needs three chunks"

type netStack struct {
	fetcher *mock.Fetcher
	sink    *mock.Sink
	speaker *network.Speaker
}

func newNetStack(maxChunk int) *netStack {
	f := &mock.Fetcher{}
	sink := &mock.Sink{}
	return &netStack{
		fetcher: f,
		sink:    sink,
		speaker: network.NewSpeaker(f, sink, network.Options{MaxChunkChars: maxChunk}),
	}
}

func TestResolveText(t *testing.T) {
	tests := []struct {
		name     string
		turn     content.DialogueTurn
		mode     speech.Mode
		wantText string
		wantMode speech.Mode
	}{
		{"primary", content.DialogueTurn{TextPrimary: "Hello", TextAlt: strp("Kaixo")}, speech.Primary, "Hello", speech.Primary},
		{"secondary alt", content.DialogueTurn{TextPrimary: "Hello", TextAlt: strp("Kaixo")}, speech.Secondary, "Kaixo", speech.Secondary},
		{"secondary without alt", content.DialogueTurn{TextPrimary: "Hello"}, speech.Secondary, "Hello", speech.Primary},
		{"secondary silent", content.DialogueTurn{TextPrimary: "Hello", TextAlt: strp(" ")}, speech.Secondary, " ", speech.Secondary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, mode := ResolveText(tt.turn, tt.mode)
			if text != tt.wantText || mode != tt.wantMode {
				t.Fatalf("ResolveText = (%q, %s), want (%q, %s)", text, mode, tt.wantText, tt.wantMode)
			}
		})
	}
}

func TestSelector_PrimaryAlwaysLocal(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(200)
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	settings := speech.Settings{Rate: 1.5, Pitch: 0.8}
	if err := sel.Speak(context.Background(), Request{Text: "Hello", Mode: speech.Primary, Settings: settings}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if n := len(ns.fetcher.Calls); n != 0 {
		t.Errorf("network fetches = %d, want 0", n)
	}
	if len(synth.Calls) != 1 {
		t.Fatalf("local calls = %d, want 1", len(synth.Calls))
	}
	u := synth.Calls[0]
	if u.Lang != "en-US" || u.Rate != 1.5 || u.Pitch != 0.8 || u.Voice != nil {
		t.Errorf("utterance = %+v", u)
	}
}

func TestSelector_SecondaryPrefersNetwork(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(20)
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	err := sel.Speak(context.Background(), Request{Text: longSentence, Mode: speech.Secondary, Settings: speech.Settings{Rate: 0.75, Pitch: 1}})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	want := []string{"This is a very long", "sentence that needs", "three chunks"}
	if got := ns.sink.Played(); !equalStrings(got, want) {
		t.Fatalf("played %q, want %q", got, want)
	}
	for i, p := range ns.sink.Plays {
		if p.Rate != 0.75 {
			t.Errorf("chunk %d rate = %v, want 0.75", i, p.Rate)
		}
	}
	if ns.fetcher.Calls[0].Lang != "eu" {
		t.Errorf("fetch lang = %q, want eu", ns.fetcher.Calls[0].Lang)
	}
	if len(synth.Calls) != 0 {
		t.Errorf("local calls = %d, want 0", len(synth.Calls))
	}
}

func TestSelector_FallbackSpeaksWholeText(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(20)
	ns.fetcher.Errs = map[int]error{1: &network.StatusError{Provider: "mock", Code: 503}}
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	if err := sel.Speak(context.Background(), Request{Text: longSentence, Mode: speech.Secondary, Settings: speech.DefaultSettings()}); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if n := len(ns.fetcher.Calls); n != 2 {
		t.Errorf("fetches = %d, want 2 (stop at the failing chunk)", n)
	}
	if got := synth.Texts(); !equalStrings(got, []string{longSentence}) {
		t.Fatalf("local texts = %q, want the full sentence once", got)
	}
	if got := synth.Calls[0].Lang; got != "eu-ES" {
		t.Errorf("fallback lang = %q, want eu-ES", got)
	}
}

func TestSelector_FallbackOnPlaybackError(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(200)
	ns.sink.Errs = map[int]error{0: errors.New("decode error")}
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	if err := sel.Speak(context.Background(), Request{Text: "Kaixo", Mode: speech.Secondary, Settings: speech.DefaultSettings()}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := synth.Texts(); !equalStrings(got, []string{"Kaixo"}) {
		t.Fatalf("local texts = %q, want [Kaixo]", got)
	}
}

func TestSelector_CancellationIsNotAFailure(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(200)
	ns.fetcher.Block = true
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- sel.Speak(ctx, Request{Text: "Kaixo", Mode: speech.Secondary, Settings: speech.DefaultSettings()})
	}()
	cancel()

	if err := waitErr(t, errc); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(synth.Calls); n != 0 {
		t.Fatalf("local calls = %d, want 0 (no fallback on cancel)", n)
	}
}

func TestSelector_LocalOnlySkipsNetwork(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(200)
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	if err := sel.Speak(context.Background(), Request{Text: "Kaixo", Mode: speech.Secondary, LocalOnly: true, Settings: speech.DefaultSettings()}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(ns.fetcher.Calls) != 0 || len(synth.Calls) != 1 {
		t.Fatalf("fetches = %d, local = %d; want 0 and 1", len(ns.fetcher.Calls), len(synth.Calls))
	}
}

func TestSelector_BlankTextIsSilent(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(200)
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	for _, mode := range []speech.Mode{speech.Primary, speech.Secondary} {
		if err := sel.Speak(context.Background(), Request{Text: " \t\n", Mode: mode}); err != nil {
			t.Fatalf("Speak(%s): %v", mode, err)
		}
	}
	if len(synth.Events) != 0 || len(ns.fetcher.Calls) != 0 {
		t.Fatalf("backend touched: local events %v, fetches %d", synth.Events, len(ns.fetcher.Calls))
	}
}

func TestSelector_VoiceBinding(t *testing.T) {
	synth := &mock.Synthesizer{VoiceList: []speech.Voice{
		{URI: "amy", Name: "Amy", Lang: "en-US"},
		{URI: "miren", Name: "Miren", Lang: "eu-ES"},
	}}
	cat := voices.New(context.Background(), synth)
	sel := NewSelector(synth, SelectorOptions{Voices: cat, Languages: testLangs})

	tests := []struct {
		name    string
		uri     string
		mode    speech.Mode
		wantURI string
	}{
		{"matching language", "amy", speech.Primary, "amy"},
		{"secondary voice", "miren", speech.Secondary, "miren"},
		{"wrong language uses default", "amy", speech.Secondary, ""},
		{"unknown uses default", "ghost", speech.Primary, ""},
		{"unset uses default", "", speech.Primary, ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Text: "x", Mode: tt.mode, Settings: speech.Settings{VoiceURI: tt.uri, Rate: 1, Pitch: 1}}
			if err := sel.Speak(context.Background(), req); err != nil {
				t.Fatalf("Speak: %v", err)
			}
			u := synth.Calls[i]
			got := ""
			if u.Voice != nil {
				got = u.Voice.URI
			}
			if got != tt.wantURI {
				t.Fatalf("bound voice = %q, want %q", got, tt.wantURI)
			}
		})
	}
}

func TestSelector_ExplicitVoice(t *testing.T) {
	synth := &mock.Synthesizer{}
	sel := NewSelector(synth, SelectorOptions{Languages: testLangs})

	v := speech.Voice{URI: "ana", Name: "Ana", Lang: "es-ES"}
	if err := sel.Speak(context.Background(), Request{Text: "Hola", Mode: speech.Primary, Voice: &v, Settings: speech.DefaultSettings()}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	u := synth.Calls[0]
	if u.Voice == nil || u.Voice.URI != "ana" || u.Lang != "es-ES" {
		t.Fatalf("utterance = %+v, want voice ana in es-ES", u)
	}
}

func TestSelector_CancelsBeforeSpeaking(t *testing.T) {
	synth := &mock.Synthesizer{}
	sel := NewSelector(synth, SelectorOptions{Languages: testLangs})

	if err := sel.Speak(context.Background(), Request{Text: "Hello", Mode: speech.Primary, Settings: speech.DefaultSettings()}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if want := []string{"cancel", "speak:Hello"}; !equalStrings(synth.Events, want) {
		t.Fatalf("events = %v, want %v", synth.Events, want)
	}
}

func TestSelector_ClampsSettings(t *testing.T) {
	synth := &mock.Synthesizer{}
	sel := NewSelector(synth, SelectorOptions{Languages: testLangs})

	if err := sel.Speak(context.Background(), Request{Text: "Hello", Mode: speech.Primary, Settings: speech.Settings{Rate: 5, Pitch: -1}}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if u := synth.Calls[0]; u.Rate != speech.MaxRate || u.Pitch != speech.MinPitch {
		t.Fatalf("rate/pitch = %v/%v, want %v/%v", u.Rate, u.Pitch, speech.MaxRate, speech.MinPitch)
	}
}

func TestSelector_Halt(t *testing.T) {
	synth := &mock.Synthesizer{}
	ns := newNetStack(200)
	sel := NewSelector(synth, SelectorOptions{Network: ns.speaker, Languages: testLangs})

	sel.Halt()
	if synth.CancelCount() != 1 || ns.sink.Stops != 1 {
		t.Fatalf("cancels = %d, sink stops = %d; want 1 and 1", synth.CancelCount(), ns.sink.Stops)
	}
}
