package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadzzz/parlance/internal/observe"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/textutil"
)

// providerLocal labels local synthesizer utterances in metrics and logs.
const providerLocal = "local"

// NetworkSpeaker plays text through a network provider, chunk by chunk.
// *network.Speaker implements it.
type NetworkSpeaker interface {
	Name() string
	Speak(ctx context.Context, text, lang string, rate float64) error
	Stop()
}

// VoiceMatcher resolves a voice URI to a voice speaking the given language.
// *voices.Catalog implements it.
type VoiceMatcher interface {
	Match(uri, lang string) (speech.Voice, bool)
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	// Network is the provider preferred for the secondary language. When nil
	// every request goes to the local synthesizer.
	Network NetworkSpeaker

	// Voices binds configured voice URIs. When nil the platform default voice
	// is always used.
	Voices VoiceMatcher

	Languages speech.Languages

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Selector decides how a Request is voiced and owns the fallback policy.
type Selector struct {
	local   speech.Synthesizer
	network NetworkSpeaker
	voices  VoiceMatcher
	langs   speech.Languages
	metrics *observe.Metrics
}

// NewSelector creates a Selector over the local synthesizer.
func NewSelector(local speech.Synthesizer, opts SelectorOptions) *Selector {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Selector{
		local:   local,
		network: opts.Network,
		voices:  opts.Voices,
		langs:   opts.Languages,
		metrics: opts.Metrics,
	}
}

// Speak voices req and returns once the audio finished.
//
// Secondary-language requests go to the network provider first. If it fails
// for any reason other than ctx being cancelled, the whole text is spoken
// again on the local synthesizer. Blank text succeeds immediately.
func (s *Selector) Speak(ctx context.Context, req Request) error {
	if textutil.IsBlank(req.Text) {
		s.metrics.RecordUtterance(ctx, providerLocal, observe.StatusSkipped, 0)
		return nil
	}

	lang := s.langs.For(req.Mode)
	settings := req.Settings.Clamp()

	if req.Mode == speech.Secondary && !req.LocalOnly && s.network != nil {
		start := time.Now()
		err := s.network.Speak(ctx, req.Text, lang.Code, settings.Rate)
		switch {
		case err == nil:
			s.metrics.RecordUtterance(ctx, s.network.Name(), observe.StatusOK, time.Since(start))
			return nil
		case ctx.Err() != nil:
			s.metrics.RecordUtterance(ctx, s.network.Name(), observe.StatusCancelled, time.Since(start))
			return ctx.Err()
		}
		slog.Warn("network speech failed, falling back to local synthesizer",
			"provider", s.network.Name(), "lang", lang.Code, "error", err)
		s.metrics.RecordUtterance(ctx, s.network.Name(), observe.StatusError, time.Since(start))
		s.metrics.RecordFallback(ctx, s.network.Name())
	}

	return s.speakLocal(ctx, req, lang, settings)
}

func (s *Selector) speakLocal(ctx context.Context, req Request, lang speech.Language, settings speech.Settings) error {
	u := speech.Utterance{
		Text:  req.Text,
		Lang:  lang.Tag,
		Rate:  settings.Rate,
		Pitch: settings.Pitch,
	}
	switch {
	case req.Voice != nil:
		v := *req.Voice
		u.Voice = &v
		u.Lang = v.Lang
	case s.voices != nil && settings.VoiceURI != "":
		if v, ok := s.voices.Match(settings.VoiceURI, lang.Code); ok {
			u.Voice = &v
		} else {
			slog.Debug("configured voice unavailable, using default", "voice_uri", settings.VoiceURI, "lang", lang.Code)
		}
	}

	// One local utterance platform-wide.
	s.local.Cancel()
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := s.local.Speak(ctx, u)
	status := observe.StatusOK
	switch {
	case ctx.Err() != nil:
		status = observe.StatusCancelled
	case err != nil:
		status = observe.StatusError
	}
	s.metrics.RecordUtterance(ctx, providerLocal, status, time.Since(start))
	return err
}

// Halt silences both backends and returns once they are quiet.
func (s *Selector) Halt() {
	s.local.Cancel()
	if s.network != nil {
		s.network.Stop()
	}
}
