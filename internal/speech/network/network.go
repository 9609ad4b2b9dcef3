// Package network plays text through a network synthesis provider: the text
// is split into provider-sized chunks, each chunk is fetched and played to
// completion before the next one is requested.
package network

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/nadzzz/parlance/internal/audio"
	"github.com/nadzzz/parlance/internal/observe"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/textutil"
)

// DefaultMaxChunkChars is the per-request text limit of the translate endpoint.
const DefaultMaxChunkChars = 200

// StatusError is returned by a Fetcher when the provider answered with a
// non-success status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

// Options configures a Speaker.
type Options struct {
	// MaxChunkChars is the maximum chunk length in characters.
	// Default: DefaultMaxChunkChars.
	MaxChunkChars int

	// RequestsPerSecond throttles chunk requests. Zero means unlimited.
	RequestsPerSecond float64

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Speaker plays text through a Fetcher and an audio Sink.
type Speaker struct {
	fetcher  speech.Fetcher
	sink     audio.Sink
	maxChunk int
	limiter  *rate.Limiter
	metrics  *observe.Metrics
}

// NewSpeaker creates a Speaker.
func NewSpeaker(f speech.Fetcher, sink audio.Sink, opts Options) *Speaker {
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = DefaultMaxChunkChars
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	s := &Speaker{
		fetcher:  f,
		sink:     sink,
		maxChunk: opts.MaxChunkChars,
		metrics:  opts.Metrics,
	}
	if opts.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return s
}

// Name returns the provider name of the underlying Fetcher.
func (s *Speaker) Name() string {
	return s.fetcher.Name()
}

// Speak plays text in the language with the given code at the given playback
// rate. It returns nil once every chunk has played, ctx.Err() when ctx was
// cancelled, and any other error as soon as one chunk fails; remaining chunks
// are then not requested.
func (s *Speaker) Speak(ctx context.Context, text, lang string, playbackRate float64) error {
	chunks := textutil.Chunk(text, s.maxChunk)
	log := slog.With("provider", s.Name(), "lang", lang, "chunks", len(chunks))
	log.Debug("network speak")

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("throttling chunk %d: %w", i, err)
			}
		}

		clip, err := s.fetcher.Fetch(ctx, chunk, lang)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.metrics.RecordChunkRequest(ctx, s.Name(), observe.StatusError)
			return fmt.Errorf("fetching chunk %d/%d: %w", i+1, len(chunks), err)
		}
		s.metrics.RecordChunkRequest(ctx, s.Name(), observe.StatusOK)

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sink.Play(ctx, clip, playbackRate); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("playing chunk %d/%d: %w", i+1, len(chunks), err)
		}
		log.Debug("chunk played", "chunk", i+1)
	}
	return nil
}

// Stop halts the clip currently playing, if any.
func (s *Speaker) Stop() {
	s.sink.Stop()
}
