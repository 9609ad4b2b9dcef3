// Package voices maintains the list of platform synthesis voices and orders it
// for a target language.
package voices

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nadzzz/parlance/internal/speech"
)

// Source is the part of speech.Synthesizer the catalog reads from.
type Source interface {
	Voices() []speech.Voice
	VoicesChanged() <-chan struct{}
}

// Catalog caches the platform voice list. Platforms may populate the list
// after start-up, so the catalog waits for the first "voices changed" signal,
// re-reads the list once and then stops listening.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	src Source

	mu     sync.RWMutex
	voices []speech.Voice

	resolved chan struct{}
}

// New creates a Catalog over src and starts listening for the voices-changed
// signal until it fires or ctx is cancelled.
func New(ctx context.Context, src Source) *Catalog {
	c := &Catalog{
		src:      src,
		voices:   src.Voices(),
		resolved: make(chan struct{}),
	}
	go c.listen(ctx)
	return c
}

func (c *Catalog) listen(ctx context.Context) {
	defer close(c.resolved)
	select {
	case <-c.src.VoicesChanged():
		c.refresh()
	case <-ctx.Done():
	}
}

func (c *Catalog) refresh() {
	v := c.src.Voices()
	c.mu.Lock()
	c.voices = v
	c.mu.Unlock()
	slog.Debug("voice list resolved", "voices", len(v))
}

// Resolved returns a channel closed once the catalog stopped listening.
func (c *Catalog) Resolved() <-chan struct{} {
	return c.resolved
}

// All returns the cached voices in platform order. While the cache is still
// empty the platform is asked again, so a late-populated list is picked up
// even before the signal arrives.
func (c *Catalog) All() []speech.Voice {
	c.mu.RLock()
	v := slices.Clone(c.voices)
	c.mu.RUnlock()
	if len(v) > 0 {
		return v
	}

	v = c.src.Voices()
	if len(v) > 0 {
		c.mu.Lock()
		if len(c.voices) == 0 {
			c.voices = slices.Clone(v)
		}
		c.mu.Unlock()
	}
	return v
}

// List returns every voice ordered for lang: voices whose language tag starts
// with lang first, then the rest, each group alphabetical by name. An empty
// result means "use the platform default voice".
func (c *Catalog) List(lang string) []speech.Voice {
	return Order(c.All(), lang)
}

// Find returns the voice with the given URI.
func (c *Catalog) Find(uri string) (speech.Voice, bool) {
	if uri == "" {
		return speech.Voice{}, false
	}
	for _, v := range c.All() {
		if v.URI == uri {
			return v, true
		}
	}
	return speech.Voice{}, false
}

// Match returns the voice with the given URI only if it speaks lang.
func (c *Catalog) Match(uri, lang string) (speech.Voice, bool) {
	v, ok := c.Find(uri)
	if !ok || !v.Speaks(lang) {
		return speech.Voice{}, false
	}
	return v, true
}

// Order partitions voices into those speaking lang and the rest and sorts each
// partition by name. Ties are broken by language tag and URI so the result is
// a pure function of the input set.
func Order(voices []speech.Voice, lang string) []speech.Voice {
	var matching, others []speech.Voice
	for _, v := range voices {
		if v.Speaks(lang) {
			matching = append(matching, v)
		} else {
			others = append(others, v)
		}
	}

	col := collate.New(language.Und, collate.IgnoreCase)
	byName := func(a, b speech.Voice) int {
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		if c := strings.Compare(a.Lang, b.Lang); c != 0 {
			return c
		}
		return strings.Compare(a.URI, b.URI)
	}
	slices.SortFunc(matching, byName)
	slices.SortFunc(others, byName)

	out := make([]speech.Voice, 0, len(voices))
	out = append(out, matching...)
	return append(out, others...)
}
