// Package content loads the read-only dialogue and phrase catalog.
//
// The catalog is a single YAML (or JSON) document:
//
//	conversations:
//	  - id: hostel-checkin
//	    title: Checking in
//	    turns:
//	      - speaker: Hostel Staff
//	        text_primary: Good evening, do you have a reservation?
//	        text_secondary: Buenas noches, ¿tiene una reserva?
//	        text_alt: Gabon, erreserbarik al duzu?
//	phrases:
//	  - id: greeting-1
//	    text_primary: Good morning
//	    text_secondary: Buenos días
package content

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an ID names no conversation or phrase.
var ErrNotFound = errors.New("not found")

// DialogueTurn is one line of a conversation.
type DialogueTurn struct {
	Speaker string `yaml:"speaker" json:"speaker"`

	// TextPrimary is the line in the primary language.
	TextPrimary string `yaml:"text_primary" json:"text_primary"`

	// TextSecondary is the translation shown beneath the line.
	TextSecondary string `yaml:"text_secondary" json:"text_secondary"`

	// TextAlt is the rendering in the secondary language. Nil means the turn
	// has none and the primary text is spoken instead; a non-nil blank value
	// marks a turn that is silent in the secondary language.
	TextAlt *string `yaml:"text_alt,omitempty" json:"text_alt,omitempty"`
}

// Conversation is an ordered list of turns.
type Conversation struct {
	ID          string         `yaml:"id" json:"id"`
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Turns       []DialogueTurn `yaml:"turns" json:"turns"`
}

// Phrase is a standalone phrase card.
type Phrase struct {
	ID            string  `yaml:"id" json:"id"`
	Category      string  `yaml:"category,omitempty" json:"category,omitempty"`
	TextPrimary   string  `yaml:"text_primary" json:"text_primary"`
	TextSecondary string  `yaml:"text_secondary" json:"text_secondary"`
	TextAlt       *string `yaml:"text_alt,omitempty" json:"text_alt,omitempty"`
}

// Turn returns the phrase as a single dialogue turn.
func (p Phrase) Turn() DialogueTurn {
	return DialogueTurn{
		TextPrimary:   p.TextPrimary,
		TextSecondary: p.TextSecondary,
		TextAlt:       p.TextAlt,
	}
}

// Catalog is the loaded content. It is immutable after Load and safe for
// concurrent reads.
type Catalog struct {
	conversations []Conversation
	phrases       []Phrase
	convByID      map[string]int
	phraseByID    map[string]int
}

type document struct {
	Conversations []Conversation `yaml:"conversations"`
	Phrases       []Phrase       `yaml:"phrases"`
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading content catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalog document. JSON input is accepted as YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	c := &Catalog{
		conversations: doc.Conversations,
		phrases:       doc.Phrases,
		convByID:      make(map[string]int, len(doc.Conversations)),
		phraseByID:    make(map[string]int, len(doc.Phrases)),
	}
	for i, conv := range doc.Conversations {
		if strings.TrimSpace(conv.ID) == "" {
			return nil, fmt.Errorf("conversation %d has no id", i)
		}
		if _, dup := c.convByID[conv.ID]; dup {
			return nil, fmt.Errorf("duplicate conversation id %q", conv.ID)
		}
		c.convByID[conv.ID] = i
	}
	for i, p := range doc.Phrases {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("phrase %d has no id", i)
		}
		if _, dup := c.phraseByID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate phrase id %q", p.ID)
		}
		c.phraseByID[p.ID] = i
	}
	return c, nil
}

// Conversations returns every conversation in file order.
func (c *Catalog) Conversations() []Conversation {
	out := make([]Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// Conversation returns the conversation with the given ID.
func (c *Catalog) Conversation(id string) (Conversation, error) {
	i, ok := c.convByID[id]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return c.conversations[i], nil
}

// Phrases returns every phrase in file order.
func (c *Catalog) Phrases() []Phrase {
	out := make([]Phrase, len(c.phrases))
	copy(out, c.phrases)
	return out
}

// Phrase returns the phrase with the given ID.
func (c *Catalog) Phrase(id string) (Phrase, error) {
	i, ok := c.phraseByID[id]
	if !ok {
		return Phrase{}, fmt.Errorf("phrase %q: %w", id, ErrNotFound)
	}
	return c.phrases[i], nil
}
