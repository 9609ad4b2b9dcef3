// Package textutil holds the text helpers shared by playback and answer
// checking: canonical normalisation for comparisons and whitespace-bounded
// chunking for length-limited synthesis requests.
package textutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical comparable form of text: NFC-composed,
// trimmed and lower-cased.
func Normalize(text string) string {
	// A Caser holds state, so each call gets its own.
	return cases.Lower(language.Und).String(strings.TrimSpace(norm.NFC.String(text)))
}

// Matches reports whether answer equals expected after normalisation.
func Matches(answer, expected string) bool {
	return Normalize(answer) == Normalize(expected)
}

// IsBlank reports whether text is empty or whitespace only.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Chunk splits text into pieces of at most maxRunes runes, breaking only at
// whitespace. Runs of whitespace collapse to a single space. A single word
// longer than maxRunes is returned as its own chunk rather than cut.
// Blank input yields no chunks.
func Chunk(text string, maxRunes int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxRunes <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		if curLen > 0 && curLen+1+wl > maxRunes {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
