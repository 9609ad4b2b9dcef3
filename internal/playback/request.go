// Package playback orchestrates speech output: choosing between the network
// provider and the local synthesizer, keeping at most one utterance audible,
// and sequencing the turns of a dialogue.
//
// The pieces stack as follows:
//
//	Sequencer      walks the turns of a conversation ("play all")
//	  Player       one utterance at a time, cancellation resolves quietly
//	    Selector   network vs. local, chunking, fallback
package playback

import (
	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/speech"
)

// Request is one thing to say.
type Request struct {
	Text     string
	Mode     speech.Mode
	Settings speech.Settings

	// LocalOnly skips the network provider even in secondary mode.
	LocalOnly bool

	// Voice, when set, is bound as is instead of resolving Settings.VoiceURI.
	// Used by the voice test, where the user picked the voice explicitly.
	Voice *speech.Voice
}

// ResolveText returns the text of turn to speak in mode, and the mode whose
// language that text is in. In secondary mode a turn without an alternate
// rendering falls back to its primary text, spoken in the primary language.
func ResolveText(turn content.DialogueTurn, mode speech.Mode) (string, speech.Mode) {
	if mode == speech.Secondary {
		if turn.TextAlt != nil {
			return *turn.TextAlt, speech.Secondary
		}
		return turn.TextPrimary, speech.Primary
	}
	return turn.TextPrimary, speech.Primary
}
