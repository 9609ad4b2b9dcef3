// Package piper implements speech.Fetcher using a Piper Wyoming protocol server.
//
// Piper is a fast, local neural text-to-speech system. The linuxserver/piper
// container exposes the Wyoming protocol on TCP port 10200. Each chunk is
// synthesised on its own connection and returned as a WAV clip.
//
// Wyoming protocol format (per event):
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
package piper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/nadzzz/parlance/internal/audio"
	"github.com/nadzzz/parlance/internal/config"
)

// defaultVoices maps ISO-639-1 language codes to Piper voice model names.
var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"es": "es_ES-davefx-medium",
	"eu": "eu_ES-xabier-medium",
	"fr": "fr_FR-siwis-medium",
	"de": "de_DE-thorsten-medium",
}

// Fetcher implements speech.Fetcher using the Wyoming protocol.
type Fetcher struct {
	endpoint  string            // default host:port of the Piper Wyoming server
	endpoints map[string]string // language -> host:port for per-language Piper instances
	voices    map[string]string // language -> voice name overrides
}

// New creates a new Piper fetcher from config.
func New(cfg config.PiperConfig) *Fetcher {
	voices := make(map[string]string, len(defaultVoices)+len(cfg.Voices))
	for k, v := range defaultVoices {
		voices[k] = v
	}
	for k, v := range cfg.Voices {
		voices[k] = v
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[lang] = cleanEndpoint(ep)
	}

	return &Fetcher{
		endpoint:  cleanEndpoint(cfg.Endpoint),
		endpoints: endpoints,
		voices:    voices,
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	ep = strings.TrimPrefix(ep, "http://")
	return ep
}

// Name returns "piper".
func (f *Fetcher) Name() string { return "piper" }

// Fetch sends text to the Piper server and returns the synthesised audio as WAV.
func (f *Fetcher) Fetch(ctx context.Context, text, lang string) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, fmt.Errorf("empty text for synthesis")
	}

	voice := f.voices[lang]
	if voice == "" {
		return audio.Clip{}, fmt.Errorf("no piper voice configured for language %q", lang)
	}

	endpoint := f.endpoints[lang]
	if endpoint == "" {
		endpoint = f.endpoint
	}
	if endpoint == "" {
		return audio.Clip{}, fmt.Errorf("no piper endpoint configured for language %q", lang)
	}

	slog.Debug("piper synthesize", "text_length", len(text), "voice", voice, "lang", lang, "endpoint", endpoint)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	// Reads have no deadline; cancellation closes the connection instead.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	clip, err := synthesize(conn, text, voice)
	if err != nil && ctx.Err() != nil {
		return audio.Clip{}, ctx.Err()
	}
	return clip, err
}

// synthesize runs one exchange over conn:
// synthesize → audio-start → audio-chunk* → audio-stop.
func synthesize(conn net.Conn, text, voice string) (audio.Clip, error) {
	req := wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text": text,
			"voice": map[string]any{
				"name": voice,
			},
		},
	}
	if err := writeEvent(conn, req, nil); err != nil {
		return audio.Clip{}, fmt.Errorf("sending synthesize event: %w", err)
	}

	var (
		pcmBuf     bytes.Buffer
		sampleRate = 22050
		channels   = 1
		width      = 2
	)

	for {
		evt, payload, err := readEvent(conn)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if rate, ok := evt.Data["rate"].(float64); ok {
				sampleRate = int(rate)
			}
			if ch, ok := evt.Data["channels"].(float64); ok {
				channels = int(ch)
			}
			if w, ok := evt.Data["width"].(float64); ok {
				width = int(w)
			}

		case "audio-chunk":
			pcmBuf.Write(payload)

		case "audio-stop":
			slog.Debug("piper audio-stop", "pcm_bytes", pcmBuf.Len(), "rate", sampleRate)
			if pcmBuf.Len() == 0 {
				return audio.Clip{}, fmt.Errorf("piper returned no audio")
			}
			return audio.Clip{
				Data:        pcmToWAV(pcmBuf.Bytes(), sampleRate, channels, width),
				ContentType: "audio/wav",
			}, nil

		case "error":
			msg := "unknown error"
			if text, ok := evt.Data["text"].(string); ok {
				msg = text
			}
			return audio.Clip{}, fmt.Errorf("piper error: %s", msg)

		default:
			slog.Debug("piper unknown event", "type", evt.Type)
		}
	}
}
