// Package translate implements speech.Fetcher on top of the Google Translate
// text-to-speech endpoint used by the web client.
//
// The endpoint takes one GET request per chunk of at most 200 characters and
// answers with an MP3 file:
//
//	GET https://translate.google.com/translate_tts?ie=UTF-8&q=<chunk>&tl=<lang>&client=tw-ob
package translate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nadzzz/parlance/internal/audio"
	"github.com/nadzzz/parlance/internal/speech/network"
)

// DefaultEndpoint is the public translate TTS endpoint.
const DefaultEndpoint = "https://translate.google.com/translate_tts"

// Fetcher requests speech audio from the translate endpoint.
type Fetcher struct {
	endpoint string
	client   *http.Client
}

// New creates a Fetcher for the given endpoint. An empty endpoint selects
// DefaultEndpoint.
func New(endpoint string) *Fetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Fetcher{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// Name returns "translate".
func (f *Fetcher) Name() string { return "translate" }

// Fetch requests audio for text in the language with the given ISO-639-1 code.
func (f *Fetcher) Fetch(ctx context.Context, text, lang string) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, fmt.Errorf("empty text for synthesis")
	}

	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", text)
	q.Set("tl", lang)
	q.Set("client", "tw-ob")
	reqURL := f.endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("creating request: %w", err)
	}

	slog.Debug("translate tts request", "text_length", len(text), "lang", lang)

	resp, err := f.client.Do(req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return audio.Clip{}, &network.StatusError{
			Provider: f.Name(),
			Code:     resp.StatusCode,
			Body:     strings.TrimSpace(string(respBody)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("reading response: %w", err)
	}
	if len(data) == 0 {
		return audio.Clip{}, fmt.Errorf("translate returned no audio")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return audio.Clip{Data: data, ContentType: contentType}, nil
}
