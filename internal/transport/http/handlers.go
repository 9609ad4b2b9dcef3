package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/session"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/textutil"
)

type handler struct {
	sessions *session.Manager
	content  *content.Catalog
	voices   VoiceLister
	settings SettingsStore
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VoiceTestRequest is the body of POST /v1/voices/test.
type VoiceTestRequest struct {
	VoiceURI string `json:"voice_uri"`
	Text     string `json:"text,omitempty"`
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	ConversationID string `json:"conversation_id"`
}

// PlayRequest is the body of the play endpoints. Mode defaults to primary.
type PlayRequest struct {
	Mode speech.Mode `json:"mode,omitempty"`

	// StartIndex is used by play-all only. Absent means 0; negative resumes
	// where the last run stopped.
	StartIndex *int `json:"start_index,omitempty"`
}

// AnswerCheckRequest is the body of POST /v1/answers/check.
type AnswerCheckRequest struct {
	Expected string `json:"expected"`
	Answer   string `json:"answer"`
}

// AnswerCheckResponse reports whether an answer matched.
type AnswerCheckResponse struct {
	Correct bool `json:"correct"`
}

// listVoices handles GET /v1/voices.
//
// @Summary     List synthesis voices
// @Description Voices whose language starts with lang come first, each group sorted by name.
// @Tags        voices
// @Produce     json
// @Param       lang  query     string  false  "language code, e.g. eu"
// @Success     200   {array}   speech.Voice
// @Router      /v1/voices [get]
func (h *handler) listVoices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.voices.List(r.URL.Query().Get("lang")))
}

// testVoice handles POST /v1/voices/test.
//
// @Summary     Speak a sample with a voice
// @Description Speaks the text (or a default sample) with the given voice on the local synthesizer, interrupting any other playback.
// @Tags        voices
// @Accept      json
// @Param       request  body  VoiceTestRequest  true  "voice and optional text"
// @Success     202
// @Failure     400  {object}  ErrorResponse
// @Failure     404  {object}  ErrorResponse
// @Router      /v1/voices/test [post]
func (h *handler) testVoice(w http.ResponseWriter, r *http.Request) {
	var req VoiceTestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VoiceURI == "" {
		respondError(w, http.StatusBadRequest, "voice_uri is required")
		return
	}
	if err := h.sessions.TestVoice(req.VoiceURI, req.Text); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// listConversations handles GET /v1/conversations.
//
// @Summary  List conversations
// @Tags     content
// @Produce  json
// @Success  200  {array}  content.Conversation
// @Router   /v1/conversations [get]
func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.content.Conversations())
}

// getConversation handles GET /v1/conversations/{id}.
//
// @Summary  Get a conversation
// @Tags     content
// @Produce  json
// @Param    id   path      string  true  "conversation ID"
// @Success  200  {object}  content.Conversation
// @Failure  404  {object}  ErrorResponse
// @Router   /v1/conversations/{id} [get]
func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.content.Conversation(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

// listPhrases handles GET /v1/phrases.
//
// @Summary  List phrase cards
// @Tags     content
// @Produce  json
// @Success  200  {array}  content.Phrase
// @Router   /v1/phrases [get]
func (h *handler) listPhrases(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.content.Phrases())
}

// playPhrase handles POST /v1/phrases/{id}/play.
//
// @Summary  Speak a phrase card
// @Tags     playback
// @Accept   json
// @Param    id       path  string       true   "phrase ID"
// @Param    request  body  PlayRequest  false  "mode"
// @Success  202
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /v1/phrases/{id}/play [post]
func (h *handler) playPhrase(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePlay(w, r)
	if !ok {
		return
	}
	if err := h.sessions.PlayPhrase(chi.URLParam(r, "id"), req.Mode); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// listSettings handles GET /v1/settings.
//
// @Summary  List stored speaker settings
// @Tags     settings
// @Produce  json
// @Success  200  {object}  map[string]speech.Settings
// @Router   /v1/settings [get]
func (h *handler) listSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.settings.All())
}

// getSettings handles GET /v1/settings/{speaker}.
//
// @Summary  Get a speaker's voice settings
// @Tags     settings
// @Produce  json
// @Param    speaker  path      string  true  "speaker name"
// @Success  200      {object}  speech.Settings
// @Router   /v1/settings/{speaker} [get]
func (h *handler) getSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.settings.SpeakerSettings(chi.URLParam(r, "speaker")))
}

// putSettings handles PUT /v1/settings/{speaker}.
//
// @Summary     Update a speaker's voice settings
// @Description Rate is clamped to [0.5, 2] and pitch to [0, 2]. The stored value is returned.
// @Tags        settings
// @Accept      json
// @Produce     json
// @Param       speaker  path      string           true  "speaker name"
// @Param       request  body      speech.Settings  true  "settings"
// @Success     200      {object}  speech.Settings
// @Failure     400      {object}  ErrorResponse
// @Failure     500      {object}  ErrorResponse
// @Router      /v1/settings/{speaker} [put]
func (h *handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var req speech.Settings
	if !decodeBody(w, r, &req) {
		return
	}
	stored, err := h.settings.Set(r.Context(), chi.URLParam(r, "speaker"), req)
	if err != nil {
		slog.Error("failed to store speaker settings", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store settings")
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

// listSessions handles GET /v1/sessions.
//
// @Summary  List open sessions
// @Tags     sessions
// @Produce  json
// @Success  200  {array}  session.Info
// @Router   /v1/sessions [get]
func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sessions.List())
}

// createSession handles POST /v1/sessions.
//
// @Summary     Open a playback session
// @Description Called when a dialogue view mounts.
// @Tags        sessions
// @Accept      json
// @Produce     json
// @Param       request  body      CreateSessionRequest  true  "conversation"
// @Success     201      {object}  session.Info
// @Failure     400      {object}  ErrorResponse
// @Failure     404      {object}  ErrorResponse
// @Router      /v1/sessions [post]
func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		respondError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	s, err := h.sessions.Create(req.ConversationID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.Info())
}

// getSession handles GET /v1/sessions/{id}.
//
// @Summary  Get a session and its sequencer state
// @Tags     sessions
// @Produce  json
// @Param    id   path      string  true  "session ID"
// @Success  200  {object}  session.Info
// @Failure  404  {object}  ErrorResponse
// @Router   /v1/sessions/{id} [get]
func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Info())
}

// deleteSession handles DELETE /v1/sessions/{id}.
//
// @Summary     Close a session
// @Description Called when the view unmounts or the user navigates back. Stops any speech.
// @Tags        sessions
// @Param       id  path  string  true  "session ID"
// @Success     204
// @Failure     404  {object}  ErrorResponse
// @Router      /v1/sessions/{id} [delete]
func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// playAll handles POST /v1/sessions/{id}/play.
//
// @Summary  Play every turn of the conversation
// @Tags     playback
// @Accept   json
// @Produce  json
// @Param    id       path      string       true   "session ID"
// @Param    request  body      PlayRequest  false  "mode and start index"
// @Success  202      {object}  playback.State
// @Failure  400      {object}  ErrorResponse
// @Failure  404      {object}  ErrorResponse
// @Router   /v1/sessions/{id}/play [post]
func (h *handler) playAll(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePlay(w, r)
	if !ok {
		return
	}
	start := 0
	if req.StartIndex != nil {
		start = *req.StartIndex
	}
	id := chi.URLParam(r, "id")
	if err := h.sessions.PlayAll(id, req.Mode, start); err != nil {
		respondErr(w, err)
		return
	}
	h.respondState(w, id, http.StatusAccepted)
}

// playTurn handles POST /v1/sessions/{id}/turns/{index}/play.
//
// @Summary  Play a single turn
// @Tags     playback
// @Accept   json
// @Param    id       path  string       true   "session ID"
// @Param    index    path  int          true   "turn index"
// @Param    request  body  PlayRequest  false  "mode"
// @Success  202
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /v1/sessions/{id}/turns/{index}/play [post]
func (h *handler) playTurn(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid turn index")
		return
	}
	req, ok := decodePlay(w, r)
	if !ok {
		return
	}
	if err := h.sessions.PlayTurn(chi.URLParam(r, "id"), index, req.Mode); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// stop handles POST /v1/sessions/{id}/stop.
//
// @Summary  Stop the session's playback
// @Tags     playback
// @Produce  json
// @Param    id   path      string  true  "session ID"
// @Success  200  {object}  playback.State
// @Failure  404  {object}  ErrorResponse
// @Router   /v1/sessions/{id}/stop [post]
func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Stop(id); err != nil {
		respondErr(w, err)
		return
	}
	h.respondState(w, id, http.StatusOK)
}

// checkAnswer handles POST /v1/answers/check.
//
// @Summary     Check a typed answer
// @Description Compares after trimming and case folding.
// @Tags        practice
// @Accept      json
// @Produce     json
// @Param       request  body      AnswerCheckRequest  true  "expected and given answer"
// @Success     200      {object}  AnswerCheckResponse
// @Router      /v1/answers/check [post]
func (h *handler) checkAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, AnswerCheckResponse{
		Correct: textutil.Matches(req.Answer, req.Expected),
	})
}

func (h *handler) respondState(w http.ResponseWriter, id string, code int) {
	st, err := h.sessions.State(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, code, st)
}

// decodePlay reads an optional PlayRequest and validates its mode.
func decodePlay(w http.ResponseWriter, r *http.Request) (PlayRequest, bool) {
	var req PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Mode == "" {
		req.Mode = speech.Primary
	}
	if !req.Mode.Valid() {
		respondError(w, http.StatusBadRequest, "mode must be primary or secondary")
		return req, false
	}
	return req, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondErr maps domain errors to status codes.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, content.ErrNotFound),
		errors.Is(err, speech.ErrVoiceNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrTurnOutOfRange):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
