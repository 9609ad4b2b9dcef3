// Package http implements the HTTP/WebSocket transport for parlance.
//
// This transport exposes the REST API the PWA drives playback with, a
// WebSocket stream of sequencer events per session, and the Swagger UI.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/session"
	"github.com/nadzzz/parlance/internal/speech"

	_ "github.com/nadzzz/parlance/docs"
)

// VoiceLister lists voices ordered for a language. *voices.Catalog
// implements it.
type VoiceLister interface {
	List(lang string) []speech.Voice
}

// SettingsStore reads and edits speaker settings. *prefs.Store implements it.
type SettingsStore interface {
	SpeakerSettings(speaker string) speech.Settings
	Set(ctx context.Context, speaker string, s speech.Settings) (speech.Settings, error)
	All() map[string]speech.Settings
}

// Options configures the HTTP transport.
type Options struct {
	Port int

	// CORSOrigins lists the allowed origins. Empty means any.
	CORSOrigins []string

	Sessions *session.Manager
	Content  *content.Catalog
	Voices   VoiceLister
	Settings SettingsStore
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port    int
	handler http.Handler
	server  *http.Server
}

// New creates a new HTTP transport.
func New(opts Options) *Transport {
	h := &handler{
		sessions: opts.Sessions,
		content:  opts.Content,
		voices:   opts.Voices,
		settings: opts.Settings,
	}
	return &Transport{
		port:    opts.Port,
		handler: newRouter(h, opts.CORSOrigins),
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler returns the routed API handler.
func (t *Transport) Handler() http.Handler { return t.handler }

// Listen starts the HTTP server. It blocks until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func newRouter(h *handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/voices", h.listVoices)
		r.Post("/voices/test", h.testVoice)

		r.Get("/conversations", h.listConversations)
		r.Get("/conversations/{id}", h.getConversation)

		r.Get("/phrases", h.listPhrases)
		r.Post("/phrases/{id}/play", h.playPhrase)

		r.Get("/settings", h.listSettings)
		r.Get("/settings/{speaker}", h.getSettings)
		r.Put("/settings/{speaker}", h.putSettings)

		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.createSession)
		r.Get("/sessions/{id}", h.getSession)
		r.Delete("/sessions/{id}", h.deleteSession)
		r.Post("/sessions/{id}/play", h.playAll)
		r.Post("/sessions/{id}/turns/{index}/play", h.playTurn)
		r.Post("/sessions/{id}/stop", h.stop)
		r.Get("/sessions/{id}/events", h.events)

		r.Post("/answers/check", h.checkAnswer)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
