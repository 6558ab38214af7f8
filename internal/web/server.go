// Package web is the routing shell: the four survey pages, the playback
// channel, the audio proxy, and health endpoints.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/session"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/survey"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/surveyapi"
)

//go:embed templates/*.gohtml
var tplFS embed.FS

//go:embed all:static
var staticFS embed.FS

// Backend is the part of the survey API the front end needs.
type Backend interface {
	CheckHealth(ctx context.Context) (surveyapi.Health, error)
	Login(ctx context.Context, workerID string) error
	FetchNextItem(ctx context.Context, workerID string) (survey.Next, error)
	SubmitResponse(ctx context.Context, resp survey.Response) error
}

type Options struct {
	API      Backend
	Sessions *session.Manager
	Store    session.Store
	Logger   *zap.Logger

	// APIURL is the backend base address audio is proxied from.
	APIURL            string
	PlaybackTolerance float64
	// AllowedOrigins lists extra origins the playback websocket accepts
	// besides the page's own host.
	AllowedOrigins []string
}

type Server struct {
	api       Backend
	sessions  *session.Manager
	store     session.Store
	log       *zap.Logger
	audio     http.Handler
	tolerance float64
	origins   map[string]bool
	pages     map[string]*template.Template
	now       func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.API == nil || opts.Sessions == nil || opts.Store == nil {
		return nil, errors.New("web: API, Sessions and Store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tolerance := opts.PlaybackTolerance
	if tolerance <= 0 {
		tolerance = survey.DefaultTolerance
	}

	audio, err := newAudioProxy(opts.APIURL, logger)
	if err != nil {
		return nil, err
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	origins := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[o] = true
	}

	return &Server{
		api:       opts.API,
		sessions:  opts.Sessions,
		store:     opts.Store,
		log:       logger,
		audio:     audio,
		tolerance: tolerance,
		origins:   origins,
		pages:     pages,
		now:       time.Now,
	}, nil
}

// Router builds the chi router with the given middlewares applied first.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/audio/*", s.audio)

	// long lived, so outside the request timeout
	r.Get("/survey/ws", s.handlePlaybackWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(bodySizeLimitMiddleware(16 << 10))

		r.Get("/", s.handleHome)
		r.Get("/auth", s.handleAuthPage)
		r.Post("/auth", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/denied", s.handleDenied)

		r.Get("/survey", s.handleSurvey)
		r.Post("/survey/playback", s.handlePlayback)
		r.Post("/survey/ranking", s.handleRanking)
		r.Post("/survey/ratings", s.handleRatings)
		r.Post("/survey/back", s.handleBack)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "clap-survey",
	})
}

// handleReady reports whether the backend answers its health check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	h, err := s.api.CheckHealth(r.Context())
	if err != nil {
		s.log.Warn("backend health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"backend": h.Status,
	})
}
