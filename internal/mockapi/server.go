// Package mockapi is a stand-in for the survey backend, used for local
// development and contract tests.
package mockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var requiredSubmitFields = []string{"user_id", "song_id", "feature1", "feature2", "feature3", "description"}

// Response is one recorded submission.
type Response struct {
	WorkerID    string
	SongID      string
	Features    [3]string
	Description string
	Ratings     map[string]int
}

type Options struct {
	Songs []Song
	// AllowedWorkers restricts login. Empty admits every worker.
	AllowedWorkers []string
	// AudioDir is served under /audio/ when set.
	AudioDir string
	// Progress defaults to an in-memory store.
	Progress Progress
	Logger   *zap.Logger
}

type Server struct {
	songs    []Song
	byID     map[string]Song
	allowed  map[string]bool
	progress Progress
	audioDir string
	log      *zap.Logger
}

func New(opts Options) *Server {
	s := &Server{
		songs:    opts.Songs,
		byID:     make(map[string]Song, len(opts.Songs)),
		progress: opts.Progress,
		audioDir: opts.AudioDir,
		log:      opts.Logger,
	}
	if s.progress == nil {
		s.progress = NewMemoryProgress()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	for _, song := range opts.Songs {
		s.byID[song.ID] = song
	}
	if len(opts.AllowedWorkers) > 0 {
		s.allowed = make(map[string]bool, len(opts.AllowedWorkers))
		for _, w := range opts.AllowedWorkers {
			s.allowed[w] = true
		}
	}
	return s
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Post("/login", s.handleLogin)
	r.Get("/next-song", s.handleNextSong)
	r.Post("/submit", s.handleSubmit)
	if s.audioDir != "" {
		r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.audioDir))))
	}
	return r
}

// Responses returns everything submitted so far, oldest first.
func (s *Server) Responses(ctx context.Context) ([]Response, error) {
	return s.progress.Responses(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "mock-api",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	workerID := strings.TrimSpace(r.PostForm.Get("user_id"))
	if workerID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "user_id is required")
		return
	}
	if s.allowed != nil && !s.allowed[workerID] {
		s.log.Info("login denied", zap.String("worker", workerID))
		writeDetail(w, http.StatusForbidden, "Access denied")
		return
	}

	if err := s.progress.Register(r.Context(), workerID); err != nil {
		s.log.Error("register worker", zap.String("worker", workerID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type nextSongResponse struct {
	Complete     bool              `json:"complete"`
	SongID       string            `json:"song_id,omitempty"`
	SongFile     string            `json:"song_file,omitempty"`
	Descriptions map[string]string `json:"descriptions,omitempty"`
}

// handleNextSong serves the first catalogue song the worker has not
// submitted yet.
func (s *Server) handleNextSong(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("user_id")

	done, ok, err := s.progress.Completed(r.Context(), workerID)
	if err != nil {
		s.log.Error("load progress", zap.String("worker", workerID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeDetail(w, http.StatusBadRequest, "User not found")
		return
	}
	var next *Song
	for i := range s.songs {
		if !done[s.songs[i].ID] {
			next = &s.songs[i]
			break
		}
	}
	if next == nil {
		writeJSON(w, http.StatusOK, nextSongResponse{Complete: true})
		return
	}
	writeJSON(w, http.StatusOK, nextSongResponse{
		SongID:       next.ID,
		SongFile:     next.File,
		Descriptions: next.Descriptions,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	form := r.PostForm
	for _, f := range requiredSubmitFields {
		if strings.TrimSpace(form.Get(f)) == "" {
			writeDetail(w, http.StatusUnprocessableEntity, f+" is required")
			return
		}
	}

	workerID := form.Get("user_id")
	song, ok := s.byID[form.Get("song_id")]
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Unknown song")
		return
	}

	ratings := make(map[string]int, len(song.Descriptions))
	for key := range song.Descriptions {
		n, err := strconv.Atoi(form.Get(key))
		if err != nil || n < -2 || n > 2 {
			writeDetail(w, http.StatusUnprocessableEntity, "rating "+key+" must be an integer between -2 and 2")
			return
		}
		ratings[key] = n
	}

	resp := Response{
		WorkerID:    workerID,
		SongID:      song.ID,
		Features:    [3]string{form.Get("feature1"), form.Get("feature2"), form.Get("feature3")},
		Description: form.Get("description"),
		Ratings:     ratings,
	}

	known, err := s.progress.Record(r.Context(), resp)
	if err != nil {
		s.log.Error("record response", zap.String("worker", workerID), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !known {
		writeDetail(w, http.StatusBadRequest, "User not found")
		return
	}
	s.log.Info("response recorded", zap.String("worker", workerID), zap.String("song", song.ID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}
