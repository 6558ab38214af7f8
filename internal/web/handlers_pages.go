package web

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/session"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/surveyapi"
)

const (
	msgNoWorkerID   = "Please enter your Worker ID."
	msgLoginFailed  = "Unable to start session."
	msgSessionError = "Unable to start session. Please try again."
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := pageData{Path: r.URL.Path}
	if id, ok := s.sessions.Resolve(r); ok {
		data.WorkerID = id.WorkerID
	}
	s.render(w, http.StatusOK, "home", data)
}

func (s *Server) handleAuthPage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Path: r.URL.Path, WorkerID: session.WorkerFromQuery(r)}
	s.render(w, http.StatusOK, "auth", data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	workerID := strings.TrimSpace(r.PostForm.Get("user_id"))
	data := pageData{Path: "/auth", WorkerID: workerID}
	if workerID == "" {
		data.Message = msgNoWorkerID
		s.render(w, http.StatusUnprocessableEntity, "auth", data)
		return
	}

	if _, ok := s.admit(w, r, workerID); ok {
		seeOther(w, r, "/survey")
	}
}

// admit logs workerID in with the backend and issues its session. When it
// returns false the response, a redirect to /denied or the login page with
// the failure, has already been written.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, workerID string) (session.Identity, bool) {
	data := pageData{Path: "/auth", WorkerID: workerID}

	err := s.api.Login(r.Context(), workerID)
	var apiErr *surveyapi.APIError
	switch {
	case errors.Is(err, surveyapi.ErrAccessDenied):
		s.log.Info("login denied", zap.String("worker", workerID))
		seeOther(w, r, "/denied")
		return session.Identity{}, false
	case errors.As(err, &apiErr):
		s.log.Warn("login failed", zap.String("worker", workerID), zap.Error(err))
		data.Message = apiErr.Message(msgLoginFailed)
		s.render(w, http.StatusBadGateway, "auth", data)
		return session.Identity{}, false
	case err != nil:
		s.log.Error("login failed", zap.String("worker", workerID), zap.Error(err))
		data.Message = msgLoginFailed
		s.render(w, http.StatusBadGateway, "auth", data)
		return session.Identity{}, false
	}

	id, err := s.sessions.Issue(w, workerID)
	if err != nil {
		s.log.Error("issue session", zap.Error(err))
		data.Message = msgSessionError
		s.render(w, http.StatusInternalServerError, "auth", data)
		return session.Identity{}, false
	}
	return id, true
}

// identify finds the worker for a survey request. A worker id in the URL
// that the cookie does not already carry is a new arrival, typically from
// the MTurk task link, and is admitted like a login. Without either the
// worker is sent to /auth. When it returns false the response has been
// written.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	id, ok := s.sessions.Resolve(r)
	workerID := session.WorkerFromQuery(r)
	switch {
	case workerID != "" && (!ok || id.WorkerID != workerID):
		return s.admit(w, r, workerID)
	case !ok:
		seeOther(w, r, "/auth")
		return session.Identity{}, false
	}
	return id, true
}

// handleLogout forgets the worker and drops any survey state kept for them.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.sessions.Resolve(r); ok {
		if err := s.store.Delete(r.Context(), id.SessionID); err != nil {
			s.log.Warn("delete survey state", zap.String("session", id.SessionID), zap.Error(err))
		}
	}
	s.sessions.Clear(w)
	seeOther(w, r, "/")
}

func (s *Server) handleDenied(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusForbidden, "denied", pageData{Path: r.URL.Path})
}
