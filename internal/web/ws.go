package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReportTimeout = 5 * time.Second
	wsPongWait      = 60 * time.Second
	wsMaxMessage    = 512
)

// sameOrigin accepts the page's own host and any configured extra origin.
// Requests without an Origin header are not from a browser and pass.
func (s *Server) sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.origins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handlePlaybackWS keeps one connection per survey page. Every message is a
// playback report; every reply is the position the player must be at.
func (s *Server) handlePlaybackWS(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessions.Resolve(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.sameOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var rep playbackReport
		if err := conn.ReadJSON(&rep); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("ws read", zap.String("session", id.SessionID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		ctx, cancel := context.WithTimeout(r.Context(), wsReportTimeout)
		res, err := s.reportPlayback(ctx, id, rep)
		cancel()
		if err != nil {
			status, text := playbackStatus(err)
			if status == http.StatusInternalServerError {
				s.log.Error("playback report", zap.String("session", id.SessionID), zap.Error(err))
			}
			res.Error = text
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsReportTimeout))
		if err := conn.WriteJSON(res); err != nil {
			return
		}
	}
}
