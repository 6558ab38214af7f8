// Package session resolves which worker a browser belongs to and keeps the
// worker's survey state between requests.
package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the fixed key the worker identity is kept under.
const CookieName = "userId"

const tokenType = "worker"

// QueryParams are the URL parameters a worker id may arrive in, in order of
// preference. MTurk appends workerId to external task links.
var QueryParams = []string{"user_id", "workerId"}

type Identity struct {
	WorkerID  string
	SessionID string
}

type TokenClaims struct {
	WorkerID  string `json:"uid"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewManager(secret []byte, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		secret: secret,
		ttl:    ttl,
		secure: secure,
		now:    time.Now,
	}
}

// Resolve returns the worker whose signed cookie the request carries.
func (m *Manager) Resolve(r *http.Request) (Identity, bool) {
	return m.fromCookie(r)
}

// Issue starts a new session for workerID and sets the cookie.
func (m *Manager) Issue(w http.ResponseWriter, workerID string) (Identity, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return Identity{}, errors.New("session: empty worker id")
	}
	id := Identity{WorkerID: workerID, SessionID: uuid.NewString()}

	now := m.now()
	claims := &TokenClaims{
		WorkerID:  id.WorkerID,
		SessionID: id.SessionID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.WorkerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Identity{}, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(m.ttl),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}

// Clear forgets the identity in the browser.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) fromCookie(r *http.Request) (Identity, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Identity{}, false
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(c.Value, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || claims.TokenType != tokenType {
		return Identity{}, false
	}
	if claims.WorkerID == "" || claims.SessionID == "" {
		return Identity{}, false
	}
	return Identity{WorkerID: claims.WorkerID, SessionID: claims.SessionID}, true
}

// WorkerFromQuery returns the worker id carried in the request URL, if any.
// It is not an identity until the backend has admitted the worker.
func WorkerFromQuery(r *http.Request) string {
	q := r.URL.Query()
	for _, p := range QueryParams {
		if v := strings.TrimSpace(q.Get(p)); v != "" {
			return v
		}
	}
	return ""
}
