// Package surveyapi talks to the survey backend: health, login, next item,
// and response submission.
package surveyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/survey"
)

// DefaultBaseURL is the backend's local development address.
const DefaultBaseURL = "http://localhost:8000"

// FallbackMessage is shown when the backend could not be reached at all.
const FallbackMessage = "Unable to reach the survey server. Please try again."

var ErrAccessDenied = errors.New("surveyapi: access denied")

// APIError is any failed call other than an authorization denial. Status is
// zero when the request never got a response.
type APIError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("surveyapi: %s: %v", e.Op, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("surveyapi: %s: status %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("surveyapi: %s: status %d", e.Op, e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// Message returns what the worker should see: the server's detail when it
// sent one, the transport fallback when it was unreachable, else fallback.
func (e *APIError) Message(fallback string) string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Status == 0 {
		return FallbackMessage
	}
	return fallback
}

type Health struct {
	Status string `json:"status"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// AudioURL is where the backend serves the bytes of a song file.
func (c *Client) AudioURL(file string) string {
	return c.baseURL + "/audio/" + url.PathEscape(file)
}

func (c *Client) CheckHealth(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil, &h)
	return h, err
}

func (c *Client) Login(ctx context.Context, userID string) error {
	form := url.Values{"user_id": {userID}}
	return c.do(ctx, "login", http.MethodPost, "/login", nil, form, nil)
}

func (c *Client) FetchNextItem(ctx context.Context, userID string) (survey.Next, error) {
	var p nextSongPayload
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, "next song", http.MethodGet, "/next-song", q, nil, &p); err != nil {
		return survey.Next{}, err
	}
	next, err := p.toDomain()
	if err != nil {
		return survey.Next{}, &APIError{Op: "next song", Status: http.StatusOK, Err: err}
	}
	return next, nil
}

func (c *Client) SubmitResponse(ctx context.Context, resp survey.Response) error {
	form, err := submitForm(resp)
	if err != nil {
		return err
	}
	return c.do(ctx, "submit", http.MethodPost, "/submit", nil, form, nil)
}

// do sends one request: no retries. form, when set, is sent url-encoded.
func (c *Client) do(ctx context.Context, op, method, path string, query, form url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("surveyapi: %s: %w", op, ErrAccessDenied)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// readDetail pulls a human message out of an error body. FastAPI style
// {"detail": "..."} and {"error": "..."} are understood; anything else yields "".
func readDetail(r io.Reader) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil {
		return ""
	}
	var detail string
	if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
		return detail
	}
	return body.Error
}
