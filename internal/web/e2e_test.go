package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/mockapi"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/survey"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/surveyapi"
)

// recordingBackend serves one song, then reports the session complete, and
// remembers every request it saw.
type recordingBackend struct {
	mu        sync.Mutex
	requests  []string
	submitted []url.Values
	served    bool
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/login":
		_ = r.ParseForm()
		if r.PostForm.Get("user_id") != "W123" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"Access denied"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"Login successful"}`))
	case "/next-song":
		if b.served {
			_, _ = w.Write([]byte(`{"complete":true}`))
			return
		}
		b.served = true
		_, _ = w.Write([]byte(`{"song_id":"s1","song_file":"a.mp3","descriptions":{"gpt":"A calm piano piece."}}`))
	case "/submit":
		_ = r.ParseForm()
		b.submitted = append(b.submitted, r.PostForm)
		_, _ = w.Write([]byte(`{"message":"Response recorded"}`))
	default:
		http.NotFound(w, r)
	}
}

func (b *recordingBackend) snapshot() ([]string, []url.Values) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...), append([]url.Values(nil), b.submitted...)
}

func newE2E(t *testing.T) (*httptest.Server, *recordingBackend) {
	t.Helper()
	rec := &recordingBackend{}
	backend := httptest.NewServer(rec)
	t.Cleanup(backend.Close)

	client := surveyapi.NewClient(&http.Client{Timeout: 5 * time.Second}, backend.URL)
	ts, _ := newTestEnv(t, client, backend.URL)
	return ts, rec
}

func TestEndToEnd_OneItem(t *testing.T) {
	ts, rec := newE2E(t)
	c := newBrowser(t)

	resp, _ := postForm(t, c, ts.URL+"/auth", url.Values{"user_id": {"W123"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/survey", resp.Header.Get("Location"))

	_, body := get(t, c, ts.URL+"/survey")
	require.Contains(t, body, `src="/audio/a.mp3"`)

	for _, pos := range []float64{0.3, 0.6, 0.9} {
		postPlayback(t, c, ts.URL, playbackReport{Position: pos, Duration: 1})
	}
	_, res := postPlayback(t, c, ts.URL, playbackReport{Position: 1, Duration: 1, Ended: true})
	require.Equal(t, survey.StageCollectingRanking, res.Stage)

	resp, _ = postForm(t, c, ts.URL+"/survey/ranking", rankingForm())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = postForm(t, c, ts.URL+"/survey/ratings", url.Values{"rating_gpt": {"1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	_, body = get(t, c, ts.URL+"/survey")
	assert.Contains(t, body, "Session Complete! Thank you.")

	// completion is terminal: nothing more reaches the backend
	get(t, c, ts.URL+"/survey")

	requests, submitted := rec.snapshot()
	assert.Equal(t, []string{
		"POST /login",
		"GET /next-song",
		"POST /submit",
		"GET /next-song",
	}, requests)

	require.Len(t, submitted, 1)
	assert.Equal(t, url.Values{
		"user_id":     {"W123"},
		"song_id":     {"s1"},
		"feature1":    {"Soothing"},
		"feature2":    {"Playful"},
		"feature3":    {"Focusing"},
		"description": {"calm"},
		"gpt":         {"1"},
	}, submitted[0])
}

func TestEndToEnd_Denied(t *testing.T) {
	ts, rec := newE2E(t)
	c := newBrowser(t)

	resp, _ := postForm(t, c, ts.URL+"/auth", url.Values{"user_id": {"W999"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/denied", resp.Header.Get("Location"))

	requests, _ := rec.snapshot()
	assert.Equal(t, []string{"POST /login"}, requests)
}

// TestEndToEnd_TaskLink enters through the MTurk task link against the
// development backend, which only serves songs to workers that logged in.
func TestEndToEnd_TaskLink(t *testing.T) {
	dev := mockapi.New(mockapi.Options{
		Songs: []mockapi.Song{
			{ID: "s1", File: "a.mp3", Descriptions: map[string]string{"gpt": "A calm piano piece."}},
		},
		AllowedWorkers: []string{"A1MTURK"},
	})
	backend := httptest.NewServer(dev.Router())
	t.Cleanup(backend.Close)
	client := surveyapi.NewClient(&http.Client{Timeout: 5 * time.Second}, backend.URL)
	ts, _ := newTestEnv(t, client, backend.URL)

	t.Run("allowed worker reaches the song", func(t *testing.T) {
		c := newBrowser(t)
		resp, body := get(t, c, ts.URL+"/survey?workerId=A1MTURK")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, `src="/audio/a.mp3"`)

		// the same link again keeps the session and the item
		resp, body = get(t, c, ts.URL+"/survey?workerId=A1MTURK")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, `src="/audio/a.mp3"`)

		for _, pos := range []float64{0.3, 0.6, 0.9} {
			postPlayback(t, c, ts.URL, playbackReport{Position: pos, Duration: 1})
		}
		_, res := postPlayback(t, c, ts.URL, playbackReport{Position: 1, Duration: 1, Ended: true})
		require.Equal(t, survey.StageCollectingRanking, res.Stage)
		resp, _ = postForm(t, c, ts.URL+"/survey/ranking", rankingForm())
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		resp, _ = postForm(t, c, ts.URL+"/survey/ratings", url.Values{"rating_gpt": {"2"}})
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)

		got, err := dev.Responses(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "A1MTURK", got[0].WorkerID)
		assert.Equal(t, map[string]int{"gpt": 2}, got[0].Ratings)
	})

	t.Run("unknown worker is denied", func(t *testing.T) {
		c := newBrowser(t)
		resp, _ := get(t, c, ts.URL+"/survey?user_id=A2OTHER")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/denied", resp.Header.Get("Location"))
	})
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/survey/ws"
}

func TestPlaybackWS(t *testing.T) {
	ts, _ := newE2E(t)
	c := newBrowser(t)
	postForm(t, c, ts.URL+"/auth", url.Values{"user_id": {"W123"}})
	get(t, c, ts.URL+"/survey")

	u, _ := url.Parse(ts.URL)
	header := http.Header{}
	for _, ck := range c.Jar.Cookies(u) {
		header.Add("Cookie", ck.String())
	}
	header.Set("Origin", ts.URL)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	defer conn.Close()

	exchange := func(rep playbackReport) playbackResult {
		require.NoError(t, conn.WriteJSON(rep))
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var res playbackResult
		require.NoError(t, conn.ReadJSON(&res))
		return res
	}

	res := exchange(playbackReport{Position: 0.3, Duration: 1})
	assert.InDelta(t, 0.3, res.Allowed, 1e-9)

	res = exchange(playbackReport{Position: 0.9, Duration: 1})
	assert.InDelta(t, 0.3, res.Allowed, 1e-9, "a jump past the tolerance is pulled back")
	assert.Equal(t, survey.StageAwaitingListen, res.Stage)

	exchange(playbackReport{Position: 0.6, Duration: 1})
	exchange(playbackReport{Position: 0.9, Duration: 1})
	res = exchange(playbackReport{Position: 1, Duration: 1, Ended: true})
	assert.Equal(t, survey.StageCollectingRanking, res.Stage)

	// once heard the worker may seek anywhere
	res = exchange(playbackReport{Position: 0.1, Duration: 1})
	assert.InDelta(t, 0.1, res.Allowed, 1e-9)
	assert.Empty(t, res.Error)
}

func TestPlaybackWS_Rejects(t *testing.T) {
	ts, _ := newE2E(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c := newBrowser(t)
	postForm(t, c, ts.URL+"/auth", url.Values{"user_id": {"W123"}})
	u, _ := url.Parse(ts.URL)
	header := http.Header{}
	for _, ck := range c.Jar.Cookies(u) {
		header.Add("Cookie", ck.String())
	}
	header.Set("Origin", "http://evil.example")

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
