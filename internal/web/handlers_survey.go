package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/session"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/survey"
	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/surveyapi"
)

const (
	msgFetchFailed  = "Error fetching song. Please try again."
	msgSubmitFailed = "Failed to submit. Please try again."
	msgBusy         = "Please wait, your previous action is still being processed."
	msgStoreFailed  = "Something went wrong saving your progress. Please try again."

	ratingFieldPrefix = "rating_"
)

type rankField struct {
	Name     string
	Label    string
	Selected string
}

type scalePoint struct {
	Value string
	Label string
}

var ratingScale = []scalePoint{
	{"-2", "Strongly disagree"},
	{"-1", "Disagree"},
	{"0", "Neutral"},
	{"1", "Agree"},
	{"2", "Strongly agree"},
}

type ratingRow struct {
	Key   string
	Field string
	Text  string
	Value string
}

type surveyView struct {
	pageData
	Stage       survey.Stage
	SongID      string
	AudioURL    string
	Tolerance   float64
	Confirmed   float64
	Features    []string
	Ranks       []rankField
	Description string
	Ratings     []ratingRow
	Scale       []scalePoint
}

// Is reports whether the view is at the named stage.
func (v surveyView) Is(stage string) bool {
	return string(v.Stage) == stage
}

func (s *Server) view(c *survey.Controller) surveyView {
	v := surveyView{
		pageData:  pageData{Path: "/survey", WorkerID: c.WorkerID()},
		Stage:     c.Stage(),
		Tolerance: s.tolerance,
		Confirmed: c.ConfirmedPosition(),
		Features:  survey.Features,
		Scale:     ratingScale,
	}
	item, ok := c.Item()
	if !ok {
		return v
	}
	d := c.Draft()
	v.SongID = item.SongID
	v.AudioURL = "/audio/" + url.PathEscape(item.SongFile)
	v.Ranks = rankFields(d.Features)
	v.Description = d.Description
	for _, desc := range item.Descriptions {
		row := ratingRow{Key: desc.Key, Field: ratingFieldPrefix + desc.Key, Text: desc.Text}
		if r, ok := d.Ratings[desc.Key]; ok {
			row.Value = strconv.Itoa(r)
		}
		v.Ratings = append(v.Ratings, row)
	}
	return v
}

func rankFields(selected []string) []rankField {
	labels := []string{"Most relevant", "Second", "Third"}
	out := make([]rankField, survey.RankedFeatureCount)
	for i := range out {
		out[i] = rankField{Name: "feature" + strconv.Itoa(i+1), Label: labels[i]}
		if i < len(selected) {
			out[i].Selected = selected[i]
		}
	}
	return out
}

// acquire locks the worker's session and loads its controller. A session
// with no stored state, or state that belongs to another worker, starts over.
func (s *Server) acquire(ctx context.Context, id session.Identity) (*survey.Controller, func(), error) {
	unlock, err := s.store.Lock(ctx, id.SessionID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.store.Load(ctx, id.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		c = survey.NewController(id.WorkerID, s.tolerance)
	case err != nil:
		unlock()
		return nil, nil, err
	case c.WorkerID() != id.WorkerID:
		c = survey.NewController(id.WorkerID, s.tolerance)
	}
	return c, unlock, nil
}

// begin resolves the worker and takes their session for one action. When it
// returns false the response has already been written.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) (session.Identity, *survey.Controller, func(), bool) {
	id, ok := s.identify(w, r)
	if !ok {
		return session.Identity{}, nil, nil, false
	}
	c, unlock, err := s.acquire(r.Context(), id)
	if errors.Is(err, session.ErrLocked) {
		s.render(w, http.StatusConflict, "busy", pageData{Path: "/survey", WorkerID: id.WorkerID, Message: msgBusy})
		return id, nil, nil, false
	}
	if err != nil {
		s.log.Error("load survey state", zap.String("session", id.SessionID), zap.Error(err))
		s.render(w, http.StatusInternalServerError, "busy", pageData{Path: "/survey", WorkerID: id.WorkerID, Message: msgStoreFailed})
		return id, nil, nil, false
	}
	return id, c, unlock, true
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, id session.Identity, c *survey.Controller) bool {
	// a client that went away must not lose a transition the backend already saw
	if err := s.store.Save(context.WithoutCancel(r.Context()), id.SessionID, c); err != nil {
		s.log.Error("save survey state", zap.String("session", id.SessionID), zap.Error(err))
		s.render(w, http.StatusInternalServerError, "busy", pageData{Path: "/survey", WorkerID: id.WorkerID, Message: msgStoreFailed})
		return false
	}
	return true
}

// handleSurvey renders the current stage, fetching the next item first when
// the worker has none. A failed fetch leaves the state as it was.
func (s *Server) handleSurvey(w http.ResponseWriter, r *http.Request) {
	id, c, unlock, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer unlock()

	status := http.StatusOK
	var message string
	if c.Stage() == survey.StageLoading {
		next, err := s.api.FetchNextItem(r.Context(), id.WorkerID)
		if err == nil {
			err = c.Loaded(next)
		}
		if errors.Is(err, surveyapi.ErrAccessDenied) {
			seeOther(w, r, "/denied")
			return
		}
		if err != nil {
			s.log.Warn("fetch next item", zap.String("worker", id.WorkerID), zap.Error(err))
			status, message = http.StatusBadGateway, failureMessage(err, msgFetchFailed)
		} else {
			s.log.Debug("item loaded", zap.String("worker", id.WorkerID), zap.String("stage", string(c.Stage())))
		}
	}
	if !s.save(w, r, id, c) {
		return
	}

	v := s.view(c)
	v.Message = message
	s.render(w, status, "survey", v)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	id, c, unlock, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer unlock()

	features := make([]string, 0, survey.RankedFeatureCount)
	for i := 1; i <= survey.RankedFeatureCount; i++ {
		if f := strings.TrimSpace(r.PostForm.Get("feature" + strconv.Itoa(i))); f != "" {
			features = append(features, f)
		}
	}
	description := r.PostForm.Get("description")

	err := c.SubmitRanking(features, description)
	var verr *survey.ValidationError
	switch {
	case errors.As(err, &verr):
		v := s.view(c)
		submitted := make([]string, survey.RankedFeatureCount)
		for i := range submitted {
			submitted[i] = r.PostForm.Get("feature" + strconv.Itoa(i+1))
		}
		v.Ranks = rankFields(submitted)
		v.Description = description
		v.Message = verr.Error()
		s.render(w, http.StatusUnprocessableEntity, "survey", v)
		return
	case err != nil:
		s.log.Debug("ranking rejected", zap.String("worker", id.WorkerID), zap.Error(err))
		seeOther(w, r, "/survey")
		return
	}
	if !s.save(w, r, id, c) {
		return
	}
	seeOther(w, r, "/survey")
}

// parseRatings reads one radio value per description. Values that are not
// integers are left out so the controller reports them as missing.
func parseRatings(form url.Values, item survey.Item) map[string]int {
	ratings := make(map[string]int, len(item.Descriptions))
	for _, d := range item.Descriptions {
		raw := strings.TrimSpace(form.Get(ratingFieldPrefix + d.Key))
		if n, err := strconv.Atoi(raw); err == nil {
			ratings[d.Key] = n
		}
	}
	return ratings
}

// handleRatings records the ratings and submits the response. On success the
// worker is sent back to /survey, which fetches the next item.
func (s *Server) handleRatings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	id, c, unlock, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer unlock()

	item, _ := c.Item()
	ratings := parseRatings(r.PostForm, item)

	resp, err := c.SubmitRatings(ratings)
	var verr *survey.ValidationError
	switch {
	case errors.As(err, &verr):
		v := s.view(c)
		for i := range v.Ratings {
			v.Ratings[i].Value = r.PostForm.Get(v.Ratings[i].Field)
		}
		v.Message = verr.Error()
		s.render(w, http.StatusUnprocessableEntity, "survey", v)
		return
	case err != nil:
		s.log.Debug("ratings rejected", zap.String("worker", id.WorkerID), zap.Error(err))
		seeOther(w, r, "/survey")
		return
	}

	if err := s.api.SubmitResponse(r.Context(), resp); err != nil {
		_ = c.SubmitFailed()
		if !s.save(w, r, id, c) {
			return
		}
		if errors.Is(err, surveyapi.ErrAccessDenied) {
			seeOther(w, r, "/denied")
			return
		}
		s.log.Warn("submit response", zap.String("worker", id.WorkerID), zap.String("song", resp.SongID), zap.Error(err))
		v := s.view(c)
		v.Message = failureMessage(err, msgSubmitFailed)
		s.render(w, http.StatusBadGateway, "survey", v)
		return
	}

	_ = c.Submitted()
	s.log.Info("response submitted", zap.String("worker", id.WorkerID), zap.String("song", resp.SongID))
	if !s.save(w, r, id, c) {
		return
	}
	seeOther(w, r, "/survey")
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	id, c, unlock, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer unlock()

	if err := c.Back(); err != nil {
		s.log.Debug("back rejected", zap.String("worker", id.WorkerID), zap.Error(err))
		seeOther(w, r, "/survey")
		return
	}
	if !s.save(w, r, id, c) {
		return
	}
	seeOther(w, r, "/survey")
}

type playbackReport struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Ended    bool    `json:"ended"`
}

type playbackResult struct {
	Allowed float64      `json:"allowed"`
	Stage   survey.Stage `json:"stage,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// reportPlayback applies one playback report to the worker's controller. It
// is shared by the JSON endpoint and the websocket channel.
func (s *Server) reportPlayback(ctx context.Context, id session.Identity, rep playbackReport) (playbackResult, error) {
	c, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return playbackResult{}, err
	}
	defer unlock()

	allowed, err := c.ReportPlayback(rep.Position, rep.Duration, rep.Ended, s.now())
	res := playbackResult{Allowed: allowed, Stage: c.Stage()}
	if err != nil {
		return res, err
	}
	if err := s.store.Save(ctx, id.SessionID, c); err != nil {
		return res, err
	}
	return res, nil
}

func playbackStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrLocked), errors.Is(err, survey.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, survey.ErrComplete):
		return http.StatusConflict, "complete"
	case errors.Is(err, survey.ErrWrongStage):
		return http.StatusConflict, "wrong stage"
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessions.Resolve(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var rep playbackReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.reportPlayback(r.Context(), id, rep)
	if err != nil {
		status, text := playbackStatus(err)
		if status == http.StatusInternalServerError {
			s.log.Error("playback report", zap.String("session", id.SessionID), zap.Error(err))
		}
		res.Error = text
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func failureMessage(err error, fallback string) string {
	var apiErr *surveyapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message(fallback)
	}
	return fallback
}
