package survey

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Controller drives one worker through the per-item flow:
// listen, rank and describe, rate the AI text, submit, fetch the next item.
// It performs no I/O; callers report the outcome of each backend call.
type Controller struct {
	workerID  string
	stage     Stage
	item      *Item
	draft     Draft
	guard     PlaybackGuard
	tolerance float64
}

func NewController(workerID string, tolerance float64) *Controller {
	return &Controller{
		workerID:  workerID,
		stage:     StageLoading,
		guard:     NewPlaybackGuard(tolerance),
		tolerance: tolerance,
	}
}

func (c *Controller) WorkerID() string { return c.workerID }
func (c *Controller) Stage() Stage     { return c.stage }

func (c *Controller) Item() (Item, bool) {
	if c.item == nil {
		return Item{}, false
	}
	return *c.item, true
}

func (c *Controller) Draft() Draft {
	d := Draft{Description: c.draft.Description}
	d.Features = append([]string(nil), c.draft.Features...)
	if c.draft.Ratings != nil {
		d.Ratings = make(map[string]int, len(c.draft.Ratings))
		for k, v := range c.draft.Ratings {
			d.Ratings[k] = v
		}
	}
	return d
}

// ConfirmedPosition is the furthest playback position accepted for the
// current item.
func (c *Controller) ConfirmedPosition() float64 {
	return c.guard.Confirmed()
}

func (c *Controller) gate(action string, want Stage) error {
	switch {
	case c.stage == want:
		return nil
	case c.stage == StageComplete:
		return ErrComplete
	case c.stage == StageLoading || c.stage == StageSubmitting:
		return ErrBusy
	}
	return &StageError{Action: action, Stage: c.stage}
}

// Loaded applies the result of a fetch.
func (c *Controller) Loaded(next Next) error {
	if c.stage != StageLoading {
		return &StageError{Action: "load", Stage: c.stage}
	}
	if next.Complete {
		c.Complete()
		return nil
	}
	if next.Item.SongID == "" || next.Item.SongFile == "" {
		return errors.New("survey: fetched item has no song")
	}
	item := next.Item
	item.Descriptions = append([]Description(nil), next.Item.Descriptions...)
	c.item = &item
	c.draft = Draft{}
	c.guard = NewPlaybackGuard(c.tolerance)
	c.stage = StageAwaitingListen
	return nil
}

// ReportPlayback runs a playback report received at at through the no-skip
// guard and returns the position the player must be at. Once the clip has
// been heard the worker may move freely within it.
func (c *Controller) ReportPlayback(pos, duration float64, ended bool, at time.Time) (float64, error) {
	switch c.stage {
	case StageCollectingRanking, StageCollectingRatings:
		return pos, nil
	case StageAwaitingListen:
	default:
		return c.guard.Confirmed(), c.gate("playback", StageAwaitingListen)
	}
	allowed := c.guard.Observe(pos, duration, at)
	if ended && c.guard.Reached() {
		c.stage = StageCollectingRanking
	}
	return allowed, nil
}

// SubmitRanking records the three ranked features and the free-text
// description and moves on to ratings.
func (c *Controller) SubmitRanking(features []string, description string) error {
	if err := c.gate("ranking", StageCollectingRanking); err != nil {
		return err
	}
	if err := validateRanking(features, description); err != nil {
		return err
	}
	c.draft.Features = append([]string(nil), features...)
	c.draft.Description = strings.TrimSpace(description)
	c.draft.Ratings = nil
	c.stage = StageCollectingRatings
	return nil
}

// SubmitRatings records one rating per AI description and returns the
// response to send. The controller stays in StageSubmitting until Submitted
// or SubmitFailed is called.
func (c *Controller) SubmitRatings(ratings map[string]int) (Response, error) {
	if err := c.gate("ratings", StageCollectingRatings); err != nil {
		return Response{}, err
	}
	if err := validateRatings(c.item, ratings); err != nil {
		return Response{}, err
	}
	kept := make(map[string]int, len(c.item.Descriptions))
	for _, d := range c.item.Descriptions {
		kept[d.Key] = ratings[d.Key]
	}
	c.draft.Ratings = kept
	c.stage = StageSubmitting
	return c.response(), nil
}

func (c *Controller) response() Response {
	d := c.Draft()
	return Response{
		WorkerID:    c.workerID,
		SongID:      c.item.SongID,
		Features:    d.Features,
		Description: d.Description,
		Ratings:     d.Ratings,
	}
}

// Back returns from ratings to ranking, dropping only the ratings.
func (c *Controller) Back() error {
	if err := c.gate("back", StageCollectingRatings); err != nil {
		return err
	}
	c.draft.Ratings = nil
	c.stage = StageCollectingRanking
	return nil
}

// Submitted discards the draft and item after the backend accepted them.
func (c *Controller) Submitted() error {
	if c.stage != StageSubmitting {
		return &StageError{Action: "submitted", Stage: c.stage}
	}
	c.reset()
	c.stage = StageLoading
	return nil
}

// SubmitFailed puts the controller back where it was before the submit so
// the worker can retry.
func (c *Controller) SubmitFailed() error {
	if c.stage != StageSubmitting {
		return &StageError{Action: "submit failed", Stage: c.stage}
	}
	c.stage = StageCollectingRatings
	return nil
}

// Complete ends the session from any stage.
func (c *Controller) Complete() {
	c.reset()
	c.stage = StageComplete
}

func (c *Controller) reset() {
	c.item = nil
	c.draft = Draft{}
	c.guard = NewPlaybackGuard(c.tolerance)
}

type controllerJSON struct {
	WorkerID  string  `json:"workerId"`
	Stage     Stage   `json:"stage"`
	Item      *Item   `json:"item,omitempty"`
	Draft     Draft   `json:"draft"`
	Confirmed float64   `json:"confirmed"`
	Clock     time.Time `json:"clock"`
	Duration  float64   `json:"duration,omitempty"`
	Tolerance float64   `json:"tolerance"`
}

func (c *Controller) MarshalJSON() ([]byte, error) {
	return json.Marshal(controllerJSON{
		WorkerID:  c.workerID,
		Stage:     c.stage,
		Item:      c.item,
		Draft:     c.draft,
		Confirmed: c.guard.confirmed,
		Clock:     c.guard.clock,
		Duration:  c.guard.duration,
		Tolerance: c.tolerance,
	})
}

// UnmarshalJSON restores a stored controller. A submit that never reported
// back is treated as failed so the worker can send it again.
func (c *Controller) UnmarshalJSON(b []byte) error {
	var s controllerJSON
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !s.Stage.valid() {
		return fmt.Errorf("survey: unknown stage %q", s.Stage)
	}
	needsItem := s.Stage == StageAwaitingListen || s.Stage == StageCollectingRanking ||
		s.Stage == StageCollectingRatings || s.Stage == StageSubmitting
	if needsItem && s.Item == nil {
		return fmt.Errorf("survey: stage %q without item", s.Stage)
	}
	if s.Stage == StageSubmitting {
		s.Stage = StageCollectingRatings
	}
	*c = Controller{
		workerID:  s.WorkerID,
		stage:     s.Stage,
		item:      s.Item,
		draft:     s.Draft,
		guard:     NewPlaybackGuard(s.Tolerance),
		tolerance: s.Tolerance,
	}
	c.guard.confirmed = s.Confirmed
	c.guard.clock = s.Clock
	c.guard.duration = s.Duration
	return nil
}
