package survey

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageLoading           Stage = "loading"
	StageAwaitingListen    Stage = "awaiting-listen"
	StageCollectingRanking Stage = "collecting-ranking"
	StageCollectingRatings Stage = "collecting-ratings"
	StageSubmitting        Stage = "submitting"
	StageComplete          Stage = "complete"
)

func (s Stage) valid() bool {
	switch s {
	case StageLoading, StageAwaitingListen, StageCollectingRanking,
		StageCollectingRatings, StageSubmitting, StageComplete:
		return true
	}
	return false
}

const (
	RankedFeatureCount = 3
	MinRating          = -2
	MaxRating          = 2
)

// Features is the catalogue workers rank from.
var Features = []string{
	"Soothing", "Stimulating", "Grounding", "Playful", "Focusing", "Transitional", "Interactive",
	"Motivating", "Anxiety-Reducing", "Task-Oriented", "Self Expressive", "Sensory-Calming",
	"Attention-Shifting", "Rhythmic Synchronizing", "Confidence-Building",
}

func isFeature(name string) bool {
	for _, f := range Features {
		if f == name {
			return true
		}
	}
	return false
}

// Description is one AI-generated text attached to an item. Key names the
// generator ("gpt", "clap") and doubles as the rating field name.
type Description struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type Item struct {
	SongID       string        `json:"songId"`
	SongFile     string        `json:"songFile"`
	Descriptions []Description `json:"descriptions,omitempty"`
}

// Next is the outcome of a fetch: either an item or the end of the session.
type Next struct {
	Item     Item
	Complete bool
}

// Draft is the in-progress response for the current item.
type Draft struct {
	Features    []string       `json:"features,omitempty"`
	Description string         `json:"description,omitempty"`
	Ratings     map[string]int `json:"ratings,omitempty"`
}

// Response is a fully assembled draft ready to be submitted.
type Response struct {
	WorkerID    string
	SongID      string
	Features    []string
	Description string
	Ratings     map[string]int
}

var (
	ErrBusy       = errors.New("survey: a request for this item is already in flight")
	ErrWrongStage = errors.New("survey: action not allowed in current stage")
	ErrComplete   = errors.New("survey: session complete")
)

// StageError reports an action attempted outside the stage that accepts it.
type StageError struct {
	Action string
	Stage  Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("survey: %s not allowed in stage %q", e.Action, e.Stage)
}

func (e *StageError) Is(target error) bool {
	return target == ErrWrongStage
}

// ValidationError carries the prompt shown to the worker. It never changes
// controller state.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

const (
	msgRanking      = "Please select exactly 3 features and enter a description."
	msgRatings      = "Please rate every AI description before submitting."
	msgRatingsRange = "Ratings must be between -2 and 2."
)
