package survey

import (
	"math"
	"strings"
	"time"
)

// DefaultTolerance is how far, in seconds, a playback report may run ahead of
// the listening time credited so far before it counts as a skip.
const DefaultTolerance = 0.35

// maxListenCredit caps the wall-clock time credited between two reports, so a
// long pause does not bank room to seek ahead.
const maxListenCredit = 5 * time.Second

// PlaybackGuard tracks the furthest position the worker has actually listened
// to and refuses forward seeks past it.
//
// Confirmed playback may advance by the wall-clock time elapsed since the
// listening clock last moved, plus the tolerance. Accepted progress is charged
// to the clock, so over a whole clip the confirmed position never runs ahead
// of real listening time by more than the tolerance, however coarse the report
// cadence is.
type PlaybackGuard struct {
	confirmed float64
	clock     time.Time
	duration  float64
	tolerance float64
}

func NewPlaybackGuard(tolerance float64) PlaybackGuard {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return PlaybackGuard{tolerance: tolerance}
}

func validSeconds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// credit is the listening time, in seconds, available at at. It is negative
// right after the tolerance was used.
func (g *PlaybackGuard) credit(at time.Time) float64 {
	if g.clock.IsZero() {
		g.clock = at
	}
	if at.Sub(g.clock) > maxListenCredit {
		g.clock = at.Add(-maxListenCredit)
	}
	return at.Sub(g.clock).Seconds()
}

// Observe returns the position playback must be at after a report of pos at
// time at. Positions past the credited listening time are reset to the
// confirmed position; seeking backwards is always allowed. A positive
// duration is remembered for Reached.
func (g *PlaybackGuard) Observe(pos, duration float64, at time.Time) float64 {
	if validSeconds(duration) && duration > g.duration {
		g.duration = duration
	}
	if !validSeconds(pos) {
		return g.confirmed
	}
	if pos > g.confirmed+g.credit(at)+g.tolerance {
		return g.confirmed
	}
	if pos > g.confirmed {
		g.clock = g.clock.Add(time.Duration((pos - g.confirmed) * float64(time.Second)))
		g.confirmed = pos
	}
	return pos
}

// Reached reports whether the confirmed position is at the end of the clip.
// A clip whose duration was never reported is not reached.
func (g *PlaybackGuard) Reached() bool {
	if g.duration <= 0 {
		return false
	}
	return g.confirmed >= g.duration-g.tolerance
}

func (g *PlaybackGuard) Confirmed() float64 {
	return g.confirmed
}

func validateRanking(features []string, description string) error {
	if len(features) != RankedFeatureCount || strings.TrimSpace(description) == "" {
		return &ValidationError{msg: msgRanking}
	}
	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		if !isFeature(f) {
			return &ValidationError{msg: msgRanking}
		}
		if _, dup := seen[f]; dup {
			return &ValidationError{msg: msgRanking}
		}
		seen[f] = struct{}{}
	}
	return nil
}

func validateRatings(item *Item, ratings map[string]int) error {
	for _, d := range item.Descriptions {
		v, ok := ratings[d.Key]
		if !ok {
			return &ValidationError{msg: msgRatings}
		}
		if v < MinRating || v > MaxRating {
			return &ValidationError{msg: msgRatingsRange}
		}
	}
	return nil
}
