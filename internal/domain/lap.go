package domain

import (
	"fmt"
	"math"
	"sort"
)

// PositionChange is a race position change that happened Offset seconds into a lap.
type PositionChange struct {
	Offset   float64 `json:"offset"`
	Position int     `json:"position"`
}

// RawLap is a lap as supplied by the caller. Exactly one of DurationMs or
// Duration is expected; DurationMs wins when both are set.
type RawLap struct {
	Number          int              `json:"number"`
	DurationMs      *int64           `json:"duration_ms,omitempty"`
	Duration        *float64         `json:"duration,omitempty"`
	Position        int              `json:"position"`
	PositionChanges []PositionChange `json:"position_changes,omitempty"`
}

// Lap is one completed lap placed on the session time axis.
type Lap struct {
	Number          int              `json:"number"`
	Duration        float64          `json:"duration"`
	Position        int              `json:"position"`
	PositionChanges []PositionChange `json:"position_changes,omitempty"`
	StartOffset     float64          `json:"start_offset"`
	StartPosition   int              `json:"start_position"`
	Display         string           `json:"display"`
}

// End returns the session-relative time at which the lap ends.
func (l Lap) End() float64 {
	return l.StartOffset + l.Duration
}

// PositionAt returns the position held elapsed seconds into the lap.
func (l Lap) PositionAt(elapsed float64) int {
	pos := l.StartPosition
	for _, c := range l.PositionChanges {
		if c.Offset > elapsed {
			break
		}
		pos = c.Position
	}
	return pos
}

// LastChangeBefore returns the most recent position change at or before
// elapsed, along with the position held before it.
func (l Lap) LastChangeBefore(elapsed float64) (change PositionChange, previous int, ok bool) {
	previous = l.StartPosition
	prev := l.StartPosition
	for _, c := range l.PositionChanges {
		if c.Offset > elapsed {
			break
		}
		change, previous, ok = c, prev, true
		prev = c.Position
	}
	return change, previous, ok
}

// BuildTimeline validates raw laps and computes their cumulative start
// offsets. Output order matches input order.
func BuildTimeline(raw []RawLap) ([]Lap, error) {
	laps := make([]Lap, 0, len(raw))
	var offset float64

	for i, r := range raw {
		duration, err := normalizeDuration(r)
		if err != nil {
			return nil, fmt.Errorf("lap %d: %w", i, err)
		}
		if r.Position < 1 {
			return nil, fmt.Errorf("lap %d: position %d: %w", i, r.Position, ErrInvalidLapData)
		}

		changes := make([]PositionChange, len(r.PositionChanges))
		copy(changes, r.PositionChanges)
		for _, c := range changes {
			if c.Offset < 0 || c.Offset > duration || math.IsNaN(c.Offset) {
				return nil, fmt.Errorf("lap %d: position change offset %.3f outside [0, %.3f]: %w", i, c.Offset, duration, ErrInvalidLapData)
			}
			if c.Position < 1 {
				return nil, fmt.Errorf("lap %d: position change to %d: %w", i, c.Position, ErrInvalidLapData)
			}
		}
		sort.SliceStable(changes, func(a, b int) bool { return changes[a].Offset < changes[b].Offset })

		startPosition := r.Position
		if len(laps) > 0 {
			startPosition = laps[len(laps)-1].Position
		}

		laps = append(laps, Lap{
			Number:          r.Number,
			Duration:        duration,
			Position:        r.Position,
			PositionChanges: changes,
			StartOffset:     offset,
			StartPosition:   startPosition,
			Display:         FormatLapTime(duration),
		})
		offset += duration
	}

	return laps, nil
}

func normalizeDuration(r RawLap) (float64, error) {
	var duration float64
	switch {
	case r.DurationMs != nil:
		duration = float64(*r.DurationMs) / 1000
	case r.Duration != nil:
		duration = *r.Duration
	default:
		return 0, fmt.Errorf("missing duration: %w", ErrInvalidLapData)
	}
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0, fmt.Errorf("duration %v: %w", duration, ErrInvalidLapData)
	}
	return duration, nil
}

// TotalDuration returns the summed duration of all laps in seconds.
func TotalDuration(laps []Lap) float64 {
	var total float64
	for _, l := range laps {
		total += l.Duration
	}
	return total
}

// LapAt returns the index of the lap whose window [start, end) contains
// sessionTime. laps must be ordered by StartOffset, as BuildTimeline produces.
func LapAt(laps []Lap, sessionTime float64) (int, bool) {
	if len(laps) == 0 || sessionTime < laps[0].StartOffset {
		return 0, false
	}
	i := sort.Search(len(laps), func(i int) bool {
		return laps[i].StartOffset > sessionTime
	}) - 1
	if i < 0 || sessionTime >= laps[i].End() {
		return 0, false
	}
	return i, true
}

// FormatLapTime formats seconds as M:SS:mmm. Negative input is treated as zero.
func FormatLapTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	minutes := totalMs / 60000
	secs := (totalMs / 1000) % 60
	ms := totalMs % 1000
	return fmt.Sprintf("%d:%02d:%03d", minutes, secs, ms)
}
