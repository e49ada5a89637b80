// Package trust decides how far an embedding's enrollment evidence has been
// verified by human review.
package trust

import (
	"fmt"
	"strings"
)

// Level classifies an embedding's evidence.
type Level string

const (
	Unknown     Level = "unknown"
	Low         Level = "low"
	Medium      Level = "medium"
	High        Level = "high"
	Invalidated Level = "invalidated"
)

// Evaluate maps sample counts to a trust level. Precedence: any rejection
// invalidates; no samples at all is unknown; fully reviewed is high; nothing
// reviewed is low; a mix is medium. Negative counts are treated as zero.
func Evaluate(reviewed, unreviewed, rejected int) Level {
	switch {
	case rejected > 0:
		return Invalidated
	case reviewed <= 0 && unreviewed <= 0:
		return Unknown
	case unreviewed <= 0:
		return High
	case reviewed <= 0:
		return Low
	default:
		return Medium
	}
}

// Rank orders levels for floor comparisons. Invalidated ranks below unknown.
func (l Level) Rank() int {
	switch l {
	case Invalidated:
		return -1
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	default:
		return 0
	}
}

// Meets reports whether l satisfies the floor. An invalidated embedding never
// satisfies any floor.
func (l Level) Meets(floor Level) bool {
	if l == Invalidated {
		return false
	}
	return l.Rank() >= floor.Rank()
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	switch l {
	case Unknown, Low, Medium, High, Invalidated:
		return true
	}
	return false
}

func (l Level) String() string { return string(l) }

// Parse converts user input to a Level.
func Parse(value string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(value)))
	if !level.Valid() {
		return "", fmt.Errorf("unknown trust level %q (expected unknown, low, medium, high, or invalidated)", value)
	}
	return level, nil
}

// ParseFloor is Parse restricted to levels usable as a min_trust floor.
func ParseFloor(value string) (Level, error) {
	level, err := Parse(value)
	if err != nil {
		return "", err
	}
	if level == Invalidated {
		return "", fmt.Errorf("trust floor cannot be %q", Invalidated)
	}
	return level, nil
}
