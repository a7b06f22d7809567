package models

import (
	"fmt"
	"time"
)

// Round is one race weekend in the fixed season sequence
type Round struct {
	Number   int       `yaml:"number" json:"number"`
	Name     string    `yaml:"name" json:"name"`                             // Human-facing key, matched against the rounds database
	RaceName string    `yaml:"race_name,omitempty" json:"race_name,omitempty"` // API event name, display only
	Date     time.Time `yaml:"date,omitempty" json:"date,omitempty"`
}

// Index returns the zero-based position of the round in the season
func (r Round) Index() int {
	return r.Number - 1
}

// ValidateRounds checks that rounds are numbered 1..N in order with a name each
func ValidateRounds(rounds []Round) error {
	if len(rounds) == 0 {
		return fmt.Errorf("season has no rounds")
	}
	for i, r := range rounds {
		if r.Number != i+1 {
			return fmt.Errorf("round at position %d has number %d, want %d", i, r.Number, i+1)
		}
		if r.Name == "" {
			return fmt.Errorf("round %d has no name", r.Number)
		}
	}
	return nil
}

// RoundNames returns the display names of rounds in order
func RoundNames(rounds []Round) []string {
	names := make([]string, len(rounds))
	for i, r := range rounds {
		names[i] = r.Name
	}
	return names
}

// EntityKind selects which competitor a standings series is computed for
type EntityKind string

const (
	Drivers      EntityKind = "drivers"
	Constructors EntityKind = "constructors"
)

// ParseEntityKind converts a string to an EntityKind
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case Drivers, Constructors:
		return EntityKind(s), nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

// PointEntry is the points one entity scored in one event
type PointEntry struct {
	Entity string
	Points Points
}

// RoundPoints is one event's point table for a round.
// Round is the round number reported by the source, not the one requested.
type RoundPoints struct {
	Round   int
	Entries []PointEntry
}

// IsEmpty returns true if the table carries no entries
func (rp *RoundPoints) IsEmpty() bool {
	return rp == nil || len(rp.Entries) == 0
}
