package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// RaceTableResponse is the envelope of every Ergast-compatible race endpoint
type RaceTableResponse struct {
	MRData MRData `json:"MRData"`
}

// MRData carries pagination and the race table
type MRData struct {
	Limit     string    `json:"limit"`
	Offset    string    `json:"offset"`
	Total     string    `json:"total"`
	RaceTable RaceTable `json:"RaceTable"`
}

// RaceTable lists the races matched by a query
type RaceTable struct {
	Season string      `json:"season"`
	Round  string      `json:"round,omitempty"`
	Races  []RaceInput `json:"Races"`
}

// Page returns limit, offset and total as ints; missing values are zero
func (m MRData) Page() (limit, offset, total int) {
	limit, _ = strconv.Atoi(m.Limit)
	offset, _ = strconv.Atoi(m.Offset)
	total, _ = strconv.Atoi(m.Total)
	return limit, offset, total
}

// RaceInput is one race weekend as returned by the API
type RaceInput struct {
	Season            string            `json:"season"`
	Round             string            `json:"round"`
	RaceName          string            `json:"raceName"`
	Date              string            `json:"date"`
	Time              string            `json:"time,omitempty"`
	Circuit           CircuitInput      `json:"Circuit"`
	Results           []ResultInput     `json:"Results,omitempty"`
	SprintResults     []ResultInput     `json:"SprintResults,omitempty"`
	QualifyingResults []QualifyingInput `json:"QualifyingResults,omitempty"`
	Sprint            *SessionTime      `json:"Sprint,omitempty"` // Present on sprint weekends in the schedule
}

// CircuitInput is the venue of a race
type CircuitInput struct {
	CircuitID   string `json:"circuitId"`
	CircuitName string `json:"circuitName"`
	Location    struct {
		Locality string `json:"locality"`
		Country  string `json:"country"`
	} `json:"Location"`
}

// SessionTime is a scheduled session start
type SessionTime struct {
	Date string `json:"date"`
	Time string `json:"time,omitempty"`
}

// ResultInput is one classified finisher of a race or sprint
type ResultInput struct {
	Number      string           `json:"number"`
	Position    string           `json:"position"`
	Points      Points           `json:"points"`
	Grid        string           `json:"grid,omitempty"`
	Status      string           `json:"status,omitempty"`
	Driver      DriverInput      `json:"Driver"`
	Constructor ConstructorInput `json:"Constructor"`
}

// QualifyingInput is one qualifying classification row
type QualifyingInput struct {
	Number      string           `json:"number"`
	Position    string           `json:"position"`
	Driver      DriverInput      `json:"Driver"`
	Constructor ConstructorInput `json:"Constructor"`
	Q1          string           `json:"Q1,omitempty"`
	Q2          string           `json:"Q2,omitempty"`
	Q3          string           `json:"Q3,omitempty"`
}

// DriverInput identifies a driver
type DriverInput struct {
	DriverID   string `json:"driverId"`
	Code       string `json:"code,omitempty"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// DisplayName is the entity key used for drivers
func (d DriverInput) DisplayName() string {
	return strings.TrimSpace(d.GivenName + " " + d.FamilyName)
}

// ShortCode returns the three-letter code, falling back to the family name
func (d DriverInput) ShortCode() string {
	if d.Code != "" {
		return d.Code
	}
	return strings.ToUpper(d.FamilyName)
}

// ConstructorInput identifies a team
type ConstructorInput struct {
	ConstructorID string `json:"constructorId"`
	Name          string `json:"name"`
}

// RoundNumber parses the round string
func (r *RaceInput) RoundNumber() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(r.Round))
	if err != nil {
		return 0, fmt.Errorf("invalid round %q: %w", r.Round, err)
	}
	return n, nil
}

// StartTime parses the race date and optional time
func (r *RaceInput) StartTime() (time.Time, error) {
	if r.Date == "" {
		return time.Time{}, fmt.Errorf("race %q has no date", r.RaceName)
	}
	raw := r.Date
	if r.Time != "" {
		raw = r.Date + "T" + r.Time
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse race date %q: %w", raw, err)
	}
	return t, nil
}

// IsSprintWeekend reports whether the schedule lists a sprint session
func (r *RaceInput) IsSprintWeekend() bool {
	return r.Sprint != nil || len(r.SprintResults) > 0
}

// ToRound converts a schedule entry into a Round named by name.
// The schedule carries no short name, so callers supply one or fall back to RaceName.
func (r *RaceInput) ToRound(name string) (Round, error) {
	n, err := r.RoundNumber()
	if err != nil {
		return Round{}, err
	}
	if name == "" {
		name = strings.TrimSuffix(r.RaceName, " Grand Prix")
	}
	round := Round{Number: n, Name: name, RaceName: r.RaceName}
	if t, err := r.StartTime(); err == nil {
		round.Date = t
	}
	return round, nil
}

// EntityName returns the entity key of a result for the given kind
func (res ResultInput) EntityName(kind EntityKind) string {
	if kind == Constructors {
		return res.Constructor.Name
	}
	return res.Driver.DisplayName()
}

// ToRoundPoints sums points per entity over results.
// Constructors appear once per car and are summed.
func ToRoundPoints(round int, results []ResultInput, kind EntityKind) *RoundPoints {
	rp := &RoundPoints{Round: round}
	pos := make(map[string]int)
	for _, res := range results {
		name := res.EntityName(kind)
		if name == "" {
			continue
		}
		if i, ok := pos[name]; ok {
			rp.Entries[i].Points += res.Points
			continue
		}
		pos[name] = len(rp.Entries)
		rp.Entries = append(rp.Entries, PointEntry{Entity: name, Points: res.Points})
	}
	return rp
}
