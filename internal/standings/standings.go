package standings

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/models"
)

// PointsFetcher supplies per-round point tables.
// A nil table with a nil error means the event has no data.
type PointsFetcher interface {
	// PrimaryPoints returns the main event (the Grand Prix)
	PrimaryPoints(ctx context.Context, round models.Round) (*models.RoundPoints, error)
	// SecondaryPoints returns the optional extra event (the sprint)
	SecondaryPoints(ctx context.Context, round models.Round) (*models.RoundPoints, error)
}

// Standings is a cumulative points series per entity over a fixed round sequence
type Standings struct {
	Kind     models.EntityKind
	Rounds   []models.Round
	Happened []bool           // Happened[i] is true when round i produced data
	Entities []string         // First-seen order
	Series   map[string][]int // Series[e][i] is the total of e after round i

	FailedRounds int // Rounds skipped because a table could not be fetched or was malformed
}

// Option configures Aggregate
type Option func(*aggregator)

// WithSeed registers entities up front so they appear even without points
func WithSeed(entities ...string) Option {
	return func(a *aggregator) {
		a.seed = append(a.seed, entities...)
	}
}

// WithKind labels the result and its metrics
func WithKind(kind models.EntityKind) Option {
	return func(a *aggregator) {
		a.kind = kind
	}
}

type aggregator struct {
	kind models.EntityKind
	seed []string
}

// Aggregate folds per-round points into cumulative totals.
// A round whose tables cannot be fetched is marked not happened and every
// total is carried forward; processing always continues with the next round.
func Aggregate(ctx context.Context, rounds []models.Round, fetcher PointsFetcher, opts ...Option) *Standings {
	a := &aggregator{}
	for _, opt := range opts {
		opt(a)
	}

	st := &Standings{
		Kind:     a.kind,
		Rounds:   rounds,
		Happened: make([]bool, len(rounds)),
		Series:   make(map[string][]int),
	}
	running := make(map[string]int)

	for _, e := range a.seed {
		st.register(e, 0)
	}

	for i, round := range rounds {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int("round", round.Number).Msg("Aggregation cancelled, remaining rounds carried forward")
			st.carryForward(i, running)
			continue
		}

		scored, ok, failed := a.roundPoints(ctx, fetcher, round)
		if failed {
			st.FailedRounds++
		}
		if ok {
			st.Happened[i] = true
			for _, entry := range scored {
				if _, known := running[entry.Entity]; !known {
					st.register(entry.Entity, i)
				}
				running[entry.Entity] += entry.Points.Int()
			}
		}
		st.carryForward(i, running)
	}

	metrics.SetCompletedRounds(string(a.kind), st.CompletedRounds())
	return st
}

// roundPoints returns the combined primary and secondary points of a round.
// failed is set when the round was skipped because of an error rather than missing data.
func (a *aggregator) roundPoints(ctx context.Context, fetcher PointsFetcher, round models.Round) (entries []models.PointEntry, ok, failed bool) {
	logger := log.With().
		Str("kind", string(a.kind)).
		Int("round", round.Number).
		Str("name", round.Name).
		Logger()

	primary, err := fetcher.PrimaryPoints(ctx, round)
	if err != nil {
		logger.Warn().Err(err).Msg("Primary points unavailable, round skipped")
		metrics.RecordRoundFailure(string(a.kind), "primary")
		return nil, false, true
	}
	if primary.IsEmpty() {
		logger.Debug().Msg("Round has no data yet")
		return nil, false, false
	}
	if primary.Round != round.Number {
		logger.Warn().Int("reported_round", primary.Round).Msg("Primary points report a different round, round skipped")
		metrics.RecordRoundFailure(string(a.kind), "primary_mismatch")
		return nil, false, true
	}

	secondary, err := fetcher.SecondaryPoints(ctx, round)
	if err != nil {
		logger.Warn().Err(err).Msg("Secondary points unavailable, round skipped")
		metrics.RecordRoundFailure(string(a.kind), "secondary")
		return nil, false, true
	}

	entries = append(entries, primary.Entries...)
	if !secondary.IsEmpty() {
		if secondary.Round != round.Number {
			logger.Warn().Int("reported_round", secondary.Round).Msg("Secondary points report a different round, ignored")
		} else {
			entries = append(entries, secondary.Entries...)
		}
	}
	return entries, true, false
}

// register adds a new entity with zeros for every round before index i
func (st *Standings) register(entity string, i int) {
	if _, ok := st.Series[entity]; ok {
		return
	}
	st.Entities = append(st.Entities, entity)
	series := make([]int, i, len(st.Rounds))
	st.Series[entity] = series
}

// carryForward writes the running total of every known entity at index i
func (st *Standings) carryForward(i int, running map[string]int) {
	for _, e := range st.Entities {
		st.Series[e] = append(st.Series[e], running[e])
	}
}

// Total returns the final cumulative points of entity
func (st *Standings) Total(entity string) int {
	series := st.Series[entity]
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// RoundPoints returns the points entity scored in round i alone
func (st *Standings) RoundPoints(entity string, i int) int {
	series := st.Series[entity]
	if i < 0 || i >= len(series) {
		return 0
	}
	if i == 0 {
		return series[0]
	}
	return series[i] - series[i-1]
}

// CompletedRounds counts rounds that produced data
func (st *Standings) CompletedRounds() int {
	n := 0
	for _, h := range st.Happened {
		if h {
			n++
		}
	}
	return n
}

// LastCompleted returns the index of the latest round with data, or -1
func (st *Standings) LastCompleted() int {
	for i := len(st.Happened) - 1; i >= 0; i-- {
		if st.Happened[i] {
			return i
		}
	}
	return -1
}

// Ranked returns entities by total descending, then name ascending
func (st *Standings) Ranked() []string {
	out := append([]string(nil), st.Entities...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := st.Total(out[i]), st.Total(out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i] < out[j]
	})
	return out
}
