package standings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"f1standings/notionsync/internal/client"
	"f1standings/notionsync/internal/models"
)

// ResultsSource is the subset of the statistics client used for points
type ResultsSource interface {
	FetchRaceResults(ctx context.Context, season string, round int) (*models.RaceInput, error)
	FetchSprintResults(ctx context.Context, season string, round int) (*models.RaceInput, error)
	FetchSeasonSprints(ctx context.Context, season string) (map[int]*models.RaceInput, error)
}

// APIFetcher reads race results as primary and sprint results as secondary points
type APIFetcher struct {
	source ResultsSource
	season string
	kind   models.EntityKind

	seasonIndex bool
	once        sync.Once
	sprints     map[int]*models.RaceInput
	sprintErr   error
}

// FetcherOption configures an APIFetcher
type FetcherOption func(*APIFetcher)

// WithSeasonSprintIndex loads all sprints in one paginated call and joins them by round number
func WithSeasonSprintIndex() FetcherOption {
	return func(f *APIFetcher) {
		f.seasonIndex = true
	}
}

// NewAPIFetcher creates a fetcher for one season and entity kind
func NewAPIFetcher(source ResultsSource, season string, kind models.EntityKind, opts ...FetcherOption) *APIFetcher {
	f := &APIFetcher{source: source, season: season, kind: kind}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// PrimaryPoints implements PointsFetcher
func (f *APIFetcher) PrimaryPoints(ctx context.Context, round models.Round) (*models.RoundPoints, error) {
	race, err := f.source.FetchRaceResults(ctx, f.season, round.Number)
	if errors.Is(err, client.ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f.toPoints(race, race.Results)
}

// SecondaryPoints implements PointsFetcher
func (f *APIFetcher) SecondaryPoints(ctx context.Context, round models.Round) (*models.RoundPoints, error) {
	if f.seasonIndex {
		f.once.Do(func() {
			f.sprints, f.sprintErr = f.source.FetchSeasonSprints(ctx, f.season)
		})
		if f.sprintErr != nil {
			return nil, f.sprintErr
		}
		race, ok := f.sprints[round.Number]
		if !ok {
			return nil, nil
		}
		return f.toPoints(race, race.SprintResults)
	}

	race, err := f.source.FetchSprintResults(ctx, f.season, round.Number)
	if errors.Is(err, client.ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f.toPoints(race, race.SprintResults)
}

func (f *APIFetcher) toPoints(race *models.RaceInput, results []models.ResultInput) (*models.RoundPoints, error) {
	n, err := race.RoundNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to read round of %q: %w", race.RaceName, err)
	}
	return models.ToRoundPoints(n, results, f.kind), nil
}
