package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/client"
	"f1standings/notionsync/internal/config"
	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/models"
	"f1standings/notionsync/internal/repository"
	"f1standings/notionsync/internal/standings"
	"f1standings/notionsync/internal/syncwriter"
)

// StatsSource is the statistics API surface the jobs use
type StatsSource interface {
	standings.ResultsSource
	FetchQualifyingResults(ctx context.Context, season string, round int) (*models.RaceInput, error)
	FetchSchedule(ctx context.Context, season string) ([]models.RaceInput, error)
}

// Workspace is the workspace API surface the jobs use
type Workspace interface {
	syncwriter.TableStore
	syncwriter.TitleFinder
}

// Outcome is what one job run did
type Outcome struct {
	syncwriter.Result
	FailedRounds int
	Standings    *standings.Standings // Nil for the sessions job
}

// Pipeline wires the season, both API clients and the optional stores into jobs
type Pipeline struct {
	cfg       *config.Config
	stats     StatsSource
	workspace Workspace
	db        *repository.Database
	refCache  syncwriter.RefCache
	clock     clockwork.Clock

	mu     sync.Mutex
	season *config.Season
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithDatabase records runs and snapshots in db
func WithDatabase(db *repository.Database) Option {
	return func(p *Pipeline) {
		p.db = db
	}
}

// WithRefCache memoises reference lookups across runs
func WithRefCache(c syncwriter.RefCache) Option {
	return func(p *Pipeline) {
		p.refCache = c
	}
}

// WithClock replaces the clock used for pacing and timestamps
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithSeason fixes the season calendar instead of loading it
func WithSeason(s *config.Season) Option {
	return func(p *Pipeline) {
		p.season = s
	}
}

// New creates a pipeline
func New(cfg *config.Config, stats StatsSource, workspace Workspace, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		stats:     stats,
		workspace: workspace,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Season returns the calendar, loading it on first use
func (p *Pipeline) Season(ctx context.Context) (*config.Season, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.season != nil {
		return p.season, nil
	}

	var (
		s   *config.Season
		err error
	)
	switch {
	case p.cfg.SeasonFile != "":
		s, err = config.LoadSeason(p.cfg.SeasonFile)
	case p.cfg.SeasonSource == "api":
		var races []models.RaceInput
		races, err = p.stats.FetchSchedule(ctx, p.cfg.Season)
		if err == nil {
			year := p.cfg.Season
			if len(races) > 0 && races[0].Season != "" {
				year = races[0].Season
			}
			s, err = config.SeasonFromSchedule(year, races)
		}
	default:
		s = config.DefaultSeason()
		if p.cfg.Season == "current" {
			s = p.currentOrDefault(ctx, s)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load season: %w", err)
	}

	log.Info().
		Str("season", s.Year).
		Int("rounds", len(s.Rounds)).
		Msg("Season calendar loaded")

	p.season = s
	return s, nil
}

// currentOrDefault replaces the built-in calendar with the live schedule
// when the API's current season is a different year
func (p *Pipeline) currentOrDefault(ctx context.Context, def *config.Season) *config.Season {
	races, err := p.stats.FetchSchedule(ctx, "current")
	if err != nil || races[0].Season == "" {
		log.Warn().
			Err(err).
			Str("built_in", def.Year).
			Msg("Could not confirm the current season, using the built-in calendar")
		return def
	}

	year := races[0].Season
	if year == def.Year {
		return def
	}

	s, err := config.SeasonFromSchedule(year, races)
	if err != nil {
		log.Warn().
			Err(err).
			Str("built_in", def.Year).
			Str("current", year).
			Msg("Current schedule is unusable, using the built-in calendar")
		return def
	}

	log.Warn().
		Str("built_in", def.Year).
		Str("current", year).
		Msg("Current season differs from the built-in calendar, using the API schedule")
	return s
}

// seasonLabel is the year used for titles and stored rows
func (p *Pipeline) seasonLabel(s *config.Season) string {
	if p.cfg.Season == "current" && s.Year != "" {
		return s.Year
	}
	return p.cfg.Season
}

// SeasonLabel is the season key used for run rows and snapshots
func (p *Pipeline) SeasonLabel(ctx context.Context) (string, error) {
	s, err := p.Season(ctx)
	if err != nil {
		return "", err
	}
	return p.seasonLabel(s), nil
}

// RunJob runs one named job and records its outcome
func (p *Pipeline) RunJob(ctx context.Context, job string) error {
	_, err := p.Run(ctx, job, 0)
	return err
}

// Run runs one job. round selects the Grand Prix of the sessions job, 0 meaning the latest.
func (p *Pipeline) Run(ctx context.Context, job string, round int) (*Outcome, error) {
	if err := p.cfg.ValidateJob(job); err != nil {
		return nil, err
	}

	start := p.clock.Now()
	run := models.NewSyncRun(job, p.cfg.Season, start)
	logger := log.With().Str("job", job).Str("run_id", run.ID.String()).Logger()
	logger.Info().Msg("Sync job starting")

	if p.db != nil {
		if err := p.db.Runs.Start(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run start")
		}
	}

	out, err := p.dispatch(ctx, job, round)
	if out == nil {
		out = &Outcome{}
	}

	run.Inserted = out.Inserted
	run.Updated = out.Updated
	run.Failed = out.Failed
	run.Skipped = out.Skipped
	run.LookupFailures = out.LookupFailures
	run.RoundsFailed = out.FailedRounds
	run.Finish(p.clock.Now(), err)

	status := "success"
	switch {
	case err != nil:
		status = "error"
		metrics.RecordError("pipeline", job)
	case out.Failed > 0 || out.LookupFailures > 0 || out.FailedRounds > 0:
		status = "partial"
	}
	duration := run.FinishedAt.Time.Sub(start)
	metrics.RecordSync(job, status, duration.Seconds())

	if p.db != nil {
		if ferr := p.db.Runs.Finish(context.WithoutCancel(ctx), run); ferr != nil {
			logger.Warn().Err(ferr).Msg("Failed to record run finish")
		}
	}

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.
		Str("status", status).
		Int("inserted", out.Inserted).
		Int("updated", out.Updated).
		Int("failed", out.Failed).
		Int("lookup_failures", out.LookupFailures).
		Int("archived", out.Archived).
		Int("failed_rounds", out.FailedRounds).
		Dur("duration", duration).
		Msg("Sync job finished")

	return out, err
}

func (p *Pipeline) dispatch(ctx context.Context, job string, round int) (*Outcome, error) {
	switch job {
	case config.JobCumulativeDrivers:
		return p.RunCumulative(ctx, models.Drivers)
	case config.JobCumulativeConstructors:
		return p.RunCumulative(ctx, models.Constructors)
	case config.JobTableDrivers:
		return p.RunTable(ctx, models.Drivers)
	case config.JobTableConstructors:
		return p.RunTable(ctx, models.Constructors)
	case config.JobSessions:
		return p.RunSessions(ctx, round)
	default:
		return nil, fmt.Errorf("unknown job %q", job)
	}
}

// Standings aggregates the season for kind and stores the snapshot when a database is configured
func (p *Pipeline) Standings(ctx context.Context, kind models.EntityKind) (*standings.Standings, error) {
	season, err := p.Season(ctx)
	if err != nil {
		return nil, err
	}

	var opts []standings.FetcherOption
	if p.cfg.SprintIndex {
		opts = append(opts, standings.WithSeasonSprintIndex())
	}
	fetcher := standings.NewAPIFetcher(p.stats, p.cfg.Season, kind, opts...)

	st := standings.Aggregate(ctx, season.Rounds, fetcher,
		standings.WithKind(kind),
		standings.WithSeed(season.SeedFor(kind)...),
	)

	if p.db != nil {
		if err := p.db.Snapshots.UpsertMany(ctx, st.Snapshots(p.seasonLabel(season), p.clock.Now())); err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to store standings snapshot")
		}
	}
	return st, nil
}

// RunCumulative mirrors the cumulative series of kind into its points database
func (p *Pipeline) RunCumulative(ctx context.Context, kind models.EntityKind) (*Outcome, error) {
	job := config.JobCumulativeConstructors
	if kind == models.Drivers {
		job = config.JobCumulativeDrivers
	}
	target := p.cfg.Cumulative(kind)
	schema := syncwriter.Schema{
		Title:          p.cfg.TitleProperty,
		EntityRelation: target.EntityRelation,
		RoundRelation:  p.cfg.RoundRelationProperty,
		Value:          p.cfg.ValueProperty,
	}

	st, err := p.Standings(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := &Outcome{FailedRounds: st.FailedRounds, Standings: st}

	index, duplicates, err := syncwriter.BuildIndex(ctx, p.workspace, target.PointsDatabaseID, schema)
	if err != nil {
		return out, err
	}

	writer := syncwriter.NewWriter(p.workspace, target.PointsDatabaseID, schema,
		syncwriter.WithJob(job),
		syncwriter.WithPacing(p.cfg.WriteInterval, p.cfg.WriteJitter),
		syncwriter.WithClock(p.clock),
		syncwriter.WithArchiveDuplicates(p.cfg.ArchiveDuplicates),
	)

	archived, pruneFailed := writer.Prune(ctx, duplicates)

	out.Result = writer.Sync(ctx, st, index,
		p.resolver(target.EntityDatabaseID),
		p.resolver(p.cfg.RoundsDatabaseID),
	)
	out.Archived += archived
	out.Failed += pruneFailed

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

// resolver resolves names against a reference database, through the cache when configured
func (p *Pipeline) resolver(databaseID string) syncwriter.RefResolver {
	return syncwriter.NewNotionResolver(p.workspace, databaseID, p.cfg.LookupTitleProperty, p.refCache, p.cfg.RefCacheTTL)
}

// RunTable rebuilds the championship table of kind
func (p *Pipeline) RunTable(ctx context.Context, kind models.EntityKind) (*Outcome, error) {
	job, title, column := config.JobTableConstructors, p.cfg.ConstructorsTableTitle, "Team"
	if kind == models.Drivers {
		job, title, column = config.JobTableDrivers, p.cfg.DriversTableTitle, "Driver"
	}

	st, err := p.Standings(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := &Outcome{FailedRounds: st.FailedRounds, Standings: st}

	writer := syncwriter.NewTableWriter(p.workspace, syncwriter.TableSchema{Title: column, Total: "Total"},
		job, p.cfg.WriteInterval, p.cfg.WriteJitter, p.clock)

	databaseID, err := writer.EnsureTable(ctx, title, p.cfg.ParentPageID, st)
	if err != nil {
		return out, fmt.Errorf("failed to find table %q: %w", title, err)
	}

	res, err := writer.Rewrite(ctx, databaseID, st)
	out.Result = res
	return out, err
}

// RunSessions writes the classification of every session of a Grand Prix.
// round 0 selects the latest round with race results.
func (p *Pipeline) RunSessions(ctx context.Context, round int) (*Outcome, error) {
	season, err := p.Season(ctx)
	if err != nil {
		return nil, err
	}

	var race *models.RaceInput
	if round == 0 {
		race, err = p.latestRace(ctx, season)
	} else {
		race, err = p.stats.FetchRaceResults(ctx, p.cfg.Season, round)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find race: %w", err)
	}

	n, err := race.RoundNumber()
	if err != nil {
		return nil, err
	}
	target, ok := season.RoundByNumber(n)
	if !ok {
		return nil, fmt.Errorf("round %d is not in the season calendar", n)
	}
	target.RaceName = race.RaceName

	sprint, err := p.stats.FetchSprintResults(ctx, p.cfg.Season, n)
	if err != nil && !isNoData(err) {
		return nil, fmt.Errorf("failed to fetch sprint: %w", err)
	}
	sprintWeekend := sprint != nil && len(sprint.SprintResults) > 0

	sessions := make([]syncwriter.Session, 0, 3)
	quali, err := p.stats.FetchQualifyingResults(ctx, p.cfg.Season, n)
	switch {
	case err == nil:
		sessions = append(sessions, syncwriter.SessionFromQualifying(sprintWeekend, quali.QualifyingResults))
	case !isNoData(err):
		return nil, fmt.Errorf("failed to fetch qualifying: %w", err)
	}
	if sprintWeekend {
		sessions = append(sessions, syncwriter.SessionFromResults(syncwriter.SessionSprint, true, sprint.SprintResults))
	}
	sessions = append(sessions, syncwriter.SessionFromResults(syncwriter.SessionRace, sprintWeekend, race.Results))

	year := race.Season
	if year == "" {
		year = p.seasonLabel(season)
	}

	writer := syncwriter.NewSessionWriter(p.workspace, p.cfg.ResultsParentPageID, p.cfg.WriteInterval, p.cfg.WriteJitter, p.clock)
	res, err := writer.Write(ctx, year, target, sessions)
	return &Outcome{Result: res}, err
}

// latestRace walks the calendar backwards to the newest round with race results
func (p *Pipeline) latestRace(ctx context.Context, season *config.Season) (*models.RaceInput, error) {
	now := p.clock.Now()
	for i := len(season.Rounds) - 1; i >= 0; i-- {
		r := season.Rounds[i]
		if !r.Date.IsZero() && r.Date.After(now) {
			continue
		}
		race, err := p.stats.FetchRaceResults(ctx, p.cfg.Season, r.Number)
		if isNoData(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return race, nil
	}
	return nil, fmt.Errorf("no round of the season has results yet")
}

func isNoData(err error) bool {
	return errors.Is(err, client.ErrNoData)
}
