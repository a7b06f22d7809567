package syncwriter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/notion"
	"f1standings/notionsync/internal/standings"
)

// ErrNotFound is returned by a RefResolver for a name with no remote page
var ErrNotFound = errors.New("reference not found")

// Key identifies one remote row by its two relation targets
type Key struct {
	EntityRef string
	RoundRef  string
}

// Index maps a key to the id of the page that holds it
type Index map[Key]string

// RefResolver maps a display name to a remote page id
type RefResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Invalidator is implemented by resolvers that keep ids beyond one run
type Invalidator interface {
	Invalidate(ctx context.Context, name string)
}

// PageStore writes rows of a remote database
type PageStore interface {
	CreatePage(ctx context.Context, databaseID string, props notion.Properties) (*notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, props notion.Properties) (*notion.Page, error)
	ArchivePage(ctx context.Context, pageID string) error
}

// Schema names the columns of a cumulative points database
type Schema struct {
	Title          string
	EntityRelation string
	RoundRelation  string
	Value          string
}

// Result counts the outcome of one sync run
type Result struct {
	Inserted        int
	Updated         int
	Failed          int
	Skipped         int // Pairs whose round has no data yet
	LookupFailures  int
	Archived        int
	MissingEntities []string
	MissingRounds   []string
}

// Successes is the number of writes the remote accepted
func (r Result) Successes() int {
	return r.Inserted + r.Updated
}

// Writer reconciles a cumulative series into a remote database
type Writer struct {
	store      PageStore
	databaseID string
	schema     Schema
	job        string

	interval          time.Duration
	jitter            time.Duration
	clock             clockwork.Clock
	archiveDuplicates bool
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithPacing waits interval plus a random share of jitter between writes
func WithPacing(interval, jitter time.Duration) WriterOption {
	return func(w *Writer) {
		w.interval = interval
		w.jitter = jitter
	}
}

// WithClock replaces the clock used for pacing
func WithClock(c clockwork.Clock) WriterOption {
	return func(w *Writer) {
		w.clock = c
	}
}

// WithJob sets the job label used in logs and metrics
func WithJob(job string) WriterOption {
	return func(w *Writer) {
		w.job = job
	}
}

// WithArchiveDuplicates lets Prune archive duplicate rows found while indexing
func WithArchiveDuplicates(enabled bool) WriterOption {
	return func(w *Writer) {
		w.archiveDuplicates = enabled
	}
}

// NewWriter creates a writer for one target database
func NewWriter(store PageStore, databaseID string, schema Schema, opts ...WriterOption) *Writer {
	w := &Writer{
		store:      store,
		databaseID: databaseID,
		schema:     schema,
		job:        "cumulative",
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// pacer spaces remote writes
type pacer struct {
	interval time.Duration
	jitter   time.Duration
	clock    clockwork.Clock
	writes   int
}

func (p *pacer) wait(ctx context.Context) error {
	p.writes++
	if p.writes == 1 {
		return ctx.Err()
	}
	d := p.interval
	if p.jitter > 0 {
		d += rand.N(p.jitter)
	}
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}

// memo caches resolutions for one run, failures included
type memo struct {
	resolver RefResolver
	ids      map[string]string
	errs     map[string]error
}

func newMemo(r RefResolver) *memo {
	return &memo{resolver: r, ids: make(map[string]string), errs: make(map[string]error)}
}

// resolve returns the id and whether this is the first failure for name
func (m *memo) resolve(ctx context.Context, name string) (string, bool, error) {
	if id, ok := m.ids[name]; ok {
		return id, false, nil
	}
	if err, ok := m.errs[name]; ok {
		return "", false, err
	}
	id, err := m.resolver.Resolve(ctx, name)
	if err == nil && id == "" {
		err = fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		m.errs[name] = err
		return "", true, err
	}
	m.ids[name] = id
	return id, false, nil
}

// Sync writes one row per entity and happened round. Rows are updated when
// the index has their key and inserted otherwise; inserted rows are added to
// index. Failures are counted and never stop the run.
func (w *Writer) Sync(ctx context.Context, st *standings.Standings, index Index, entities, rounds RefResolver) Result {
	var res Result
	entityRefs := newMemo(entities)
	roundRefs := newMemo(rounds)
	p := &pacer{interval: w.interval, jitter: w.jitter, clock: w.clock}

	logger := log.With().Str("job", w.job).Str("database", w.databaseID).Logger()

	for _, entity := range st.Entities {
		series := st.Series[entity]

		for i, round := range st.Rounds {
			if i >= len(series) || !st.Happened[i] {
				res.Skipped++
				continue
			}

			entityRef, first, err := entityRefs.resolve(ctx, entity)
			if err != nil {
				res.LookupFailures++
				metrics.RecordLookupFailure(w.job, "entity")
				if first {
					res.MissingEntities = append(res.MissingEntities, entity)
					logger.Warn().Err(err).Str("entity", entity).Msg("Entity reference not found, skipping")
				}
				continue
			}

			roundRef, first, err := roundRefs.resolve(ctx, round.Name)
			if err != nil {
				res.LookupFailures++
				metrics.RecordLookupFailure(w.job, "round")
				if first {
					res.MissingRounds = append(res.MissingRounds, round.Name)
					logger.Warn().Err(err).Str("round", round.Name).Msg("Round reference not found, skipping")
				}
				continue
			}

			if err := p.wait(ctx); err != nil {
				logger.Warn().Err(err).Msg("Sync interrupted")
				return res
			}

			props := notion.Properties{
				w.schema.Title:          notion.Title(fmt.Sprintf("%s - %s", entity, round.Name)),
				w.schema.EntityRelation: notion.RelationTo(entityRef),
				w.schema.RoundRelation:  notion.RelationTo(roundRef),
				w.schema.Value:          notion.Number(float64(series[i])),
			}

			key := Key{EntityRef: entityRef, RoundRef: roundRef}
			if pageID, ok := index[key]; ok {
				if _, err := w.store.UpdatePage(ctx, pageID, props); err != nil {
					res.Failed++
					metrics.RecordRemoteWrite(w.job, "update", "failure")
					logger.Error().Err(err).Str("entity", entity).Str("round", round.Name).Str("page", pageID).Msg("Failed to update row")
					forgetStale(ctx, err, entities, entity, rounds, round.Name)
					continue
				}
				res.Updated++
				metrics.RecordRemoteWrite(w.job, "update", "success")
				logger.Debug().Str("entity", entity).Str("round", round.Name).Int("value", series[i]).Msg("Updated row")
				continue
			}

			page, err := w.store.CreatePage(ctx, w.databaseID, props)
			if err != nil {
				res.Failed++
				metrics.RecordRemoteWrite(w.job, "insert", "failure")
				logger.Error().Err(err).Str("entity", entity).Str("round", round.Name).Msg("Failed to insert row")
				forgetStale(ctx, err, entities, entity, rounds, round.Name)
				continue
			}
			index[key] = page.ID
			res.Inserted++
			metrics.RecordRemoteWrite(w.job, "insert", "success")
			logger.Debug().Str("entity", entity).Str("round", round.Name).Int("value", series[i]).Msg("Inserted row")
		}
	}

	logger.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("lookup_failures", res.LookupFailures).
		Msg("Sync finished")

	return res
}

// forgetStale drops remembered references when the remote rejected a write
// because a page it points at no longer exists
func forgetStale(ctx context.Context, err error, entities RefResolver, entity string, rounds RefResolver, round string) {
	var apiErr *notion.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	if apiErr.Status != http.StatusNotFound && !(apiErr.Status == http.StatusBadRequest && apiErr.Code == "validation_error") {
		return
	}
	if inv, ok := entities.(Invalidator); ok {
		inv.Invalidate(ctx, entity)
	}
	if inv, ok := rounds.(Invalidator); ok {
		inv.Invalidate(ctx, round)
	}
}

// Prune archives duplicate rows reported by BuildIndex when enabled
func (w *Writer) Prune(ctx context.Context, duplicates []string) (archived, failed int) {
	if !w.archiveDuplicates || len(duplicates) == 0 {
		return 0, 0
	}
	p := &pacer{interval: w.interval, jitter: w.jitter, clock: w.clock}

	for _, id := range duplicates {
		if err := p.wait(ctx); err != nil {
			return archived, failed
		}
		if err := w.store.ArchivePage(ctx, id); err != nil {
			failed++
			metrics.RecordRemoteWrite(w.job, "archive", "failure")
			log.Error().Err(err).Str("job", w.job).Str("page", id).Msg("Failed to archive duplicate row")
			continue
		}
		archived++
		metrics.RecordRemoteWrite(w.job, "archive", "success")
	}
	return archived, failed
}
