package syncwriter

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/notion"
	"f1standings/notionsync/internal/standings"
)

// TableStore is the workspace surface needed to rebuild a championship table
type TableStore interface {
	PageStore
	PageLister
	RetrieveDatabase(ctx context.Context, databaseID string) (*notion.Database, error)
	UpdateDatabase(ctx context.Context, databaseID string, req notion.UpdateDatabaseRequest) (*notion.Database, error)
	SearchDatabase(ctx context.Context, title string) (*notion.Database, error)
	CreateDatabase(ctx context.Context, parentPageID, title string, props map[string]notion.PropertySchema) (*notion.Database, error)
}

// TableSchema names the fixed columns of a championship table
type TableSchema struct {
	Title string // e.g. "Driver" or "Team"
	Total string
}

// TableWriter rebuilds a championship table: one row per entity, one
// number column per round
type TableWriter struct {
	store  TableStore
	schema TableSchema
	job    string
	pace   pacer
}

// NewTableWriter creates a table writer
func NewTableWriter(store TableStore, schema TableSchema, job string, interval, jitter time.Duration, clock clockwork.Clock) *TableWriter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if schema.Total == "" {
		schema.Total = "Total"
	}
	return &TableWriter{
		store:  store,
		schema: schema,
		job:    job,
		pace:   pacer{interval: interval, jitter: jitter, clock: clock},
	}
}

func (t *TableWriter) columns(st *standings.Standings) map[string]notion.PropertySchema {
	props := map[string]notion.PropertySchema{
		t.schema.Title: notion.TitleColumn(),
		t.schema.Total: notion.NumberColumn(),
	}
	for _, r := range st.Rounds {
		props[r.Name] = notion.NumberColumn()
	}
	return props
}

// EnsureTable returns the id of the database titled title, creating it
// under parentPageID when search finds nothing
func (t *TableWriter) EnsureTable(ctx context.Context, title, parentPageID string, st *standings.Standings) (string, error) {
	db, err := t.store.SearchDatabase(ctx, title)
	if err != nil {
		return "", err
	}
	if db != nil {
		return db.ID, nil
	}
	if parentPageID == "" {
		return "", fmt.Errorf("database %q not found and no parent page configured", title)
	}

	db, err = t.store.CreateDatabase(ctx, parentPageID, title, t.columns(st))
	if err != nil {
		return "", err
	}
	log.Info().Str("job", t.job).Str("database", db.ID).Str("title", title).Msg("Created championship table")
	return db.ID, nil
}

// Rewrite replaces the schema and every row of the table with st.
// A round cell holds the points scored in that round when the round
// happened, zero included, and is empty otherwise.
func (t *TableWriter) Rewrite(ctx context.Context, databaseID string, st *standings.Standings) (Result, error) {
	var res Result
	logger := log.With().Str("job", t.job).Str("database", databaseID).Logger()

	if err := t.updateSchema(ctx, databaseID, st); err != nil {
		return res, err
	}

	rows, err := t.store.QueryAll(ctx, databaseID, nil)
	if err != nil {
		return res, fmt.Errorf("failed to list table rows: %w", err)
	}
	p := t.pace
	for _, row := range rows {
		if row.Archived {
			continue
		}
		if err := p.wait(ctx); err != nil {
			return res, err
		}
		if err := t.store.ArchivePage(ctx, row.ID); err != nil {
			res.Failed++
			metrics.RecordRemoteWrite(t.job, "archive", "failure")
			logger.Error().Err(err).Str("page", row.ID).Msg("Failed to archive table row")
			continue
		}
		res.Archived++
		metrics.RecordRemoteWrite(t.job, "archive", "success")
	}

	for _, entity := range st.Ranked() {
		if err := p.wait(ctx); err != nil {
			return res, err
		}
		if _, err := t.store.CreatePage(ctx, databaseID, t.row(st, entity)); err != nil {
			res.Failed++
			metrics.RecordRemoteWrite(t.job, "insert", "failure")
			logger.Error().Err(err).Str("entity", entity).Msg("Failed to insert table row")
			continue
		}
		res.Inserted++
		metrics.RecordRemoteWrite(t.job, "insert", "success")
	}

	logger.Info().
		Int("archived", res.Archived).
		Int("inserted", res.Inserted).
		Int("failed", res.Failed).
		Msg("Table rewritten")

	return res, nil
}

func (t *TableWriter) row(st *standings.Standings, entity string) notion.Properties {
	props := notion.Properties{
		t.schema.Title: notion.Title(entity),
		t.schema.Total: notion.Number(float64(st.Total(entity))),
	}
	for i, r := range st.Rounds {
		if st.Happened[i] {
			props[r.Name] = notion.Number(float64(st.RoundPoints(entity, i)))
		} else {
			props[r.Name] = notion.NullNumber()
		}
	}
	return props
}

// updateSchema renames the title column and drops columns that are no longer rounds
func (t *TableWriter) updateSchema(ctx context.Context, databaseID string, st *standings.Standings) error {
	db, err := t.store.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return err
	}

	props := t.columns(st)
	if current := db.TitleProperty(); current != "" && current != t.schema.Title {
		delete(props, t.schema.Title)
		props[current] = notion.RenameColumn(t.schema.Title)
	}
	for name, col := range db.Properties {
		if col.Type == notion.TypeTitle {
			continue
		}
		if _, keep := props[name]; !keep {
			props[name] = nil
		}
	}

	if _, err := t.store.UpdateDatabase(ctx, databaseID, notion.UpdateDatabaseRequest{Properties: props}); err != nil {
		return err
	}
	return nil
}
