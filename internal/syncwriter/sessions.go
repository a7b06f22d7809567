package syncwriter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/models"
	"f1standings/notionsync/internal/notion"
)

// Session page columns
const (
	SessionTitleColumn = "Session"
	SessionOrderColumn = "Session Order"
	MaxPositions       = 20

	SessionQualifying       = "Qualifying"
	SessionSprintQualifying = "Sprint Qualifying"
	SessionSprint           = "Sprint"
	SessionRace             = "Race"
)

var (
	normalWeekendOrder = map[string]int{
		"Practice 1":      1,
		"Practice 2":      2,
		"Practice 3":      3,
		SessionQualifying: 4,
		SessionRace:       5,
	}
	sprintWeekendOrder = map[string]int{
		"Practice 1":            1,
		SessionSprintQualifying: 2,
		SessionSprint:           3,
		"Practice 2":            4,
		SessionQualifying:       5,
		SessionRace:             6,
	}
)

// SessionOrder returns the position of a session within its weekend, 99 if unknown
func SessionOrder(name string, sprintWeekend bool) int {
	order := normalWeekendOrder
	if sprintWeekend {
		order = sprintWeekendOrder
	}
	if n, ok := order[name]; ok {
		return n
	}
	return 99
}

// Session is the classification of one session by driver code
type Session struct {
	Name  string
	Order int
	Codes map[int]string // Finishing position to driver code
}

// SessionFromResults builds a race or sprint session
func SessionFromResults(name string, sprintWeekend bool, results []models.ResultInput) Session {
	s := Session{Name: name, Order: SessionOrder(name, sprintWeekend), Codes: make(map[int]string)}
	for _, r := range results {
		if pos, err := strconv.Atoi(r.Position); err == nil {
			s.Codes[pos] = r.Driver.ShortCode()
		}
	}
	return s
}

// SessionFromQualifying builds a qualifying session
func SessionFromQualifying(sprintWeekend bool, results []models.QualifyingInput) Session {
	s := Session{Name: SessionQualifying, Order: SessionOrder(SessionQualifying, sprintWeekend), Codes: make(map[int]string)}
	for _, r := range results {
		if pos, err := strconv.Atoi(r.Position); err == nil {
			s.Codes[pos] = r.Driver.ShortCode()
		}
	}
	return s
}

// SessionStore is the workspace surface needed for session pages
type SessionStore interface {
	PageStore
	TitleFinder
	SearchDatabase(ctx context.Context, title string) (*notion.Database, error)
	CreateDatabase(ctx context.Context, parentPageID, title string, props map[string]notion.PropertySchema) (*notion.Database, error)
}

// SessionWriter keeps one database per Grand Prix with a page per session
type SessionWriter struct {
	store        SessionStore
	parentPageID string
	job          string
	pace         pacer
}

// NewSessionWriter creates a session writer. Missing databases are created under parentPageID.
func NewSessionWriter(store SessionStore, parentPageID string, interval, jitter time.Duration, clock clockwork.Clock) *SessionWriter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionWriter{
		store:        store,
		parentPageID: parentPageID,
		job:          "sessions",
		pace:         pacer{interval: interval, jitter: jitter, clock: clock},
	}
}

// DatabaseTitle is the title of a Grand Prix results database
func DatabaseTitle(raceName, season string) string {
	return fmt.Sprintf("%s %s", raceName, season)
}

func sessionColumns() map[string]notion.PropertySchema {
	props := map[string]notion.PropertySchema{
		SessionTitleColumn: notion.TitleColumn(),
		SessionOrderColumn: notion.NumberColumn(),
	}
	for pos := 1; pos <= MaxPositions; pos++ {
		props[fmt.Sprintf("P%d", pos)] = notion.RichTextColumn()
	}
	return props
}

func (w *SessionWriter) ensureDatabase(ctx context.Context, title string) (string, error) {
	db, err := w.store.SearchDatabase(ctx, title)
	if err != nil {
		return "", err
	}
	if db != nil {
		return db.ID, nil
	}
	if w.parentPageID == "" {
		return "", fmt.Errorf("database %q not found and no parent page configured", title)
	}
	db, err = w.store.CreateDatabase(ctx, w.parentPageID, title, sessionColumns())
	if err != nil {
		return "", err
	}
	log.Info().Str("database", db.ID).Str("title", title).Msg("Created session results database")
	return db.ID, nil
}

// Write upserts one page per session, matched by session title
func (w *SessionWriter) Write(ctx context.Context, season string, round models.Round, sessions []Session) (Result, error) {
	var res Result
	raceName := round.RaceName
	if raceName == "" {
		raceName = round.Name
	}

	databaseID, err := w.ensureDatabase(ctx, DatabaseTitle(raceName, season))
	if err != nil {
		return res, err
	}

	p := w.pace
	for _, s := range sessions {
		logger := log.With().Str("job", w.job).Str("database", databaseID).Str("session", s.Name).Logger()

		if len(s.Codes) == 0 {
			res.Skipped++
			continue
		}
		if err := p.wait(ctx); err != nil {
			return res, err
		}

		props := notion.Properties{
			SessionTitleColumn: notion.Title(s.Name),
			SessionOrderColumn: notion.Number(float64(s.Order)),
		}
		for pos := 1; pos <= MaxPositions; pos++ {
			props[fmt.Sprintf("P%d", pos)] = notion.Text(s.Codes[pos])
		}

		existing, err := w.store.FindPageByTitle(ctx, databaseID, SessionTitleColumn, s.Name)
		if err != nil {
			res.Failed++
			metrics.RecordRemoteWrite(w.job, "lookup", "failure")
			logger.Error().Err(err).Msg("Failed to look up session page")
			continue
		}

		if existing != nil {
			if _, err := w.store.UpdatePage(ctx, existing.ID, props); err != nil {
				res.Failed++
				metrics.RecordRemoteWrite(w.job, "update", "failure")
				logger.Error().Err(err).Msg("Failed to update session page")
				continue
			}
			res.Updated++
			metrics.RecordRemoteWrite(w.job, "update", "success")
			continue
		}

		if _, err := w.store.CreatePage(ctx, databaseID, props); err != nil {
			res.Failed++
			metrics.RecordRemoteWrite(w.job, "insert", "failure")
			logger.Error().Err(err).Msg("Failed to insert session page")
			continue
		}
		res.Inserted++
		metrics.RecordRemoteWrite(w.job, "insert", "success")
	}

	log.Info().
		Str("round", round.Name).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Msg("Session results written")

	return res, nil
}
