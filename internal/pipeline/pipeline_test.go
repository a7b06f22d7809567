package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"f1standings/notionsync/internal/client"
	"f1standings/notionsync/internal/config"
	"f1standings/notionsync/internal/models"
	"f1standings/notionsync/internal/notion"
)

var (
	norris     = result{given: "Lando", family: "Norris", code: "NOR", team: "McLaren"}
	piastri    = result{given: "Oscar", family: "Piastri", code: "PIA", team: "McLaren"}
	verstappen = result{given: "Max", family: "Verstappen", code: "VER", team: "Red Bull"}
	leclerc    = result{given: "Charles", family: "Leclerc", code: "LEC", team: "Ferrari"}
)

func at(r result, pos, points int) result {
	r.pos, r.points = pos, points
	return r
}

// Round 1 is a normal weekend, round 2 a sprint weekend, round 3 has not happened
func seasonFixture() map[string]string {
	return map[string]string{
		"/2025/1/results.json": raceBody(1, "Australian Grand Prix", "Results",
			at(norris, 1, 25), at(verstappen, 2, 18), at(piastri, 3, 15), at(leclerc, 4, 12)),
		"/2025/2/results.json": raceBody(2, "Chinese Grand Prix", "Results",
			at(verstappen, 1, 25), at(norris, 2, 18), at(piastri, 3, 15), at(leclerc, 4, 12)),
		"/2025/2/sprint.json": raceBody(2, "Chinese Grand Prix", "SprintResults",
			at(norris, 1, 8), at(verstappen, 2, 7)),
		"/2025/2/qualifying.json": raceBody(2, "Chinese Grand Prix", "QualifyingResults",
			at(piastri, 1, 0), at(norris, 2, 0), at(verstappen, 3, 0)),
	}
}

func testSeason() *config.Season {
	s := &config.Season{
		Year: "2025",
		Rounds: []models.Round{
			{Number: 1, Name: "Australia"},
			{Number: 2, Name: "China"},
			{Number: 3, Name: "Japan"},
		},
	}
	s.Seed.Constructors = []string{"McLaren", "Red Bull", "Ferrari"}
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		Season:                      "2025",
		ConstructorPointsDatabaseID: "points-db",
		ConstructorsDatabaseID:      "teams-db",
		RoundsDatabaseID:            "rounds-db",
		ParentPageID:                "parent-page",
		ResultsParentPageID:         "results-page",
		TitleProperty:               "Name",
		ConstructorRelationProperty: "Team",
		RoundRelationProperty:       "Rennwochenende",
		ValueProperty:               "Kumulative Punkte",
		LookupTitleProperty:         "Name",
		DriversTableTitle:           "Drivers Championship",
		ConstructorsTableTitle:      "Constructors Championship",
		Jobs:                        []string{config.JobCumulativeConstructors},
	}
}

type harness struct {
	p  *Pipeline
	ws *fakeWorkspace
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	stats := statsServer(t, seasonFixture())
	ws, wsSrv := newFakeWorkspace(t)

	ws.addReference("teams-db", "McLaren")
	ws.addReference("teams-db", "Red Bull")
	for _, name := range []string{"Australia", "China", "Japan"} {
		ws.addReference("rounds-db", name)
	}

	statsClient := client.NewClientWithHTTP(stats.URL, stats.Client())
	workspace := notion.NewClient("secret", notion.Options{BaseURL: wsSrv.URL, HTTPClient: wsSrv.Client()})

	return &harness{
		p:  New(cfg, statsClient, workspace, WithSeason(testSeason())),
		ws: ws,
	}
}

func valuesByTitle(rows []notion.Page, titleProp, valueProp string) map[string]float64 {
	out := make(map[string]float64)
	for i := range rows {
		if v, ok := rows[i].NumberValue(valueProp); ok {
			out[rows[i].TitleText(titleProp)] = v
		}
	}
	return out
}

func TestRun_CumulativeConstructors(t *testing.T) {
	h := newHarness(t, testConfig())

	out, err := h.p.Run(context.Background(), config.JobCumulativeConstructors, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, out.Inserted, "McLaren and Red Bull for two completed rounds")
	assert.Equal(t, 0, out.Updated)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 2, out.LookupFailures, "Ferrari has no page in the teams database")
	assert.Equal(t, []string{"Ferrari"}, out.MissingEntities)
	assert.Equal(t, 3, out.Skipped, "Japan has not happened for any team")
	assert.Equal(t, 0, out.FailedRounds)

	values := valuesByTitle(h.ws.rows("points-db"), "Name", "Kumulative Punkte")
	assert.Equal(t, map[string]float64{
		"McLaren - Australia":  40,
		"McLaren - China":      81,
		"Red Bull - Australia": 18,
		"Red Bull - China":     50,
	}, values)
}

func TestRun_CumulativeIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.p.Run(ctx, config.JobCumulativeConstructors, 0)
	require.NoError(t, err)

	out, err := h.p.Run(ctx, config.JobCumulativeConstructors, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, out.Inserted)
	assert.Equal(t, 4, out.Updated)
	assert.Len(t, h.ws.rows("points-db"), 4, "Second run must not duplicate rows")
}

func TestRun_CumulativeArchivesDuplicates(t *testing.T) {
	cfg := testConfig()
	cfg.ArchiveDuplicates = true
	h := newHarness(t, cfg)
	ctx := context.Background()

	_, err := h.p.Run(ctx, config.JobCumulativeConstructors, 0)
	require.NoError(t, err)

	// A manual copy of an existing row
	rows := h.ws.rows("points-db")
	_, err = h.p.workspace.CreatePage(ctx, "points-db", rows[0].Properties)
	require.NoError(t, err)
	require.Len(t, h.ws.rows("points-db"), 5)

	out, err := h.p.Run(ctx, config.JobCumulativeConstructors, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Archived)
	assert.Len(t, h.ws.rows("points-db"), 4)
}

func TestRun_TableDrivers(t *testing.T) {
	h := newHarness(t, testConfig())

	out, err := h.p.Run(context.Background(), config.JobTableDrivers, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Inserted)

	db := h.ws.databaseByTitle("Drivers Championship")
	require.NotNil(t, db, "Table is created under the parent page")
	assert.Equal(t, "parent-page", h.ws.parents[db.ID])
	assert.Contains(t, db.Properties, "Japan")

	rows := h.ws.rows(db.ID)
	require.Len(t, rows, 4)

	totals := valuesByTitle(rows, "Driver", "Total")
	assert.Equal(t, map[string]float64{
		"Lando Norris":    51,
		"Max Verstappen":  50,
		"Oscar Piastri":   30,
		"Charles Leclerc": 24,
	}, totals)

	china := valuesByTitle(rows, "Driver", "China")
	assert.Equal(t, float64(26), china["Lando Norris"], "Race and sprint points of the round")

	for i := range rows {
		_, ok := rows[i].NumberValue("Japan")
		assert.False(t, ok, "Rounds that have not happened stay empty")
	}
}

func TestRun_TableRewriteReplacesRows(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.p.Run(ctx, config.JobTableConstructors, 0)
	require.NoError(t, err)
	out, err := h.p.Run(ctx, config.JobTableConstructors, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Archived)
	assert.Equal(t, 3, out.Inserted)
	db := h.ws.databaseByTitle("Constructors Championship")
	require.NotNil(t, db)
	assert.Len(t, h.ws.rows(db.ID), 3)
}

func TestRun_SessionsLatestRound(t *testing.T) {
	h := newHarness(t, testConfig())

	out, err := h.p.Run(context.Background(), config.JobSessions, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Inserted, "Qualifying, sprint and race")

	db := h.ws.databaseByTitle("Chinese Grand Prix 2025")
	require.NotNil(t, db)
	assert.Equal(t, "results-page", h.ws.parents[db.ID])

	bySession := make(map[string]notion.Page)
	for _, row := range h.ws.rows(db.ID) {
		bySession[row.TitleText("Session")] = row
	}
	require.Contains(t, bySession, "Race")
	race := bySession["Race"]
	assert.Equal(t, "VER", race.RichTextValue("P1"))
	order, _ := race.NumberValue("Session Order")
	assert.Equal(t, float64(6), order, "Race is the sixth session of a sprint weekend")

	quali := bySession["Qualifying"]
	assert.Equal(t, "PIA", quali.RichTextValue("P1"))
	sprintOrder, _ := bySession["Sprint"].NumberValue("Session Order")
	assert.Equal(t, float64(3), sprintOrder)
}

func TestRun_SessionsExplicitRound(t *testing.T) {
	h := newHarness(t, testConfig())

	out, err := h.p.Run(context.Background(), config.JobSessions, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Inserted, "Round 1 has only race results")

	db := h.ws.databaseByTitle("Australian Grand Prix 2025")
	require.NotNil(t, db)
	rows := h.ws.rows(db.ID)
	require.Len(t, rows, 1)
	order, _ := rows[0].NumberValue("Session Order")
	assert.Equal(t, float64(5), order)
}

func TestRun_JobNeedsConfiguration(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.p.Run(context.Background(), config.JobCumulativeDrivers, 0)
	assert.ErrorContains(t, err, "DRIVER_POINTS_DATABASE_ID")
}

func TestRun_UnknownJob(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.Error(t, h.p.RunJob(context.Background(), "nightly"))
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	out, err := h.p.Run(ctx, config.JobCumulativeConstructors, 0)
	assert.Error(t, err)
	assert.Equal(t, 0, out.Inserted)
}

func TestSeason_DefaultCalendar(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, nil, nil)

	s, err := p.Season(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Rounds, 24)
}

func TestSeasonLabel(t *testing.T) {
	p := New(testConfig(), nil, nil, WithSeason(testSeason()))
	label, err := p.SeasonLabel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025", label)

	cfg := testConfig()
	cfg.Season = "current"
	s := testSeason()
	s.Year = "2026"
	p = New(cfg, nil, nil, WithSeason(s))
	label, err = p.SeasonLabel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026", label)
}

func scheduleBody(season string, names ...string) string {
	races := make([]string, len(names))
	for i, name := range names {
		races[i] = fmt.Sprintf(`{"season":"%s","round":"%d","raceName":"%s","date":"%s-03-%02d"}`, season, i+1, name, season, 8+7*i)
	}
	return fmt.Sprintf(`{"MRData":{"limit":"100","offset":"0","total":"%d","RaceTable":{"season":"%s","Races":[%s]}}}`,
		len(names), season, strings.Join(races, ","))
}

func TestSeason_CurrentFollowsLiveYear(t *testing.T) {
	stats := statsServer(t, map[string]string{
		"/current.json": scheduleBody("2026", "Australian Grand Prix", "Chinese Grand Prix"),
	})
	cfg := testConfig()
	cfg.Season = "current"
	p := New(cfg, client.NewClientWithHTTP(stats.URL, stats.Client()), nil)

	s, err := p.Season(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026", s.Year)
	assert.Equal(t, []string{"Australian", "Chinese"}, models.RoundNames(s.Rounds))

	label, err := p.SeasonLabel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026", label, "Rows must not be stamped with the built-in year")
}

func TestSeason_CurrentMatchesBuiltInYear(t *testing.T) {
	stats := statsServer(t, map[string]string{
		"/current.json": scheduleBody("2025", "Australian Grand Prix"),
	})
	cfg := testConfig()
	cfg.Season = "current"
	p := New(cfg, client.NewClientWithHTTP(stats.URL, stats.Client()), nil)

	s, err := p.Season(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025", s.Year)
	assert.Len(t, s.Rounds, 24)
}

func TestSeason_CurrentUnknownKeepsBuiltIn(t *testing.T) {
	stats := statsServer(t, map[string]string{})
	cfg := testConfig()
	cfg.Season = "current"
	p := New(cfg, client.NewClientWithHTTP(stats.URL, stats.Client()), nil)

	s, err := p.Season(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Rounds, 24)
}
