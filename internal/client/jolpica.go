package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/models"
	"f1standings/notionsync/internal/transport"
)

// DefaultBaseURL is the public Ergast-compatible endpoint
const DefaultBaseURL = "https://api.jolpi.ca/ergast/f1"

// ErrNoData is returned when the API has nothing for the requested round
var ErrNoData = errors.New("no data")

const clientName = "stats"

// Client is the motorsport statistics API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
}

// Options configures NewClient
type Options struct {
	Timeout  time.Duration // Per attempt, retries and backoff excluded
	Retry    transport.RetryPolicy
	CacheTTL time.Duration
}

// NewClient creates a client with retries and an optional response cache
func NewClient(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	base := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	retry := transport.NewRetryTransport(clientName, base, opts.Retry)
	retry.AttemptTimeout = opts.Timeout
	rt := transport.NewCachedTransport(clientName, retry, opts.CacheTTL)

	return NewClientWithHTTP(baseURL, &http.Client{Transport: rt})
}

// NewClientWithHTTP creates a client around an existing http.Client
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: hc,
		pageSize:   100,
	}
}

// get performs a GET request. Retries happen in the transport.
func (c *Client) get(ctx context.Context, endpoint, path string, params map[string]string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "f1-notionsync/1.0")

	if len(params) > 0 {
		q := req.URL.Query()
		for key, value := range params {
			q.Add(key, value)
		}
		req.URL.RawQuery = q.Encode()
	}

	log.Debug().
		Str("url", req.URL.String()).
		Msg("Making API request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(clientName, endpoint, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordAPICall(clientName, endpoint, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		log.Debug().
			Str("url", url).
			Int("size", len(body)).
			Msg("API request successful")
		return body, nil

	case http.StatusNotFound:
		return nil, ErrNoData

	default:
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

func (c *Client) raceTable(ctx context.Context, endpoint, path string, params map[string]string) (*models.MRData, error) {
	body, err := c.get(ctx, endpoint, path, params)
	if err != nil {
		return nil, err
	}

	var resp models.RaceTableResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", endpoint, err)
	}
	return &resp.MRData, nil
}

func (c *Client) firstRace(ctx context.Context, endpoint, path string) (*models.RaceInput, error) {
	data, err := c.raceTable(ctx, endpoint, path, nil)
	if err != nil {
		return nil, err
	}
	if len(data.RaceTable.Races) == 0 {
		return nil, ErrNoData
	}
	return &data.RaceTable.Races[0], nil
}

// FetchRaceResults fetches the Grand Prix classification of one round
func (c *Client) FetchRaceResults(ctx context.Context, season string, round int) (*models.RaceInput, error) {
	race, err := c.firstRace(ctx, "results", fmt.Sprintf("%s/%d/results.json", season, round))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch race results for round %d: %w", round, err)
	}
	if len(race.Results) == 0 {
		return nil, fmt.Errorf("failed to fetch race results for round %d: %w", round, ErrNoData)
	}
	return race, nil
}

// FetchSprintResults fetches the sprint classification of one round
func (c *Client) FetchSprintResults(ctx context.Context, season string, round int) (*models.RaceInput, error) {
	race, err := c.firstRace(ctx, "sprint", fmt.Sprintf("%s/%d/sprint.json", season, round))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sprint results for round %d: %w", round, err)
	}
	if len(race.SprintResults) == 0 {
		return nil, fmt.Errorf("failed to fetch sprint results for round %d: %w", round, ErrNoData)
	}
	return race, nil
}

// FetchQualifyingResults fetches the qualifying classification of one round
func (c *Client) FetchQualifyingResults(ctx context.Context, season string, round int) (*models.RaceInput, error) {
	race, err := c.firstRace(ctx, "qualifying", fmt.Sprintf("%s/%d/qualifying.json", season, round))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch qualifying results for round %d: %w", round, err)
	}
	if len(race.QualifyingResults) == 0 {
		return nil, fmt.Errorf("failed to fetch qualifying results for round %d: %w", round, ErrNoData)
	}
	return race, nil
}

// FetchSeasonSprints fetches every sprint of the season, keyed by round number.
// The endpoint pages by result row, so one race may span two pages.
func (c *Client) FetchSeasonSprints(ctx context.Context, season string) (map[int]*models.RaceInput, error) {
	byRound := make(map[int]*models.RaceInput)
	offset := 0

	for {
		data, err := c.raceTable(ctx, "season_sprint", season+"/sprint.json", map[string]string{
			"limit":  strconv.Itoa(c.pageSize),
			"offset": strconv.Itoa(offset),
		})
		if errors.Is(err, ErrNoData) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch season sprints: %w", err)
		}

		rows := 0
		for i := range data.RaceTable.Races {
			race := data.RaceTable.Races[i]
			n, err := race.RoundNumber()
			if err != nil {
				log.Warn().Err(err).Str("race", race.RaceName).Msg("Skipping sprint with invalid round")
				continue
			}
			rows += len(race.SprintResults)
			if existing, ok := byRound[n]; ok {
				existing.SprintResults = append(existing.SprintResults, race.SprintResults...)
				continue
			}
			byRound[n] = &race
		}

		_, _, total := data.Page()
		offset += c.pageSize
		if rows == 0 || offset >= total {
			break
		}
	}

	log.Debug().
		Str("season", season).
		Int("sprints", len(byRound)).
		Msg("Fetched season sprint index")

	return byRound, nil
}

// FetchSchedule fetches the season calendar
func (c *Client) FetchSchedule(ctx context.Context, season string) ([]models.RaceInput, error) {
	data, err := c.raceTable(ctx, "schedule", season+".json", map[string]string{"limit": "100"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schedule: %w", err)
	}
	if len(data.RaceTable.Races) == 0 {
		return nil, fmt.Errorf("failed to fetch schedule: %w", ErrNoData)
	}
	return data.RaceTable.Races, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
