package notion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"f1standings/notionsync/internal/metrics"
	"f1standings/notionsync/internal/transport"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	DefaultVersion = "2022-06-28"

	clientName = "notion"
	maxPage    = 100
)

// APIError is an error response from the workspace API
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion API error %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsClientError reports a 4xx that retrying will not fix
func (e *APIError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// Options configures NewClient
type Options struct {
	BaseURL    string
	Version    string
	Timeout    time.Duration // Per attempt, retries and backoff excluded
	Retry      transport.RetryPolicy
	HTTPClient *http.Client // Overrides Timeout and Retry when set
}

// Client talks to the workspace database API
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a client authenticated with token
func NewClient(token string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}

	hc := opts.HTTPClient
	if hc == nil {
		rt := transport.NewRetryTransport(clientName, http.DefaultTransport, opts.Retry)
		rt.AttemptTimeout = opts.Timeout
		hc = &http.Client{Transport: rt}
	}

	return &Client{
		baseURL:    opts.BaseURL,
		token:      token,
		version:    opts.Version,
		httpClient: hc,
		breaker:    newBreaker(clientName),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.SetBreakerState(name, int(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.SetBreakerState(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.IsClientError()
		},
	})
}

// do sends a JSON request and decodes the response into out
func (c *Client) do(ctx context.Context, method, endpoint, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, method, endpoint, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordError(clientName, "breaker_open")
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(clientName, endpoint, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.RecordAPICall(clientName, endpoint, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}

	return body, nil
}

// QueryRequest is the body of a database query
type QueryRequest struct {
	Filter      Filter `json:"filter,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

// QueryResponse is one page of query results
type QueryResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// QueryDatabase fetches one page of rows
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q QueryRequest) (*QueryResponse, error) {
	if q.PageSize == 0 {
		q.PageSize = maxPage
	}
	var resp QueryResponse
	if err := c.do(ctx, http.MethodPost, "query_database", "databases/"+databaseID+"/query", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to query database %s: %w", databaseID, err)
	}
	return &resp, nil
}

// QueryAll follows the cursor until every matching row is read
func (c *Client) QueryAll(ctx context.Context, databaseID string, filter Filter) ([]Page, error) {
	var pages []Page
	q := QueryRequest{Filter: filter, PageSize: maxPage}

	for {
		resp, err := c.QueryDatabase(ctx, databaseID, q)
		if err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)

		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		q.StartCursor = *resp.NextCursor
	}

	log.Debug().
		Str("database", databaseID).
		Int("rows", len(pages)).
		Msg("Queried database")

	return pages, nil
}

// FindPageByTitle returns the first page whose title equals title, or nil
func (c *Client) FindPageByTitle(ctx context.Context, databaseID, titleProp, title string) (*Page, error) {
	resp, err := c.QueryDatabase(ctx, databaseID, QueryRequest{
		Filter:   TitleEquals(titleProp, title),
		PageSize: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

type createPageRequest struct {
	Parent     parent     `json:"parent"`
	Properties Properties `json:"properties"`
}

type parent struct {
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	Type       string `json:"type,omitempty"`
}

// CreatePage inserts a row into a database
func (c *Client) CreatePage(ctx context.Context, databaseID string, props Properties) (*Page, error) {
	var page Page
	req := createPageRequest{Parent: parent{DatabaseID: databaseID}, Properties: props}
	if err := c.do(ctx, http.MethodPost, "create_page", "pages", req, &page); err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &page, nil
}

// UpdatePage changes properties of an existing row
func (c *Client) UpdatePage(ctx context.Context, pageID string, props Properties) (*Page, error) {
	var page Page
	req := map[string]interface{}{"properties": props}
	if err := c.do(ctx, http.MethodPatch, "update_page", "pages/"+pageID, req, &page); err != nil {
		return nil, fmt.Errorf("failed to update page %s: %w", pageID, err)
	}
	return &page, nil
}

// ArchivePage moves a row to the trash
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	req := map[string]bool{"archived": true}
	if err := c.do(ctx, http.MethodPatch, "archive_page", "pages/"+pageID, req, nil); err != nil {
		return fmt.Errorf("failed to archive page %s: %w", pageID, err)
	}
	return nil
}

// UpdateDatabaseRequest changes a database title or schema
type UpdateDatabaseRequest struct {
	Title      []RichText                `json:"title,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
}

// RetrieveDatabase reads a database schema
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	if err := c.do(ctx, http.MethodGet, "retrieve_database", "databases/"+databaseID, nil, &db); err != nil {
		return nil, fmt.Errorf("failed to retrieve database %s: %w", databaseID, err)
	}
	return &db, nil
}

// UpdateDatabase changes a database title or schema
func (c *Client) UpdateDatabase(ctx context.Context, databaseID string, req UpdateDatabaseRequest) (*Database, error) {
	var db Database
	if err := c.do(ctx, http.MethodPatch, "update_database", "databases/"+databaseID, req, &db); err != nil {
		return nil, fmt.Errorf("failed to update database %s: %w", databaseID, err)
	}
	return &db, nil
}

type createDatabaseRequest struct {
	Parent     parent                    `json:"parent"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// CreateDatabase creates a database under a parent page
func (c *Client) CreateDatabase(ctx context.Context, parentPageID, title string, props map[string]PropertySchema) (*Database, error) {
	var db Database
	req := createDatabaseRequest{
		Parent:     parent{Type: "page_id", PageID: parentPageID},
		Title:      text(title),
		Properties: props,
	}
	if err := c.do(ctx, http.MethodPost, "create_database", "databases", req, &db); err != nil {
		return nil, fmt.Errorf("failed to create database %q: %w", title, err)
	}
	return &db, nil
}

type searchRequest struct {
	Query  string `json:"query"`
	Filter Filter `json:"filter"`
}

type searchResponse struct {
	Results    []Database `json:"results"`
	HasMore    bool       `json:"has_more"`
	NextCursor *string    `json:"next_cursor"`
}

// SearchDatabase finds a database shared with the integration by exact title, or nil
func (c *Client) SearchDatabase(ctx context.Context, title string) (*Database, error) {
	var resp searchResponse
	req := searchRequest{
		Query:  title,
		Filter: Filter{"property": "object", "value": "database"},
	}
	if err := c.do(ctx, http.MethodPost, "search", "search", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to search database %q: %w", title, err)
	}

	for i := range resp.Results {
		db := &resp.Results[i]
		if !db.Archived && db.TitleText() == title {
			return db, nil
		}
	}
	return nil, nil
}
