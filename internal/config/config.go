package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"f1standings/notionsync/internal/models"
	"f1standings/notionsync/internal/transport"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds all application configuration
type Config struct {
	// Workspace API
	NotionToken   string        `envconfig:"NOTION_TOKEN" required:"true" validate:"required"`
	NotionBaseURL string        `envconfig:"NOTION_BASE_URL" default:"https://api.notion.com/v1" validate:"url"`
	NotionVersion string        `envconfig:"NOTION_VERSION" default:"2022-06-28"`
	NotionTimeout time.Duration `envconfig:"NOTION_TIMEOUT" default:"30s"`

	// Statistics API
	StatsBaseURL  string        `envconfig:"STATS_BASE_URL" default:"https://api.jolpi.ca/ergast/f1" validate:"url"`
	StatsTimeout  time.Duration `envconfig:"STATS_TIMEOUT" default:"30s"`
	StatsCacheTTL time.Duration `envconfig:"STATS_CACHE_TTL" default:"5m"`
	Season        string        `envconfig:"SEASON" default:"current" validate:"required"`
	SeasonFile    string        `envconfig:"SEASON_FILE" default:""`
	SeasonSource  string        `envconfig:"SEASON_SOURCE" default:"file" validate:"oneof=file api"`
	SprintIndex   bool          `envconfig:"SPRINT_SEASON_INDEX" default:"false"`

	// Target databases
	ConstructorPointsDatabaseID string `envconfig:"CONSTRUCTOR_POINTS_DATABASE_ID"`
	ConstructorsDatabaseID      string `envconfig:"CONSTRUCTORS_DATABASE_ID"`
	DriverPointsDatabaseID      string `envconfig:"DRIVER_POINTS_DATABASE_ID"`
	DriversDatabaseID           string `envconfig:"DRIVERS_DATABASE_ID"`
	RoundsDatabaseID            string `envconfig:"ROUNDS_DATABASE_ID"`
	ParentPageID                string `envconfig:"PARENT_PAGE_ID"`
	ResultsParentPageID         string `envconfig:"RESULTS_PARENT_PAGE_ID"`

	// Property names
	TitleProperty               string `envconfig:"TITLE_PROPERTY" default:"Name"`
	ConstructorRelationProperty string `envconfig:"CONSTRUCTOR_RELATION_PROPERTY" default:"Team"`
	DriverRelationProperty      string `envconfig:"DRIVER_RELATION_PROPERTY" default:"Fahrer"`
	RoundRelationProperty       string `envconfig:"ROUND_RELATION_PROPERTY" default:"Rennwochenende"`
	ValueProperty               string `envconfig:"VALUE_PROPERTY" default:"Kumulative Punkte"`
	LookupTitleProperty         string `envconfig:"LOOKUP_TITLE_PROPERTY" default:"Name"`

	// Championship tables
	DriversTableTitle      string `envconfig:"DRIVERS_TABLE_TITLE" default:"Drivers Championship"`
	ConstructorsTableTitle string `envconfig:"CONSTRUCTORS_TABLE_TITLE" default:"Constructors Championship"`

	// Retry policy shared by both API clients
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5" validate:"min=1,max=20"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	RetryJitter      float64       `envconfig:"RETRY_JITTER" default:"0.2" validate:"min=0,max=1"`
	RetryStatuses    string        `envconfig:"RETRY_STATUSES" default:"429,500,502,503,504"`

	// Write pacing
	WriteInterval time.Duration `envconfig:"WRITE_INTERVAL" default:"350ms"`
	WriteJitter   time.Duration `envconfig:"WRITE_JITTER" default:"150ms"`

	ArchiveDuplicates bool `envconfig:"ARCHIVE_DUPLICATES" default:"false"`

	// Jobs and scheduling
	Jobs            []string `envconfig:"SYNC_JOBS" default:"cumulative:constructors,table:drivers,table:constructors" validate:"min=1"`
	EnableScheduler bool     `envconfig:"ENABLE_SCHEDULER" default:"true"`
	SyncCron        string   `envconfig:"SYNC_CRON" default:"0 */6 * * *"`
	RunOnStart      bool     `envconfig:"RUN_ON_START" default:"true"`
	RunOnce         bool     `envconfig:"RUN_ONCE" default:"false"`

	// Redis
	RedisEnabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	RedisHost     string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RefCacheTTL   time.Duration `envconfig:"REF_CACHE_TTL" default:"24h"`

	// Database
	DatabaseEnabled  bool   `envconfig:"DATABASE_ENABLED" default:"false"`
	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     int    `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"f1sync"`
	DatabaseUser     string `envconfig:"DATABASE_USER" default:"f1sync"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD" default:""`
	DatabaseSSLMode  string `envconfig:"DATABASE_SSL_MODE" default:"disable"`

	// Chart export
	ChartOutput   string `envconfig:"CHART_OUTPUT" default:"chart_data.json"`
	ChartS3Bucket string `envconfig:"CHART_S3_BUCKET" default:""`
	ChartS3Key    string `envconfig:"CHART_S3_KEY" default:"f1/chart_data.json"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`

	// Monitoring
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
	MetricsPort   int  `envconfig:"METRICS_PORT" default:"9090" validate:"min=1,max=65535"`
}

// Job names
const (
	JobCumulativeDrivers      = "cumulative:drivers"
	JobCumulativeConstructors = "cumulative:constructors"
	JobTableDrivers           = "table:drivers"
	JobTableConstructors      = "table:constructors"
	JobSessions               = "sessions"
)

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, including the ids every enabled job needs
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if _, err := transport.ParseStatuses(c.RetryStatuses); err != nil {
		return fmt.Errorf("RETRY_STATUSES: %w", err)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must not be less than RETRY_BASE_DELAY")
	}

	for _, job := range c.Jobs {
		if err := c.ValidateJob(job); err != nil {
			return err
		}
	}

	if c.DatabaseEnabled && c.DatabasePassword == "" {
		return fmt.Errorf("DATABASE_PASSWORD is required when DATABASE_ENABLED is set")
	}

	return nil
}

// ValidateJob checks that a job is known and its databases are configured
func (c *Config) ValidateJob(job string) error {
	missing := func(pairs ...string) error {
		var names []string
		for i := 0; i < len(pairs); i += 2 {
			if pairs[i+1] == "" {
				names = append(names, pairs[i])
			}
		}
		if len(names) > 0 {
			return fmt.Errorf("job %s requires %s", job, strings.Join(names, ", "))
		}
		return nil
	}

	switch strings.TrimSpace(job) {
	case JobCumulativeConstructors:
		return missing(
			"CONSTRUCTOR_POINTS_DATABASE_ID", c.ConstructorPointsDatabaseID,
			"CONSTRUCTORS_DATABASE_ID", c.ConstructorsDatabaseID,
			"ROUNDS_DATABASE_ID", c.RoundsDatabaseID,
		)
	case JobCumulativeDrivers:
		return missing(
			"DRIVER_POINTS_DATABASE_ID", c.DriverPointsDatabaseID,
			"DRIVERS_DATABASE_ID", c.DriversDatabaseID,
			"ROUNDS_DATABASE_ID", c.RoundsDatabaseID,
		)
	case JobTableDrivers, JobTableConstructors:
		return nil
	case JobSessions:
		return missing("RESULTS_PARENT_PAGE_ID", c.ResultsParentPageID)
	default:
		return fmt.Errorf("unknown job %q", job)
	}
}

// CumulativeTarget describes the databases of one cumulative points job
type CumulativeTarget struct {
	PointsDatabaseID string
	EntityDatabaseID string
	EntityRelation   string
}

// Cumulative returns the target of the cumulative job for kind
func (c *Config) Cumulative(kind models.EntityKind) CumulativeTarget {
	if kind == models.Drivers {
		return CumulativeTarget{
			PointsDatabaseID: c.DriverPointsDatabaseID,
			EntityDatabaseID: c.DriversDatabaseID,
			EntityRelation:   c.DriverRelationProperty,
		}
	}
	return CumulativeTarget{
		PointsDatabaseID: c.ConstructorPointsDatabaseID,
		EntityDatabaseID: c.ConstructorsDatabaseID,
		EntityRelation:   c.ConstructorRelationProperty,
	}
}

// RetryPolicy builds the transport retry policy
func (c *Config) RetryPolicy() transport.RetryPolicy {
	statuses, err := transport.ParseStatuses(c.RetryStatuses)
	if err != nil {
		statuses = transport.DefaultRetryPolicy().RetryableStatuses
	}
	return transport.RetryPolicy{
		MaxAttempts:       c.RetryMaxAttempts,
		BaseDelay:         c.RetryBaseDelay,
		MaxDelay:          c.RetryMaxDelay,
		Jitter:            c.RetryJitter,
		RetryableStatuses: statuses,
	}
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseName,
		c.DatabaseSSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// MustLoad loads configuration or panics on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
