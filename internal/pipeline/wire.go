package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/cache"
	"f1standings/notionsync/internal/client"
	"f1standings/notionsync/internal/config"
	"f1standings/notionsync/internal/notion"
	"f1standings/notionsync/internal/repository"
)

// FromConfig builds the clients and optional stores described by cfg.
// The returned cleanup closes every connection that was opened.
func FromConfig(ctx context.Context, cfg *config.Config) (*Pipeline, func(), error) {
	stats := client.NewClient(cfg.StatsBaseURL, client.Options{
		Timeout:  cfg.StatsTimeout,
		Retry:    cfg.RetryPolicy(),
		CacheTTL: cfg.StatsCacheTTL,
	})
	workspace := notion.NewClient(cfg.NotionToken, notion.Options{
		BaseURL: cfg.NotionBaseURL,
		Version: cfg.NotionVersion,
		Timeout: cfg.NotionTimeout,
		Retry:   cfg.RetryPolicy(),
	})
	log.Info().
		Str("stats_url", cfg.StatsBaseURL).
		Str("workspace_url", cfg.NotionBaseURL).
		Msg("API clients initialized")

	var (
		opts    []Option
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseEnabled {
		db, err := repository.NewDatabase(ctx, repository.Config{DSN: cfg.DatabaseDSN()})
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		opts = append(opts, WithDatabase(db))
	}

	if cfg.RedisEnabled {
		rc, err := cache.NewRedisCache(ctx, cache.Config{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis - continuing without cache")
		} else {
			closers = append(closers, func() { _ = rc.Close() })
			opts = append(opts, WithRefCache(rc))
			log.Info().Msg("Redis cache connected")
		}
	}

	return New(cfg, stats, workspace, opts...), cleanup, nil
}

// Database returns the configured database, or nil
func (p *Pipeline) Database() *repository.Database {
	return p.db
}
