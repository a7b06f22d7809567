// Command chartexport writes the drivers' cumulative points as chart data
// and uploads it when a bucket is configured.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/chart"
	"f1standings/notionsync/internal/config"
	"f1standings/notionsync/internal/logging"
	"f1standings/notionsync/internal/models"
	"f1standings/notionsync/internal/pipeline"
	"f1standings/notionsync/internal/standings"
)

func main() {
	kindFlag := flag.String("kind", string(models.Drivers), "drivers or constructors")
	fromSnapshots := flag.Bool("snapshots", false, "build from the stored snapshots instead of the API")
	output := flag.String("out", "", "output file, defaults to CHART_OUTPUT")
	flag.Parse()

	cfg := config.MustLoad()
	logging.Setup(cfg.IsDevelopment(), cfg.LogLevel)

	kind, err := models.ParseEntityKind(*kindFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid kind")
	}
	path := *output
	if path == "" {
		path = cfg.ChartOutput
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := pipeline.FromConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer cleanup()

	season, err := p.Season(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load season")
	}

	var st *standings.Standings
	if *fromSnapshots {
		db := p.Database()
		if db == nil {
			log.Fatal().Msg("-snapshots requires DATABASE_ENABLED")
		}
		label, err := p.SeasonLabel(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load season")
		}
		snaps, err := db.Snapshots.ListBySeason(ctx, label, kind)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read snapshots")
		}
		st, err = standings.FromSnapshots(kind, season.Rounds, snaps)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to rebuild standings")
		}
	} else {
		st, err = p.Standings(ctx, kind)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to aggregate standings")
		}
	}

	data := chart.Build(st, season.Colors)
	if err := chart.WriteFile(path, data); err != nil {
		log.Fatal().Err(err).Msg("Failed to write chart data")
	}

	if cfg.ChartS3Bucket != "" {
		pub, err := chart.NewS3Publisher(ctx, cfg.ChartS3Bucket, cfg.ChartS3Key)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure S3")
		}
		if err := pub.Publish(ctx, data); err != nil {
			log.Fatal().Err(err).Msg("Failed to publish chart data")
		}
	}
}
