// Command manualsync runs one sync job immediately and prints its counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/config"
	"f1standings/notionsync/internal/logging"
	"f1standings/notionsync/internal/models"
	"f1standings/notionsync/internal/pipeline"
)

func main() {
	job := flag.String("job", config.JobCumulativeConstructors, "job to run: cumulative:drivers, cumulative:constructors, table:drivers, table:constructors or sessions")
	round := flag.Int("round", 0, "round for the sessions job, 0 for the latest")
	reset := flag.Bool("reset-snapshots", false, "delete the stored standings snapshots of the season before running")
	last := flag.Bool("last", false, "print the previous run of the job instead of running it")
	flag.Parse()

	cfg := config.MustLoad()
	logging.Setup(cfg.IsDevelopment(), cfg.LogLevel)

	if err := cfg.ValidateJob(*job); err != nil {
		log.Fatal().Err(err).Msg("Invalid job")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := pipeline.FromConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer cleanup()

	if *last {
		db := p.Database()
		if db == nil {
			log.Fatal().Msg("-last requires DATABASE_ENABLED")
		}
		run, err := db.Runs.Latest(ctx, *job)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read previous run")
		}
		fmt.Printf("Run %s (%s) started %s\n", run.ID, run.Season, run.StartedAt.Format(time.RFC3339))
		fmt.Printf("Inserted: %d  Updated: %d  Failed: %d  Skipped: %d  Lookup failures: %d  Failed rounds: %d\n",
			run.Inserted, run.Updated, run.Failed, run.Skipped, run.LookupFailures, run.RoundsFailed)
		if run.Error.Valid {
			fmt.Printf("Error: %s\n", run.Error.String)
		}
		return
	}

	if *reset {
		resetSnapshots(ctx, p)
	}

	out, err := p.Run(ctx, *job, *round)
	if out != nil {
		fmt.Printf("Successes: %d\n", out.Successes())
		fmt.Printf("Failures:  %d\n", out.Failed)
		if out.LookupFailures > 0 {
			fmt.Printf("Lookup failures: %d (entities %v, rounds %v)\n", out.LookupFailures, out.MissingEntities, out.MissingRounds)
		}
		if out.FailedRounds > 0 {
			fmt.Printf("Rounds skipped after fetch errors: %d\n", out.FailedRounds)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("job", *job).Msg("Manual sync failed")
		cleanup()
		os.Exit(1)
	}
}

func resetSnapshots(ctx context.Context, p *pipeline.Pipeline) {
	db := p.Database()
	if db == nil {
		log.Fatal().Msg("-reset-snapshots requires DATABASE_ENABLED")
	}
	label, err := p.SeasonLabel(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load season")
	}
	for _, kind := range []models.EntityKind{models.Drivers, models.Constructors} {
		n, err := db.Snapshots.DeleteSeason(ctx, label, kind)
		if err != nil {
			log.Fatal().Err(err).Str("kind", string(kind)).Msg("Failed to delete snapshots")
		}
		log.Info().Int64("deleted", n).Str("season", label).Str("kind", string(kind)).Msg("Snapshots deleted")
	}
}
