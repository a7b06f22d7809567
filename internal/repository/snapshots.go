package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/models"
)

// SnapshotRepository stores the cumulative series of every sync
type SnapshotRepository struct {
	db *Database
}

// UpsertMany writes all snapshots in one batch
func (r *SnapshotRepository) UpsertMany(ctx context.Context, snaps []models.StandingsSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	start := time.Now()

	query := `
		INSERT INTO standings_snapshots (
			season, kind, entity, round, round_name, cumulative, happened, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (season, kind, entity, round) DO UPDATE SET
			round_name = EXCLUDED.round_name,
			cumulative = EXCLUDED.cumulative,
			happened = EXCLUDED.happened,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, s := range snaps {
		batch.Queue(query,
			s.Season, string(s.Kind), s.Entity, s.Round,
			s.RoundName, s.Cumulative, s.Happened, s.UpdatedAt,
		)
	}

	err := r.db.Pool.SendBatch(ctx, batch).Close()
	observe("upsert", "standings_snapshots", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshots: %w", err)
	}

	log.Debug().
		Int("count", len(snaps)).
		Str("season", snaps[0].Season).
		Str("kind", string(snaps[0].Kind)).
		Msg("Standings snapshots stored")

	return nil
}

// ListBySeason returns the snapshots of one season and kind ordered by entity and round
func (r *SnapshotRepository) ListBySeason(ctx context.Context, season string, kind models.EntityKind) ([]models.StandingsSnapshot, error) {
	start := time.Now()

	query := `
		SELECT season, kind, entity, round, round_name, cumulative, happened, updated_at
		FROM standings_snapshots
		WHERE season = $1 AND kind = $2
		ORDER BY entity, round
	`

	rows, err := r.db.Pool.Query(ctx, query, season, string(kind))
	if err != nil {
		observe("select", "standings_snapshots", start, err)
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.StandingsSnapshot
	for rows.Next() {
		var s models.StandingsSnapshot
		var k string
		if err := rows.Scan(
			&s.Season, &k, &s.Entity, &s.Round, &s.RoundName,
			&s.Cumulative, &s.Happened, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Kind = models.EntityKind(k)
		snaps = append(snaps, s)
	}

	err = rows.Err()
	observe("select", "standings_snapshots", start, err)
	if err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// DeleteSeason removes every snapshot of a season and kind
func (r *SnapshotRepository) DeleteSeason(ctx context.Context, season string, kind models.EntityKind) (int64, error) {
	start := time.Now()
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM standings_snapshots WHERE season = $1 AND kind = $2`, season, string(kind))
	observe("delete", "standings_snapshots", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
