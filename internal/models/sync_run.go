package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SyncRun is the audit row of one job execution
type SyncRun struct {
	ID             uuid.UUID      `db:"id"`
	Job            string         `db:"job"`
	Season         string         `db:"season"`
	StartedAt      time.Time      `db:"started_at"`
	FinishedAt     sql.NullTime   `db:"finished_at"`
	Inserted       int            `db:"inserted"`
	Updated        int            `db:"updated"`
	Failed         int            `db:"failed"`
	Skipped        int            `db:"skipped"`
	LookupFailures int            `db:"lookup_failures"`
	RoundsFailed   int            `db:"rounds_failed"`
	Error          sql.NullString `db:"error"`
}

// NewSyncRun starts a run record
func NewSyncRun(job, season string, now time.Time) *SyncRun {
	return &SyncRun{
		ID:        uuid.New(),
		Job:       job,
		Season:    season,
		StartedAt: now,
	}
}

// Finish stamps the end time and the error, if any
func (r *SyncRun) Finish(now time.Time, err error) {
	r.FinishedAt = sql.NullTime{Time: now, Valid: true}
	if err != nil {
		r.Error = sql.NullString{String: err.Error(), Valid: true}
	}
}

// StandingsSnapshot is one cumulative point value persisted per entity and round
type StandingsSnapshot struct {
	Season     string     `db:"season"`
	Kind       EntityKind `db:"kind"`
	Entity     string     `db:"entity"`
	Round      int        `db:"round"`
	RoundName  string     `db:"round_name"`
	Cumulative int        `db:"cumulative"`
	Happened   bool       `db:"happened"`
	UpdatedAt  time.Time  `db:"updated_at"`
}
