package standings

import (
	"fmt"
	"time"

	"f1standings/notionsync/internal/models"
)

// Snapshots flattens the series into one row per entity and round
func (st *Standings) Snapshots(season string, now time.Time) []models.StandingsSnapshot {
	out := make([]models.StandingsSnapshot, 0, len(st.Entities)*len(st.Rounds))
	for _, e := range st.Entities {
		for i, round := range st.Rounds {
			out = append(out, models.StandingsSnapshot{
				Season:     season,
				Kind:       st.Kind,
				Entity:     e,
				Round:      round.Number,
				RoundName:  round.Name,
				Cumulative: st.Series[e][i],
				Happened:   st.Happened[i],
				UpdatedAt:  now,
			})
		}
	}
	return out
}

// FromSnapshots rebuilds standings from persisted rows.
// Rows for rounds outside the calendar are rejected; missing rows carry forward.
func FromSnapshots(kind models.EntityKind, rounds []models.Round, snaps []models.StandingsSnapshot) (*Standings, error) {
	st := &Standings{
		Kind:     kind,
		Rounds:   rounds,
		Happened: make([]bool, len(rounds)),
		Series:   make(map[string][]int),
	}

	values := make(map[string]map[int]int)
	for _, s := range snaps {
		if s.Round < 1 || s.Round > len(rounds) {
			return nil, fmt.Errorf("snapshot round %d outside calendar of %d rounds", s.Round, len(rounds))
		}
		if _, ok := values[s.Entity]; !ok {
			values[s.Entity] = make(map[int]int)
			st.Entities = append(st.Entities, s.Entity)
		}
		values[s.Entity][s.Round-1] = s.Cumulative
		if s.Happened {
			st.Happened[s.Round-1] = true
		}
	}

	for _, e := range st.Entities {
		series := make([]int, len(rounds))
		last := 0
		for i := range rounds {
			if v, ok := values[e][i]; ok {
				last = v
			}
			series[i] = last
		}
		st.Series[e] = series
	}

	return st, nil
}
