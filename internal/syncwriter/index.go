package syncwriter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/notion"
)

// PageLister reads every row of a database
type PageLister interface {
	QueryAll(ctx context.Context, databaseID string, filter notion.Filter) ([]notion.Page, error)
}

// BuildIndex reads the whole target database once and maps each
// (entity, round) relation pair to its page. When a key appears more than
// once the first page wins and the others are returned as duplicates.
func BuildIndex(ctx context.Context, lister PageLister, databaseID string, schema Schema) (Index, []string, error) {
	pages, err := lister.QueryAll(ctx, databaseID, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build index of %s: %w", databaseID, err)
	}

	index := make(Index, len(pages))
	var duplicates []string
	unkeyed := 0

	for i := range pages {
		page := &pages[i]
		if page.Archived {
			continue
		}
		entityIDs := page.RelationIDs(schema.EntityRelation)
		roundIDs := page.RelationIDs(schema.RoundRelation)
		if len(entityIDs) == 0 || len(roundIDs) == 0 {
			unkeyed++
			continue
		}

		key := Key{EntityRef: entityIDs[0], RoundRef: roundIDs[0]}
		if _, exists := index[key]; exists {
			duplicates = append(duplicates, page.ID)
			continue
		}
		index[key] = page.ID
	}

	log.Info().
		Str("database", databaseID).
		Int("rows", len(pages)).
		Int("indexed", len(index)).
		Int("duplicates", len(duplicates)).
		Int("unkeyed", unkeyed).
		Msg("Built existing row index")

	return index, duplicates, nil
}
