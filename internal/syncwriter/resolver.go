package syncwriter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/notion"
)

// TitleFinder looks up a page by its title
type TitleFinder interface {
	FindPageByTitle(ctx context.Context, databaseID, titleProp, title string) (*notion.Page, error)
}

// RefCache stores resolved ids across runs
type RefCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// NotionResolver resolves names against a reference database by title
type NotionResolver struct {
	finder     TitleFinder
	databaseID string
	titleProp  string
	cache      RefCache
	ttl        time.Duration
}

// NewNotionResolver creates a resolver. cache may be nil.
func NewNotionResolver(finder TitleFinder, databaseID, titleProp string, cache RefCache, ttl time.Duration) *NotionResolver {
	return &NotionResolver{
		finder:     finder,
		databaseID: databaseID,
		titleProp:  titleProp,
		cache:      cache,
		ttl:        ttl,
	}
}

func (r *NotionResolver) cacheKey(name string) string {
	return fmt.Sprintf("ref:%s:%s", r.databaseID, name)
}

// Resolve returns the page id titled name or an error wrapping ErrNotFound
func (r *NotionResolver) Resolve(ctx context.Context, name string) (string, error) {
	if r.cache != nil {
		id, ok, err := r.cache.Get(ctx, r.cacheKey(name))
		if err != nil {
			log.Warn().Err(err).Str("name", name).Msg("Reference cache read failed")
		} else if ok {
			return id, nil
		}
	}

	page, err := r.finder.FindPageByTitle(ctx, r.databaseID, r.titleProp, name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", name, err)
	}
	if page == nil {
		return "", fmt.Errorf("%q in %s: %w", name, r.databaseID, ErrNotFound)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, r.cacheKey(name), page.ID, r.ttl); err != nil {
			log.Warn().Err(err).Str("name", name).Msg("Reference cache write failed")
		}
	}
	return page.ID, nil
}

// Invalidate drops the cached id of name so the next run looks it up again
func (r *NotionResolver) Invalidate(ctx context.Context, name string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, r.cacheKey(name)); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("Reference cache delete failed")
		return
	}
	log.Info().Str("name", name).Str("database", r.databaseID).Msg("Dropped cached reference")
}

// StaticResolver resolves names from a fixed map
type StaticResolver map[string]string

// Resolve implements RefResolver
func (s StaticResolver) Resolve(_ context.Context, name string) (string, error) {
	if id, ok := s[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%q: %w", name, ErrNotFound)
}
