package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/refs"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/logger"
)

// CacheStore loads and saves usage snapshots.
type CacheStore interface {
	Load(spaceID string) (*Index, error)
	Save(ix *Index) error
}

// ScanFunc computes the reference set from live content. Builder only calls
// it when no usable cache exists.
type ScanFunc func(ctx context.Context, assets []catalog.Asset) (refs.Set, error)

// Builder resolves the reference set of a space, from cache when allowed.
type Builder struct {
	// Cache is nil when caching is disabled.
	Cache CacheStore
	// MaxAge bounds how old a cache may be; zero disables the age check.
	MaxAge time.Duration
	Now    func() time.Time
}

// Result is the outcome of Build.
type Result struct {
	References refs.Set
	FromCache  bool
	// StaleReason says why an existing cache was not used.
	StaleReason string
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build returns the references of spaceID. A cache is used only when it is
// intact, its asset snapshot matches assets exactly and it is younger than
// MaxAge. Anything else rebuilds through scan and writes the cache back.
func (b *Builder) Build(ctx context.Context, spaceID string, assets []catalog.Asset, scan ScanFunc) (Result, error) {
	var res Result
	fingerprint := catalog.Fingerprint(assets)

	if b.Cache != nil {
		ix, err := b.Cache.Load(spaceID)
		switch {
		case err == nil:
			reason := b.staleReason(ix, fingerprint)
			if reason == "" {
				logger.Info("using usage cache",
					logger.String("space_id", spaceID),
					logger.Duration("age", ix.Age(b.now()).Round(time.Second)),
					logger.Int("references", len(ix.References)))
				return Result{References: ix.ReferenceSet(), FromCache: true}, nil
			}
			res.StaleReason = reason
			logger.Info("usage cache is stale, rebuilding", logger.String("reason", reason))
		case errors.Is(err, ErrCacheMiss):
			logger.Debug("no usage cache", logger.String("space_id", spaceID))
		default:
			res.StaleReason = err.Error()
			logger.Warn("ignoring unusable usage cache", logger.Err(err))
		}
	}

	set, err := scan(ctx, assets)
	if err != nil {
		return Result{}, fmt.Errorf("scan content: %w", err)
	}
	res.References = set

	if b.Cache != nil {
		ix := NewIndex(spaceID, b.now(), assets, set)
		if err := b.Cache.Save(ix); err != nil {
			logger.Warn("could not write usage cache", logger.Err(err))
		}
	}
	return res, nil
}

func (b *Builder) staleReason(ix *Index, fingerprint string) string {
	if ix.Fingerprint != fingerprint {
		return "asset list changed"
	}
	now := b.now()
	if ix.CreatedAt.After(now) {
		return "created in the future"
	}
	if b.MaxAge > 0 && ix.Age(now) > b.MaxAge {
		return fmt.Sprintf("older than %s", b.MaxAge)
	}
	return ""
}
