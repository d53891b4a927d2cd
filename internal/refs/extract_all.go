package refs

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/logger"
)

// Entry is a content entry that can be decoded into a generic tree.
type Entry interface {
	Tree() (any, error)
}

// ExtractAll extracts references from every entry using up to workers
// goroutines and returns their union. Per-entry results land in their own
// slot and are merged after all workers finish, so the result does not depend
// on scheduling. An entry that cannot be decoded fails the whole run: its
// references would be unknown.
func ExtractAll[E Entry](ctx context.Context, x *Extractor, entries []E, workers int) (Set, error) {
	if workers < 1 {
		workers = 1
	}
	partial := make([]Set, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tree, err := entries[i].Tree()
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			partial[i] = x.Extract(tree)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make(Set)
	for _, s := range partial {
		all.Union(s)
	}
	logger.Debug("reference extraction finished",
		logger.Int("entries", len(entries)),
		logger.Int("referenced_assets", len(all)))
	return all, nil
}
