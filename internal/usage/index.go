// Package usage builds the set of referenced assets for a space and keeps it
// in an on-disk cache next to the asset snapshot it was computed from.
package usage

import (
	"time"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/refs"
)

// Index is a persisted usage snapshot for one space.
type Index struct {
	SpaceID     string          `json:"space_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Fingerprint string          `json:"fingerprint"`
	Assets      []catalog.Asset `json:"assets"`
	References  []string        `json:"references"`
}

// NewIndex snapshots assets and their reference set.
func NewIndex(spaceID string, createdAt time.Time, assets []catalog.Asset, set refs.Set) *Index {
	snapshot := make([]catalog.Asset, len(assets))
	copy(snapshot, assets)
	return &Index{
		SpaceID:     spaceID,
		CreatedAt:   createdAt.UTC().Round(0),
		Fingerprint: catalog.Fingerprint(snapshot),
		Assets:      snapshot,
		References:  set.Sorted(),
	}
}

// ReferenceSet returns the references as a set.
func (ix *Index) ReferenceSet() refs.Set {
	return refs.NewSet(ix.References...)
}

// Age is how old the snapshot is at now.
func (ix *Index) Age(now time.Time) time.Duration {
	return now.Sub(ix.CreatedAt)
}
