package cleanup

import (
	"sort"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
	"github.com/fulmenhq/storyblok-assets-cleanup/internal/refs"
)

// Group is the unused assets of one folder.
type Group struct {
	FolderPath string          `json:"folder_path"`
	Assets     []catalog.Asset `json:"assets"`
	TotalBytes int64           `json:"total_bytes"`
}

// IgnoredAsset is an unreferenced asset that a filter protects.
type IgnoredAsset struct {
	Asset  catalog.Asset `json:"asset"`
	Reason IgnoreReason  `json:"reason"`
	Rule   string        `json:"rule"`
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Groups      []Group        `json:"groups"`
	Ignored     []IgnoredAsset `json:"ignored"`
	TotalBytes  int64          `json:"total_bytes"`
	TotalAssets int            `json:"total_assets"`
	Referenced  int            `json:"referenced"`
}

// Resolve returns the assets absent from set and not protected by filters,
// grouped by folder. Groups are ordered by path and assets by file name, then
// id, so the result does not depend on input order.
func Resolve(assets []catalog.Asset, set refs.Set, filters Filters) Resolution {
	res := Resolution{TotalAssets: len(assets)}
	byFolder := make(map[string][]catalog.Asset)

	for _, a := range assets {
		if set.Has(a.Key()) {
			res.Referenced++
			continue
		}
		if reason, rule, ok := filters.Match(a); ok {
			res.Ignored = append(res.Ignored, IgnoredAsset{Asset: a, Reason: reason, Rule: rule})
			continue
		}
		byFolder[a.FolderPath] = append(byFolder[a.FolderPath], a)
	}

	paths := make([]string, 0, len(byFolder))
	for p := range byFolder {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		group := Group{FolderPath: p, Assets: byFolder[p]}
		sort.Slice(group.Assets, func(i, j int) bool {
			return assetLess(group.Assets[i], group.Assets[j])
		})
		for _, a := range group.Assets {
			group.TotalBytes += a.SizeBytes
		}
		res.TotalBytes += group.TotalBytes
		res.Groups = append(res.Groups, group)
	}

	sort.Slice(res.Ignored, func(i, j int) bool {
		a, b := res.Ignored[i].Asset, res.Ignored[j].Asset
		if a.FolderPath != b.FolderPath {
			return a.FolderPath < b.FolderPath
		}
		return assetLess(a, b)
	})
	return res
}

func assetLess(a, b catalog.Asset) bool {
	if a.Filename != b.Filename {
		return a.Filename < b.Filename
	}
	return a.ID < b.ID
}

// Unused flattens the groups in order.
func (r Resolution) Unused() []catalog.Asset {
	var out []catalog.Asset
	for _, g := range r.Groups {
		out = append(out, g.Assets...)
	}
	return out
}
