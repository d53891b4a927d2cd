package cleanup

import (
	"path"
	"sort"
)

// FolderSummary is one row of the report table.
type FolderSummary struct {
	Path string `json:"path"`
	// NotInUse counts unreferenced assets, protected ones included.
	NotInUse int   `json:"not_in_use"`
	Ignored  int   `json:"ignored"`
	ToDelete int   `json:"to_delete"`
	Bytes    int64 `json:"bytes"`
}

// Candidate is an asset that the pipeline will process.
type Candidate struct {
	ID    int64  `json:"id"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// Report is the display-ready summary shown before anything is changed.
type Report struct {
	TotalAssets int             `json:"total_assets"`
	Referenced  int             `json:"referenced"`
	NotInUse    int             `json:"not_in_use"`
	Ignored     int             `json:"ignored"`
	ToDelete    int             `json:"to_delete"`
	TotalBytes  int64           `json:"total_bytes"`
	Folders     []FolderSummary `json:"folders"`
	Candidates  []Candidate     `json:"candidates"`
}

// BuildReport summarises a resolution. It has no side effects and depends only
// on its input, so a dry run and a deleting run print the same report.
func BuildReport(res Resolution) Report {
	rep := Report{
		TotalAssets: res.TotalAssets,
		Referenced:  res.Referenced,
		Ignored:     len(res.Ignored),
		TotalBytes:  res.TotalBytes,
		Folders:     []FolderSummary{},
		Candidates:  []Candidate{},
	}

	rows := make(map[string]*FolderSummary)
	row := func(p string) *FolderSummary {
		if r, ok := rows[p]; ok {
			return r
		}
		r := &FolderSummary{Path: p}
		rows[p] = r
		return r
	}

	for _, g := range res.Groups {
		r := row(g.FolderPath)
		r.NotInUse += len(g.Assets)
		r.ToDelete += len(g.Assets)
		r.Bytes += g.TotalBytes
		for _, a := range g.Assets {
			rep.Candidates = append(rep.Candidates, Candidate{
				ID:    a.ID,
				Path:  path.Join(g.FolderPath, a.Filename),
				Bytes: a.SizeBytes,
			})
		}
		rep.ToDelete += len(g.Assets)
	}
	for _, ig := range res.Ignored {
		r := row(ig.Asset.FolderPath)
		r.NotInUse++
		r.Ignored++
	}
	rep.NotInUse = rep.ToDelete + rep.Ignored

	for _, r := range rows {
		rep.Folders = append(rep.Folders, *r)
	}
	sort.Slice(rep.Folders, func(i, j int) bool {
		return rep.Folders[i].Path < rep.Folders[j].Path
	})
	return rep
}
