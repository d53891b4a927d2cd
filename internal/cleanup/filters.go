// Package cleanup decides which assets are unused, summarises them, and backs
// up and deletes them.
package cleanup

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
)

// IgnoreReason names the filter rule that kept an asset.
type IgnoreReason string

const (
	IgnoredFolder IgnoreReason = "folder"
	IgnoredWord   IgnoreReason = "word"
	IgnoredGlob   IgnoreReason = "glob"
)

// Filters protect assets from deletion regardless of their usage.
//
// FolderPaths match only on equality: "/images" does not protect
// "/images/2024". FilenameWords are case-sensitive substrings of the file
// name. FolderGlobs are doublestar patterns matched against the folder path
// and are the way to protect a whole subtree ("/images/**").
type Filters struct {
	FolderPaths   []string `json:"folder_paths,omitempty"`
	FilenameWords []string `json:"filename_words,omitempty"`
	FolderGlobs   []string `json:"folder_globs,omitempty"`
}

// Validate checks the glob patterns.
func (f Filters) Validate() error {
	for _, g := range f.FolderGlobs {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid ignore glob %q", g)
		}
	}
	return nil
}

// Match reports whether a filter protects the asset, and which rule did.
func (f Filters) Match(a catalog.Asset) (IgnoreReason, string, bool) {
	for _, p := range f.FolderPaths {
		if a.FolderPath == p {
			return IgnoredFolder, p, true
		}
	}
	for _, w := range f.FilenameWords {
		if w != "" && strings.Contains(a.Filename, w) {
			return IgnoredWord, w, true
		}
	}
	for _, g := range f.FolderGlobs {
		if ok, err := doublestar.Match(g, a.FolderPath); err == nil && ok {
			return IgnoredGlob, g, true
		}
	}
	return "", "", false
}
