// Package catalog turns management API asset records into the domain assets
// the cleanup works on: one record per live asset with its resolved folder path.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/storyblok"
	"golang.org/x/text/unicode/norm"
)

// RootFolder is the folder path of assets that are not in any folder.
const RootFolder = "/"

// Asset is a live asset of the space.
type Asset struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	FolderPath  string    `json:"folder_path"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentURL  string    `json:"content_url"`
	LastUpdated time.Time `json:"last_updated"`
}

// Key is the canonical identity used in reference sets: the decimal asset id.
func (a Asset) Key() string {
	return KeyOf(a.ID)
}

// KeyOf formats an asset id as a reference key.
func KeyOf(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ErrFolderTree reports a broken folder hierarchy (missing parent or a cycle).
var ErrFolderTree = errors.New("inconsistent asset folder tree")

// FolderPaths resolves every folder id to its absolute path, e.g. "/images/2024".
func FolderPaths(folders []storyblok.AssetFolder) (map[int64]string, error) {
	byID := make(map[int64]storyblok.AssetFolder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}

	paths := make(map[int64]string, len(folders))
	var resolve func(id int64, seen map[int64]bool) (string, error)
	resolve = func(id int64, seen map[int64]bool) (string, error) {
		if p, ok := paths[id]; ok {
			return p, nil
		}
		if seen[id] {
			return "", fmt.Errorf("%w: cycle at folder %d", ErrFolderTree, id)
		}
		seen[id] = true
		f := byID[id]
		if f.ParentID == nil || *f.ParentID == 0 {
			paths[id] = "/" + f.Name
			return paths[id], nil
		}
		if _, ok := byID[*f.ParentID]; !ok {
			return "", fmt.Errorf("%w: parent asset folder of %d does not exist", ErrFolderTree, f.ID)
		}
		parent, err := resolve(*f.ParentID, seen)
		if err != nil {
			return "", err
		}
		paths[id] = parent + "/" + f.Name
		return paths[id], nil
	}

	for _, f := range folders {
		if _, err := resolve(f.ID, map[int64]bool{}); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// Build converts API assets into domain assets. Soft-deleted assets are
// dropped; an asset pointing at an unknown folder is an error because its
// folder path, and so the ignore filters, cannot be evaluated.
func Build(raw []storyblok.Asset, folders []storyblok.AssetFolder) ([]Asset, error) {
	paths, err := FolderPaths(folders)
	if err != nil {
		return nil, err
	}

	assets := make([]Asset, 0, len(raw))
	for _, a := range raw {
		if a.DeletedAt != nil {
			continue
		}
		folder := RootFolder
		if a.AssetFolderID != nil && *a.AssetFolderID != 0 {
			p, ok := paths[*a.AssetFolderID]
			if !ok {
				return nil, fmt.Errorf("%w: asset %d is in unknown folder %d", ErrFolderTree, a.ID, *a.AssetFolderID)
			}
			folder = p
		}
		assets = append(assets, Asset{
			ID:          a.ID,
			Filename:    BaseName(a.Filename),
			FolderPath:  folder,
			SizeBytes:   a.ContentLength,
			ContentURL:  a.Filename,
			LastUpdated: a.UpdatedAt.UTC(),
		})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets, nil
}

// CanonicalPath strips scheme, host, query and fragment from a URL or path and
// returns its percent-decoded, NFC-normalised path. It is the form both asset
// URLs and candidate strings are compared in.
func CanonicalPath(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "//"); i >= 0 && (i == 0 || strings.HasSuffix(s[:i], ":")) {
		rest := s[i+2:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			s = rest[j:]
		} else {
			s = "/"
		}
	}
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	return norm.NFC.String(s)
}

// BaseName is the last path segment of an asset URL.
func BaseName(raw string) string {
	p := CanonicalPath(raw)
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Fingerprint is a stable digest of the asset list. Any added, removed,
// replaced or re-uploaded asset changes it.
func Fingerprint(assets []Asset) string {
	rows := make([]string, 0, len(assets))
	for _, a := range assets {
		rows = append(rows, fmt.Sprintf("%d\t%s\t%s\t%d", a.ID, a.ContentURL, a.LastUpdated.UTC().Format(time.RFC3339Nano), a.SizeBytes))
	}
	sort.Strings(rows)
	h := sha256.New()
	for _, r := range rows {
		h.Write([]byte(r))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
