// Package refs finds asset references inside schema-free content trees.
//
// A reference may be a plain URL string, a structured asset object, or a URL
// embedded in markup. The extractor only ever reports keys of assets it was
// built with; anything else that looks like a URL is ignored.
package refs

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
)

type assetPath struct {
	path string
	key  string
}

// Extractor matches strings and structures against a fixed asset list.
type Extractor struct {
	byID        map[string]string
	byPath      map[string][]string
	byBase      map[string][]string
	pathsByBase map[string][]assetPath
}

// NewExtractor indexes assets by id, canonical path and file name.
func NewExtractor(assets []catalog.Asset) *Extractor {
	e := &Extractor{
		byID:        make(map[string]string, len(assets)),
		byPath:      make(map[string][]string, len(assets)),
		byBase:      make(map[string][]string, len(assets)),
		pathsByBase: make(map[string][]assetPath, len(assets)),
	}
	for _, a := range assets {
		key := a.Key()
		e.byID[key] = key

		base := a.Filename
		if base == "" {
			base = catalog.BaseName(a.ContentURL)
		}
		if base != "" {
			e.byBase[base] = append(e.byBase[base], key)
		}

		for _, p := range assetPaths(a.ContentURL) {
			e.byPath[p] = append(e.byPath[p], key)
			if b := lastSegment(p); b != "" {
				e.pathsByBase[b] = append(e.pathsByBase[b], assetPath{path: p, key: key})
			}
		}
	}
	return e
}

// assetPaths returns the canonical path of an asset URL plus, when the first
// segment is a host name (bucket-style URLs such as
// s3.amazonaws.com/a.storyblok.com/f/...), the path without it.
func assetPaths(contentURL string) []string {
	p := catalog.CanonicalPath(contentURL)
	if p == "" || p == "/" {
		return nil
	}
	paths := []string{p}
	trimmed := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(trimmed, '/'); i > 0 && strings.Contains(trimmed[:i], ".") {
		if alias := trimmed[i:]; alias != "/" {
			paths = append(paths, alias)
		}
	}
	return paths
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Extract returns the keys of all assets referenced anywhere in entry.
func (e *Extractor) Extract(entry any) Set {
	w := walker{e: e, out: make(Set), visited: make(map[visitKey]struct{})}
	w.walk(entry)
	return w.out
}

type visitKey struct {
	ptr  uintptr
	size int
	kind reflect.Kind
}

type walker struct {
	e       *Extractor
	out     Set
	visited map[visitKey]struct{}
}

// seen records a map or slice by identity. Shared sub-trees are walked once
// per Extract call.
func (w *walker) seen(v any) bool {
	rv := reflect.ValueOf(v)
	var k visitKey
	switch rv.Kind() {
	case reflect.Map:
		k = visitKey{ptr: rv.Pointer(), kind: reflect.Map}
	case reflect.Slice:
		if rv.Len() == 0 {
			return true
		}
		k = visitKey{ptr: rv.Pointer(), size: rv.Len(), kind: reflect.Slice}
	default:
		return false
	}
	if _, ok := w.visited[k]; ok {
		return true
	}
	w.visited[k] = struct{}{}
	return false
}

func (w *walker) walk(v any) {
	switch node := v.(type) {
	case nil:
	case string:
		w.e.scanText(node, w.out)
	case json.Number, float64, bool:
		// Bare numbers are never treated as references.
	case map[string]any:
		if w.seen(node) {
			return
		}
		w.e.structured(node, w.out)
		for _, child := range node {
			w.walk(child)
		}
	case []any:
		if w.seen(node) {
			return
		}
		for _, child := range node {
			w.walk(child)
		}
	case map[string]string:
		for _, child := range node {
			w.e.scanText(child, w.out)
		}
	case []string:
		for _, child := range node {
			w.e.scanText(child, w.out)
		}
	case []map[string]any:
		for _, child := range node {
			w.walk(child)
		}
	}
}

// urlFields are the keys that carry the file location in asset-like objects:
// asset fields use filename, rich-text image nodes src, asset links url.
var urlFields = []string{"filename", "src", "url"}

// structured handles objects shaped like an asset reference. The caller still
// walks every value of the object, so assets nested below a matched one count
// too.
func (e *Extractor) structured(m map[string]any, out Set) {
	filename, hasFilename := m["filename"].(string)
	_, hasID := m["id"]

	hasURLField := false
	for _, f := range urlFields {
		if _, ok := m[f].(string); ok {
			hasURLField = true
			break
		}
	}
	assetTyped := m["fieldtype"] == "asset" || m["linktype"] == "asset"

	if !hasFilename && !(hasID && (hasURLField || assetTyped)) {
		return
	}

	if hasID && (hasFilename || assetTyped) {
		if key, ok := e.byID[idString(m["id"])]; ok {
			out.Add(key)
		}
	}
	if hasFilename {
		e.scanCandidate(filename, out, true)
	}
	for _, f := range urlFields[1:] {
		if s, ok := m[f].(string); ok {
			e.scanCandidate(s, out, false)
		}
	}
}

func idString(v any) string {
	switch id := v.(type) {
	case json.Number:
		return id.String()
	case string:
		return strings.TrimSpace(id)
	case float64:
		if id == float64(int64(id)) {
			return catalog.KeyOf(int64(id))
		}
	case int:
		return catalog.KeyOf(int64(id))
	case int64:
		return catalog.KeyOf(id)
	}
	return ""
}

// matchCandidate adds every asset whose canonical path occurs in the
// candidate's path, bounded by the end of the path or a slash. That covers the
// exact URL, any host or CDN prefix, and image-service suffixes such as
// /m/800x0/filters:quality(80). With allowBase a bare file name (no slash)
// matches every asset with that name.
func (e *Extractor) matchCandidate(raw string, out Set, allowBase bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	p := catalog.CanonicalPath(raw)
	if p == "" {
		return
	}

	if !strings.Contains(p, "/") {
		if allowBase {
			for _, key := range e.byBase[p] {
				out.Add(key)
			}
		}
		return
	}

	for _, key := range e.byPath[p] {
		out.Add(key)
	}
	for _, seg := range strings.Split(p, "/") {
		for _, ap := range e.pathsByBase[seg] {
			if containsBounded(p, ap.path) {
				out.Add(ap.key)
			}
		}
	}
}

// containsBounded reports whether sub occurs in s followed by either the end
// of s or a slash.
func containsBounded(s, sub string) bool {
	for off := 0; off <= len(s)-len(sub); {
		i := strings.Index(s[off:], sub)
		if i < 0 {
			return false
		}
		end := off + i + len(sub)
		if end == len(s) || s[end] == '/' {
			return true
		}
		off += i + 1
	}
	return false
}
