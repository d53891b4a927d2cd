package usage

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fulmenhq/storyblok-assets-cleanup/internal/catalog"
	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/safeio"
)

// SchemaVersion is the cache envelope version written by Save.
const SchemaVersion = 1

//go:embed schema/usage-cache.schema.json
var cacheSchema []byte

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(cacheSchema))
})

type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Checksum      string          `json:"checksum"`
	Index         json.RawMessage `json:"index"`
}

// Store keeps one cache file per space in Dir.
type Store struct {
	Dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Path is the cache file of a space.
func (s *Store) Path(spaceID string) (string, error) {
	return safeio.JoinContained(s.Dir, spaceID+"_usage.json")
}

// Load reads and verifies the cache of a space. It returns ErrCacheMiss when
// there is no file and an *InvalidError when the file fails any check.
func (s *Store) Load(spaceID string) (*Index, error) {
	path, err := s.Path(spaceID)
	if err != nil {
		return nil, err
	}
	data, err := safeio.ReadFileContained(s.Dir, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, &InvalidError{Path: path, Reason: "unreadable", Wrapped: err}
	}
	ix, err := decode(data, spaceID)
	if err != nil {
		var ie *InvalidError
		if errors.As(err, &ie) {
			ie.Path = path
		}
		return nil, err
	}
	return ix, nil
}

func decode(data []byte, spaceID string) (*Index, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile cache schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &InvalidError{Reason: "not valid JSON", Wrapped: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, &InvalidError{Reason: "schema mismatch: " + strings.Join(msgs, "; ")}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &InvalidError{Reason: "envelope", Wrapped: err}
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, &InvalidError{Reason: fmt.Sprintf("schema version %d, want %d", env.SchemaVersion, SchemaVersion)}
	}
	sum, err := checksum(env.Index)
	if err != nil {
		return nil, &InvalidError{Reason: "checksum", Wrapped: err}
	}
	if sum != env.Checksum {
		return nil, &InvalidError{Reason: "checksum mismatch"}
	}

	var ix Index
	if err := json.Unmarshal(env.Index, &ix); err != nil {
		return nil, &InvalidError{Reason: "index", Wrapped: err}
	}
	if ix.SpaceID != spaceID {
		return nil, &InvalidError{Reason: fmt.Sprintf("belongs to space %s", ix.SpaceID)}
	}
	if catalog.Fingerprint(ix.Assets) != ix.Fingerprint {
		return nil, &InvalidError{Reason: "asset snapshot does not match its fingerprint"}
	}
	return &ix, nil
}

// checksum is the sha256 of the RFC 8785 canonical form of raw.
func checksum(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes ix atomically, replacing any previous cache of the space.
func (s *Store) Save(ix *Index) error {
	path, err := s.Path(ix.SpaceID)
	if err != nil {
		return err
	}
	data, err := encode(ix)
	if err != nil {
		return err
	}
	if err := safeio.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write usage cache: %w", err)
	}
	return nil
}

func encode(ix *Index) ([]byte, error) {
	out := *ix
	if out.Assets == nil {
		out.Assets = []catalog.Asset{}
	}
	if out.References == nil {
		out.References = []string{}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode usage index: %w", err)
	}
	sum, err := checksum(raw)
	if err != nil {
		return nil, fmt.Errorf("checksum usage index: %w", err)
	}
	data, err := json.MarshalIndent(envelope{SchemaVersion: SchemaVersion, Checksum: sum, Index: raw}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode usage cache: %w", err)
	}
	return append(data, '\n'), nil
}

// Clear removes the cache of a space. A missing file is not an error.
func (s *Store) Clear(spaceID string) error {
	path, err := s.Path(spaceID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove usage cache: %w", err)
	}
	return nil
}

// Forget drops deleted assets from the cached snapshot so the next run's
// fingerprint check still matches. Without a usable cache it does nothing.
func (s *Store) Forget(spaceID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ix, err := s.Load(spaceID)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) || IsInvalid(err) {
			return nil
		}
		return err
	}

	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[catalog.KeyOf(id)] = struct{}{}
	}
	kept := ix.Assets[:0]
	for _, a := range ix.Assets {
		if _, ok := gone[a.Key()]; !ok {
			kept = append(kept, a)
		}
	}
	refsKept := ix.References[:0]
	for _, key := range ix.References {
		if _, ok := gone[key]; !ok {
			refsKept = append(refsKept, key)
		}
	}
	ix.Assets = kept
	ix.References = refsKept
	ix.Fingerprint = catalog.Fingerprint(kept)
	return s.Save(ix)
}
