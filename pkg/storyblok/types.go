package storyblok

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Space is the subset of the space record used to verify access.
type Space struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Asset is an asset record as returned by the management API. Filename holds
// the full public URL of the file.
type Asset struct {
	ID            int64      `json:"id"`
	Filename      string     `json:"filename"`
	ShortFilename string     `json:"short_filename,omitempty"`
	ContentType   string     `json:"content_type,omitempty"`
	ContentLength int64      `json:"content_length"`
	AssetFolderID *int64     `json:"asset_folder_id"`
	IsPrivate     bool       `json:"is_private,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// AssetFolder is a node of the asset folder tree.
type AssetFolder struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

// Story is one content entry. Raw keeps the complete story object, content
// included, because references may sit anywhere in it.
type Story struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	FullSlug string `json:"full_slug"`

	Raw        json.RawMessage `json:"-"`
	hasContent bool
}

func decodeStory(raw json.RawMessage) (Story, error) {
	var s Story
	if err := json.Unmarshal(raw, &s); err != nil {
		return Story{}, err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Story{}, err
	}
	content, ok := keys["content"]
	s.hasContent = ok && !bytes.Equal(bytes.TrimSpace(content), []byte("null"))
	s.Raw = raw
	return s, nil
}

// HasContent reports whether the story body was part of the response.
func (s Story) HasContent() bool {
	return s.hasContent
}

// Tree decodes the story into a generic tree of map[string]any, []any and
// scalars. Numbers stay json.Number so ids survive exactly.
func (s Story) Tree() (any, error) {
	dec := json.NewDecoder(bytes.NewReader(s.Raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode story %d: %w", s.ID, err)
	}
	return tree, nil
}
