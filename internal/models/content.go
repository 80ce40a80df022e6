package models

import "time"

// ContentRecord is the domain record that handlers edit.
type ContentRecord struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ContentType     string    `json:"content_type"`
	Style           string    `json:"style"`
	Themes          []string  `json:"themes"`
	Author          string    `json:"author"`
	SourcePlatform  string    `json:"source_platform"`
	SourceURL       string    `json:"source_url"`
	IsFree          bool      `json:"is_free"`
	Description     string    `json:"description"`
	MetaDescription string    `json:"meta_description"`
	Tags            []string  `json:"tags"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasTag reports whether the record carries tag.
func (c *ContentRecord) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Collection groups content records. System collections are owned by the engine.
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsSystem  bool      `json:"is_system"`
	CreatedAt time.Time `json:"created_at"`
}

// CollectionMembership is one content record's membership in a collection.
type CollectionMembership struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	ContentID    string    `json:"content_id"`
	Note         string    `json:"note"`
	CreatedAt    time.Time `json:"created_at"`
}
