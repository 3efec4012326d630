package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// ProductRecord is one catalog entry. ImageURL is unique within a catalog snapshot.
type ProductRecord struct {
	ImageURL string `json:"image_url" bson:"image_url" db:"image_url"`
	Name     string `json:"name" bson:"name" db:"name"`
	Category string `json:"category" bson:"category" db:"category"`
}

// CatalogSnapshot is the request-scoped copy of the catalog
type CatalogSnapshot []ProductRecord

// ImageURLs returns the image reference of every record, in catalog order
func (s CatalogSnapshot) ImageURLs() []string {
	urls := make([]string, len(s))
	for i, p := range s {
		urls[i] = p.ImageURL
	}
	return urls
}

// Index builds an exact-match lookup from image URL to record.
// On duplicate URLs the first record wins.
func (s CatalogSnapshot) Index() map[string]ProductRecord {
	idx := make(map[string]ProductRecord, len(s))
	for _, p := range s {
		if _, exists := idx[p.ImageURL]; !exists {
			idx[p.ImageURL] = p
		}
	}
	return idx
}

// MatchResult is one entry of the matching service response.
// Fields keeps every attribute the service returned, including image_url and similarity,
// so collaborator-defined fields survive the merge untouched.
type MatchResult struct {
	ImageURL   string
	Similarity float64
	Fields     map[string]json.RawMessage
}

// UnmarshalJSON decodes a match object, keeping unknown fields
func (m *MatchResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("match result is not an object")
	}

	m.Fields = fields
	m.ImageURL = ""
	m.Similarity = 0

	if raw, ok := fields["image_url"]; ok {
		if err := json.Unmarshal(raw, &m.ImageURL); err != nil {
			return fmt.Errorf("image_url: %w", err)
		}
	}
	if raw, ok := fields["similarity"]; ok {
		if err := json.Unmarshal(raw, &m.Similarity); err != nil {
			return fmt.Errorf("similarity: %w", err)
		}
	}
	return nil
}

// MarshalJSON writes the match back out with all of its original fields
func (m MatchResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.fields())
}

// fields returns the attributes to write. A decoded match is written back exactly
// as the service sent it; image_url and similarity are only filled in for values
// built in code.
func (m MatchResult) fields() map[string]json.RawMessage {
	if m.Fields != nil {
		out := make(map[string]json.RawMessage, len(m.Fields)+2)
		for k, v := range m.Fields {
			out[k] = v
		}
		return out
	}

	out := make(map[string]json.RawMessage, 4)
	out["image_url"], _ = json.Marshal(m.ImageURL)
	out["similarity"], _ = json.Marshal(m.Similarity)
	return out
}

// MergedResult is a match enriched with the catalog record that shares its image URL
type MergedResult struct {
	Match    MatchResult
	Name     string
	Category string
}

// MarshalJSON flattens the match fields and the catalog metadata into one object.
// Catalog name and category take precedence over same-named match fields.
func (r MergedResult) MarshalJSON() ([]byte, error) {
	out := r.Match.fields()

	name, err := json.Marshal(r.Name)
	if err != nil {
		return nil, err
	}
	category, err := json.Marshal(r.Category)
	if err != nil {
		return nil, err
	}
	out["name"] = name
	out["category"] = category

	return json.Marshal(out)
}
