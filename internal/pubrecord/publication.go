// Package pubrecord defines the core domain types for scholarly publications.
package pubrecord

import "time"

// Provider identifies which upstream source a raw record came from.
type Provider string

const (
	// ProviderCrossref is the bibliographic-metadata service.
	ProviderCrossref Provider = "crossref"
	// ProviderCiteIndex is the citation-index service.
	ProviderCiteIndex Provider = "citeindex"
)

// RawRecord is an opaque provider-tagged record blob as emitted by a fetcher.
type RawRecord struct {
	Provider Provider
	Fields   map[string]any
}

// Author is a contributing author with an optional affiliation string.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// SourceRecord links a canonical publication back to one contributing
// provider record. Links are only ever appended, never removed.
type SourceRecord struct {
	Provider Provider `json:"provider"`
	RawID    string   `json:"raw_id"`
}

// Category is a controlled-vocabulary research category assignment.
type Category struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// LabelUnclassified is the sentinel assigned when classification is
// exhausted or has not yet run.
const LabelUnclassified = "unclassified"

// Draft is a normalized record that has not yet been through identity
// resolution. It carries the same fields as a Publication minus canonical
// bookkeeping.
type Draft struct {
	Identifier    string
	Title         string
	Venue         string
	Year          int
	Authors       []Author
	CitationCount int
	AbstractHint  string
	CategoryHints []string
	Source        SourceRecord
}

// Publication is the canonical entity for one real-world publication after
// deduplication. Identifier, once set, never changes.
type Publication struct {
	ID            string         `json:"id" db:"id"`
	Identifier    string         `json:"identifier,omitempty" db:"identifier"`
	Title         string         `json:"title" db:"title"`
	Venue         string         `json:"venue" db:"venue"`
	Year          int            `json:"year" db:"year"`
	Authors       []Author       `json:"authors"`
	CitationCount int            `json:"citation_count" db:"citation_count"`
	AbstractHint  string         `json:"abstract_hint,omitempty" db:"abstract_hint"`
	SourceRecords []SourceRecord `json:"source_records"`
	Category      *Category      `json:"category,omitempty"`

	// Tombstone bookkeeping. A retired entity keeps its data but points at
	// the canonical survivor via MergedInto.
	Retired    bool      `json:"retired,omitempty" db:"retired"`
	MergedInto string    `json:"merged_into,omitempty" db:"merged_into"`
	CreatedSeq int64     `json:"created_seq" db:"created_seq"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// HasIdentifier reports whether the publication carries a unique key.
func (p *Publication) HasIdentifier() bool { return p.Identifier != "" }

// HasSourceRecord reports whether the given provider record already
// contributed to this publication.
func (p *Publication) HasSourceRecord(sr SourceRecord) bool {
	for _, existing := range p.SourceRecords {
		if existing.Provider == sr.Provider && existing.RawID == sr.RawID {
			return true
		}
	}
	return false
}

// Classified reports whether a category has been assigned.
func (p *Publication) Classified() bool { return p.Category != nil }
