// Package domain contains the core types for the publications pipeline:
// bibliographic records, their AI enrichment, the shared cache document,
// and the error taxonomy used across components.
package domain

import (
	"sort"
	"strings"
	"time"
)

// Publication is a single bibliographic record harvested from the
// literature database. A record is immutable once fetched except for its
// Enrichment sub-record, which may be (re)written independently.
type Publication struct {
	// PMID is the literature-database identifier and the unique key for
	// the record throughout the pipeline.
	PMID string `json:"pmid"`

	// Title is the article title as reported by the literature database.
	Title string `json:"title"`

	// Authors is the ordered author-name list.
	Authors []string `json:"authors,omitempty"`

	// Journal is the journal or source name.
	Journal string `json:"journal,omitempty"`

	// Year is the resolved publication year (0 when unknown).
	Year int `json:"year"`

	// Month is the resolved publication month, 1-12 (0 when unknown).
	Month int `json:"month,omitempty"`

	// MonthName is the English month name for Month, empty when unknown.
	MonthName string `json:"month_name,omitempty"`

	// PublishedAt is the canonical ISO-8601 timestamp resolved from the
	// record's heterogeneous date fields. Empty when no date resolved.
	PublishedAt string `json:"published_at,omitempty"`

	// Abstract is the full abstract text; may be empty when the full-text
	// retrieval for the record's chunk failed or the record has none.
	Abstract string `json:"abstract,omitempty"`

	// DOI is the digital object identifier, when present.
	DOI string `json:"doi,omitempty"`

	// URL is a persistent link to the record.
	URL string `json:"url,omitempty"`

	// Enrichment is the AI-generated summary and classification.
	Enrichment Enrichment `json:"enrichment"`

	// FetchedAt records when the pipeline retrieved the record.
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Enrichment is the AI-generated sub-record attached to a publication.
type Enrichment struct {
	// LaySummary is the 2-3 sentence plain-language summary. Empty means
	// no enrichment is available (yet).
	LaySummary string `json:"lay_summary,omitempty"`

	// Topics are taxonomy tags from the topics vocabulary.
	Topics []string `json:"topics,omitempty"`

	// StudyDesign are taxonomy tags from the study-design vocabulary.
	StudyDesign []string `json:"study_design,omitempty"`

	// MethodologicalFocus are taxonomy tags from the methodological-focus
	// vocabulary.
	MethodologicalFocus []string `json:"methodological_focus,omitempty"`

	// Exclude marks the record as omitted from all downstream displays.
	// Excluded records stay in the cache.
	Exclude bool `json:"exclude"`
}

// HasSummary reports whether the publication carries a lay summary.
func (e Enrichment) HasSummary() bool {
	return strings.TrimSpace(e.LaySummary) != ""
}

// IsClassified reports whether any taxonomy tags are present.
func (e Enrichment) IsClassified() bool {
	return len(e.Topics) > 0 || len(e.StudyDesign) > 0 || len(e.MethodologicalFocus) > 0
}

// Researcher identifies one investigator whose publications are harvested.
type Researcher struct {
	// ID is the stable researcher identifier used in provenance.
	ID string `json:"id"`

	// Name is the display name, informational only.
	Name string `json:"name,omitempty"`

	// Query is the literature-database boolean query string for this
	// researcher (e.g. `Smith J[Author] AND kidney[Title/Abstract]`).
	Query string `json:"query"`
}

// ProvenanceMap relates a record identifier to the set of researcher IDs
// whose query matched that record. Value sets are unions; order carries no
// meaning.
type ProvenanceMap map[string][]string

// Add unions researcherID into the set for pmid.
func (p ProvenanceMap) Add(pmid, researcherID string) {
	for _, id := range p[pmid] {
		if id == researcherID {
			return
		}
	}
	p[pmid] = append(p[pmid], researcherID)
}

// Merge unions all entries of other into p.
func (p ProvenanceMap) Merge(other ProvenanceMap) {
	for pmid, ids := range other {
		for _, id := range ids {
			p.Add(pmid, id)
		}
	}
}

// Normalize sorts and de-duplicates every value set in place. Useful after
// materializing from the store, where appends may have introduced
// duplicates.
func (p ProvenanceMap) Normalize() {
	for pmid, ids := range p {
		seen := make(map[string]struct{}, len(ids))
		out := ids[:0]
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		sort.Strings(out)
		p[pmid] = out
	}
}
