package reconcile

import "github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"

// MergeDraft folds a draft confirmed as the same work into an existing
// canonical publication. The field policy is deterministic and, for authors
// and citation counts, commutative across arrival order:
//
//   - identifier: keep existing if present; adopt the draft's only when the
//     existing one is absent. Adoption is one-directional and permanent.
//   - citation_count: max(existing, new); citation counts only grow.
//   - authors: union by normalized name, first-seen order preserved.
//   - source_records: set union, append only.
//   - title/venue/year: first-seen wins.
//
// Persistence is the caller's responsibility.
func MergeDraft(existing *pubrecord.Publication, d pubrecord.Draft) *pubrecord.Publication {
	mergeInto(existing, d)
	if d.Source.RawID != "" && !existing.HasSourceRecord(d.Source) {
		existing.SourceRecords = append(existing.SourceRecords, d.Source)
	}
	return existing
}

func mergeInto(existing *pubrecord.Publication, d pubrecord.Draft) {
	if existing.Identifier == "" && d.Identifier != "" {
		existing.Identifier = d.Identifier
	}
	if d.CitationCount > existing.CitationCount {
		existing.CitationCount = d.CitationCount
	}
	existing.Authors = unionAuthors(existing.Authors, d.Authors)
	if existing.AbstractHint == "" && d.AbstractHint != "" {
		existing.AbstractHint = d.AbstractHint
	}
}

func unionAuthors(existing, incoming []pubrecord.Author) []pubrecord.Author {
	seen := make(map[string]int, len(existing))
	for i, a := range existing {
		seen[NormalizeName(a.Name)] = i
	}
	for _, a := range incoming {
		key := NormalizeName(a.Name)
		if key == "" {
			continue
		}
		if idx, ok := seen[key]; ok {
			// Backfill an affiliation the first sighting lacked.
			if existing[idx].Affiliation == "" && a.Affiliation != "" {
				existing[idx].Affiliation = a.Affiliation
			}
			continue
		}
		seen[key] = len(existing)
		existing = append(existing, a)
	}
	return existing
}
