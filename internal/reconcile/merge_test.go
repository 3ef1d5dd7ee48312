package reconcile

import (
	"testing"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

func basePub() *pubrecord.Publication {
	return &pubrecord.Publication{
		ID:            "pub-1",
		Identifier:    "10.1/x",
		Title:         "Foo Bar",
		Venue:         "J Foo",
		Year:          2020,
		Authors:       []pubrecord.Author{{Name: "J. Smith"}},
		CitationCount: 5,
		SourceRecords: []pubrecord.SourceRecord{{Provider: pubrecord.ProviderCrossref, RawID: "10.1/x"}},
	}
}

func TestMergeDraftFieldPolicy(t *testing.T) {
	pub := basePub()
	MergeDraft(pub, pubrecord.Draft{
		Title:         "Foo Bar (Preprint)",
		Venue:         "Other Venue",
		Year:          2021,
		Authors:       []pubrecord.Author{{Name: "J. Smith"}, {Name: "A. Lee"}},
		CitationCount: 8,
		Source:        pubrecord.SourceRecord{Provider: pubrecord.ProviderCiteIndex, RawID: "WOS:1"},
	})

	if pub.Title != "Foo Bar" || pub.Venue != "J Foo" || pub.Year != 2020 {
		t.Fatalf("first-seen fields changed: %+v", pub)
	}
	if pub.CitationCount != 8 {
		t.Fatalf("citation count = %d, want max 8", pub.CitationCount)
	}
	if len(pub.Authors) != 2 || pub.Authors[0].Name != "J. Smith" || pub.Authors[1].Name != "A. Lee" {
		t.Fatalf("author union wrong: %+v", pub.Authors)
	}
	if len(pub.SourceRecords) != 2 {
		t.Fatalf("source records = %+v", pub.SourceRecords)
	}
}

func TestMergeIdentifierPermanence(t *testing.T) {
	pub := basePub()
	MergeDraft(pub, pubrecord.Draft{Identifier: "10.9/other", CitationCount: 1})
	if pub.Identifier != "10.1/x" {
		t.Fatalf("identifier changed to %q", pub.Identifier)
	}

	noID := basePub()
	noID.Identifier = ""
	MergeDraft(noID, pubrecord.Draft{Identifier: "10.9/other"})
	if noID.Identifier != "10.9/other" {
		t.Fatalf("absent identifier not adopted: %q", noID.Identifier)
	}
	MergeDraft(noID, pubrecord.Draft{Identifier: "10.5/third"})
	if noID.Identifier != "10.9/other" {
		t.Fatalf("adopted identifier changed: %q", noID.Identifier)
	}
}

func TestMergeCommutativity(t *testing.T) {
	draftA := pubrecord.Draft{
		Authors:       []pubrecord.Author{{Name: "J. Smith"}, {Name: "B. Jones"}},
		CitationCount: 3,
		Source:        pubrecord.SourceRecord{Provider: pubrecord.ProviderCrossref, RawID: "a"},
	}
	draftB := pubrecord.Draft{
		Authors:       []pubrecord.Author{{Name: "A. Lee"}},
		CitationCount: 9,
		Source:        pubrecord.SourceRecord{Provider: pubrecord.ProviderCiteIndex, RawID: "b"},
	}

	ab := basePub()
	MergeDraft(ab, draftA)
	MergeDraft(ab, draftB)

	ba := basePub()
	MergeDraft(ba, draftB)
	MergeDraft(ba, draftA)

	if ab.CitationCount != ba.CitationCount || ab.CitationCount != 9 {
		t.Fatalf("citation counts differ: %d vs %d", ab.CitationCount, ba.CitationCount)
	}
	if !sameAuthorSet(ab.Authors, ba.Authors) {
		t.Fatalf("author sets differ: %+v vs %+v", ab.Authors, ba.Authors)
	}
	if len(ab.SourceRecords) != 3 || len(ba.SourceRecords) != 3 {
		t.Fatalf("source record unions differ: %d vs %d", len(ab.SourceRecords), len(ba.SourceRecords))
	}
}

func TestMergeAuthorUnionAcrossNameOrder(t *testing.T) {
	pub := basePub()
	MergeDraft(pub, pubrecord.Draft{
		Authors: []pubrecord.Author{{Name: "Smith, J.", Affiliation: "Dept Biol"}},
	})
	if len(pub.Authors) != 1 {
		t.Fatalf("surname-first variant not unioned: %+v", pub.Authors)
	}
	if pub.Authors[0].Affiliation != "Dept Biol" {
		t.Fatalf("affiliation not backfilled: %+v", pub.Authors[0])
	}
}

func sameAuthorSet(a, b []pubrecord.Author) bool {
	if len(a) != len(b) {
		return false
	}
	set := map[string]struct{}{}
	for _, x := range a {
		set[NormalizeName(x.Name)] = struct{}{}
	}
	for _, y := range b {
		if _, ok := set[NormalizeName(y.Name)]; !ok {
			return false
		}
	}
	return true
}
