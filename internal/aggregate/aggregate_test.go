package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

func classified(id, label string, citations int, authors ...pubrecord.Author) *pubrecord.Publication {
	return &pubrecord.Publication{
		ID:            id,
		Title:         "T " + id,
		Year:          2020,
		Authors:       authors,
		CitationCount: citations,
		Category:      &pubrecord.Category{Label: label, Confidence: 0.9},
	}
}

func TestFoldAuthorAndDepartmentTotals(t *testing.T) {
	dir := StaticDirectory{"Dept of Chemistry": "chemistry", "Dept of Biology": "biology"}
	g := NewAggregator(dir)
	ctx := context.Background()

	p1 := classified("p1", "physical-sciences", 5,
		pubrecord.Author{Name: "Jane Smith", Affiliation: "Dept of Chemistry"},
		pubrecord.Author{Name: "A. Lee", Affiliation: "Dept of Biology"},
	)
	p2 := classified("p2", "physical-sciences", 3,
		pubrecord.Author{Name: "Jane Smith", Affiliation: "Dept of Chemistry"},
	)
	if err := g.Fold(ctx, p1); err != nil {
		t.Fatalf("Fold p1: %v", err)
	}
	if err := g.Fold(ctx, p2); err != nil {
		t.Fatalf("Fold p2: %v", err)
	}

	authors := g.AuthorSnapshots()
	if len(authors) != 2 {
		t.Fatalf("author snapshots = %+v", authors)
	}
	var smith Snapshot
	for _, s := range authors {
		if s.Key == "Jane Smith" {
			smith = s
		}
	}
	got := smith.ByCategory["physical-sciences"]
	if got.PublicationCount != 2 || got.CitationSum != 8 {
		t.Fatalf("smith metrics = %+v", got)
	}

	depts := g.DepartmentSnapshots()
	if len(depts) != 2 {
		t.Fatalf("department snapshots = %+v", depts)
	}
	for _, s := range depts {
		m := s.ByCategory["physical-sciences"]
		switch s.Key {
		case "chemistry":
			if m.PublicationCount != 2 || m.CitationSum != 8 {
				t.Fatalf("chemistry = %+v", m)
			}
		case "biology":
			if m.PublicationCount != 1 || m.CitationSum != 5 {
				t.Fatalf("biology = %+v", m)
			}
		default:
			t.Fatalf("unexpected department %q", s.Key)
		}
	}
}

func TestFoldIsIdempotentPerPublication(t *testing.T) {
	g := NewAggregator(StaticDirectory{})
	ctx := context.Background()
	pub := classified("p1", "engineering", 4, pubrecord.Author{Name: "A. Lee"})

	for i := 0; i < 3; i++ {
		if err := g.Fold(ctx, pub); err != nil {
			t.Fatalf("Fold: %v", err)
		}
	}
	authors := g.AuthorSnapshots()
	if len(authors) != 1 {
		t.Fatalf("snapshots = %+v", authors)
	}
	m := authors[0].ByCategory["engineering"]
	if m.PublicationCount != 1 || m.CitationSum != 4 {
		t.Fatalf("double-counted: %+v", m)
	}
}

func TestFoldUnresolvedAffiliationBucketsUnassigned(t *testing.T) {
	g := NewAggregator(StaticDirectory{})
	ctx := context.Background()
	pub := classified("p1", "arts", 2,
		pubrecord.Author{Name: "A. Lee", Affiliation: "Unknown Institute"},
		pubrecord.Author{Name: "B. Jones"},
	)
	if err := g.Fold(ctx, pub); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	depts := g.DepartmentSnapshots()
	if len(depts) != 1 || depts[0].Key != DepartmentUnassigned {
		t.Fatalf("departments = %+v", depts)
	}
	m := depts[0].ByCategory["arts"]
	if m.PublicationCount != 1 || m.CitationSum != 2 {
		t.Fatalf("unassigned counted per publication, not per author: %+v", m)
	}
}

func TestFoldUnclassifiedSentinel(t *testing.T) {
	g := NewAggregator(StaticDirectory{})
	pub := &pubrecord.Publication{
		ID:            "p1",
		Authors:       []pubrecord.Author{{Name: "A. Lee"}},
		CitationCount: 1,
	}
	if err := g.Fold(context.Background(), pub); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	m := g.AuthorSnapshots()[0].ByCategory[pubrecord.LabelUnclassified]
	if m.PublicationCount != 1 {
		t.Fatalf("unclassified bucket = %+v", m)
	}
}

func TestFoldCollapsesAuthorNameVariations(t *testing.T) {
	g := NewAggregator(StaticDirectory{})
	ctx := context.Background()

	if err := g.Fold(ctx, classified("p1", "education", 1, pubrecord.Author{Name: "J. Smith"})); err != nil {
		t.Fatalf("Fold p1: %v", err)
	}
	if err := g.Fold(ctx, classified("p2", "education", 2, pubrecord.Author{Name: "Smith, John"})); err != nil {
		t.Fatalf("Fold p2: %v", err)
	}

	authors := g.AuthorSnapshots()
	if len(authors) != 1 {
		t.Fatalf("variations split the author: %+v", authors)
	}
	if authors[0].Key != "John Smith" {
		t.Fatalf("display form = %q, want longest variation", authors[0].Key)
	}
	m := authors[0].ByCategory["education"]
	if m.PublicationCount != 2 || m.CitationSum != 3 {
		t.Fatalf("metrics = %+v", m)
	}
}

type failingDirectory struct{ err error }

func (d failingDirectory) ResolveDepartment(context.Context, string) (string, bool, error) {
	return "", false, d.err
}

func TestFoldPropagatesDirectoryError(t *testing.T) {
	wantErr := errors.New("directory offline")
	g := NewAggregator(failingDirectory{err: wantErr})
	pub := classified("p1", "arts", 1, pubrecord.Author{Name: "A. Lee", Affiliation: "Somewhere"})
	if err := g.Fold(context.Background(), pub); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
