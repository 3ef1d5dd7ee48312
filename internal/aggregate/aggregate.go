// Package aggregate folds classified publications into per-author and
// per-department metric accumulators.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// DepartmentUnassigned buckets publications whose author affiliations the
// directory cannot resolve. They are counted, never dropped.
const DepartmentUnassigned = "unassigned"

// Directory resolves an author affiliation string to a department id.
type Directory interface {
	ResolveDepartment(ctx context.Context, affiliation string) (string, bool, error)
}

// StaticDirectory resolves departments from a fixed affiliation-substring
// table, the common deployment shape for a single institution.
type StaticDirectory map[string]string

func (d StaticDirectory) ResolveDepartment(_ context.Context, affiliation string) (string, bool, error) {
	dept, ok := d[affiliation]
	return dept, ok, nil
}

// CategoryMetrics is one accumulator cell: totals for a single category.
type CategoryMetrics struct {
	PublicationCount int `json:"publication_count"`
	CitationSum      int `json:"citation_sum"`
}

// Accumulator tracks running totals for one author or department key.
// Mutation is monotonic increment only; rebuilds happen by replaying the
// canonical set, never by in-place recomputation.
type Accumulator struct {
	Key        string                     `json:"key"`
	ByCategory map[string]CategoryMetrics `json:"by_category"`
	folded     map[string]struct{}
}

func newAccumulator(key string) *Accumulator {
	return &Accumulator{
		Key:        key,
		ByCategory: map[string]CategoryMetrics{},
		folded:     map[string]struct{}{},
	}
}

// fold applies one publication. The folded set keys on the publication's
// canonical id so re-processing the same entity never double-counts.
func (a *Accumulator) fold(pubID, label string, citations int) bool {
	if _, done := a.folded[pubID]; done {
		return false
	}
	a.folded[pubID] = struct{}{}
	m := a.ByCategory[label]
	m.PublicationCount++
	m.CitationSum += citations
	a.ByCategory[label] = m
	return true
}

// Snapshot is an exportable copy of one accumulator.
type Snapshot struct {
	Key        string                     `json:"key"`
	ByCategory map[string]CategoryMetrics `json:"by_category"`
}

// Aggregator owns the accumulator maps for one reporting run. Writes
// serialize on a single mutex; accumulators are created lazily per key.
type Aggregator struct {
	mu          sync.Mutex
	directory   Directory
	authors     map[string]*Accumulator
	departments map[string]*Accumulator
	canon       *NameCanon
}

// NewAggregator builds an aggregator over the given directory collaborator.
func NewAggregator(directory Directory) *Aggregator {
	return &Aggregator{
		directory:   directory,
		authors:     map[string]*Accumulator{},
		departments: map[string]*Accumulator{},
		canon:       NewNameCanon(),
	}
}

// Fold increments each author's and each inferred department's accumulator
// for the publication's category. A publication without an assigned category
// folds under the unclassified sentinel. Folding the same publication twice
// is a no-op.
func (g *Aggregator) Fold(ctx context.Context, pub *pubrecord.Publication) error {
	label := pubrecord.LabelUnclassified
	if pub.Category != nil {
		label = pub.Category.Label
	}

	// Resolve departments before taking the lock; the directory may block.
	departments := map[string]struct{}{}
	for _, author := range pub.Authors {
		dept := DepartmentUnassigned
		if author.Affiliation != "" {
			resolved, ok, err := g.directory.ResolveDepartment(ctx, author.Affiliation)
			if err != nil {
				return fmt.Errorf("resolve department for %q: %w", author.Affiliation, err)
			}
			if ok {
				dept = resolved
			}
		}
		departments[dept] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, author := range pub.Authors {
		key := nameKey(author.Name)
		if key == "" {
			continue
		}
		display := g.canon.Canonical(author.Name)
		acc, ok := g.authors[key]
		if !ok {
			acc = newAccumulator(display)
			g.authors[key] = acc
		}
		// A longer variation of the same name upgrades the display form.
		acc.Key = display
		acc.fold(pub.ID, label, pub.CitationCount)
	}
	for dept := range departments {
		acc, ok := g.departments[dept]
		if !ok {
			acc = newAccumulator(dept)
			g.departments[dept] = acc
		}
		acc.fold(pub.ID, label, pub.CitationCount)
	}
	return nil
}

// AuthorSnapshots returns per-author totals sorted by key.
func (g *Aggregator) AuthorSnapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return snapshots(g.authors)
}

// DepartmentSnapshots returns per-department totals sorted by key.
func (g *Aggregator) DepartmentSnapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return snapshots(g.departments)
}

func snapshots(m map[string]*Accumulator) []Snapshot {
	out := make([]Snapshot, 0, len(m))
	for _, acc := range m {
		copied := make(map[string]CategoryMetrics, len(acc.ByCategory))
		for k, v := range acc.ByCategory {
			copied[k] = v
		}
		out = append(out, Snapshot{Key: acc.Key, ByCategory: copied})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
