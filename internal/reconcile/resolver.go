package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// DefaultFuzzyThreshold is the tier-3 title similarity floor. Tunable via
// config; 0.90 keeps near-identical titles together without joining sequels.
const DefaultFuzzyThreshold = 0.90

// CandidateSource is the persistence prefilter consulted alongside the
// in-run registry. Implementations return previously persisted publications
// in a year window.
type CandidateSource interface {
	GetByIdentifier(ctx context.Context, identifier string) (*pubrecord.Publication, error)
	QueryCandidates(ctx context.Context, yearLo, yearHi int) ([]*pubrecord.Publication, error)
}

// Resolver decides whether a draft refers to an already-known publication.
type Resolver struct {
	registry  *Registry
	source    CandidateSource
	threshold float64
}

// NewResolver builds a resolver over the in-run registry and an optional
// persisted candidate source (nil disables the prefilter). A non-positive
// threshold falls back to DefaultFuzzyThreshold.
func NewResolver(registry *Registry, source CandidateSource, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Resolver{registry: registry, source: source, threshold: threshold}
}

// matchCandidate is ephemeral scoring state, discarded after the decision.
type matchCandidate struct {
	pub   *pubrecord.Publication
	tier  int
	score float64
}

// Resolve returns the existing canonical publication the draft refers to, or
// (nil, nil, false) to signal that a new entity should be created.
//
// Tiers, lower wins:
//  1. identifier exact equality
//  2. normalized-title exact equality, >=1 author overlap, year equality
//  3. title similarity >= threshold, |year delta| <= 1, >=1 surname overlap
//
// Ties inside a tier resolve to the highest similarity score, then the
// earliest-created candidate, so resolution is reproducible.
//
// When the draft matches more than one pooled entity, those entities are
// transitively the same work: the best match is returned first and the rest
// come back as duplicates for the caller to fuse.
func (r *Resolver) Resolve(ctx context.Context, d pubrecord.Draft) (*pubrecord.Publication, []*pubrecord.Publication, bool, error) {
	pool, err := r.pool(ctx, d)
	if err != nil {
		return nil, nil, false, err
	}

	var candidates []matchCandidate
	seen := map[string]struct{}{}
	add := func(pub *pubrecord.Publication, tier int, score float64) {
		if _, dup := seen[pub.ID]; dup {
			return
		}
		seen[pub.ID] = struct{}{}
		candidates = append(candidates, matchCandidate{pub: pub, tier: tier, score: score})
	}

	if d.Identifier != "" {
		for _, pub := range pool {
			if pub.Identifier == d.Identifier {
				add(pub, 1, 1)
			}
		}
	}

	if title := NormalizeTitle(d.Title); title != "" {
		for _, pub := range pool {
			if _, dup := seen[pub.ID]; dup {
				continue
			}
			pubTitle := NormalizeTitle(pub.Title)
			if pubTitle == title && pub.Year == d.Year && namesOverlap(d.Authors, pub.Authors) {
				add(pub, 2, 1)
				continue
			}
			if yearDelta(pub.Year, d.Year) <= 1 && surnamesOverlap(d.Authors, pub.Authors) {
				if score := TitleSimilarity(title, pubTitle); score >= r.threshold {
					add(pub, 3, score)
				}
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].tier != candidates[j].tier {
			return candidates[i].tier < candidates[j].tier
		}
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pub.CreatedSeq < candidates[j].pub.CreatedSeq
	})
	var dups []*pubrecord.Publication
	for _, c := range candidates[1:] {
		dups = append(dups, c.pub)
	}
	return candidates[0].pub, dups, true, nil
}

// pool assembles the candidate set: every live in-run entity plus persisted
// entities within year +/- 1, adopted into the registry so later drafts see
// them without another store round trip.
func (r *Resolver) pool(ctx context.Context, d pubrecord.Draft) ([]*pubrecord.Publication, error) {
	if r.source != nil {
		if d.Identifier != "" {
			pub, err := r.source.GetByIdentifier(ctx, d.Identifier)
			if err != nil {
				return nil, fmt.Errorf("candidate lookup: %w", err)
			}
			if pub != nil {
				r.registry.Adopt(pub)
			}
		}
		if d.Year != 0 {
			persisted, err := r.source.QueryCandidates(ctx, d.Year-1, d.Year+1)
			if err != nil {
				return nil, fmt.Errorf("candidate query: %w", err)
			}
			for _, pub := range persisted {
				r.registry.Adopt(pub)
			}
		}
	}
	return r.registry.Live(), nil
}

func namesOverlap(as []pubrecord.Author, bs []pubrecord.Author) bool {
	seen := make(map[string]struct{}, len(as))
	for _, a := range as {
		if key := NormalizeName(a.Name); key != "" {
			seen[key] = struct{}{}
		}
	}
	for _, b := range bs {
		if _, ok := seen[NormalizeName(b.Name)]; ok {
			return true
		}
	}
	return false
}

func surnamesOverlap(as []pubrecord.Author, bs []pubrecord.Author) bool {
	seen := make(map[string]struct{}, len(as))
	for _, a := range as {
		if key := Surname(a.Name); key != "" {
			seen[key] = struct{}{}
		}
	}
	for _, b := range bs {
		if _, ok := seen[Surname(b.Name)]; ok {
			return true
		}
	}
	return false
}

func yearDelta(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
