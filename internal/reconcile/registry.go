package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// Registry holds the in-run canonical candidate pool. Entities are never
// deleted: when two canonical entities are later found to be the same work,
// the loser is retired in place and forwards to the winner, so references
// held by downstream consumers stay resolvable.
//
// All methods are safe for concurrent use; writes serialize on one mutex so
// the resolver always sees a monotonically-growing pool.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*pubrecord.Publication
	forward map[string]string // retired id -> surviving id
	nextSeq int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: map[string]*pubrecord.Publication{},
		forward: map[string]string{},
	}
}

// Add inserts a publication created from a draft and returns it. The entity
// receives a fresh id and the next creation sequence number.
func (r *Registry) Add(d pubrecord.Draft) *pubrecord.Publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	pub := &pubrecord.Publication{
		ID:            uuid.NewString(),
		Identifier:    d.Identifier,
		Title:         d.Title,
		Venue:         d.Venue,
		Year:          d.Year,
		Authors:       append([]pubrecord.Author(nil), d.Authors...),
		CitationCount: d.CitationCount,
		AbstractHint:  d.AbstractHint,
		SourceRecords: []pubrecord.SourceRecord{d.Source},
		CreatedSeq:    r.nextSeq,
		CreatedAt:     time.Now().UTC(),
	}
	r.entries[pub.ID] = pub
	return pub
}

// Adopt inserts an already-persisted publication loaded from the store,
// keeping its id and sequence number. Later Add calls continue after the
// highest adopted sequence.
func (r *Registry) Adopt(pub *pubrecord.Publication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[pub.ID]; ok {
		return
	}
	r.entries[pub.ID] = pub
	if pub.Retired && pub.MergedInto != "" {
		r.forward[pub.ID] = pub.MergedInto
	}
	if pub.CreatedSeq > r.nextSeq {
		r.nextSeq = pub.CreatedSeq
	}
}

// Canonical follows retirement pointers from id to the current canonical
// entity. It returns false if the id is unknown.
func (r *Registry) Canonical(id string) (*pubrecord.Publication, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canonicalLocked(id)
}

func (r *Registry) canonicalLocked(id string) (*pubrecord.Publication, bool) {
	seen := 0
	for {
		if next, ok := r.forward[id]; ok {
			id = next
			seen++
			if seen > len(r.forward)+1 {
				return nil, false
			}
			continue
		}
		pub, ok := r.entries[id]
		return pub, ok
	}
}

// Live returns the non-retired entities. Order is not guaranteed.
func (r *Registry) Live() []*pubrecord.Publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pubrecord.Publication, 0, len(r.entries))
	for _, pub := range r.entries {
		if !pub.Retired {
			out = append(out, pub)
		}
	}
	return out
}

// Fuse merges loser into winner after a late duplicate discovery. The loser
// is tombstoned and forwards to the winner; its fields fold into the winner
// under the standard merge policy. Fuse is a no-op if both ids already
// resolve to the same canonical entity.
func (r *Registry) Fuse(winnerID, loserID string) (*pubrecord.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	winner, ok := r.canonicalLocked(winnerID)
	if !ok {
		return nil, fmt.Errorf("fuse: unknown winner %s", winnerID)
	}
	loser, ok := r.canonicalLocked(loserID)
	if !ok {
		return nil, fmt.Errorf("fuse: unknown loser %s", loserID)
	}
	if winner.ID == loser.ID {
		return winner, nil
	}
	mergeInto(winner, draftFromPublication(loser))
	for _, sr := range loser.SourceRecords {
		if !winner.HasSourceRecord(sr) {
			winner.SourceRecords = append(winner.SourceRecords, sr)
		}
	}
	loser.Retired = true
	loser.MergedInto = winner.ID
	r.forward[loser.ID] = winner.ID
	return winner, nil
}

func draftFromPublication(p *pubrecord.Publication) pubrecord.Draft {
	d := pubrecord.Draft{
		Identifier:    p.Identifier,
		Title:         p.Title,
		Venue:         p.Venue,
		Year:          p.Year,
		Authors:       p.Authors,
		CitationCount: p.CitationCount,
		AbstractHint:  p.AbstractHint,
	}
	if len(p.SourceRecords) > 0 {
		d.Source = p.SourceRecords[0]
	}
	return d
}
