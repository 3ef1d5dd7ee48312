// Package pipeline orchestrates one reconciliation run: provider fetch
// fan-out, sequential normalize/resolve/merge, classification, aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/SpencerPresley/AcademicMetrics/internal/aggregate"
	"github.com/SpencerPresley/AcademicMetrics/internal/fetch"
	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
	"github.com/SpencerPresley/AcademicMetrics/internal/reconcile"
	"github.com/SpencerPresley/AcademicMetrics/internal/store"
)

// maxConsecutiveStoreFailures escalates persistence unavailability from a
// per-record failure to a run-level fatal condition.
const maxConsecutiveStoreFailures = 5

// Store is the persistence collaborator surface the pipeline needs.
type Store interface {
	reconcile.CandidateSource
	GetByID(ctx context.Context, id string) (*pubrecord.Publication, error)
	Upsert(ctx context.Context, pub *pubrecord.Publication) error
	SeenSourceRecord(ctx context.Context, sr pubrecord.SourceRecord) (string, bool, error)
}

// Classifier assigns a category to a canonical publication.
type Classifier interface {
	Classify(ctx context.Context, pub *pubrecord.Publication) (pubrecord.Category, error)
	Failures() int
}

// RunStats summarizes one run.
type RunStats struct {
	RunID                  string        `json:"run_id"`
	RecordsIn              int           `json:"records_in"`
	MalformedSkipped       int           `json:"malformed_skipped"`
	Created                int           `json:"created"`
	Merged                 int           `json:"merged"`
	Fused                  int           `json:"fused"`
	RecordFailures         int           `json:"record_failures"`
	ClassificationFailures int           `json:"classification_failures"`
	Elapsed                time.Duration `json:"elapsed"`
}

// Pipeline wires the collaborators for a run. The reconcile chain is
// sequential and order-sensitive; only the provider fetch side fans out.
type Pipeline struct {
	fetchers   []fetch.Fetcher
	store      Store
	classifier Classifier
	aggregator *aggregate.Aggregator
	registry   *reconcile.Registry
	resolver   *reconcile.Resolver
	logger     *log.Logger
}

// New builds a pipeline. The store may be nil for fully in-memory runs
// (tests); fetchers stream raw records concurrently into the reconcile loop.
func New(fetchers []fetch.Fetcher, st Store, classifier Classifier, aggregator *aggregate.Aggregator, fuzzyThreshold float64) *Pipeline {
	registry := reconcile.NewRegistry()
	var source reconcile.CandidateSource
	if st != nil {
		source = st
	}
	return &Pipeline{
		fetchers:   fetchers,
		store:      st,
		classifier: classifier,
		aggregator: aggregator,
		registry:   registry,
		resolver:   reconcile.NewResolver(registry, source, fuzzyThreshold),
		logger:     log.Default(),
	}
}

// Registry exposes the in-run canonical pool, mainly for export and tests.
func (p *Pipeline) Registry() *reconcile.Registry { return p.registry }

// Run executes one full reconciliation run. Failures local to one record
// never abort the batch; only sustained persistence unavailability does.
func (p *Pipeline) Run(ctx context.Context) (RunStats, error) {
	stats := RunStats{RunID: uuid.NewString()}
	started := time.Now()
	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", stats.RunID))

	// Every return path must release the producers: a fetcher blocked on a
	// full records channel would otherwise outlive the run.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records := make(chan pubrecord.RawRecord, 64)
	g, fetchCtx := errgroup.WithContext(ctx)
	for _, f := range p.fetchers {
		g.Go(func() error {
			return f.Fetch(fetchCtx, records)
		})
	}
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- g.Wait()
		close(records)
	}()

	consecutiveStoreFailures := 0
	for raw := range records {
		if err := ctx.Err(); err != nil {
			// Partially-aggregated state is a valid intermediate; just stop.
			return p.finish(stats, started), err
		}
		stats.RecordsIn++
		err := p.processRecord(ctx, raw, &stats)
		switch {
		case err == nil:
			consecutiveStoreFailures = 0
		case errors.Is(err, reconcile.ErrMalformedRecord):
			stats.MalformedSkipped++
			p.logger.Printf("pipeline skipping malformed record provider=%s err=%v", raw.Provider, err)
		case errors.Is(err, store.ErrUnavailable):
			stats.RecordFailures++
			consecutiveStoreFailures++
			p.logger.Printf("pipeline record failed provider=%s err=%v", raw.Provider, err)
			if consecutiveStoreFailures >= maxConsecutiveStoreFailures {
				return p.finish(stats, started), fmt.Errorf("persistence unavailable for %d consecutive records: %w", consecutiveStoreFailures, err)
			}
		default:
			stats.RecordFailures++
			p.logger.Printf("pipeline record failed provider=%s err=%v", raw.Provider, err)
		}
	}

	if err := <-fetchErr; err != nil && !errors.Is(err, context.Canceled) {
		return p.finish(stats, started), fmt.Errorf("fetch: %w", err)
	}

	// Aggregate by replaying the live canonical set, so entities fused after
	// they were first seen are counted exactly once.
	for _, pub := range p.registry.Live() {
		if err := ctx.Err(); err != nil {
			return p.finish(stats, started), err
		}
		if err := p.classifyAndAggregate(ctx, pub); err != nil {
			stats.RecordFailures++
			p.logger.Printf("pipeline aggregation failed pub=%s err=%v", pub.ID, err)
		}
	}
	return p.finish(stats, started), nil
}

func (p *Pipeline) finish(stats RunStats, started time.Time) RunStats {
	stats.Elapsed = time.Since(started)
	stats.ClassificationFailures = p.classifier.Failures()
	p.logger.Printf("pipeline run=%s in=%d created=%d merged=%d fused=%d malformed=%d failed=%d unclassified=%d elapsed=%s",
		stats.RunID, stats.RecordsIn, stats.Created, stats.Merged, stats.Fused,
		stats.MalformedSkipped, stats.RecordFailures, stats.ClassificationFailures, stats.Elapsed.Round(time.Millisecond))
	return stats
}

// processRecord runs the per-record sequence: normalize -> resolve ->
// merge/create -> persist. Classification and aggregation happen in the
// end-of-run replay.
func (p *Pipeline) processRecord(ctx context.Context, raw pubrecord.RawRecord, stats *RunStats) error {
	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.processRecord")
	defer span.End()
	span.SetAttributes(attribute.String("provider", string(raw.Provider)))

	draft, err := reconcile.Normalize(raw)
	if err != nil {
		return err
	}

	// Re-ingestion prefilter: a provider record seen in an earlier run joins
	// its existing publication without re-resolving. The adopted entity is
	// counted during the end-of-run replay.
	if p.store != nil {
		if pubID, seen, err := p.store.SeenSourceRecord(ctx, draft.Source); err != nil {
			return err
		} else if seen {
			pub, err := p.store.GetByID(ctx, pubID)
			if err != nil {
				return err
			}
			if pub != nil {
				p.registry.Adopt(pub)
				return nil
			}
		}
	}

	existing, dups, matched, err := p.resolver.Resolve(ctx, draft)
	if err != nil {
		return err
	}

	var pub *pubrecord.Publication
	if matched {
		pub = reconcile.MergeDraft(existing, draft)
		stats.Merged++
		// Secondary matches are the same work discovered late; fold them into
		// the winner and tombstone them.
		for _, dup := range dups {
			if _, err := p.registry.Fuse(pub.ID, dup.ID); err != nil {
				return err
			}
			stats.Fused++
			p.logger.Printf("pipeline fused duplicate winner=%s loser=%s", pub.ID, dup.ID)
		}
		if canonical, ok := p.registry.Canonical(pub.ID); ok {
			pub = canonical
		}
	} else {
		pub = p.registry.Add(draft)
		stats.Created++
	}

	if p.store != nil {
		for _, dup := range dups {
			if err := p.store.Upsert(ctx, dup); err != nil {
				return err
			}
		}
		if err := p.store.Upsert(ctx, pub); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) classifyAndAggregate(ctx context.Context, pub *pubrecord.Publication) error {
	if !pub.Classified() {
		cat, err := p.classifier.Classify(ctx, pub)
		if err != nil {
			return fmt.Errorf("classify %s: %w", pub.ID, err)
		}
		pub.Category = &cat
		if p.store != nil {
			if err := p.store.Upsert(ctx, pub); err != nil {
				return err
			}
		}
	}
	return p.aggregator.Fold(ctx, pub)
}
