package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/SpencerPresley/AcademicMetrics/internal/aggregate"
	"github.com/SpencerPresley/AcademicMetrics/internal/classify"
	"github.com/SpencerPresley/AcademicMetrics/internal/config"
	"github.com/SpencerPresley/AcademicMetrics/internal/fetch"
	"github.com/SpencerPresley/AcademicMetrics/internal/pipeline"
	"github.com/SpencerPresley/AcademicMetrics/internal/store"
	"github.com/SpencerPresley/AcademicMetrics/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "pubmetrics.yaml", "Path to pipeline config")
	dbPath := flag.String("db", "", "Override configured database path")
	flag.Parse()

	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, "pubmetrics", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	caller, err := classify.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	classifier := classify.NewClassifier(caller, st, classify.Config{
		Attempts:        cfg.Classifier.Attempts,
		ConfidenceFloor: cfg.Classifier.ConfidenceFloor,
	})

	var fetchers []fetch.Fetcher
	if cfg.Crossref.Affiliation != "" {
		cf, err := fetch.NewCrossrefFetcher(fetch.CrossrefConfig{
			Affiliation: cfg.Crossref.Affiliation,
			Mailto:      cfg.Crossref.Mailto,
			FromYear:    cfg.Crossref.FromYear,
			ToYear:      cfg.Crossref.ToYear,
			Rows:        cfg.Crossref.Rows,
		})
		if err != nil {
			log.Fatal(err)
		}
		fetchers = append(fetchers, cf)
	}
	if cfg.CiteIndex.SearchURL != "" {
		ci, err := fetch.NewCiteIndexFetcher(fetch.CiteIndexConfig{
			SearchURL: cfg.CiteIndex.SearchURL,
			MaxPages:  cfg.CiteIndex.MaxPages,
		})
		if err != nil {
			log.Fatal(err)
		}
		fetchers = append(fetchers, ci)
	}
	if len(fetchers) == 0 {
		log.Fatal("no providers configured: set crossref.affiliation and/or cite_index.search_url")
	}

	aggregator := aggregate.NewAggregator(aggregate.StaticDirectory(cfg.Departments))
	p := pipeline.New(fetchers, st, classifier, aggregator, cfg.Resolver.FuzzyThreshold)

	stats, err := p.Run(ctx)
	if err != nil {
		log.Fatalf("run %s failed: %v", stats.RunID, err)
	}

	for _, snap := range aggregator.AuthorSnapshots() {
		if err := st.SaveSnapshot(ctx, stats.RunID, "author", snap.Key, snap.ByCategory); err != nil {
			log.Fatalf("saving author snapshot %q: %v", snap.Key, err)
		}
	}
	for _, snap := range aggregator.DepartmentSnapshots() {
		if err := st.SaveSnapshot(ctx, stats.RunID, "department", snap.Key, snap.ByCategory); err != nil {
			log.Fatalf("saving department snapshot %q: %v", snap.Key, err)
		}
	}
	log.Printf("run %s complete: %d records in, %d created, %d merged", stats.RunID, stats.RecordsIn, stats.Created, stats.Merged)
}
