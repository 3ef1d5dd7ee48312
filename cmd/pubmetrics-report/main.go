package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/SpencerPresley/AcademicMetrics/internal/aggregate"
	"github.com/SpencerPresley/AcademicMetrics/internal/config"
	"github.com/SpencerPresley/AcademicMetrics/internal/report"
	"github.com/SpencerPresley/AcademicMetrics/internal/store"
)

func main() {
	configPath := flag.String("config", "pubmetrics.yaml", "Path to pipeline config")
	runID := flag.String("run", "", "Run ID to report on (default: latest)")
	format := flag.String("format", "md", "Output format: md, html, csv, pdf")
	outPath := flag.String("out", "", "Output file (default: stdout; required for pdf)")
	chromePath := flag.String("chrome", "", "Chromium binary for pdf output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	id := *runID
	if id == "" {
		id, err = st.LatestRunID(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if id == "" {
			log.Fatal("no runs recorded; run pubmetrics first")
		}
	}

	rep := &report.Report{RunID: id, GeneratedAt: time.Now()}
	rep.Authors, err = loadSnapshots(ctx, st, id, "author")
	if err != nil {
		log.Fatal(err)
	}
	rep.Departments, err = loadSnapshots(ctx, st, id, "department")
	if err != nil {
		log.Fatal(err)
	}

	out := os.Stdout
	if *outPath != "" {
		out, err = os.Create(*outPath)
		if err != nil {
			log.Fatal(err)
		}
		defer out.Close()
	}

	switch *format {
	case "md":
		if _, err := out.WriteString(rep.Markdown()); err != nil {
			log.Fatal(err)
		}
	case "html":
		doc, err := rep.HTML()
		if err != nil {
			log.Fatal(err)
		}
		if _, err := out.WriteString(doc); err != nil {
			log.Fatal(err)
		}
	case "csv":
		if err := rep.WriteCSV(out); err != nil {
			log.Fatal(err)
		}
	case "pdf":
		if *outPath == "" {
			log.Fatal("-out is required for pdf output")
		}
		pdf, err := report.NewChromiumPDFRenderer(*chromePath).Render(ctx, rep)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := out.Write(pdf); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown format %q", *format)
	}
}

func loadSnapshots(ctx context.Context, st *store.SQLiteStore, runID, kind string) ([]aggregate.Snapshot, error) {
	rows, err := st.LoadSnapshots(ctx, runID, kind)
	if err != nil {
		return nil, err
	}
	out := make([]aggregate.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap := aggregate.Snapshot{Key: row.Key, ByCategory: map[string]aggregate.CategoryMetrics{}}
		if err := json.Unmarshal([]byte(row.Metrics), &snap.ByCategory); err != nil {
			log.Printf("skipping unreadable snapshot key=%q: %v", row.Key, err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}
