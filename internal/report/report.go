// Package report renders aggregated metrics for export: markdown, HTML via
// goldmark, CSV tables, and Chromium-printed PDF.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/SpencerPresley/AcademicMetrics/internal/aggregate"
)

// Report bundles the snapshots for one reporting run.
type Report struct {
	RunID       string
	GeneratedAt time.Time
	Authors     []aggregate.Snapshot
	Departments []aggregate.Snapshot
}

// Markdown renders the report as a GFM document with one table per entity
// kind plus a category roll-up.
func (r *Report) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Scholarly Output Metrics\n\n")
	fmt.Fprintf(&sb, "Run `%s`, generated %s.\n\n", r.RunID, r.GeneratedAt.Format("2006-01-02 15:04 MST"))

	sb.WriteString("## Category Totals\n\n")
	writeMarkdownTable(&sb, "Category", rollUp(r.Departments))

	sb.WriteString("## Departments\n\n")
	writeSnapshotSection(&sb, r.Departments)

	sb.WriteString("## Authors\n\n")
	writeSnapshotSection(&sb, r.Authors)
	return sb.String()
}

// HTML converts the markdown rendering to a standalone HTML document.
func (r *Report) HTML() (string, error) {
	var body strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(r.Markdown()), &body); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Scholarly Output Metrics</title>" +
		"<style>" + styleCSS + "</style></head><body><main>" + body.String() + "</main></body></html>", nil
}

// WriteCSV emits one flat table: kind, key, category, publications, citations.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"kind", "key", "category", "publication_count", "citation_sum"}); err != nil {
		return err
	}
	for _, row := range flatten("department", r.Departments) {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, row := range flatten("author", r.Authors) {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

const styleCSS = `body{font-family:Georgia,serif;max-width:900px;margin:2rem auto;color:#1f2430;}
table{border-collapse:collapse;width:100%;margin:0.75rem 0 1.5rem;}
th,td{border:1px solid #cbd2dc;padding:0.35rem 0.6rem;text-align:left;}
th{background:#eef1f6;}
h1,h2,h3{color:#14304a;}`

func writeSnapshotSection(sb *strings.Builder, snaps []aggregate.Snapshot) {
	if len(snaps) == 0 {
		sb.WriteString("_No data._\n\n")
		return
	}
	for _, snap := range snaps {
		fmt.Fprintf(sb, "### %s\n\n", snap.Key)
		writeMarkdownTable(sb, "Category", snap.ByCategory)
	}
}

func writeMarkdownTable(sb *strings.Builder, keyHeader string, metrics map[string]aggregate.CategoryMetrics) {
	fmt.Fprintf(sb, "| %s | Publications | Citations |\n|---|---:|---:|\n", keyHeader)
	for _, label := range sortedLabels(metrics) {
		m := metrics[label]
		fmt.Fprintf(sb, "| %s | %d | %d |\n", label, m.PublicationCount, m.CitationSum)
	}
	sb.WriteString("\n")
}

// rollUp sums department snapshots into institution-level category totals.
// A publication spanning departments contributes to each, so the roll-up can
// exceed the distinct publication count.
func rollUp(snaps []aggregate.Snapshot) map[string]aggregate.CategoryMetrics {
	out := map[string]aggregate.CategoryMetrics{}
	for _, snap := range snaps {
		for label, m := range snap.ByCategory {
			agg := out[label]
			agg.PublicationCount += m.PublicationCount
			agg.CitationSum += m.CitationSum
			out[label] = agg
		}
	}
	return out
}

func flatten(kind string, snaps []aggregate.Snapshot) [][]string {
	var rows [][]string
	for _, snap := range snaps {
		for _, label := range sortedLabels(snap.ByCategory) {
			m := snap.ByCategory[label]
			rows = append(rows, []string{
				kind, snap.Key, label,
				strconv.Itoa(m.PublicationCount), strconv.Itoa(m.CitationSum),
			})
		}
	}
	return rows
}

func sortedLabels(m map[string]aggregate.CategoryMetrics) []string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
