package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/SpencerPresley/AcademicMetrics/internal/aggregate"
)

func sampleReport() *Report {
	return &Report{
		RunID:       "run-1",
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Authors: []aggregate.Snapshot{
			{Key: "Jane Smith", ByCategory: map[string]aggregate.CategoryMetrics{
				"physical-sciences": {PublicationCount: 2, CitationSum: 8},
			}},
		},
		Departments: []aggregate.Snapshot{
			{Key: "chemistry", ByCategory: map[string]aggregate.CategoryMetrics{
				"physical-sciences": {PublicationCount: 2, CitationSum: 8},
			}},
			{Key: "unassigned", ByCategory: map[string]aggregate.CategoryMetrics{
				"physical-sciences": {PublicationCount: 1, CitationSum: 3},
				"unclassified":      {PublicationCount: 1, CitationSum: 0},
			}},
		},
	}
}

func TestMarkdownStructure(t *testing.T) {
	md := sampleReport().Markdown()

	for _, want := range []string{
		"# Scholarly Output Metrics",
		"Run `run-1`",
		"## Category Totals",
		"## Departments",
		"### chemistry",
		"### unassigned",
		"## Authors",
		"### Jane Smith",
		"| physical-sciences | 2 | 8 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownRollUpSumsDepartments(t *testing.T) {
	md := sampleReport().Markdown()
	idx := strings.Index(md, "## Category Totals")
	end := strings.Index(md, "## Departments")
	section := md[idx:end]
	if !strings.Contains(section, "| physical-sciences | 3 | 11 |") {
		t.Fatalf("roll-up section:\n%s", section)
	}
}

func TestMarkdownEmptyReport(t *testing.T) {
	r := &Report{RunID: "run-2", GeneratedAt: time.Now()}
	md := r.Markdown()
	if !strings.Contains(md, "_No data._") {
		t.Fatalf("empty sections not marked:\n%s", md)
	}
}

func TestHTMLWrapsMarkdown(t *testing.T) {
	html, err := sampleReport().HTML()
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	for _, want := range []string{
		"<!doctype html>",
		"<table>",
		"Jane Smith",
		"physical-sciences",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleReport().WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	// Header + 3 department rows + 1 author row.
	if len(rows) != 5 {
		t.Fatalf("rows = %d:\n%v", len(rows), rows)
	}
	if got := strings.Join(rows[0], ","); got != "kind,key,category,publication_count,citation_sum" {
		t.Fatalf("header = %q", got)
	}
	if rows[1][0] != "department" || rows[4][0] != "author" {
		t.Fatalf("kind ordering wrong: %v", rows)
	}
	if got := strings.Join(rows[4], ","); got != "author,Jane Smith,physical-sciences,2,8" {
		t.Fatalf("author row = %q", got)
	}
}
