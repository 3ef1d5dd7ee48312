package fetch

import (
	"testing"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

func TestParseCiteIndexPayload(t *testing.T) {
	payload := `[
		{"id":"WOS:1","doi":"10.1/x","title":"Foo Bar","year":2020,"times_cited":8},
		{"id":"","title":"Title Only","year":2021},
		{"id":"","title":"","year":2022},
		{"id":"WOS:2","title":""}
	]`
	got, err := ParseCiteIndexPayload([]byte(payload))
	if err != nil {
		t.Fatalf("ParseCiteIndexPayload: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3 (blank row dropped)", len(got))
	}
	for _, rec := range got {
		if rec.Provider != pubrecord.ProviderCiteIndex {
			t.Fatalf("provider = %q", rec.Provider)
		}
	}
	if got[0].Fields["doi"] != "10.1/x" {
		t.Fatalf("fields = %+v", got[0].Fields)
	}
}

func TestParseCiteIndexPayloadInvalidJSON(t *testing.T) {
	if _, err := ParseCiteIndexPayload([]byte("<html>")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewCiteIndexFetcherDefaults(t *testing.T) {
	if _, err := NewCiteIndexFetcher(CiteIndexConfig{}); err == nil {
		t.Fatal("expected error without search URL")
	}
	f, err := NewCiteIndexFetcher(CiteIndexConfig{SearchURL: "https://index.example/search"})
	if err != nil {
		t.Fatalf("NewCiteIndexFetcher: %v", err)
	}
	if f.cfg.MaxPages != 50 || f.cfg.PageTimeout.Seconds() != 45 {
		t.Fatalf("defaults = %+v", f.cfg)
	}
}
