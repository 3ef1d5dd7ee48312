package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// The citation-index service has no public API; records are read off its
// rendered search-result pages with a headless browser.

// extractRecordsJS serializes the visible result rows. The index renders one
// .record-row per publication with data attributes carrying the metadata.
const extractRecordsJS = `JSON.stringify(Array.from(document.querySelectorAll('.record-row')).map(function (row) {
	return {
		id: row.getAttribute('data-record-id') || '',
		doi: row.getAttribute('data-doi') || '',
		title: (row.querySelector('.record-title') || {}).textContent || '',
		source: (row.querySelector('.record-source') || {}).textContent || '',
		year: parseInt(row.getAttribute('data-year') || '0', 10),
		authors: (row.querySelector('.record-authors') || {}).textContent || '',
		affiliation: row.getAttribute('data-affiliation') || '',
		times_cited: parseInt(row.getAttribute('data-times-cited') || '0', 10),
		categories: row.getAttribute('data-categories') || '',
		abstract: (row.querySelector('.record-abstract') || {}).textContent || ''
	};
}))`

const hasNextPageJS = `(function () {
	var next = document.querySelector('.pagination-next');
	return !!(next && !next.classList.contains('disabled'));
})()`

// CiteIndexConfig configures the citation-index fetcher.
type CiteIndexConfig struct {
	SearchURL   string
	MaxPages    int
	PageTimeout time.Duration
	ChromePath  string
}

// CiteIndexFetcher drives a headless Chromium over the index's result pages.
type CiteIndexFetcher struct {
	cfg CiteIndexConfig
}

// NewCiteIndexFetcher validates config and applies defaults.
func NewCiteIndexFetcher(cfg CiteIndexConfig) (*CiteIndexFetcher, error) {
	if strings.TrimSpace(cfg.SearchURL) == "" {
		return nil, errors.New("citation index search URL not configured")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 45 * time.Second
	}
	return &CiteIndexFetcher{cfg: cfg}, nil
}

// Fetch walks result pages until the pager reports no next page or MaxPages
// is reached.
func (f *CiteIndexFetcher) Fetch(ctx context.Context, out chan<- pubrecord.RawRecord) error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if f.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	pageCtx, cancel := context.WithTimeout(taskCtx, f.cfg.PageTimeout)
	err := chromedp.Run(pageCtx,
		chromedp.Navigate(f.cfg.SearchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("citeindex navigate: %w", err)
	}

	for page := 1; page <= f.cfg.MaxPages; page++ {
		records, hasNext, err := f.scrapePage(taskCtx)
		if err != nil {
			return fmt.Errorf("citeindex page %d: %w", page, err)
		}
		log.Printf("citeindex scraped page=%d records=%d", page, len(records))
		for _, rec := range records {
			if err := send(ctx, out, rec); err != nil {
				return err
			}
		}
		if !hasNext {
			return nil
		}

		pageCtx, cancel := context.WithTimeout(taskCtx, f.cfg.PageTimeout)
		err = chromedp.Run(pageCtx,
			chromedp.Click(".pagination-next", chromedp.ByQuery),
			chromedp.WaitReady(".record-row", chromedp.ByQuery),
		)
		cancel()
		if err != nil {
			return fmt.Errorf("citeindex advance past page %d: %w", page, err)
		}
	}
	log.Printf("citeindex stopped at page cap %d", f.cfg.MaxPages)
	return nil
}

func (f *CiteIndexFetcher) scrapePage(taskCtx context.Context) ([]pubrecord.RawRecord, bool, error) {
	pageCtx, cancel := context.WithTimeout(taskCtx, f.cfg.PageTimeout)
	defer cancel()

	var payload string
	var hasNext bool
	if err := chromedp.Run(pageCtx,
		chromedp.Evaluate(extractRecordsJS, &payload),
		chromedp.Evaluate(hasNextPageJS, &hasNext),
	); err != nil {
		return nil, false, err
	}
	records, err := ParseCiteIndexPayload([]byte(payload))
	return records, hasNext, err
}

// ParseCiteIndexPayload decodes the serialized result rows into provider-
// tagged raw records. Rows with neither id nor title are dropped here; rows
// with partial data flow on and degrade during normalization.
func ParseCiteIndexPayload(payload []byte) ([]pubrecord.RawRecord, error) {
	var rows []map[string]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode records payload: %w", err)
	}
	out := make([]pubrecord.RawRecord, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		title, _ := row["title"].(string)
		if strings.TrimSpace(id) == "" && strings.TrimSpace(title) == "" {
			continue
		}
		out = append(out, pubrecord.RawRecord{Provider: pubrecord.ProviderCiteIndex, Fields: row})
	}
	return out, nil
}
