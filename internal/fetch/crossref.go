package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

const (
	// CrossrefBaseURL is the public works endpoint.
	CrossrefBaseURL = "https://api.crossref.org"

	// Crossref's polite pool allows sustained request rates around 1/s
	// when a mailto is supplied.
	crossrefRateLimit = 1.0

	defaultRows = 100
)

// CrossrefConfig configures the bibliographic-metadata fetcher.
type CrossrefConfig struct {
	BaseURL     string
	Mailto      string
	Affiliation string
	FromYear    int
	ToYear      int
	Rows        int
	HTTPClient  *http.Client
}

// CrossrefFetcher streams works for an affiliation and year range using
// cursor paging.
type CrossrefFetcher struct {
	cfg     CrossrefConfig
	limiter *rate.Limiter
}

// NewCrossrefFetcher validates config and applies defaults.
func NewCrossrefFetcher(cfg CrossrefConfig) (*CrossrefFetcher, error) {
	if strings.TrimSpace(cfg.Affiliation) == "" {
		return nil, errors.New("crossref affiliation not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = CrossrefBaseURL
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRows
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &CrossrefFetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(crossrefRateLimit), 1),
	}, nil
}

type crossrefEnvelope struct {
	Status  string `json:"status"`
	Message struct {
		Items      []map[string]any `json:"items"`
		NextCursor string           `json:"next-cursor"`
	} `json:"message"`
}

// Fetch pages through the works endpoint, emitting each item as a raw
// record. Paging stops when a page returns no items.
func (f *CrossrefFetcher) Fetch(ctx context.Context, out chan<- pubrecord.RawRecord) error {
	cursor := "*"
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		env, err := f.fetchPage(ctx, cursor)
		if err != nil {
			return fmt.Errorf("crossref fetch: %w", err)
		}
		if len(env.Message.Items) == 0 {
			return nil
		}
		for _, item := range env.Message.Items {
			if err := send(ctx, out, pubrecord.RawRecord{Provider: pubrecord.ProviderCrossref, Fields: item}); err != nil {
				return err
			}
		}
		if env.Message.NextCursor == "" || env.Message.NextCursor == cursor {
			return nil
		}
		cursor = env.Message.NextCursor
	}
}

func (f *CrossrefFetcher) fetchPage(ctx context.Context, cursor string) (crossrefEnvelope, error) {
	var lastErr error
	for attempt := 1; attempt <= 4; attempt++ {
		env, code, retryAfter, err := f.fetchOnce(ctx, cursor)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if code == http.StatusBadRequest || code == http.StatusForbidden {
			return crossrefEnvelope{}, err
		}
		if attempt == 4 {
			break
		}
		sleep := retryAfter
		if sleep <= 0 {
			sleep = time.Duration(attempt) * time.Second
		}
		log.Printf("crossref retrying cursor=%q status=%d attempt=%d err=%v", cursor, code, attempt, err)
		if err := sleepCtx(ctx, sleep); err != nil {
			return crossrefEnvelope{}, err
		}
	}
	return crossrefEnvelope{}, lastErr
}

func (f *CrossrefFetcher) fetchOnce(ctx context.Context, cursor string) (crossrefEnvelope, int, time.Duration, error) {
	q := url.Values{}
	q.Set("query.affiliation", f.cfg.Affiliation)
	q.Set("rows", strconv.Itoa(f.cfg.Rows))
	q.Set("cursor", cursor)
	if f.cfg.FromYear != 0 && f.cfg.ToYear != 0 {
		q.Set("filter", fmt.Sprintf("from-pub-date:%d-01-01,until-pub-date:%d-12-31", f.cfg.FromYear, f.cfg.ToYear))
	}
	if f.cfg.Mailto != "" {
		q.Set("mailto", f.cfg.Mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(f.cfg.BaseURL, "/")+"/works?"+q.Encode(), nil)
	if err != nil {
		return crossrefEnvelope{}, 0, 0, err
	}
	res, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return crossrefEnvelope{}, 0, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 8<<20))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode >= 400 {
		return crossrefEnvelope{}, res.StatusCode, retryAfter, fmt.Errorf("status code: %d", res.StatusCode)
	}
	var env crossrefEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return crossrefEnvelope{}, res.StatusCode, retryAfter, err
	}
	if env.Status != "ok" {
		return crossrefEnvelope{}, res.StatusCode, retryAfter, fmt.Errorf("crossref status %q", env.Status)
	}
	return env, res.StatusCode, retryAfter, nil
}

func parseRetryAfter(v string) time.Duration {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
