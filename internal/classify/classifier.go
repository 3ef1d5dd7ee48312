package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

const (
	// DefaultAttempts bounds retries for schema-invalid or low-confidence
	// output. Each attempt is independent; no conversation state carries over.
	DefaultAttempts = 3
	// DefaultConfidenceFloor is the minimum accepted model confidence.
	DefaultConfidenceFloor = 0.60
)

// Cache stores accepted classifications keyed by publication content hash.
// Once populated the cache is authoritative; the model is not re-invoked.
type Cache interface {
	Get(ctx context.Context, key string) (pubrecord.Category, bool, error)
	Put(ctx context.Context, key string, cat pubrecord.Category) error
}

// MemoryCache is a run-scoped in-process Cache.
type MemoryCache struct {
	mu sync.Mutex
	m  map[string]pubrecord.Category
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: map[string]pubrecord.Category{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (pubrecord.Category, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, ok := c.m[key]
	return cat, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, cat pubrecord.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cat
	return nil
}

// Config tunes the classifier. Zero values fall back to documented defaults.
type Config struct {
	Attempts        int
	ConfidenceFloor float64
}

// Classifier assigns controlled-vocabulary categories via a language model,
// behind a strict validating boundary: the rest of the pipeline never sees
// raw model output.
type Classifier struct {
	caller LLMCaller
	cache  Cache
	// fallbacks holds unclassified sentinels for this classifier's lifetime
	// only. They never reach the durable cache, so a later run retries the
	// model instead of inheriting a transient outage.
	fallbacks *MemoryCache
	cfg       Config
	logger    *log.Logger
	mu        sync.Mutex
	failures  int
}

// NewClassifier builds a classifier. A nil cache gets a MemoryCache; a nil
// logger logs to the standard logger.
func NewClassifier(caller LLMCaller, cache Cache, cfg Config) *Classifier {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultConfidenceFloor
	}
	return &Classifier{caller: caller, cache: cache, fallbacks: NewMemoryCache(), cfg: cfg, logger: log.Default()}
}

// Failures returns how many publications degraded to the unclassified
// sentinel so far.
func (c *Classifier) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

type modelResponse struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// CacheKey hashes the identity-relevant classification input. Repeated runs
// over unchanged entities hit the cache instead of the model.
func CacheKey(title, venue string, year int) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(venue))))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(year)))
	return hex.EncodeToString(h.Sum(nil))
}

// Classify assigns a category to the publication. It never returns an error
// for model misbehavior: exhausted retries degrade to the unclassified
// sentinel with confidence 0. The only error source is the cache backend.
func (c *Classifier) Classify(ctx context.Context, pub *pubrecord.Publication) (pubrecord.Category, error) {
	ctx, span := otel.Tracer("classify").Start(ctx, "classify.Classify")
	defer span.End()

	key := CacheKey(pub.Title, pub.Venue, pub.Year)
	span.SetAttributes(attribute.String("publication.id", pub.ID))
	if cat, ok, err := c.cache.Get(ctx, key); err != nil {
		return pubrecord.Category{}, fmt.Errorf("classification cache read: %w", err)
	} else if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cat, nil
	}
	if cat, ok, _ := c.fallbacks.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cat, nil
	}

	prompt := buildPrompt(pub)
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		span.SetAttributes(attribute.Int("attempts", attempt))
		raw, err := c.caller.GenerateJSON(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return pubrecord.Category{}, ctx.Err()
			}
			class := classifyTransportError(err)
			c.logger.Printf("classify transport failure pub=%s attempt=%d err=%v", pub.ID, attempt, err)
			if (class == failureTimeout || class == failureRateLimit || class == failureServer) && attempt < c.cfg.Attempts {
				if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
					return pubrecord.Category{}, err
				}
			}
			continue
		}

		cat, verr := c.validate(raw)
		if verr != nil {
			c.logger.Printf("classify invalid response pub=%s attempt=%d err=%v", pub.ID, attempt, verr)
			continue
		}
		if err := c.cache.Put(ctx, key, cat); err != nil {
			return pubrecord.Category{}, fmt.Errorf("classification cache write: %w", err)
		}
		return cat, nil
	}

	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
	c.logger.Printf("classify exhausted retries pub=%s title=%q, assigning %s", pub.ID, pub.Title, pubrecord.LabelUnclassified)
	span.SetAttributes(attribute.Bool("degraded", true))
	fallback := pubrecord.Category{Label: pubrecord.LabelUnclassified, Confidence: 0}
	c.fallbacks.Put(ctx, key, fallback)
	return fallback, nil
}

// validate enforces the response contract: strict JSON, label in the allowed
// set, confidence present, numeric, in [0,1], and at or above the floor.
func (c *Classifier) validate(raw string) (pubrecord.Category, error) {
	clean := stripCodeFences(raw)
	if clean == "" {
		return pubrecord.Category{}, fmt.Errorf("empty response")
	}
	var resp modelResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return pubrecord.Category{}, fmt.Errorf("json parse: %w", err)
	}
	if !LabelAllowed(resp.Label) {
		return pubrecord.Category{}, fmt.Errorf("label %q not in allowed set", resp.Label)
	}
	if resp.Confidence == nil {
		return pubrecord.Category{}, fmt.Errorf("confidence missing")
	}
	conf := *resp.Confidence
	if conf < 0 || conf > 1 {
		return pubrecord.Category{}, fmt.Errorf("confidence %v out of range", conf)
	}
	if conf < c.cfg.ConfidenceFloor {
		return pubrecord.Category{}, fmt.Errorf("confidence %.2f below floor %.2f", conf, c.cfg.ConfidenceFloor)
	}
	return pubrecord.Category{Label: resp.Label, Confidence: conf}, nil
}

func buildPrompt(pub *pubrecord.Publication) string {
	var sb strings.Builder
	sb.WriteString("Assign exactly one research category to the publication below.\n\n")
	sb.WriteString("Allowed labels:\n")
	for _, l := range AllowedLabels {
		sb.WriteString("  - " + l + "\n")
	}
	sb.WriteString("\nPublication:\n")
	fmt.Fprintf(&sb, "  title: %s\n", pub.Title)
	if pub.Venue != "" {
		fmt.Fprintf(&sb, "  venue: %s\n", pub.Venue)
	}
	if pub.Year != 0 {
		fmt.Fprintf(&sb, "  year: %d\n", pub.Year)
	}
	if pub.AbstractHint != "" {
		fmt.Fprintf(&sb, "  abstract: %s\n", pub.AbstractHint)
	}
	sb.WriteString("\nRequired JSON schema:\n")
	sb.WriteString(`{"label": "one of the allowed labels", "confidence": "float (0.0-1.0)"}`)
	sb.WriteString("\n\nRespond with only valid JSON matching the schema.")
	return sb.String()
}
