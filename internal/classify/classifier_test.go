package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// fakeCaller returns scripted responses in order. A response starting with
// "err:" becomes an error instead.
type fakeCaller struct {
	responses []string
	calls     int
	prompts   []string
}

func (f *fakeCaller) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.calls > len(f.responses) {
		return "", fmt.Errorf("unexpected call %d", f.calls)
	}
	r := f.responses[f.calls-1]
	if rest, ok := strings.CutPrefix(r, "err:"); ok {
		return "", errors.New(rest)
	}
	return r, nil
}

func testPub() *pubrecord.Publication {
	return &pubrecord.Publication{
		ID:    "pub-1",
		Title: "Graph Neural Networks in Chemistry",
		Venue: "J Chem Inf",
		Year:  2021,
	}
}

func TestClassifyValidFirstAttempt(t *testing.T) {
	caller := &fakeCaller{responses: []string{`{"label": "computer-science", "confidence": 0.92}`}}
	c := NewClassifier(caller, nil, Config{})

	cat, err := c.Classify(context.Background(), testPub())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cat.Label != "computer-science" || cat.Confidence != 0.92 {
		t.Fatalf("category = %+v", cat)
	}
	if c.Failures() != 0 {
		t.Fatalf("failures = %d", c.Failures())
	}
	if len(caller.prompts) != 1 || !strings.Contains(caller.prompts[0], "Graph Neural Networks in Chemistry") {
		t.Fatalf("prompt missing publication fields: %v", caller.prompts)
	}
}

func TestClassifyStripsCodeFences(t *testing.T) {
	caller := &fakeCaller{responses: []string{
		"```json\n{\"label\": \"engineering\", \"confidence\": 0.8}\n```",
	}}
	c := NewClassifier(caller, nil, Config{})
	cat, err := c.Classify(context.Background(), testPub())
	if err != nil || cat.Label != "engineering" {
		t.Fatalf("Classify = %+v, %v", cat, err)
	}
}

func TestClassifyRetriesThenRecovers(t *testing.T) {
	caller := &fakeCaller{responses: []string{
		"not json at all",
		`{"label": "astrology", "confidence": 0.9}`,
		`{"label": "life-sciences", "confidence": 0.75}`,
	}}
	c := NewClassifier(caller, nil, Config{})
	cat, err := c.Classify(context.Background(), testPub())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cat.Label != "life-sciences" || caller.calls != 3 {
		t.Fatalf("cat = %+v, calls = %d", cat, caller.calls)
	}
	if c.Failures() != 0 {
		t.Fatalf("failures = %d", c.Failures())
	}
}

func TestClassifyExhaustedDegradesToUnclassified(t *testing.T) {
	caller := &fakeCaller{responses: []string{
		`{"label": "computer-science"}`,
		`{"label": "computer-science", "confidence": 0.3}`,
		`{"label": "computer-science", "confidence": 1.7}`,
	}}
	c := NewClassifier(caller, nil, Config{})
	cat, err := c.Classify(context.Background(), testPub())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cat.Label != pubrecord.LabelUnclassified || cat.Confidence != 0 {
		t.Fatalf("fallback = %+v", cat)
	}
	if caller.calls != 3 {
		t.Fatalf("calls = %d, want exactly 3", caller.calls)
	}
	if c.Failures() != 1 {
		t.Fatalf("failures = %d", c.Failures())
	}
}

func TestClassifyClientErrorConsumesAttempts(t *testing.T) {
	caller := &fakeCaller{responses: []string{
		"err:status code: 400",
		"err:status code: 400",
	}}
	c := NewClassifier(caller, nil, Config{Attempts: 2})
	cat, err := c.Classify(context.Background(), testPub())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cat.Label != pubrecord.LabelUnclassified || caller.calls != 2 {
		t.Fatalf("cat = %+v, calls = %d", cat, caller.calls)
	}
}

func TestClassifyCacheHitSkipsModel(t *testing.T) {
	caller := &fakeCaller{responses: []string{`{"label": "mathematics", "confidence": 0.88}`}}
	c := NewClassifier(caller, nil, Config{})
	ctx := context.Background()

	first, err := c.Classify(ctx, testPub())
	if err != nil {
		t.Fatalf("first Classify: %v", err)
	}
	second, err := c.Classify(ctx, testPub())
	if err != nil {
		t.Fatalf("second Classify: %v", err)
	}
	if caller.calls != 1 {
		t.Fatalf("model invoked %d times, want 1", caller.calls)
	}
	if first != second {
		t.Fatalf("cached result differs: %+v vs %+v", first, second)
	}
}

func TestClassifyFallbackRemembersWithinRun(t *testing.T) {
	caller := &fakeCaller{responses: []string{"garbage"}}
	c := NewClassifier(caller, nil, Config{Attempts: 1})
	ctx := context.Background()

	if _, err := c.Classify(ctx, testPub()); err != nil {
		t.Fatalf("first Classify: %v", err)
	}
	cat, err := c.Classify(ctx, testPub())
	if err != nil {
		t.Fatalf("second Classify: %v", err)
	}
	if cat.Label != pubrecord.LabelUnclassified || caller.calls != 1 {
		t.Fatalf("fallback not remembered: %+v, calls = %d", cat, caller.calls)
	}
}

func TestClassifyFallbackNotDurablyCached(t *testing.T) {
	durable := NewMemoryCache()
	ctx := context.Background()
	pub := testPub()
	key := CacheKey(pub.Title, pub.Venue, pub.Year)

	caller := &fakeCaller{responses: []string{"garbage"}}
	c := NewClassifier(caller, durable, Config{Attempts: 1})
	if cat, err := c.Classify(ctx, pub); err != nil || cat.Label != pubrecord.LabelUnclassified {
		t.Fatalf("Classify = %+v, %v", cat, err)
	}
	if _, ok, _ := durable.Get(ctx, key); ok {
		t.Fatal("unclassified sentinel written to the shared cache")
	}

	// A later run shares the cache but gets a fresh classifier; the model is
	// retried instead of inheriting the earlier outage.
	recovered := &fakeCaller{responses: []string{`{"label": "physical-sciences", "confidence": 0.9}`}}
	c2 := NewClassifier(recovered, durable, Config{Attempts: 1})
	cat, err := c2.Classify(ctx, pub)
	if err != nil {
		t.Fatalf("Classify after recovery: %v", err)
	}
	if cat.Label != LabelPhysicalSciences || recovered.calls != 1 {
		t.Fatalf("cat = %+v, calls = %d", cat, recovered.calls)
	}
	if got, ok, _ := durable.Get(ctx, key); !ok || got.Label != LabelPhysicalSciences {
		t.Fatalf("accepted label not cached: %+v ok=%v", got, ok)
	}
}

func TestCacheKeyIdentity(t *testing.T) {
	a := CacheKey("Foo Bar", "J Foo", 2020)
	if a != CacheKey("  foo bar ", "J FOO", 2020) {
		t.Fatal("case and whitespace should not change the key")
	}
	if a == CacheKey("Foo Bar", "J Foo", 2021) {
		t.Fatal("year change should change the key")
	}
	if a == CacheKey("Foo Bar", "J Other", 2020) {
		t.Fatal("venue change should change the key")
	}
}

func TestValidateContract(t *testing.T) {
	c := NewClassifier(nil, nil, Config{})
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid", `{"label": "humanities", "confidence": 0.61}`, true},
		{"at floor", `{"label": "arts", "confidence": 0.60}`, true},
		{"below floor", `{"label": "arts", "confidence": 0.59}`, false},
		{"unknown label", `{"label": "alchemy", "confidence": 0.9}`, false},
		{"unclassified not assignable", `{"label": "unclassified", "confidence": 0.9}`, false},
		{"missing confidence", `{"label": "arts"}`, false},
		{"out of range", `{"label": "arts", "confidence": -0.1}`, false},
		{"empty", "", false},
		{"prose", "the label is arts", false},
	}
	for _, tc := range cases {
		_, err := c.validate(tc.raw)
		if (err == nil) != tc.ok {
			t.Errorf("%s: validate(%q) err = %v, want ok=%v", tc.name, tc.raw, err, tc.ok)
		}
	}
}
