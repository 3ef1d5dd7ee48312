package aggregate

import (
	"strings"

	"github.com/SpencerPresley/AcademicMetrics/internal/reconcile"
)

// NameCanon collapses near-duplicate author name variations ("J. Smith",
// "John Smith", "SMITH, John") onto one canonical key so an author is not
// split across accumulators. The longest variation seen so far wins as the
// display form; keys are surname plus first-initial.
type NameCanon struct {
	byKey map[string]string
}

// NewNameCanon returns an empty canonicalizer.
func NewNameCanon() *NameCanon {
	return &NameCanon{byKey: map[string]string{}}
}

// Canonical returns the canonical display name for the variation, creating
// an entry on first sight. Empty or unparseable names return "".
func (n *NameCanon) Canonical(name string) string {
	key := nameKey(name)
	if key == "" {
		return ""
	}
	cleaned := cleanName(name)
	existing, ok := n.byKey[key]
	if !ok || len(cleaned) > len(existing) {
		n.byKey[key] = cleaned
		return cleaned
	}
	return existing
}

// nameKey reduces a name to "surname firstinitial". "Smith, John" and
// "J. Smith" both key to "smith j".
func nameKey(name string) string {
	surnameFirst := strings.Contains(name, ",")
	fields := strings.Fields(reconcile.NormalizeTitle(name))
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 1 {
		return fields[0]
	}
	surname := fields[len(fields)-1]
	given := fields[0]
	if surnameFirst {
		surname, given = fields[0], fields[1]
	}
	return surname + " " + given[:1]
}

func cleanName(name string) string {
	if i := strings.Index(name, ","); i >= 0 {
		// "Smith, John" -> "John Smith"
		given := strings.TrimSpace(name[i+1:])
		surname := strings.TrimSpace(name[:i])
		name = given + " " + surname
	}
	return strings.Join(strings.Fields(name), " ")
}
