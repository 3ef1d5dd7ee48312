package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// ErrMalformedRecord marks a raw record that cannot be salvaged even with
// sentinel defaults (no title and no identifier). Callers log and skip.
var ErrMalformedRecord = errors.New("malformed record")

// Normalize maps one provider-tagged raw record into a Draft. Missing or
// malformed fields degrade to explicit sentinels (empty string, zero) rather
// than failing the record. It is a pure function.
func Normalize(raw pubrecord.RawRecord) (pubrecord.Draft, error) {
	var d pubrecord.Draft
	switch raw.Provider {
	case pubrecord.ProviderCrossref:
		d = normalizeCrossref(raw.Fields)
	case pubrecord.ProviderCiteIndex:
		d = normalizeCiteIndex(raw.Fields)
	default:
		return pubrecord.Draft{}, fmt.Errorf("%w: unknown provider %q", ErrMalformedRecord, raw.Provider)
	}
	d.Source.Provider = raw.Provider
	if d.Title == "" && d.Identifier == "" {
		return pubrecord.Draft{}, fmt.Errorf("%w: provider=%s has neither title nor identifier", ErrMalformedRecord, raw.Provider)
	}
	if d.Source.RawID == "" {
		// Fall back to whatever uniquely names the record at the source.
		d.Source.RawID = d.Identifier
	}
	if d.Source.RawID == "" {
		d.Source.RawID = NormalizeTitle(d.Title)
	}
	return d, nil
}

func normalizeCrossref(fields map[string]any) pubrecord.Draft {
	d := pubrecord.Draft{
		Identifier:    NormalizeDOI(str(fields["DOI"])),
		Title:         strings.TrimSpace(firstString(fields["title"])),
		Venue:         strings.TrimSpace(firstString(fields["container-title"])),
		Year:          crossrefYear(fields),
		CitationCount: intVal(fields["is-referenced-by-count"]),
		AbstractHint:  strings.TrimSpace(str(fields["abstract"])),
	}
	d.Source.RawID = str(fields["DOI"])
	if arr, ok := fields["author"].([]any); ok {
		for _, item := range arr {
			m, _ := item.(map[string]any)
			name := strings.TrimSpace(strings.TrimSpace(str(m["given"])) + " " + strings.TrimSpace(str(m["family"])))
			if name == "" {
				continue
			}
			d.Authors = append(d.Authors, pubrecord.Author{
				Name:        name,
				Affiliation: firstAffiliation(m["affiliation"]),
			})
		}
	}
	if arr, ok := fields["subject"].([]any); ok {
		for _, item := range arr {
			if s := strings.TrimSpace(str(item)); s != "" {
				d.CategoryHints = append(d.CategoryHints, s)
			}
		}
	}
	return d
}

func normalizeCiteIndex(fields map[string]any) pubrecord.Draft {
	d := pubrecord.Draft{
		Identifier:    NormalizeDOI(str(fields["doi"])),
		Title:         strings.TrimSpace(str(fields["title"])),
		Venue:         strings.TrimSpace(str(fields["source"])),
		Year:          intVal(fields["year"]),
		CitationCount: intVal(fields["times_cited"]),
		AbstractHint:  strings.TrimSpace(str(fields["abstract"])),
	}
	d.Source.RawID = str(fields["id"])
	affiliation := strings.TrimSpace(str(fields["affiliation"]))
	switch v := fields["authors"].(type) {
	case string:
		// Semicolon-delimited author list.
		for _, name := range strings.Split(v, ";") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			d.Authors = append(d.Authors, pubrecord.Author{Name: name, Affiliation: affiliation})
		}
	case []any:
		for _, item := range v {
			name := strings.TrimSpace(str(item))
			if name == "" {
				continue
			}
			d.Authors = append(d.Authors, pubrecord.Author{Name: name, Affiliation: affiliation})
		}
	}
	switch v := fields["categories"].(type) {
	case string:
		for _, c := range strings.Split(v, ";") {
			if c = strings.TrimSpace(c); c != "" {
				d.CategoryHints = append(d.CategoryHints, c)
			}
		}
	case []any:
		for _, item := range v {
			if c := strings.TrimSpace(str(item)); c != "" {
				d.CategoryHints = append(d.CategoryHints, c)
			}
		}
	}
	return d
}

// NormalizeDOI lowercases a DOI and strips resolver URL prefixes so that the
// same work keys identically across providers.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return doi
}

// NormalizeTitle lowercases, strips punctuation, and collapses whitespace so
// titles compare by content rather than formatting.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeName collapses an author name for comparison. Token order is
// sorted so "Smith, Jane" and "Jane Smith" key identically across providers.
func NormalizeName(name string) string {
	fields := strings.Fields(NormalizeTitle(name))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// Surname extracts the family name: the part before a comma when present
// ("Smith, Jane"), otherwise the last token ("Jane Q. Smith").
func Surname(name string) string {
	if i := strings.Index(name, ","); i >= 0 {
		name = name[:i]
	}
	fields := strings.Fields(NormalizeTitle(name))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func crossrefYear(fields map[string]any) int {
	published, ok := fields["published"].(map[string]any)
	if !ok {
		if published, ok = fields["published-print"].(map[string]any); !ok {
			return 0
		}
	}
	parts, ok := published["date-parts"].([]any)
	if !ok || len(parts) == 0 {
		return 0
	}
	first, ok := parts[0].([]any)
	if !ok || len(first) == 0 {
		return 0
	}
	return intVal(first[0])
}

func firstAffiliation(v any) string {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return ""
	}
	m, _ := arr[0].(map[string]any)
	return strings.TrimSpace(str(m["name"]))
}

func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return str(t[0])
		}
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func intVal(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		if t < 0 {
			return 0
		}
		return int(t)
	case string:
		n := 0
		for _, r := range strings.TrimSpace(t) {
			if r < '0' || r > '9' {
				return n
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	return 0
}
