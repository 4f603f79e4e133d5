package patnorm

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tables holds the lookup data the normalizer parses against. Keeping the
// jurisdiction and suffix knowledge here, rather than inline in the parser,
// lets a deployment add jurisdictions without touching control flow.
type Tables struct {
	// Jurisdictions is the set of recognized two-letter codes.
	Jurisdictions map[string]struct{}
	// Legacy maps historical or non-WIPO prefixes to their current code,
	// e.g. the Chinese "ZL" filing prefix.
	Legacy map[string]string
	// KindSuffixes maps a trailing kind-code letter to a coarse category.
	// The optional trailing version digit(s) are accepted for any letter
	// present here ("B" covers B, B1, B2, ...).
	KindSuffixes map[string]Kind
	// CountryKeywords maps country names and other spelled-out
	// jurisdiction markers to their two-letter code. The order matters:
	// the first keyword found in the text wins, so more specific entries
	// ("EUROPEAN PATENT") must precede their prefixes ("EUROPEAN").
	CountryKeywords []CountryKeyword
}

// CountryKeyword is one spelled-out jurisdiction marker, matched as an
// uppercase substring of the raw candidate text.
type CountryKeyword struct {
	Keyword string
	Code    string
}

var defaultJurisdictions = []string{
	"US", "CA", "CN", "EP", "FR", "DE", "IT", "JP", "RU", "ES", "GB", "WO",
	"KR", "AU", "BR", "IN", "MX", "TW", "SG", "HK", "NL", "BE", "CH", "AT",
	"PT", "SE", "DK", "FI", "NO", "IE", "IL", "NZ", "ZA", "PL", "CZ", "HU",
	"TR", "AR", "CL", "CO", "PE", "PH", "TH", "ID", "VN", "AE", "SA", "QA",
	"KW", "UA", "SI", "SK", "RO", "BG", "GR", "LU", "MC", "LI",
}

var defaultLegacy = map[string]string{
	"ZL": "CN",
	"UK": "GB",
	"E":  "ES",
}

var defaultKindSuffixes = map[string]Kind{
	"B": KindUtility,
	"A": KindApplication,
	"S": KindDesign,
}

var defaultCountryKeywords = []CountryKeyword{
	{"UNITED STATES", "US"},
	{"U.S.", "US"},
	{"USA", "US"},
	{"UNITED KINGDOM", "GB"},
	{"GREAT BRITAIN", "GB"},
	{"ENGLAND", "GB"},
	{"CANADA", "CA"},
	{"FRANCE", "FR"},
	{"GERMANY", "DE"},
	{"DEUTSCHLAND", "DE"},
	{"JAPAN", "JP"},
	{"CHINA", "CN"},
	{"REPUBLIC OF KOREA", "KR"},
	{"SOUTH KOREA", "KR"},
	{"KOREA", "KR"},
	{"RUSSIAN FEDERATION", "RU"},
	{"RUSSIA", "RU"},
	{"SPAIN", "ES"},
	{"ITALY", "IT"},
	{"EUROPEAN PATENT", "EP"},
	{"EUROPEAN", "EP"},
	{"AUSTRALIA", "AU"},
	{"BRAZIL", "BR"},
	{"MEXICO", "MX"},
	{"INDIA", "IN"},
}

// DefaultTables returns a fresh copy of the built-in lookup data.
func DefaultTables() Tables {
	t := Tables{
		Jurisdictions: make(map[string]struct{}, len(defaultJurisdictions)),
		Legacy:        make(map[string]string, len(defaultLegacy)),
		KindSuffixes:  make(map[string]Kind, len(defaultKindSuffixes)),
	}
	for _, code := range defaultJurisdictions {
		t.Jurisdictions[code] = struct{}{}
	}
	for from, to := range defaultLegacy {
		t.Legacy[from] = to
	}
	for letter, kind := range defaultKindSuffixes {
		t.KindSuffixes[letter] = kind
	}
	t.CountryKeywords = append([]CountryKeyword(nil), defaultCountryKeywords...)
	return t
}

// MatchCountryKeyword scans the raw candidate text for a spelled-out
// jurisdiction marker and returns its code, or "" when none is present.
func (t Tables) MatchCountryKeyword(raw string) string {
	up := strings.ToUpper(raw)
	for _, kw := range t.CountryKeywords {
		if strings.Contains(up, kw.Keyword) {
			return kw.Code
		}
	}
	return ""
}

type tableOverrides struct {
	Jurisdictions   []string          `yaml:"jurisdictions"`
	Legacy          map[string]string `yaml:"legacy"`
	KindSuffixes    map[string]string `yaml:"kind_suffixes"`
	CountryKeywords map[string]string `yaml:"country_keywords"`
}

// LoadTables reads a YAML override file and merges it onto the defaults.
// Override entries add to (or replace) the built-in rows; they never clear
// the defaults.
func LoadTables(path string) (Tables, error) {
	t := DefaultTables()
	blob, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tables: %w", err)
	}
	var ov tableOverrides
	if err := yaml.Unmarshal(blob, &ov); err != nil {
		return t, fmt.Errorf("parse tables: %w", err)
	}
	for _, code := range ov.Jurisdictions {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			t.Jurisdictions[code] = struct{}{}
		}
	}
	for from, to := range ov.Legacy {
		from = strings.ToUpper(strings.TrimSpace(from))
		to = strings.ToUpper(strings.TrimSpace(to))
		if from == "" || to == "" {
			continue
		}
		t.Legacy[from] = to
	}
	for letter, name := range ov.KindSuffixes {
		letter = strings.ToUpper(strings.TrimSpace(letter))
		kind, ok := parseKind(name)
		if letter == "" || !ok {
			return t, fmt.Errorf("invalid kind suffix mapping %q: %q", letter, name)
		}
		t.KindSuffixes[letter] = kind
	}
	if len(ov.CountryKeywords) > 0 {
		added := make([]CountryKeyword, 0, len(ov.CountryKeywords))
		for keyword, code := range ov.CountryKeywords {
			keyword = strings.ToUpper(strings.TrimSpace(keyword))
			code = strings.ToUpper(strings.TrimSpace(code))
			if keyword == "" || code == "" {
				continue
			}
			added = append(added, CountryKeyword{Keyword: keyword, Code: code})
		}
		// Longer keywords first so "EUROPEAN PATENT OFFICE" beats
		// "EUROPEAN"; overrides as a block take precedence over the
		// defaults.
		sort.Slice(added, func(i, j int) bool {
			if len(added[i].Keyword) != len(added[j].Keyword) {
				return len(added[i].Keyword) > len(added[j].Keyword)
			}
			return added[i].Keyword < added[j].Keyword
		})
		t.CountryKeywords = append(added, t.CountryKeywords...)
	}
	return t, nil
}

func parseKind(name string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case KindUtility:
		return KindUtility, true
	case KindDesign:
		return KindDesign, true
	case KindApplication:
		return KindApplication, true
	case KindOther:
		return KindOther, true
	}
	return KindOther, false
}

// JurisdictionList returns the recognized codes in sorted order, mostly for
// diagnostics and prompt construction.
func (t Tables) JurisdictionList() []string {
	out := make([]string, 0, len(t.Jurisdictions))
	for code := range t.Jurisdictions {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
