package patnorm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeCanonicalForms(t *testing.T) {
	n := New(DefaultTables())
	for _, tc := range []struct {
		raw       string
		canonical string
		country   string
		kind      Kind
		digits    string
	}{
		{raw: "US 9,439,375 B2", canonical: "US9439375B2", country: "US", kind: KindUtility, digits: "9439375"},
		{raw: "US 6,983,939 B2", canonical: "US6983939B2", country: "US", kind: KindUtility, digits: "6983939"},
		{raw: "EP1106985", canonical: "EP1106985", country: "EP", kind: KindOther, digits: "1106985"},
		{raw: "ZL200680026681.2", canonical: "CN2006800266812", country: "CN", kind: KindOther, digits: "2006800266812"},
		{raw: "CN 107,076,464", canonical: "CN107076464", country: "CN", kind: KindOther, digits: "107076464"},
		{raw: "US D823,786", canonical: "USD823786", country: "US", kind: KindDesign, digits: "823786"},
		{raw: "USD856548S1", canonical: "USD856548", country: "US", kind: KindDesign, digits: "856548"},
		{raw: "UK 1234567", canonical: "GB1234567", country: "GB", kind: KindOther, digits: "1234567"},
		{raw: "WO 2012/04545", canonical: "WO201204545", country: "WO", kind: KindOther, digits: "201204545"},
		{raw: "US 2023/0187654 A1", canonical: "US20230187654A1", country: "US", kind: KindApplication, digits: "20230187654"},
		{raw: "Canada 2,688,262", canonical: "CA2688262", country: "CA", kind: KindOther, digits: "2688262"},
	} {
		got := n.Normalize(tc.raw, 1.0)
		if got.Canonical != tc.canonical {
			t.Errorf("Normalize(%q).Canonical = %q, want %q", tc.raw, got.Canonical, tc.canonical)
		}
		if got.Country != tc.country {
			t.Errorf("Normalize(%q).Country = %q, want %q", tc.raw, got.Country, tc.country)
		}
		if got.Kind != tc.kind {
			t.Errorf("Normalize(%q).Kind = %q, want %q", tc.raw, got.Kind, tc.kind)
		}
		if got.Digits != tc.digits {
			t.Errorf("Normalize(%q).Digits = %q, want %q", tc.raw, got.Digits, tc.digits)
		}
	}
}

func TestNormalizeLegacyChineseRemap(t *testing.T) {
	n := New(DefaultTables())
	got := n.Normalize("ZL123456", 1.0)
	if got.Country != "CN" || got.Digits != "123456" {
		t.Fatalf("expected CN/123456, got %s/%s", got.Country, got.Digits)
	}
}

func TestNormalizeLeadingZerosPreserved(t *testing.T) {
	n := New(DefaultTables())
	got := n.Normalize("JP 0012345", 1.0)
	if got.Digits != "0012345" {
		t.Fatalf("leading zeros must survive, got %q", got.Digits)
	}
	if got.Canonical != "JP0012345" {
		t.Fatalf("canonical %q", got.Canonical)
	}
}

func TestNormalizeUnparsableKeepsEverything(t *testing.T) {
	n := New(DefaultTables())
	got := n.Normalize("Ref. ABC-12/34 xx", 0.9)
	if got.Country != "" || got.Kind != KindOther {
		t.Fatalf("expected weak record, got country=%q kind=%q", got.Country, got.Kind)
	}
	if got.Canonical != "REFABC1234XX" {
		t.Fatalf("canonical should be the cleaned raw, got %q", got.Canonical)
	}
	if got.Digits != "1234" {
		t.Fatalf("digits should concatenate all runs, got %q", got.Digits)
	}
	if got.Confidence >= 0.9 {
		t.Fatalf("weak parse must lower confidence, got %v", got.Confidence)
	}
}

func TestNormalizeUnrecognizedTrailingLetterDropped(t *testing.T) {
	n := New(DefaultTables())
	got := n.Normalize("ZL201180013089.X", 1.0)
	if got.Canonical != "CN201180013089" {
		t.Fatalf("canonical %q", got.Canonical)
	}
	if got.Kind != KindOther {
		t.Fatalf("kind %q", got.Kind)
	}
}

func TestNormalizeCountryKeywordFallback(t *testing.T) {
	n := New(DefaultTables())
	for _, tc := range []struct {
		raw       string
		canonical string
		country   string
	}{
		{raw: "Canada 2,688,262", canonical: "CA2688262", country: "CA"},
		{raw: "U.S. Patent No. 9,439,375", canonical: "US9439375", country: "US"},
		{raw: "European Patent 1106985", canonical: "EP1106985", country: "EP"},
		{raw: "Great Britain 1,234,567", canonical: "GB1234567", country: "GB"},
	} {
		got := n.Normalize(tc.raw, 1.0)
		if got.Canonical != tc.canonical {
			t.Errorf("Normalize(%q).Canonical = %q, want %q", tc.raw, got.Canonical, tc.canonical)
		}
		if got.Country != tc.country {
			t.Errorf("Normalize(%q).Country = %q, want %q", tc.raw, got.Country, tc.country)
		}
		if got.Kind != KindOther {
			t.Errorf("Normalize(%q).Kind = %q, want other", tc.raw, got.Kind)
		}
		if got.Confidence <= fallbackParseConfidence {
			t.Errorf("Normalize(%q).Confidence = %v, keyword country should lift it above the weak fallback", tc.raw, got.Confidence)
		}
	}

	// A keyword without any digits still yields only the weak record.
	noDigits := n.Normalize("Canada patent pending", 1.0)
	if noDigits.Country != "" || noDigits.Confidence > fallbackParseConfidence {
		t.Fatalf("keyword without digits must stay weak, got country=%q conf=%v", noDigits.Country, noDigits.Confidence)
	}

	// Keyword text trailing an already-prefixed number still resolves to
	// the same jurisdiction instead of corrupting the canonical form.
	trailing := n.Normalize("EP1106985 (European Patent)", 1.0)
	if trailing.Country != "EP" || trailing.Canonical != "EP1106985" {
		t.Fatalf("trailing keyword text broke the parse: %q %q", trailing.Country, trailing.Canonical)
	}
}

func TestNormalizeShortUSNumberIsDesign(t *testing.T) {
	n := New(DefaultTables())
	for _, raw := range []string{"US823786A", "US 823,786", "US823786S1"} {
		got := n.Normalize(raw, 1.0)
		if got.Canonical != "USD823786" {
			t.Errorf("Normalize(%q).Canonical = %q, want USD823786", raw, got.Canonical)
		}
		if got.Kind != KindDesign {
			t.Errorf("Normalize(%q).Kind = %q, want design", raw, got.Kind)
		}
		if got.NormalizedNumber() != "USD823786" {
			t.Errorf("Normalize(%q).NormalizedNumber() = %q", raw, got.NormalizedNumber())
		}
	}

	// Seven digits and up is utility territory.
	long := n.Normalize("US1234567", 1.0)
	if long.Kind == KindDesign || long.Canonical != "US1234567" {
		t.Fatalf("seven-digit US number must not become a design, got %q %q", long.Kind, long.Canonical)
	}

	// Other jurisdictions keep short numbers as-is.
	other := n.Normalize("GB123456", 1.0)
	if other.Canonical != "GB123456" || other.Kind == KindDesign {
		t.Fatalf("short non-US number rewritten: %q %q", other.Canonical, other.Kind)
	}
}

func TestNormalizeIdempotence(t *testing.T) {
	n := New(DefaultTables())
	inputs := []string{
		"US 9,439,375 B2",
		"ZL200680026681.2",
		"US D823,786",
		"EP 1106985",
		"US 2023/0187654 A1",
	}
	for _, raw := range inputs {
		first := n.Normalize(raw, 1.0)
		if first.Country == "" || first.Digits == "" {
			t.Fatalf("test input %q should parse", raw)
		}
		second := n.Normalize(first.Canonical, 1.0)
		if second.Canonical != first.Canonical {
			t.Errorf("normalize(%q) not idempotent: %q -> %q", raw, first.Canonical, second.Canonical)
		}
	}
}

func TestNormalizeConfidenceIsMinOfInputAndParse(t *testing.T) {
	n := New(DefaultTables())
	clean := n.Normalize("US 9,439,375 B2", 0.4)
	if clean.Confidence != 0.4 {
		t.Fatalf("distrustful extractor must cap confidence, got %v", clean.Confidence)
	}
	full := n.Normalize("US 9,439,375 B2", 1.0)
	if full.Confidence != 1.0 {
		t.Fatalf("fully detected record should score 1.0, got %v", full.Confidence)
	}
	noKind := n.Normalize("EP1106985", 1.0)
	if noKind.Confidence >= 1.0 {
		t.Fatalf("missing kind should scale confidence down, got %v", noKind.Confidence)
	}
	noCountry := n.Normalize("6,983,939", 1.0)
	if noCountry.Confidence >= noKind.Confidence {
		t.Fatalf("missing country should cost more than missing kind: %v vs %v", noCountry.Confidence, noKind.Confidence)
	}
}

func TestNormalizeWithHints(t *testing.T) {
	n := New(DefaultTables())
	got := n.NormalizeWithHints("6,983,939", "US", "utility", 1.0)
	if got.NormalizedNumber() != "US6983939" {
		t.Fatalf("normalized number %q", got.NormalizedNumber())
	}
	if got.Kind != KindUtility {
		t.Fatalf("kind hint not applied: %q", got.Kind)
	}
	if got.Canonical != "US6983939" {
		t.Fatalf("hinted kind must not invent a suffix, got %q", got.Canonical)
	}
	if got.Raw != "6,983,939" {
		t.Fatalf("raw must stay untouched, got %q", got.Raw)
	}

	// Hint must not override a parsed country.
	parsed := n.NormalizeWithHints("EP1106985", "US", "", 1.0)
	if parsed.Country != "EP" {
		t.Fatalf("parsed country overridden: %q", parsed.Country)
	}

	// Unknown hint codes are ignored.
	bogus := n.NormalizeWithHints("1234567", "XX", "", 1.0)
	if bogus.Country != "" {
		t.Fatalf("unknown hint should be ignored, got %q", bogus.Country)
	}
}

func TestNormalizedNumberOmitsSuffix(t *testing.T) {
	n := New(DefaultTables())
	got := n.Normalize("US 6,983,939 B2", 1.0)
	if got.NormalizedNumber() != "US6983939" {
		t.Fatalf("normalized number must drop the kind suffix, got %q", got.NormalizedNumber())
	}
	if got.Canonical != "US6983939B2" {
		t.Fatalf("canonical must keep it, got %q", got.Canonical)
	}
	design := n.Normalize("US D823,786", 1.0)
	if design.NormalizedNumber() != "USD823786" {
		t.Fatalf("design marker belongs in the normalized number, got %q", design.NormalizedNumber())
	}
}

func TestLoadTablesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	blob := []byte("jurisdictions: [\"zz\"]\nlegacy:\n  QQ: ZZ\nkind_suffixes:\n  T: utility\ncountry_keywords:\n  Helvetia: CH\n")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}
	tables, err := LoadTables(path)
	if err != nil {
		t.Fatalf("LoadTables: %v", err)
	}
	if _, ok := tables.Jurisdictions["ZZ"]; !ok {
		t.Fatal("override jurisdiction missing")
	}
	if tables.Legacy["QQ"] != "ZZ" {
		t.Fatalf("legacy override missing: %v", tables.Legacy)
	}
	if tables.KindSuffixes["T"] != KindUtility {
		t.Fatal("kind suffix override missing")
	}
	// Defaults survive the merge.
	if tables.Legacy["ZL"] != "CN" {
		t.Fatal("default legacy row lost")
	}

	n := New(tables)
	got := n.Normalize("ZZ1234T1", 1.0)
	if got.Canonical != "ZZ1234T1" || got.Kind != KindUtility {
		t.Fatalf("override tables not honored: %q %q", got.Canonical, got.Kind)
	}
	kw := n.Normalize("Helvetia Patent 445,566", 1.0)
	if kw.Country != "CH" || kw.Canonical != "CH445566" {
		t.Fatalf("keyword override not honored: %q %q", kw.Country, kw.Canonical)
	}
	// Default keyword rows survive the merge.
	if n.Normalize("Canada 2,688,262", 1.0).Canonical != "CA2688262" {
		t.Fatal("default keyword row lost")
	}
}
