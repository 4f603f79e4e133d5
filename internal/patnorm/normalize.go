// Package patnorm turns raw patent-identifier strings, as they appear in
// documents and OCR output, into canonical structured records suitable for
// set membership and deduplication.
package patnorm

import (
	"regexp"
	"strings"
)

type Kind string

const (
	KindUtility     Kind = "utility"
	KindDesign      Kind = "design"
	KindApplication Kind = "application"
	KindOther       Kind = "other"
)

// NormalizedPatent is the structured form of one raw patent candidate.
// Two records denote the same identifier iff their Canonical values are equal.
type NormalizedPatent struct {
	Raw        string
	Country    string
	Kind       Kind
	Digits     string
	Confidence float64
	// Canonical is country + (design marker) + digits + kind suffix, the
	// dedup key. Unparsable input falls back to the cleaned raw string.
	Canonical string

	designPrefix bool
	suffix       string
}

// NormalizedNumber is the country+digits representation used in the
// normalization log, without the kind suffix that Canonical carries.
// US design patents keep their D marker between country and digits.
func (p NormalizedPatent) NormalizedNumber() string {
	if p.Country == "" || p.Digits == "" {
		return p.Canonical
	}
	if p.designPrefix {
		return p.Country + "D" + p.Digits
	}
	return p.Country + p.Digits
}

// LogRecord is the per-candidate normalization log schema.
type LogRecord struct {
	NumberRaw        string  `json:"number_raw"`
	Country          string  `json:"country"`
	Kind             string  `json:"kind"`
	Confidence       float64 `json:"confidence"`
	NormalizedNumber string  `json:"normalized_number"`
}

func (p NormalizedPatent) LogRecord() LogRecord {
	return LogRecord{
		NumberRaw:        p.Raw,
		Country:          p.Country,
		Kind:             string(p.Kind),
		Confidence:       p.Confidence,
		NormalizedNumber: p.NormalizedNumber(),
	}
}

var (
	nonAlnumRe = regexp.MustCompile(`[^A-Z0-9]+`)
	suffixRe   = regexp.MustCompile(`([A-Z][0-9]{0,2})$`)
	digitRe    = regexp.MustCompile(`[0-9]+`)
)

// Normalizer parses raw patent strings against a set of lookup tables.
// It is stateless after construction and safe for concurrent use.
type Normalizer struct {
	tables Tables
}

func New(tables Tables) *Normalizer {
	return &Normalizer{tables: tables}
}

// Normalize never fails: input that does not fit the country+digits+kind
// shape is preserved as a weakly structured record with an empty country,
// kind "other" and a cleaned-raw canonical, so no candidate is dropped here.
func (n *Normalizer) Normalize(raw string, confidence float64) NormalizedPatent {
	p := NormalizedPatent{Raw: raw, Kind: KindOther}
	cleaned := cleanToken(raw)
	if cleaned == "" {
		p.Confidence = clampConfidence(min(confidence, fallbackParseConfidence))
		return p
	}

	country, design, body, ok := n.splitCountry(cleaned)
	if ok {
		suffix, kind, digits, bodyOK := n.splitBody(body)
		if bodyOK && digits != "" {
			if country == "US" && !design && len(digits) <= 6 {
				// Issued US utility numbers run past six digits; a
				// short US number is a design filing whatever kind
				// code it carries.
				design = true
			}
			p.Country = country
			p.Digits = digits
			p.designPrefix = design
			if design {
				// Design marker wins over any trailing code; the
				// canonical form is the USD-style prefix shape.
				p.Kind = KindDesign
				p.Canonical = country + "D" + digits
			} else {
				p.Kind = kind
				p.suffix = suffix
				p.Canonical = country + digits
				if kind != KindOther && suffix != "" {
					p.Canonical += suffix
				}
			}
			p.Confidence = clampConfidence(min(confidence, n.parseConfidence(p)))
			return p
		}
	}

	// A spelled-out country name can still anchor the identifier when no
	// two-letter prefix parsed, as in "Canada Patent 2,688,262".
	if code := n.tables.MatchCountryKeyword(raw); code != "" {
		digits := strings.Join(digitRe.FindAllString(cleaned, -1), "")
		if digits != "" {
			p.Country = code
			p.Digits = digits
			p.Canonical = code + digits
			p.Confidence = clampConfidence(min(confidence, n.parseConfidence(p)))
			return p
		}
	}

	// Weak fallback: keep everything, structured as little as possible.
	p.Digits = strings.Join(digitRe.FindAllString(cleaned, -1), "")
	p.Canonical = cleaned
	p.Confidence = clampConfidence(min(confidence, fallbackParseConfidence))
	return p
}

// NormalizeWithHints applies collaborator-supplied country and kind hints
// when parsing alone leaves them undetected. The country hint is glued in
// front of the raw token and the whole string reparsed, so a bare digit run
// like "6,983,939" with hint "US" lands on the same canonical as "US 6983939".
func (n *Normalizer) NormalizeWithHints(raw, country string, kind string, confidence float64) NormalizedPatent {
	p := n.Normalize(raw, confidence)
	if p.Country == "" {
		hint := strings.ToUpper(strings.TrimSpace(country))
		if mapped, ok := n.tables.Legacy[hint]; ok {
			hint = mapped
		}
		if _, ok := n.tables.Jurisdictions[hint]; ok {
			hinted := n.Normalize(hint+" "+raw, confidence)
			if hinted.Country == hint {
				hinted.Raw = raw
				p = hinted
			}
		}
	}
	if p.Kind == KindOther {
		if k, ok := parseKind(kind); ok && k != KindOther {
			// Hinted kind is informational only: the canonical suffix
			// still requires a suffix detected in the token itself.
			p.Kind = k
		}
	}
	return p
}

const fallbackParseConfidence = 0.3

// parseConfidence scores how much of the identifier structure was detected.
// A record with country, digits and a recognized kind scores 1.0; each
// missing component scales the score down.
func (n *Normalizer) parseConfidence(p NormalizedPatent) float64 {
	score := 1.0
	if p.Country == "" {
		score *= 0.6
	}
	if p.Digits == "" {
		score *= 0.5
	}
	if p.Kind == KindOther {
		score *= 0.85
	}
	return score
}

// splitCountry peels the jurisdiction prefix off a cleaned token. It returns
// the (possibly legacy-remapped) code, whether a US-style design marker "D"
// follows it, and the remaining body. ok is false when the leading letter run
// is not a recognizable jurisdiction shape.
func (n *Normalizer) splitCountry(cleaned string) (country string, design bool, body string, ok bool) {
	letters := 0
	for letters < len(cleaned) && cleaned[letters] >= 'A' && cleaned[letters] <= 'Z' {
		letters++
	}
	run := cleaned[:letters]
	rest := cleaned[letters:]

	switch {
	case run == "":
		return "", false, rest, true
	case len(run) >= 2:
		code := run[:2]
		if mapped, legacy := n.tables.Legacy[code]; legacy {
			code = mapped
		} else if _, known := n.tables.Jurisdictions[code]; !known {
			// A one-letter legacy code followed by more letters (no
			// such shape in practice) is not worth guessing at.
			return "", false, "", false
		}
		switch run[2:] {
		case "":
			return code, false, rest, true
		case "D":
			return code, true, rest, true
		}
		return "", false, "", false
	default: // single letter
		if mapped, legacy := n.tables.Legacy[run]; legacy {
			return mapped, false, rest, true
		}
		return "", false, "", false
	}
}

// splitBody separates a trailing kind code from the digit run. ok is false
// when letters remain embedded in what should be a pure digit body.
func (n *Normalizer) splitBody(body string) (suffix string, kind Kind, digits string, ok bool) {
	kind = KindOther
	if m := suffixRe.FindString(body); m != "" {
		candidate := body[:len(body)-len(m)]
		if allDigits(candidate) {
			if k, known := n.tables.KindSuffixes[m[:1]]; known {
				kind = k
				suffix = m
			}
			// Unrecognized trailing letters are dropped from the
			// canonical form but never folded into the digits.
			return suffix, kind, candidate, true
		}
	}
	if !allDigits(body) {
		return "", KindOther, "", false
	}
	return "", KindOther, body, true
}

func cleanToken(raw string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToUpper(raw), "")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
