// Package extraction implements the dual-channel extraction pipeline:
// page-parallel entity extraction over native and OCR text, channel
// reconciliation with warning emission, an audit recovery pass, and
// product-to-patent mapping for combined runs.
package extraction

import (
	"strings"

	"github.com/joelkehle/productinfo-agent/internal/patnorm"
)

type Mode string

const (
	ModeProducts Mode = "products"
	ModePatents  Mode = "patents"
	ModeAudit    Mode = "audit"
	ModeFull     Mode = "full"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeProducts:
		return ModeProducts, true
	case ModePatents:
		return ModePatents, true
	case ModeAudit:
		return ModeAudit, true
	case ModeFull:
		return ModeFull, true
	}
	return "", false
}

func (m Mode) wantsProducts() bool { return m == ModeProducts || m == ModeFull }
func (m Mode) wantsPatents() bool  { return m == ModePatents || m == ModeFull }

type SourceKind string

const (
	SourcePDF  SourceKind = "pdf"
	SourceHTML SourceKind = "html"
)

// Provenance records which phase first contributed a final entity.
// First-writer-wins: once set it is never overwritten.
type Provenance string

const (
	ProvenanceNative Provenance = "native"
	ProvenanceOCR    Provenance = "ocr"
	ProvenanceAudit  Provenance = "audit"
)

// Page carries the two text channels of one document page. OCR may be empty
// when OCR is disabled for the run or the rendering failed for the page.
type Page struct {
	Index  int
	Native string
	OCR    string
}

// ProductCandidate and PatentCandidate are the validated forms of the
// extraction collaborator's raw output. They are transient: candidates are
// folded into channel sets immediately and not retained.
type ProductCandidate struct {
	Value      string
	Confidence float64
}

type PatentCandidate struct {
	Value      string
	Country    string
	Kind       string
	Confidence float64
}

// AuditCandidate is one entity the audit call claims is missing from the
// known sets.
type AuditCandidate struct {
	Type             string
	ValueRaw         string
	NormalizedNumber string
	Confidence       float64
}

// MappingPair is one product-to-patent association from the mapping
// collaborator, unfiltered.
type MappingPair struct {
	Product string
	Patent  string
}

// ProductEntry keeps the first-seen display casing alongside set membership.
type ProductEntry struct {
	Name       string
	Confidence float64
	Provenance Provenance
}

// PatentEntry is a normalized patent plus its provenance tag.
type PatentEntry struct {
	patnorm.NormalizedPatent
	Provenance Provenance
}

// ChannelResult is the per-channel accumulator: deduplicated patent and
// product sets plus exact page counters. It is owned by the runner's
// coordinating loop until handed to the reconciler; membership is set-based
// so the result is independent of page completion order.
type ChannelResult struct {
	Patents  map[string]PatentEntry
	Products map[string]ProductEntry

	PagesProcessed int
	OCRPages       int
}

func NewChannelResult() *ChannelResult {
	return &ChannelResult{
		Patents:  map[string]PatentEntry{},
		Products: map[string]ProductEntry{},
	}
}

// ProductKey is the dedup key for product names: trimmed, space-collapsed,
// lowercased. Display strings keep their original casing.
func ProductKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// addProduct folds one product into the set, first writer wins.
func (c *ChannelResult) addProduct(name string, confidence float64, prov Provenance) bool {
	key := ProductKey(name)
	if key == "" {
		return false
	}
	if _, ok := c.Products[key]; ok {
		return false
	}
	c.Products[key] = ProductEntry{
		Name:       strings.Join(strings.Fields(name), " "),
		Confidence: confidence,
		Provenance: prov,
	}
	return true
}

// addPatent folds one normalized patent into the set, keyed by canonical,
// first writer wins.
func (c *ChannelResult) addPatent(p patnorm.NormalizedPatent, prov Provenance) bool {
	if p.Canonical == "" {
		return false
	}
	if _, ok := c.Patents[p.Canonical]; ok {
		return false
	}
	c.Patents[p.Canonical] = PatentEntry{NormalizedPatent: p, Provenance: prov}
	return true
}

func (c *ChannelResult) clone() *ChannelResult {
	out := NewChannelResult()
	out.PagesProcessed = c.PagesProcessed
	out.OCRPages = c.OCRPages
	for k, v := range c.Patents {
		out.Patents[k] = v
	}
	for k, v := range c.Products {
		out.Products[k] = v
	}
	return out
}

// ChannelPair holds both channels of one run. When OCR is off B aliases A so
// downstream code sees a uniform shape.
type ChannelPair struct {
	A *ChannelResult
	B *ChannelResult
}

// DiffRecord is the A/B set difference per entity kind, used to drive
// warning emission only.
type DiffRecord struct {
	ProductsAddedByOCR   []string
	ProductsRemovedByOCR []string
	PatentsAddedByOCR    []string
	PatentsRemovedByOCR  []string
}

func (d DiffRecord) Empty() bool {
	return len(d.ProductsAddedByOCR) == 0 && len(d.ProductsRemovedByOCR) == 0 &&
		len(d.PatentsAddedByOCR) == 0 && len(d.PatentsRemovedByOCR) == 0
}

// FinalDocument is the terminal artifact, one NDJSON line per source.
// Mapping is populated in full mode and serialized only on request.
type FinalDocument struct {
	Source   string              `json:"source"`
	Products []string            `json:"products"`
	Patents  []string            `json:"patents"`
	Mapping  map[string][]string `json:"mapping,omitempty"`
}

// RunStats feeds the terminal DONE log line.
type RunStats struct {
	Pages           int
	OCRPages        int
	Products        int
	Patents         int
	AuditAddedProds int
	AuditAddedPats  int
	ElapsedSeconds  float64
	Run             string // designated channel label: A or B
	Warnings        []string
}

// RunConfig is the immutable per-run configuration handed to the pipeline at
// construction. No process-wide flags are consulted inside the core.
type RunConfig struct {
	Mode Mode
	OCR  bool
	// MaxInFlight bounds concurrent (page, channel) extraction units.
	MaxInFlight int
	// AuditConfidenceFloor drops audit candidates below this confidence.
	AuditConfidenceFloor float64
}

const (
	DefaultMaxInFlight          = 6
	DefaultAuditConfidenceFloor = 0.7
)

func (c RunConfig) withDefaults() RunConfig {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.AuditConfidenceFloor <= 0 {
		c.AuditConfidenceFloor = DefaultAuditConfidenceFloor
	}
	return c
}
