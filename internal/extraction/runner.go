package extraction

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/joelkehle/productinfo-agent/internal/patnorm"
)

type channelLabel string

const (
	channelA channelLabel = "A" // native text
	channelB channelLabel = "B" // OCR text
)

type unitKind string

const (
	unitProducts unitKind = "products"
	unitPatents  unitKind = "patents"
)

// extractionUnit is one bounded-concurrency work item: one page, one
// channel, one entity kind, one external call.
type extractionUnit struct {
	page    int
	channel channelLabel
	kind    unitKind
	text    string
}

type unitResult struct {
	unit     extractionUnit
	products []ProductCandidate
	patents  []PatentCandidate
}

// DualChannelRunner fans (page, channel, kind) units out to at most
// MaxInFlight concurrent extraction calls and folds results into per-channel
// sets. All folding happens in the coordinating goroutine, so the channel
// maps need no locking; set semantics make the outcome independent of unit
// completion order.
type DualChannelRunner struct {
	extractor  Extractor
	normalizer *patnorm.Normalizer
	cfg        RunConfig
}

func NewDualChannelRunner(extractor Extractor, normalizer *patnorm.Normalizer, cfg RunConfig) *DualChannelRunner {
	return &DualChannelRunner{extractor: extractor, normalizer: normalizer, cfg: cfg.withDefaults()}
}

// Run executes both channels over the given pages. When OCR is off, or on
// but no page produced OCR text, channel B aliases channel A.
func (r *DualChannelRunner) Run(ctx context.Context, pages []Page) (ChannelPair, error) {
	units := r.buildUnits(pages)

	a := NewChannelResult()
	b := NewChannelResult()
	a.PagesProcessed = len(pages)
	b.PagesProcessed = len(pages)
	ocrPages := 0
	for _, p := range pages {
		if r.cfg.OCR && p.OCR != "" {
			ocrPages++
		}
	}
	a.OCRPages = ocrPages
	b.OCRPages = ocrPages

	results := make(chan unitResult)
	sem := make(chan struct{}, r.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u extractionUnit) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			results <- r.runUnit(ctx, u)
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		target := a
		prov := ProvenanceNative
		if res.unit.channel == channelB {
			target = b
			prov = ProvenanceOCR
		}
		r.fold(target, res, prov)
	}
	if err := ctx.Err(); err != nil {
		return ChannelPair{}, err
	}

	hasB := false
	for _, u := range units {
		if u.channel == channelB {
			hasB = true
			break
		}
	}
	if !hasB {
		b = a
	}
	return ChannelPair{A: a, B: b}, nil
}

// OCRRan reports whether channel B was populated independently of A.
func (p ChannelPair) OCRRan() bool { return p.B != p.A }

func (r *DualChannelRunner) buildUnits(pages []Page) []extractionUnit {
	var units []extractionUnit
	add := func(page int, ch channelLabel, text string) {
		if text == "" {
			return
		}
		if r.cfg.Mode.wantsProducts() || r.cfg.Mode == ModeAudit {
			units = append(units, extractionUnit{page: page, channel: ch, kind: unitProducts, text: text})
		}
		if r.cfg.Mode.wantsPatents() || r.cfg.Mode == ModeAudit {
			units = append(units, extractionUnit{page: page, channel: ch, kind: unitPatents, text: text})
		}
	}
	for _, p := range pages {
		add(p.Index, channelA, p.Native)
		if r.cfg.OCR {
			add(p.Index, channelB, p.OCR)
		}
	}
	return units
}

// runUnit performs one extraction call. External failures are absorbed here:
// the unit contributes nothing and the run continues.
func (r *DualChannelRunner) runUnit(ctx context.Context, u extractionUnit) unitResult {
	res := unitResult{unit: u}
	var err error
	switch u.kind {
	case unitProducts:
		res.products, err = r.extractor.ExtractProducts(ctx, u.text)
	case unitPatents:
		res.patents, err = r.extractor.ExtractPatents(ctx, u.text)
	}
	if err != nil && ctx.Err() == nil {
		log.Printf("[WARN] extraction failed page=%d channel=%s kind=%s: %v", u.page, u.channel, u.kind, err)
	}
	return res
}

// fold merges one unit's candidates into its channel set. Patents are
// normalized on arrival and each normalization is logged as a JSON record.
func (r *DualChannelRunner) fold(target *ChannelResult, res unitResult, prov Provenance) {
	for _, c := range res.products {
		target.addProduct(c.Value, c.Confidence, prov)
	}
	for _, c := range res.patents {
		n := r.normalizer.NormalizeWithHints(c.Value, c.Country, c.Kind, c.Confidence)
		logNormalization(n)
		target.addPatent(n, prov)
	}
}

func logNormalization(n patnorm.NormalizedPatent) {
	blob, err := json.Marshal(n.LogRecord())
	if err != nil {
		return
	}
	log.Printf("[NORM] %s", blob)
}
