package extraction

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/joelkehle/productinfo-agent/internal/patnorm"
)

// ReconcileResult is the outcome of the reconciliation and audit phase: the
// designated final set, the A/B diff, the warning lines already emitted, and
// the audit contribution counts for the terminal log line.
type ReconcileResult struct {
	Final    *ChannelResult
	Diff     DiffRecord
	Warnings []string

	AuditAddedProducts int
	AuditAddedPatents  int
}

// Reconciler compares the two channels, designates the base set, and runs
// the audit recovery pass over the designated channel's text.
type Reconciler struct {
	extractor  Extractor
	normalizer *patnorm.Normalizer
	cfg        RunConfig
}

func NewReconciler(extractor Extractor, normalizer *patnorm.Normalizer, cfg RunConfig) *Reconciler {
	return &Reconciler{extractor: extractor, normalizer: normalizer, cfg: cfg.withDefaults()}
}

// Reconcile runs after all extraction units have completed. auditText is the
// concatenated text of the designated channel. The audit call is best effort:
// its failure leaves the designated set unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, pair ChannelPair, auditText string) (ReconcileResult, error) {
	if err := ctx.Err(); err != nil {
		return ReconcileResult{}, err
	}

	res := ReconcileResult{}
	if pair.OCRRan() {
		res.Diff = Diff(pair)
		res.Warnings = warningsFor(res.Diff)
		for _, w := range res.Warnings {
			log.Print(w)
		}
		res.Final = pair.B.clone()
	} else {
		res.Final = pair.A.clone()
	}

	if r.cfg.Mode != ModeAudit {
		r.audit(ctx, &res, auditText)
	}
	if err := ctx.Err(); err != nil {
		return ReconcileResult{}, err
	}
	return res, nil
}

// Audit runs the audit call against an already-final set and returns the
// accepted candidates without merging them. Used by audit mode, where the
// missed entities themselves are the output.
func (r *Reconciler) Audit(ctx context.Context, final *ChannelResult, text string) ([]AuditCandidate, error) {
	candidates, err := r.extractor.Audit(ctx, productNames(final), patentCanonicals(final), text)
	if err != nil {
		return nil, err
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Confidence >= r.cfg.AuditConfidenceFloor {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func (r *Reconciler) audit(ctx context.Context, res *ReconcileResult, text string) {
	candidates, err := r.Audit(ctx, res.Final, text)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[WARN] audit call failed, continuing without recovery: %v", err)
		}
		return
	}
	for _, c := range candidates {
		switch c.Type {
		case "product":
			if res.Final.addProduct(c.ValueRaw, c.Confidence, ProvenanceAudit) {
				res.AuditAddedProducts++
			}
		case "patent":
			n := r.normalizeAudit(c)
			logNormalization(n)
			if res.Final.addPatent(n, ProvenanceAudit) {
				res.AuditAddedPatents++
			}
		}
	}
}

// normalizeAudit normalizes an audit patent candidate. The raw form is
// preferred; the collaborator's own normalized_number only serves as a
// fallback when the raw text fails to parse.
func (r *Reconciler) normalizeAudit(c AuditCandidate) patnorm.NormalizedPatent {
	n := r.normalizer.Normalize(c.ValueRaw, c.Confidence)
	if n.Country == "" && c.NormalizedNumber != "" {
		alt := r.normalizer.Normalize(c.NormalizedNumber, c.Confidence)
		if alt.Country != "" {
			alt.Raw = c.ValueRaw
			return alt
		}
	}
	return n
}

// Diff computes the OCR-attributable set differences between the channels.
// added = B - A, removed = A - B. It is total: every key lands in exactly
// one of present-in-both, added, or removed.
func Diff(pair ChannelPair) DiffRecord {
	d := DiffRecord{}
	for key, e := range pair.B.Products {
		if _, ok := pair.A.Products[key]; !ok {
			d.ProductsAddedByOCR = append(d.ProductsAddedByOCR, e.Name)
		}
	}
	for key, e := range pair.A.Products {
		if _, ok := pair.B.Products[key]; !ok {
			d.ProductsRemovedByOCR = append(d.ProductsRemovedByOCR, e.Name)
		}
	}
	for key := range pair.B.Patents {
		if _, ok := pair.A.Patents[key]; !ok {
			d.PatentsAddedByOCR = append(d.PatentsAddedByOCR, key)
		}
	}
	for key := range pair.A.Patents {
		if _, ok := pair.B.Patents[key]; !ok {
			d.PatentsRemovedByOCR = append(d.PatentsRemovedByOCR, key)
		}
	}
	sort.Strings(d.ProductsAddedByOCR)
	sort.Strings(d.ProductsRemovedByOCR)
	sort.Strings(d.PatentsAddedByOCR)
	sort.Strings(d.PatentsRemovedByOCR)
	return d
}

func warningsFor(d DiffRecord) []string {
	var out []string
	for _, v := range d.ProductsAddedByOCR {
		out = append(out, fmt.Sprintf("[WARN][OCR][products] Added with OCR (B - A): %s", v))
	}
	for _, v := range d.ProductsRemovedByOCR {
		out = append(out, fmt.Sprintf("[WARN][OCR][products] Removed when OCR enabled (A - B): %s", v))
	}
	for _, v := range d.PatentsAddedByOCR {
		out = append(out, fmt.Sprintf("[WARN][OCR][patents] Added with OCR (B - A): %s", v))
	}
	for _, v := range d.PatentsRemovedByOCR {
		out = append(out, fmt.Sprintf("[WARN][OCR][patents] Removed when OCR enabled (A - B): %s", v))
	}
	return out
}

func productNames(c *ChannelResult) []string {
	out := make([]string, 0, len(c.Products))
	for _, e := range c.Products {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}

func patentCanonicals(c *ChannelResult) []string {
	out := make([]string, 0, len(c.Patents))
	for key := range c.Patents {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
