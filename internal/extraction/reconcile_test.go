package extraction

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/joelkehle/productinfo-agent/internal/patnorm"
)

func channelWith(t *testing.T, products []string, patents []string) *ChannelResult {
	t.Helper()
	n := patnorm.New(patnorm.DefaultTables())
	c := NewChannelResult()
	for _, p := range products {
		c.addProduct(p, 0.9, ProvenanceNative)
	}
	for _, p := range patents {
		c.addPatent(n.Normalize(p, 1.0), ProvenanceNative)
	}
	return c
}

func TestDiffIsTotal(t *testing.T) {
	a := channelWith(t, []string{"Alpha", "Beta"}, []string{"US1111111", "EP2222222"})
	b := channelWith(t, []string{"Beta", "Gamma"}, []string{"EP2222222", "JP3333333"})
	d := Diff(ChannelPair{A: a, B: b})

	if !reflect.DeepEqual(d.ProductsAddedByOCR, []string{"Gamma"}) {
		t.Errorf("products added = %v", d.ProductsAddedByOCR)
	}
	if !reflect.DeepEqual(d.ProductsRemovedByOCR, []string{"Alpha"}) {
		t.Errorf("products removed = %v", d.ProductsRemovedByOCR)
	}
	if !reflect.DeepEqual(d.PatentsAddedByOCR, []string{"JP3333333"}) {
		t.Errorf("patents added = %v", d.PatentsAddedByOCR)
	}
	if !reflect.DeepEqual(d.PatentsRemovedByOCR, []string{"US1111111"}) {
		t.Errorf("patents removed = %v", d.PatentsRemovedByOCR)
	}

	// Every key appears in exactly one bucket: shared, added, or removed.
	total := len(d.PatentsAddedByOCR) + len(d.PatentsRemovedByOCR)
	shared := 0
	for k := range a.Patents {
		if _, ok := b.Patents[k]; ok {
			shared++
		}
	}
	if shared+total != len(a.Patents)+len(b.Patents)-shared {
		t.Errorf("diff not total: shared=%d added+removed=%d", shared, total)
	}
}

func TestDiffIdenticalChannelsIsEmpty(t *testing.T) {
	a := channelWith(t, []string{"Alpha"}, []string{"US1111111"})
	b := channelWith(t, []string{"Alpha"}, []string{"US1111111"})
	if d := Diff(ChannelPair{A: a, B: b}); !d.Empty() {
		t.Fatalf("diff = %+v, want empty", d)
	}
}

func TestWarningFormat(t *testing.T) {
	d := DiffRecord{
		ProductsAddedByOCR:  []string{"Gamma"},
		PatentsRemovedByOCR: []string{"US1111111"},
	}
	got := warningsFor(d)
	want := []string{
		"[WARN][OCR][products] Added with OCR (B - A): Gamma",
		"[WARN][OCR][patents] Removed when OCR enabled (A - B): US1111111",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("warnings = %v, want %v", got, want)
	}
}

func TestReconcileDesignatesBaseChannel(t *testing.T) {
	a := channelWith(t, []string{"Alpha"}, nil)
	b := channelWith(t, []string{"Gamma"}, nil)
	rec := NewReconciler(&fakeExtractor{}, patnorm.New(patnorm.DefaultTables()), RunConfig{Mode: ModeFull})

	res, err := rec.Reconcile(context.Background(), ChannelPair{A: a, B: b}, "text")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := res.Final.Products[ProductKey("Gamma")]; !ok {
		t.Error("OCR ran: base must be channel B")
	}
	if _, ok := res.Final.Products[ProductKey("Alpha")]; ok {
		t.Error("channel A entries must not leak into a B-designated base")
	}

	res, err = rec.Reconcile(context.Background(), ChannelPair{A: a, B: a}, "text")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := res.Final.Products[ProductKey("Alpha")]; !ok {
		t.Error("OCR absent: base must be channel A")
	}
}

func TestReconcileAuditMergeFirstWriterWins(t *testing.T) {
	base := channelWith(t, []string{"Alpha"}, []string{"US1111111"})
	ex := &fakeExtractor{
		audit: func(products, patents []string, text string) ([]AuditCandidate, error) {
			return []AuditCandidate{
				{Type: "patent", ValueRaw: "US 1,111,111", Confidence: 0.95}, // collision, discarded
				{Type: "patent", ValueRaw: "EP 2222222", Confidence: 0.9},
				{Type: "product", ValueRaw: "alpha", Confidence: 0.9}, // collision via key normalization
				{Type: "product", ValueRaw: "Beta", Confidence: 0.8},
			}, nil
		},
	}
	rec := NewReconciler(ex, patnorm.New(patnorm.DefaultTables()), RunConfig{Mode: ModeFull})
	res, err := rec.Reconcile(context.Background(), ChannelPair{A: base, B: base}, "text")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.AuditAddedPatents != 1 || res.AuditAddedProducts != 1 {
		t.Fatalf("audit added = %d/%d, want 1/1", res.AuditAddedProducts, res.AuditAddedPatents)
	}
	if got := res.Final.Patents["US1111111"].Provenance; got != ProvenanceNative {
		t.Errorf("collision overwrote provenance: %s", got)
	}
	if got := res.Final.Patents["EP2222222"].Provenance; got != ProvenanceAudit {
		t.Errorf("audit provenance = %s", got)
	}
}

func TestReconcileAuditConfidenceFloor(t *testing.T) {
	base := channelWith(t, nil, nil)
	ex := &fakeExtractor{
		audit: func(products, patents []string, text string) ([]AuditCandidate, error) {
			return []AuditCandidate{
				{Type: "product", ValueRaw: "Low", Confidence: 0.69},
				{Type: "product", ValueRaw: "High", Confidence: 0.7},
			}, nil
		},
	}
	rec := NewReconciler(ex, patnorm.New(patnorm.DefaultTables()), RunConfig{Mode: ModeFull})
	res, err := rec.Reconcile(context.Background(), ChannelPair{A: base, B: base}, "text")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.AuditAddedProducts != 1 {
		t.Fatalf("audit added = %d, want only the candidate at the floor", res.AuditAddedProducts)
	}
	if _, ok := res.Final.Products[ProductKey("High")]; !ok {
		t.Error("candidate at the floor must be kept")
	}
}

func TestReconcileAuditFailureAbsorbed(t *testing.T) {
	base := channelWith(t, []string{"Alpha"}, nil)
	ex := &fakeExtractor{
		audit: func(products, patents []string, text string) ([]AuditCandidate, error) {
			return nil, errors.New("server error")
		},
	}
	rec := NewReconciler(ex, patnorm.New(patnorm.DefaultTables()), RunConfig{Mode: ModeFull})
	res, err := rec.Reconcile(context.Background(), ChannelPair{A: base, B: base}, "text")
	if err != nil {
		t.Fatalf("audit failure must not fail the run: %v", err)
	}
	if len(res.Final.Products) != 1 || res.AuditAddedProducts != 0 {
		t.Errorf("final = %d products, audit added = %d", len(res.Final.Products), res.AuditAddedProducts)
	}
}

func TestReconcileReceivesDesignatedSets(t *testing.T) {
	base := channelWith(t, []string{"Alpha"}, []string{"US1111111"})
	var gotProducts, gotPatents []string
	ex := &fakeExtractor{
		audit: func(products, patents []string, text string) ([]AuditCandidate, error) {
			gotProducts, gotPatents = products, patents
			return nil, nil
		},
	}
	rec := NewReconciler(ex, patnorm.New(patnorm.DefaultTables()), RunConfig{Mode: ModeFull})
	if _, err := rec.Reconcile(context.Background(), ChannelPair{A: base, B: base}, "text"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !reflect.DeepEqual(gotProducts, []string{"Alpha"}) || !reflect.DeepEqual(gotPatents, []string{"US1111111"}) {
		t.Errorf("audit saw %v / %v", gotProducts, gotPatents)
	}
}

func TestNormalizeAuditPrefersRawThenFallback(t *testing.T) {
	rec := NewReconciler(&fakeExtractor{}, patnorm.New(patnorm.DefaultTables()), RunConfig{})

	n := rec.normalizeAudit(AuditCandidate{Type: "patent", ValueRaw: "EP 1106985", Confidence: 0.9})
	if n.Canonical != "EP1106985" {
		t.Errorf("canonical = %q", n.Canonical)
	}

	n = rec.normalizeAudit(AuditCandidate{Type: "patent", ValueRaw: "patent number 1106985", NormalizedNumber: "EP1106985", Confidence: 0.9})
	if n.Country != "EP" {
		t.Errorf("fallback country = %q, want EP", n.Country)
	}
	if !strings.Contains(n.Raw, "1106985") {
		t.Errorf("raw = %q, must keep the original text", n.Raw)
	}
}
