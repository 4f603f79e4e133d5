package runstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/joelkehle/productinfo-agent/internal/extraction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	doc := extraction.FinalDocument{
		Source:   "brochure.pdf",
		Products: []string{"Widget Pro"},
		Patents:  []string{"US9439375B2"},
		Mapping:  map[string][]string{"Widget Pro": {"US9439375B2"}},
	}
	stats := extraction.RunStats{Pages: 3, OCRPages: 1, AuditAddedProds: 1, ElapsedSeconds: 2.5, Run: "B"}
	warnings := []string{"[WARN][OCR][products] Added with OCR (B - A): Widget Pro"}

	id, err := s.Save(extraction.ModeFull, true, doc, stats, warnings)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	run, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Source != "brochure.pdf" || run.Mode != "full" || !run.OCR || run.RunChannel != "B" {
		t.Errorf("run = %+v", run)
	}
	got, err := run.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if len(got.Patents) != 1 || got.Mapping["Widget Pro"][0] != "US9439375B2" {
		t.Errorf("document = %+v", got)
	}
	if w := run.Warnings(); len(w) != 1 || w[0] != warnings[0] {
		t.Errorf("warnings = %v", w)
	}
	if run.Stats().Pages != 3 {
		t.Errorf("stats = %+v", run.Stats())
	}
}

func TestLatestPicksNewestPerSource(t *testing.T) {
	s := openTestStore(t)
	doc := extraction.FinalDocument{Source: "page.html", Products: []string{}, Patents: []string{}}
	if _, err := s.Save(extraction.ModeProducts, false, doc, extraction.RunStats{Pages: 1, Run: "A"}, nil); err != nil {
		t.Fatal(err)
	}
	doc.Products = []string{"Newer"}
	if _, err := s.Save(extraction.ModeProducts, false, doc, extraction.RunStats{Pages: 2, Run: "A"}, nil); err != nil {
		t.Fatal(err)
	}

	run, err := s.Latest("page.html")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if run.Pages != 2 {
		t.Errorf("latest run pages = %d, want 2", run.Pages)
	}
}

func TestGetMissingRun(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Latest("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for _, src := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		doc := extraction.FinalDocument{Source: src, Products: []string{}, Patents: []string{}}
		if _, err := s.Save(extraction.ModePatents, false, doc, extraction.RunStats{Run: "A"}, nil); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].Source != "c.pdf" || runs[1].Source != "b.pdf" {
		t.Errorf("runs = %+v", runs)
	}
}
