// Package batch drives the pipeline over a list of sources, streaming one
// NDJSON line per completed source. Sources are processed in order so the
// pipeline's in-flight bound stays global; failures are isolated per source.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/joelkehle/productinfo-agent/internal/docsource"
	"github.com/joelkehle/productinfo-agent/internal/extraction"
	"github.com/joelkehle/productinfo-agent/internal/runstore"
)

type Runner struct {
	resolver *docsource.Resolver
	ocr      docsource.OCREngine
	pipeline *extraction.Pipeline
	cfg      extraction.RunConfig

	// Store and EssentialDir are optional side outputs.
	Store        *runstore.Store
	EssentialDir string
	// WithMapping controls serialization only; the mapping itself is always
	// computed in full mode.
	WithMapping bool
}

func NewRunner(resolver *docsource.Resolver, ocr docsource.OCREngine, pipeline *extraction.Pipeline, cfg extraction.RunConfig) *Runner {
	return &Runner{resolver: resolver, ocr: ocr, pipeline: pipeline, cfg: cfg}
}

// Process runs every source and writes its final document as one NDJSON
// line. A failed source logs and skips; only cancellation stops the batch.
// The returned count is the number of sources that completed.
func (r *Runner) Process(ctx context.Context, sources []string, out io.Writer) (int, error) {
	enc := json.NewEncoder(out)
	done := 0
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		doc, err := r.processOne(ctx, source)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return done, err
			}
			log.Printf("[ERROR] source failed, skipping: %v", err)
			continue
		}
		if !r.WithMapping {
			doc.Mapping = nil
		}
		if err := enc.Encode(doc); err != nil {
			return done, fmt.Errorf("write output: %w", err)
		}
		done++
	}
	return done, nil
}

func (r *Runner) processOne(ctx context.Context, source string) (extraction.FinalDocument, error) {
	resolved, err := r.resolver.Resolve(ctx, source)
	if err != nil {
		return extraction.FinalDocument{}, err
	}

	pages := r.buildPages(ctx, resolved)
	kind := extraction.SourcePDF
	if resolved.Kind == docsource.KindHTML {
		kind = extraction.SourceHTML
	}

	doc, stats, err := r.pipeline.Run(ctx, source, kind, pages)
	if err != nil {
		return extraction.FinalDocument{}, fmt.Errorf("pipeline %s: %w", source, err)
	}

	if r.Store != nil {
		if _, err := r.Store.Save(r.cfg.Mode, r.cfg.OCR, doc, stats, stats.Warnings); err != nil {
			log.Printf("[WARN] persist run for %s: %v", source, err)
		}
	}
	if r.EssentialDir != "" {
		if _, err := extraction.WriteEssential(r.EssentialDir, doc); err != nil {
			log.Printf("[WARN] write essential for %s: %v", source, err)
		}
	}
	return doc, nil
}

// buildPages pairs native text with OCR text by page index. OCR failures
// degrade to pages without an OCR channel.
func (r *Runner) buildPages(ctx context.Context, doc *docsource.Document) []extraction.Page {
	pages := make([]extraction.Page, len(doc.Pages))
	for i, native := range doc.Pages {
		pages[i] = extraction.Page{Index: i, Native: native}
	}
	if !r.cfg.OCR || r.ocr == nil {
		return pages
	}

	switch doc.Kind {
	case docsource.KindPDF:
		ocrPages, err := r.ocr.PDFPages(ctx, doc.PDFPath)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[WARN] ocr unavailable for %s: %v", doc.Source, err)
			}
			return pages
		}
		for i := range pages {
			if i < len(ocrPages) {
				pages[i].OCR = ocrPages[i]
			}
		}
	case docsource.KindHTML:
		text, err := r.ocr.HTMLPage(ctx, doc.Source)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[WARN] ocr unavailable for %s: %v", doc.Source, err)
			}
			return pages
		}
		if len(pages) > 0 {
			pages[0].OCR = text
		}
	}
	return pages
}
