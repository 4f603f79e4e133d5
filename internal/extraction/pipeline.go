package extraction

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/productinfo-agent/internal/patnorm"
)

// Pipeline wires the runner, reconciler, and mapper into the full per-source
// flow. Phases run strictly in order: extraction, reconciliation, audit,
// mapping. Cancellation between phases aborts the run without emitting a
// partial document.
type Pipeline struct {
	runner     *DualChannelRunner
	reconciler *Reconciler
	mapper     Mapper
	cfg        RunConfig
	tracer     trace.Tracer
}

func NewPipeline(extractor Extractor, mapper Mapper, normalizer *patnorm.Normalizer, cfg RunConfig) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		runner:     NewDualChannelRunner(extractor, normalizer, cfg),
		reconciler: NewReconciler(extractor, normalizer, cfg),
		mapper:     mapper,
		cfg:        cfg,
		tracer:     otel.Tracer("productinfo-agent/extraction"),
	}
}

// Run processes one source end to end and returns its final document.
func (p *Pipeline) Run(ctx context.Context, source string, kind SourceKind, pages []Page) (FinalDocument, RunStats, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("source", source),
		attribute.String("source.kind", string(kind)),
		attribute.String("mode", string(p.cfg.Mode)),
		attribute.Bool("ocr", p.cfg.OCR),
	))
	defer span.End()

	exCtx, exSpan := p.tracer.Start(ctx, "pipeline.extract")
	pair, err := p.runner.Run(exCtx, pages)
	exSpan.End()
	if err != nil {
		return FinalDocument{}, RunStats{}, err
	}

	auditText := designatedText(pair, pages)

	recCtx, recSpan := p.tracer.Start(ctx, "pipeline.reconcile")
	rec, err := p.reconciler.Reconcile(recCtx, pair, auditText)
	recSpan.End()
	if err != nil {
		return FinalDocument{}, RunStats{}, err
	}

	var doc FinalDocument
	if p.cfg.Mode == ModeAudit {
		doc, rec.AuditAddedProducts, rec.AuditAddedPatents = p.runAuditMode(ctx, source, rec.Final, auditText)
	} else {
		doc = buildDocument(source, rec.Final)
		if p.cfg.Mode == ModeFull {
			mapCtx, mapSpan := p.tracer.Start(ctx, "pipeline.map")
			doc.Mapping = MapAndGroup(mapCtx, p.mapper, rec.Final, auditText)
			mapSpan.End()
		}
	}
	if err := ctx.Err(); err != nil {
		return FinalDocument{}, RunStats{}, err
	}

	stats := RunStats{
		Pages:           pair.A.PagesProcessed,
		OCRPages:        pair.A.OCRPages,
		Products:        len(doc.Products),
		Patents:         len(doc.Patents),
		AuditAddedProds: rec.AuditAddedProducts,
		AuditAddedPats:  rec.AuditAddedPatents,
		ElapsedSeconds:  time.Since(start).Seconds(),
		Run:             string(channelA),
		Warnings:        rec.Warnings,
	}
	if pair.OCRRan() {
		stats.Run = string(channelB)
	}
	logDone(p.cfg, kind, stats)
	return doc, stats, nil
}

// runAuditMode inverts the usual flow: the extracted sets serve only as the
// known baseline, and the document carries what the audit found missing.
func (p *Pipeline) runAuditMode(ctx context.Context, source string, final *ChannelResult, text string) (FinalDocument, int, int) {
	auCtx, auSpan := p.tracer.Start(ctx, "pipeline.audit")
	candidates, err := p.reconciler.Audit(auCtx, final, text)
	auSpan.End()
	if err != nil && ctx.Err() == nil {
		log.Printf("[WARN] audit call failed: %v", err)
	}

	doc := FinalDocument{Source: source, Products: []string{}, Patents: []string{}}
	addedProds, addedPats := 0, 0
	seenProd := map[string]struct{}{}
	seenPat := map[string]struct{}{}
	for _, c := range candidates {
		switch c.Type {
		case "product":
			key := ProductKey(c.ValueRaw)
			if _, ok := seenProd[key]; ok {
				continue
			}
			seenProd[key] = struct{}{}
			doc.Products = append(doc.Products, strings.Join(strings.Fields(c.ValueRaw), " "))
			addedProds++
		case "patent":
			n := p.reconciler.normalizeAudit(c)
			logNormalization(n)
			if _, ok := seenPat[n.Canonical]; ok || n.Canonical == "" {
				continue
			}
			seenPat[n.Canonical] = struct{}{}
			doc.Patents = append(doc.Patents, n.Canonical)
			addedPats++
		}
	}
	sort.Strings(doc.Products)
	sort.Strings(doc.Patents)
	return doc, addedProds, addedPats
}

func buildDocument(source string, final *ChannelResult) FinalDocument {
	return FinalDocument{
		Source:   source,
		Products: productNames(final),
		Patents:  patentCanonicals(final),
	}
}

// designatedText concatenates the text of the designated channel, page order
// preserved. Pages whose OCR text is missing fall back to native text so the
// audit always sees the whole document.
func designatedText(pair ChannelPair, pages []Page) string {
	var sb strings.Builder
	for _, p := range pages {
		text := p.Native
		if pair.OCRRan() && p.OCR != "" {
			text = p.OCR
		}
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func logDone(cfg RunConfig, kind SourceKind, s RunStats) {
	ocr := "off"
	if cfg.OCR {
		ocr = "on"
	}
	log.Printf("[MODE=%s][RUN=%s][OCR=%s][SRC=%s] DONE pages=%d ocr_pages=%d products=%d patents=%d audit_add_prod=%d audit_add_pat=%d time=%.1fs",
		cfg.Mode, s.Run, ocr, kind,
		s.Pages, s.OCRPages, s.Products, s.Patents,
		s.AuditAddedProds, s.AuditAddedPats, s.ElapsedSeconds)
}
