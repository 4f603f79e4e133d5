package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joelkehle/productinfo-agent/internal/extraction"
	"github.com/joelkehle/productinfo-agent/internal/report"
	"github.com/joelkehle/productinfo-agent/internal/runstore"
)

func main() {
	dbPath := flag.String("db", "", "SQLite run history path")
	runID := flag.Int64("run", 0, "run id to render (defaults to latest for -source)")
	source := flag.String("source", "", "render the latest run for this source")
	outputPath := flag.String("output", "", "markdown output path (defaults to stdout)")
	pdfPath := flag.String("pdf", "", "optional PDF output path (requires Chromium)")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("missing required -db")
	}
	if *runID == 0 && *source == "" {
		log.Fatal("pass -run or -source")
	}

	store, err := runstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("open run store: %v", err)
	}
	defer store.Close()

	var run runstore.Run
	if *runID != 0 {
		run, err = store.Get(*runID)
	} else {
		run, err = store.Latest(*source)
	}
	if err != nil {
		log.Fatalf("load run: %v", err)
	}

	doc, err := run.Document()
	if err != nil {
		log.Fatalf("decode run document: %v", err)
	}
	markdown := extraction.BuildRunMarkdown(doc, run.Stats(), run.Warnings())

	if err := writeMarkdown(*outputPath, markdown); err != nil {
		log.Fatalf("write markdown: %v", err)
	}
	if *pdfPath != "" {
		pdf, err := report.NewRenderer().RenderPDF(context.Background(), markdown)
		if err != nil {
			log.Fatalf("render pdf: %v", err)
		}
		if err := os.WriteFile(*pdfPath, pdf, 0o644); err != nil {
			log.Fatalf("write pdf: %v", err)
		}
	}
}

func writeMarkdown(outputPath, markdown string) error {
	if outputPath == "" {
		_, err := fmt.Print(markdown)
		return err
	}
	return os.WriteFile(outputPath, []byte(markdown), 0o644)
}
