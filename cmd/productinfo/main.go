package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joelkehle/productinfo-agent/internal/batch"
	"github.com/joelkehle/productinfo-agent/internal/docsource"
	"github.com/joelkehle/productinfo-agent/internal/extraction"
	"github.com/joelkehle/productinfo-agent/internal/patnorm"
	"github.com/joelkehle/productinfo-agent/internal/runstore"
	"github.com/joelkehle/productinfo-agent/internal/telemetry"
)

type config struct {
	mode         extraction.Mode
	ocr          bool
	concurrency  int
	outPath      string
	dbPath       string
	essentialDir string
	tablesPath   string
	withMapping  bool
	sources      []string
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("productinfo", flag.ContinueOnError)
	mode := fs.String("mode", "full", "extraction mode: products, patents, audit, or full")
	ocr := fs.Bool("ocr", false, "enable the OCR channel")
	concurrency := fs.Int("concurrency", extraction.DefaultMaxInFlight, "max concurrent extraction calls")
	outPath := fs.String("out", "-", "output NDJSON path, - for stdout")
	dbPath := fs.String("db", "", "SQLite path for run history (optional)")
	essentialDir := fs.String("essential-dir", "", "directory for per-source result files (optional)")
	tablesPath := fs.String("tables", "", "YAML overrides for normalization tables (optional)")
	withMapping := fs.Bool("with-mapping", false, "serialize the product-to-patent mapping in full mode")
	inputPath := fs.String("input", "", "file listing one source per line (optional)")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		ocr:          *ocr,
		concurrency:  *concurrency,
		outPath:      *outPath,
		dbPath:       *dbPath,
		essentialDir: *essentialDir,
		tablesPath:   *tablesPath,
		withMapping:  *withMapping,
		sources:      fs.Args(),
	}

	m, ok := extraction.ParseMode(*mode)
	if !ok {
		return config{}, fmt.Errorf("unknown mode %q", *mode)
	}
	cfg.mode = m

	if *inputPath != "" {
		listed, err := readSourceList(*inputPath)
		if err != nil {
			return config{}, err
		}
		cfg.sources = append(cfg.sources, listed...)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if len(c.sources) == 0 {
		return errors.New("no sources given: pass paths or URLs as arguments, or -input")
	}
	if c.concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.concurrency)
	}
	if c.withMapping && c.mode != extraction.ModeFull {
		return errors.New("-with-mapping requires -mode full")
	}
	if strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) == "" {
		return errors.New("ANTHROPIC_API_KEY not configured")
	}
	return nil
}

func readSourceList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read source list: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.ServiceName())
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer shutdownTracing(context.Background())

	tables := patnorm.DefaultTables()
	if cfg.tablesPath != "" {
		tables, err = patnorm.LoadTables(cfg.tablesPath)
		if err != nil {
			log.Fatalf("normalization tables: %v", err)
		}
	}

	caller, err := extraction.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	llm := extraction.NewLLMExtractor(caller)

	runCfg := extraction.RunConfig{
		Mode:        cfg.mode,
		OCR:         cfg.ocr,
		MaxInFlight: cfg.concurrency,
	}
	pipeline := extraction.NewPipeline(llm, llm, patnorm.New(tables), runCfg)

	runner := batch.NewRunner(docsource.NewResolver(""), docsource.NewTesseractEngine(), pipeline, runCfg)
	runner.WithMapping = cfg.withMapping
	runner.EssentialDir = cfg.essentialDir
	if cfg.dbPath != "" {
		store, err := runstore.Open(cfg.dbPath)
		if err != nil {
			log.Fatalf("run store: %v", err)
		}
		defer store.Close()
		runner.Store = store
	}

	out := io.Writer(os.Stdout)
	if cfg.outPath != "" && cfg.outPath != "-" {
		f, err := os.Create(cfg.outPath)
		if err != nil {
			log.Fatalf("output: %v", err)
		}
		defer f.Close()
		out = f
	}

	done, err := runner.Process(ctx, cfg.sources, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("batch: %v", err)
	}
	log.Printf("processed %d of %d sources", done, len(cfg.sources))
}
