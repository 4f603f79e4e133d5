package docsource

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// OCREngine produces the OCR text channel: one string per PDF page, one
// string per HTML render. Empty strings mark pages where OCR failed.
type OCREngine interface {
	PDFPages(ctx context.Context, pdfPath string) ([]string, error)
	HTMLPage(ctx context.Context, url string) (string, error)
}

// TesseractEngine rasterizes with pdftoppm (PDFs) or a headless Chromium
// screenshot (HTML), then recognizes each image with tesseract.
type TesseractEngine struct {
	TesseractPath string
	PdftoppmPath  string
	ChromePath    string
	DPI           int
}

func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{
		TesseractPath: "tesseract",
		PdftoppmPath:  "pdftoppm",
		ChromePath:    detectChromePath(),
		DPI:           200,
	}
}

// PDFPages rasterizes every page and recognizes them in order. A failed page
// yields an empty string, not an error: the page simply has no OCR channel.
func (e *TesseractEngine) PDFPages(ctx context.Context, pdfPath string) ([]string, error) {
	workDir, err := os.MkdirTemp("", "ocr-pages-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	prefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, e.PdftoppmPath, "-png", "-r", fmt.Sprint(e.DPI), pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	sortByPageNumber(images)

	pages := make([]string, len(images))
	for i, img := range images {
		text, err := e.recognize(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[WARN] ocr failed for page %d of %s: %v", i+1, pdfPath, err)
			continue
		}
		pages[i] = text
	}
	return pages, nil
}

// sortByPageNumber orders pdftoppm output files by their numeric page
// component. pdftoppm only zero-pads when the page count is known up front,
// so "page-10.png" must not sort before "page-2.png" lexically.
func sortByPageNumber(images []string) {
	sort.Slice(images, func(i, j int) bool {
		ni, nj := pageNumber(images[i]), pageNumber(images[j])
		if ni != nj {
			return ni < nj
		}
		return images[i] < images[j]
	})
}

// pageNumber extracts the trailing page component of a pdftoppm output
// name like "page-10.png". Files without one sort first.
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndexByte(base, '-')
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// HTMLPage renders the URL full-height in headless Chromium and recognizes
// the screenshot as a single page. Local paths are turned into file URLs.
func (e *TesseractEngine) HTMLPage(ctx context.Context, url string) (string, error) {
	if !isURL(url) {
		abs, err := filepath.Abs(url)
		if err != nil {
			return "", err
		}
		url = "file://" + abs
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if e.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(e.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var shot []byte
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, 90),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}

	img, err := os.CreateTemp("", "ocr-html-*.png")
	if err != nil {
		return "", err
	}
	defer os.Remove(img.Name())
	if _, err := img.Write(shot); err != nil {
		img.Close()
		return "", err
	}
	img.Close()

	return e.recognize(ctx, img.Name())
}

func (e *TesseractEngine) recognize(ctx context.Context, imagePath string) (string, error) {
	cmd := exec.CommandContext(ctx, e.TesseractPath, imagePath, "stdout")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
