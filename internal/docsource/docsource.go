// Package docsource resolves input sources into page-structured text. A
// source is a local file path or an HTTP(S) URL; the payload is sniffed as
// PDF or HTML. PDF pages map one-to-one onto document pages, HTML renders as
// a single page.
package docsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxSourceBytes = 20 * 1024 * 1024

type Kind string

const (
	KindPDF  Kind = "pdf"
	KindHTML Kind = "html"
)

// Document is one resolved source: native text split into pages, plus the
// on-disk path of the PDF payload when one exists, for later rasterization.
type Document struct {
	Source  string
	Kind    Kind
	Pages   []string
	PDFPath string
}

// SourceError marks a failure to resolve one source. It is fatal for that
// source only; batch processing continues with the rest.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

type Resolver struct {
	client  *http.Client
	tempDir string
}

func NewResolver(tempDir string) *Resolver {
	return &Resolver{
		client:  &http.Client{Timeout: 60 * time.Second},
		tempDir: tempDir,
	}
}

// Resolve fetches and parses one source. All failures are wrapped in a
// SourceError carrying the source identity.
func (r *Resolver) Resolve(ctx context.Context, source string) (*Document, error) {
	doc, err := r.resolve(ctx, source)
	if err != nil {
		return nil, &SourceError{Source: source, Err: err}
	}
	return doc, nil
}

func (r *Resolver) resolve(ctx context.Context, source string) (*Document, error) {
	var data []byte
	var contentType string
	var localPath string

	if isURL(source) {
		var err error
		data, contentType, err = r.fetch(ctx, source)
		if err != nil {
			return nil, err
		}
	} else {
		info, err := os.Stat(source)
		if err != nil {
			return nil, err
		}
		if info.Size() > maxSourceBytes {
			return nil, fmt.Errorf("source too large: %d bytes", info.Size())
		}
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, err
		}
		localPath = source
	}

	if looksLikePDF(data, contentType, source) {
		pages, err := extractPDFPages(data)
		if err != nil {
			return nil, err
		}
		pdfPath := localPath
		if pdfPath == "" {
			pdfPath, err = r.spill(data)
			if err != nil {
				return nil, err
			}
		}
		return &Document{Source: source, Kind: KindPDF, Pages: pages, PDFPath: pdfPath}, nil
	}

	text, err := extractHTMLText(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no extractable text")
	}
	return &Document{Source: source, Kind: KindHTML, Pages: []string{text}}, nil
}

func (r *Resolver) fetch(ctx context.Context, source string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/pdf, text/html;q=0.9, */*;q=0.5")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxSourceBytes {
		return nil, "", fmt.Errorf("source too large: more than %d bytes", maxSourceBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// spill writes fetched PDF bytes to a temp file so the OCR rasterizer can
// consume a path.
func (r *Resolver) spill(data []byte) (string, error) {
	dir := r.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "source-*.pdf")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// looksLikePDF sniffs the payload first; headers and extensions only break
// ties when the magic bytes are absent.
func looksLikePDF(data []byte, contentType, source string) bool {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return true
	}
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(strings.SplitN(source, "?", 2)[0]), ".pdf")
}
