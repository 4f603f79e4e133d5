package extraction

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EssentialFileName derives a stable per-source file name: a readable slug
// from the source plus a short content-independent hash of the full source
// string, so distinct URLs with the same tail do not collide.
func EssentialFileName(source string) string {
	sum := sha1.Sum([]byte(source))
	short := hex.EncodeToString(sum[:])[:10]

	slug := source
	if u, err := url.Parse(source); err == nil && u.Host != "" {
		slug = u.Host
	} else {
		slug = filepath.Base(source)
		slug = strings.TrimSuffix(slug, filepath.Ext(slug))
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(slug) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	clean := strings.Trim(sb.String(), "_")
	if clean == "" {
		clean = "source"
	}
	return fmt.Sprintf("%s_%s.json", clean, short)
}

// WriteEssential persists one final document as a standalone JSON file in
// dir, written to a temp file first so readers never observe a partial file.
func WriteEssential(dir string, doc FinalDocument) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create essential dir: %w", err)
	}
	path := filepath.Join(dir, EssentialFileName(doc.Source))
	blob, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal essential: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return "", fmt.Errorf("write essential: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename essential: %w", err)
	}
	return path, nil
}

// BuildRunMarkdown renders one run's outcome as a GFM report, consumed by
// the report renderer command.
func BuildRunMarkdown(doc FinalDocument, stats RunStats, warnings []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Extraction Report: %s\n\n", doc.Source)
	fmt.Fprintf(&sb, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Pages | %d |\n", stats.Pages)
	fmt.Fprintf(&sb, "| OCR pages | %d |\n", stats.OCRPages)
	fmt.Fprintf(&sb, "| Products | %d |\n", len(doc.Products))
	fmt.Fprintf(&sb, "| Patents | %d |\n", len(doc.Patents))
	fmt.Fprintf(&sb, "| Audit added products | %d |\n", stats.AuditAddedProds)
	fmt.Fprintf(&sb, "| Audit added patents | %d |\n", stats.AuditAddedPats)
	fmt.Fprintf(&sb, "| Elapsed | %.1fs |\n\n", stats.ElapsedSeconds)

	sb.WriteString("## Products\n\n")
	sb.WriteString(bulletList(doc.Products))
	sb.WriteString("\n\n## Patents\n\n")
	sb.WriteString(bulletList(doc.Patents))
	sb.WriteString("\n")

	if len(doc.Mapping) > 0 {
		sb.WriteString("\n## Product to Patent Mapping\n\n")
		products := make([]string, 0, len(doc.Mapping))
		for p := range doc.Mapping {
			products = append(products, p)
		}
		sort.Strings(products)
		for _, p := range products {
			fmt.Fprintf(&sb, "- **%s**: %s\n", p, strings.Join(doc.Mapping[p], ", "))
		}
	}

	if len(warnings) > 0 {
		sb.WriteString("\n## Warnings\n\n")
		for _, w := range warnings {
			fmt.Fprintf(&sb, "- `%s`\n", w)
		}
	}
	return sb.String()
}
