package extraction

import (
	"fmt"
	"strings"
)

// maxPromptText caps the document text embedded in a single prompt. Per-page
// units rarely approach this; the audit and mapping calls over whole-document
// text can.
const maxPromptText = 60000

func truncateText(text string) string {
	if len(text) <= maxPromptText {
		return text
	}
	return text[:maxPromptText] + "\n[text truncated]"
}

func patentPrompt(text string) string {
	return fmt.Sprintf(`Extract every patent number mentioned in the document text below.

Output one JSON object per line with exactly these fields:
{"value": "<patent number as written>", "country": "<two-letter jurisdiction code if identifiable, else empty>", "kind": "<utility|design|application|other, or empty if unknown>", "confidence": <0.0-1.0>}

Rules:
- Report the number exactly as it appears, including separators.
- Patent application publication numbers count as patents (kind "application").
- Use the surrounding text to infer the jurisdiction when the number itself lacks a country code.
- Do not invent numbers. If none are present, output nothing.

Document text:
%s`, truncateText(text))
}

func productPrompt(text string) string {
	return fmt.Sprintf(`Extract every marketed product name mentioned in the document text below.

Output one JSON object per line with exactly these fields:
{"value": "<product name>", "confidence": <0.0-1.0>}

Rules:
- Report only names of concrete products or product lines, not company names, technologies, or generic category words.
- Keep the name exactly as written, including model numbers.
- Do not invent names. If none are present, output nothing.

Document text:
%s`, truncateText(text))
}

func auditPrompt(products, patents []string, text string) string {
	return fmt.Sprintf(`You are auditing an extraction result for completeness. The lists below were already extracted from the document. Re-read the document text and report ONLY entities that are present in the text but missing from the lists.

Known products:
%s

Known patents (normalized):
%s

Output one JSON object per line with exactly these fields:
{"type": "product"|"patent", "value_raw": "<as written in the text>", "normalized_number": "<country code + digits for patents, else empty>", "confidence": <0.0-1.0>}

Rules:
- Never repeat an entity already covered by the known lists, even under a different spelling.
- Report nothing when the lists are complete.

Document text:
%s`, bulletList(products), bulletList(patents), truncateText(text))
}

func mappingPrompt(products, patents []string, text string) string {
	return fmt.Sprintf(`Associate the extracted products with the patents that protect them, using the document text as evidence.

Products:
%s

Patents:
%s

Output one JSON object per line with exactly these fields:
{"product_name": "<product from the list>", "patent_number": "<patent from the list>"}

Rules:
- Use only products and patents from the lists above, spelled exactly as listed.
- Emit one line per (product, patent) association; a product may map to several patents.
- Only assert associations the text supports. Omit products with no evident patent.

Document text:
%s`, bulletList(products), bulletList(patents), truncateText(text))
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
