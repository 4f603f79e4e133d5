package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = "You are a meticulous analyst extracting product names and patent numbers from corporate documents. Respond with strict JSON Lines only: one JSON object per line, no prose, no markdown."

type llmFailureClass int

const (
	failureNone llmFailureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

type LLMCaller interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey)}, nil
}

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens:   4096,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// Extractor is the per-unit extraction collaborator. Each method is one
// external call; errors are transport or content failures and the caller
// decides whether to absorb them.
type Extractor interface {
	ExtractProducts(ctx context.Context, text string) ([]ProductCandidate, error)
	ExtractPatents(ctx context.Context, text string) ([]PatentCandidate, error)
	Audit(ctx context.Context, products, patents []string, text string) ([]AuditCandidate, error)
}

// Mapper is the mapping collaborator: one call per full-mode run.
type Mapper interface {
	MapProductsToPatents(ctx context.Context, products, patents []string, text string) ([]MappingPair, error)
}

// LLMExtractor implements Extractor and Mapper on top of an LLMCaller,
// validating every candidate at the boundary before it enters the pipeline.
type LLMExtractor struct {
	caller LLMCaller
}

func NewLLMExtractor(caller LLMCaller) *LLMExtractor {
	return &LLMExtractor{caller: caller}
}

// callLines executes one LLM call with transport-level retry and returns the
// parsed JSON Lines objects. Malformed lines are skipped, not fatal: a
// partially parseable response still yields its valid candidates.
func (e *LLMExtractor) callLines(ctx context.Context, op, prompt string) ([]map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		raw, err := e.caller.GenerateJSON(ctx, prompt)
		if err != nil {
			class := classifyTransportError(err)
			if class == failureTimeout || class == failureRateLimit || class == failureServer {
				if attempt < 3 {
					if serr := sleepCtx(ctx, backoffDelay(attempt)); serr != nil {
						return nil, serr
					}
					lastErr = err
					continue
				}
			}
			return nil, fmt.Errorf("%s transport failure: %w", op, err)
		}
		return parseJSONLines(raw), nil
	}
	return nil, fmt.Errorf("%s failed after retries: %w", op, lastErr)
}

func (e *LLMExtractor) ExtractProducts(ctx context.Context, text string) ([]ProductCandidate, error) {
	lines, err := e.callLines(ctx, "product extraction", productPrompt(text))
	if err != nil {
		return nil, err
	}
	out := make([]ProductCandidate, 0, len(lines))
	for _, obj := range lines {
		value := strField(obj, "value")
		if value == "" {
			continue
		}
		out = append(out, ProductCandidate{
			Value:      value,
			Confidence: confField(obj),
		})
	}
	return out, nil
}

func (e *LLMExtractor) ExtractPatents(ctx context.Context, text string) ([]PatentCandidate, error) {
	lines, err := e.callLines(ctx, "patent extraction", patentPrompt(text))
	if err != nil {
		return nil, err
	}
	out := make([]PatentCandidate, 0, len(lines))
	for _, obj := range lines {
		value := strField(obj, "value")
		if value == "" {
			continue
		}
		out = append(out, PatentCandidate{
			Value:      value,
			Country:    strField(obj, "country"),
			Kind:       strField(obj, "kind"),
			Confidence: confField(obj),
		})
	}
	return out, nil
}

func (e *LLMExtractor) Audit(ctx context.Context, products, patents []string, text string) ([]AuditCandidate, error) {
	lines, err := e.callLines(ctx, "audit", auditPrompt(products, patents, text))
	if err != nil {
		return nil, err
	}
	out := make([]AuditCandidate, 0, len(lines))
	for _, obj := range lines {
		typ := strings.ToLower(strField(obj, "type"))
		valueRaw := strField(obj, "value_raw")
		if valueRaw == "" || (typ != "product" && typ != "patent") {
			continue
		}
		out = append(out, AuditCandidate{
			Type:             typ,
			ValueRaw:         valueRaw,
			NormalizedNumber: strField(obj, "normalized_number"),
			Confidence:       confField(obj),
		})
	}
	return out, nil
}

func (e *LLMExtractor) MapProductsToPatents(ctx context.Context, products, patents []string, text string) ([]MappingPair, error) {
	lines, err := e.callLines(ctx, "mapping", mappingPrompt(products, patents, text))
	if err != nil {
		return nil, err
	}
	out := make([]MappingPair, 0, len(lines))
	for _, obj := range lines {
		product := strField(obj, "product_name")
		patent := strField(obj, "patent_number")
		if product == "" || patent == "" {
			continue
		}
		out = append(out, MappingPair{Product: product, Patent: patent})
	}
	return out, nil
}

// parseJSONLines accepts either JSON Lines or a single JSON array, with or
// without a surrounding code fence. Each element must be an object; anything
// else is dropped with a warning.
func parseJSONLines(raw string) []map[string]any {
	clean := stripCodeFences(raw)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return nil
	}

	if strings.HasPrefix(clean, "[") {
		var arr []map[string]any
		if err := json.Unmarshal([]byte(clean), &arr); err == nil {
			return arr
		}
	}

	var out []map[string]any
	for _, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			log.Printf("[WARN] dropping malformed result line: %s", line)
			continue
		}
		out = append(out, obj)
	}
	return out
}

func strField(obj map[string]any, key string) string {
	v, ok := obj[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// confField reads the confidence field, defaulting to 1.0 when absent and
// clamping into [0, 1].
func confField(obj map[string]any) float64 {
	v, ok := obj["confidence"].(float64)
	if !ok {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func classifyTransportError(err error) llmFailureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, " 5") || strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, " 4") || strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
