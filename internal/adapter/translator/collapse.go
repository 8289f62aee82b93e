package translator

import (
	"strings"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// Collapser accumulates the `delta.content` fragments of a sequence of
// OpenAI-Chat streaming chunks into a single non-streaming `chat.completion`
// response, per spec.md §4.7: "the Stream Rewriter accumulates all
// text_delta fragments into a single assistant message ... returns it in
// one shot."
type Collapser struct {
	id           string
	model        string
	content      strings.Builder
	finishReason string
}

// NewCollapser builds a Collapser for one client request.
func NewCollapser(id, model string) *Collapser {
	return &Collapser{id: id, model: model, finishReason: "stop"}
}

// Feed folds one translated OpenAI-Chat chunk into the accumulator. Accepts
// both the concrete []map[string]any/*string shapes a chunk carries
// in-process and the []any/string shapes the same chunk takes after a JSON
// round trip (the
// non-streaming handler path decodes its own re-serialised SSE output
// before collapsing it).
func (c *Collapser) Feed(chunk map[string]any) {
	for _, choice := range asChunkSlice(chunk["choices"]) {
		delta, _ := choice["delta"].(map[string]any)
		if text, ok := delta["content"].(string); ok {
			c.content.WriteString(text)
		}
		switch fr := choice["finish_reason"].(type) {
		case *string:
			if fr != nil {
				c.finishReason = *fr
			}
		case string:
			if fr != "" {
				c.finishReason = fr
			}
		}
	}
}

func asChunkSlice(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Build renders the final `chat.completion` JSON-ready payload, copying
// usage into its "usage" block (spec.md §4.7: "Usage totals are still
// recorded"). Build does not write to the Usage Store itself.
func (c *Collapser) Build(usage domain.UsageRecord) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-" + c.id,
		"object":  "chat.completion",
		"model":   c.model,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": c.content.String(),
				},
				"finish_reason": c.finishReason,
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.TotalTokens,
		},
	}
}
