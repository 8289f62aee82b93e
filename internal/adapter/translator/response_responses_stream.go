package translator

import (
	"github.com/thushan/llmrelay/internal/core/domain"
)

// ResponsesStreamTranslator converts an OpenAI Responses ("codex") SSE
// stream into OpenAI-Chat chunks, grounded on the original Python
// implementation's OpenAIToCodex.convert_response_chunk (see
// _examples/original_source/openai_to_codex.py), generalised to the proxy's
// own id/usage accounting rather than a fresh `chatcmpl-<timestamp>` per
// chunk.
type ResponsesStreamTranslator struct {
	usage domain.UsageRecord
	id    string
}

// NewResponsesStreamTranslator builds a translator for one client-visible
// Responses-dialect stream.
func NewResponsesStreamTranslator(id string) *ResponsesStreamTranslator {
	return &ResponsesStreamTranslator{id: id}
}

func (t *ResponsesStreamTranslator) Usage() domain.UsageRecord { return t.usage }

// Translate converts one decoded Responses event (keyed by its "type"
// field) into zero or one OpenAI-Chat chunk. Unrecognised event types are
// dropped, matching the original's fallthrough `return None`.
func (t *ResponsesStreamTranslator) Translate(event map[string]any) map[string]any {
	eventType, _ := event["type"].(string)

	switch eventType {
	case "response.created":
		return chatChunk(t.id, map[string]any{"role": "assistant"}, nil)
	case "response.output_text.delta":
		delta, _ := event["delta"].(string)
		return chatChunk(t.id, map[string]any{"content": delta}, nil)
	case "response.completed", "response.done":
		t.extractUsage(event)
		return chatChunk(t.id, map[string]any{}, strPtr("stop"))
	default:
		return nil
	}
}

// ResponsesStreamAdapter adapts ResponsesStreamTranslator to the
// stream.EventTranslator shape Pump expects. The Responses dialect carries
// its event type inside the event body's own "type" field rather than a
// separate SSE `event:` line, so eventType is ignored here and Translate
// wraps the single chunk ResponsesStreamTranslator returns into the slice
// form Pump writes out.
type ResponsesStreamAdapter struct {
	inner *ResponsesStreamTranslator
	model string
}

// NewResponsesStreamAdapter builds an adapter for one client-visible
// Responses-dialect stream against model (used only for Usage Store keys;
// the upstream never echoes it back on Responses events).
func NewResponsesStreamAdapter(id, model string) *ResponsesStreamAdapter {
	return &ResponsesStreamAdapter{inner: NewResponsesStreamTranslator(id), model: model}
}

func (a *ResponsesStreamAdapter) Translate(_ string, event map[string]any) []map[string]any {
	if chunk := a.inner.Translate(event); chunk != nil {
		return []map[string]any{chunk}
	}
	return nil
}

func (a *ResponsesStreamAdapter) Usage() domain.UsageRecord { return a.inner.Usage() }
func (a *ResponsesStreamAdapter) Model() string             { return a.model }

// extractUsage maps response.completed's usage block to UsageRecord,
// mapping input_tokens_details.cached_tokens to CacheReadTokens the way
// the original's token_stats.py does for Anthropic-shaped usage dicts
// (SPEC_FULL.md §12).
func (t *ResponsesStreamTranslator) extractUsage(event map[string]any) {
	resp, _ := event["response"].(map[string]any)
	usage, ok := resp["usage"].(map[string]any)
	if !ok {
		return
	}
	if v, ok := toFloat(usage["input_tokens"]); ok {
		t.usage.InputTokens = int64(v)
	}
	if v, ok := toFloat(usage["output_tokens"]); ok {
		t.usage.OutputTokens = int64(v)
	}
	if v, ok := toFloat(usage["total_tokens"]); ok {
		t.usage.TotalTokens = int64(v)
	}
	if details, ok := usage["input_tokens_details"].(map[string]any); ok {
		if v, ok := toFloat(details["cached_tokens"]); ok {
			t.usage.CacheReadTokens = int64(v)
		}
	}
}
