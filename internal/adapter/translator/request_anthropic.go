package translator

import (
	"fmt"
)

// ToAnthropicMessages converts an OpenAI-Chat request body (already decoded
// into a generic map) into the Anthropic Messages wire shape, per spec.md
// §4.4 "OpenAI-Chat -> Anthropic-Messages request translation".
func ToAnthropicMessages(req map[string]any, conversions ConversionTable) (map[string]any, error) {
	model, _ := req["model"].(string)
	if model == "" {
		return nil, fmt.Errorf("translator: request missing model")
	}

	StripDisallowedParams(req) // spec.md §4.4: these trigger upstream 5xx if forwarded.

	rule, thinking, _ := conversions.Lookup(model)
	out := map[string]any{
		"model":  rule.TargetModel,
		"stream": true, // spec.md §4.4: always set stream=true on the wire.
	}

	maxTokens := defaultMaxTokens
	if mt, ok := req["max_tokens"]; ok {
		if f, ok := toFloat(mt); ok {
			maxTokens = int(f)
		}
	}
	out["max_tokens"] = maxTokens

	rawMessages, _ := req["messages"].([]any)
	var systemBlocks []map[string]any
	var messages []map[string]any

	for _, m := range rawMessages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role == "system" {
			systemBlocks = append(systemBlocks, stringToTextBlocks(msg["content"])...)
			continue
		}
		messages = append(messages, map[string]any{
			"role":    role,
			"content": stringToTextBlocks(msg["content"]),
		})
	}

	preamble := map[string]any{
		"type":          "text",
		"text":          anthropicClientPreamble,
		"cache_control": map[string]any{"type": "ephemeral"},
	}
	system := append([]map[string]any{preamble}, systemBlocks...)
	out["system"] = capCacheControlBlocks(system, messages)
	out["messages"] = messages

	if thinking {
		out["thinking"] = map[string]any{"type": "enabled", "budget_tokens": thinkingBudgetTokens}
		out["temperature"] = 1 // spec.md §4.4: thinking forces temperature=1.
	} else if t, ok := req["temperature"]; ok {
		out["temperature"] = t
	}
	if tp, ok := req["top_p"]; ok {
		out["top_p"] = tp
	}

	return out, nil
}

// stringToTextBlocks converts either a plain string content value or an
// already-structured list of blocks into Anthropic content blocks.
func stringToTextBlocks(content any) []map[string]any {
	switch v := content.(type) {
	case string:
		return []map[string]any{{"type": "text", "text": v}}
	case []any:
		blocks := make([]map[string]any, 0, len(v))
		for _, b := range v {
			if block, ok := b.(map[string]any); ok {
				blocks = append(blocks, block)
			}
		}
		return blocks
	default:
		return nil
	}
}

// capCacheControlBlocks enforces the spec.md §4.4 cache-control cap: at most
// maxCacheControlMarkers "ephemeral" markers survive across system and
// message content blocks, counted and stripped in document order (system
// first, then messages in order).
func capCacheControlBlocks(system []map[string]any, messages []map[string]any) []map[string]any {
	count := 0
	for _, block := range system {
		if hasCacheControl(block) {
			count++
			if count > maxCacheControlMarkers {
				delete(block, "cache_control")
			}
		}
	}
	for _, msg := range messages {
		blocks, _ := msg["content"].([]map[string]any)
		for _, block := range blocks {
			if hasCacheControl(block) {
				count++
				if count > maxCacheControlMarkers {
					delete(block, "cache_control")
				}
			}
		}
	}
	return system
}

func hasCacheControl(block map[string]any) bool {
	_, ok := block["cache_control"]
	return ok
}

// StripDisallowedParams removes the OpenAI-only parameters that trigger an
// upstream 5xx if forwarded to Anthropic verbatim (spec.md §4.4).
func StripDisallowedParams(req map[string]any) {
	for _, p := range disallowedOpenAIParams {
		delete(req, p)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
