package translator

import "testing"

func TestResponsesStreamTranslator_CreatedEmitsRoleChunk(t *testing.T) {
	tr := NewResponsesStreamTranslator("req1")
	chunk := tr.Translate(map[string]any{"type": "response.created"})
	if chunk == nil {
		t.Fatal("expected a chunk")
	}
	choices := chunk["choices"].([]map[string]any)
	delta := choices[0]["delta"].(map[string]any)
	if delta["role"] != "assistant" {
		t.Errorf("expected role=assistant, got %v", delta["role"])
	}
}

func TestResponsesStreamTranslator_DeltaPassesThroughText(t *testing.T) {
	tr := NewResponsesStreamTranslator("req1")
	chunk := tr.Translate(map[string]any{
		"type":  "response.output_text.delta",
		"delta": "partial text",
	})
	choices := chunk["choices"].([]map[string]any)
	delta := choices[0]["delta"].(map[string]any)
	if delta["content"] != "partial text" {
		t.Errorf("expected delta content passthrough, got %v", delta["content"])
	}
}

func TestResponsesStreamTranslator_CompletedExtractsUsageAndCachedTokens(t *testing.T) {
	tr := NewResponsesStreamTranslator("req1")
	chunk := tr.Translate(map[string]any{
		"type": "response.completed",
		"response": map[string]any{
			"usage": map[string]any{
				"input_tokens":  float64(100),
				"output_tokens": float64(20),
				"total_tokens":  float64(120),
				"input_tokens_details": map[string]any{
					"cached_tokens": float64(40),
				},
			},
		},
	})
	choices := chunk["choices"].([]map[string]any)
	if *choices[0]["finish_reason"].(*string) != "stop" {
		t.Errorf("expected finish_reason=stop, got %v", choices[0]["finish_reason"])
	}
	usage := tr.Usage()
	if usage.InputTokens != 100 || usage.OutputTokens != 20 || usage.TotalTokens != 120 {
		t.Errorf("unexpected usage totals: %+v", usage)
	}
	if usage.CacheReadTokens != 40 {
		t.Errorf("expected CacheReadTokens=40 from input_tokens_details.cached_tokens, got %d", usage.CacheReadTokens)
	}
}

func TestResponsesStreamTranslator_UnknownEventDropped(t *testing.T) {
	tr := NewResponsesStreamTranslator("req1")
	chunk := tr.Translate(map[string]any{"type": "response.some_unknown_event"})
	if chunk != nil {
		t.Errorf("expected unknown event to be dropped, got %+v", chunk)
	}
}
