package translator

import (
	"strings"
	"testing"
)

func TestStreamTranslator_MessageStartEmitsRoleChunk(t *testing.T) {
	tr := NewStreamTranslator()
	chunks := tr.Translate("message_start", map[string]any{
		"message": map[string]any{
			"id":    "msg_1",
			"model": "claude-3-opus",
			"usage": map[string]any{"input_tokens": float64(10)},
		},
	})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	choices := chunks[0]["choices"].([]map[string]any)
	delta := choices[0]["delta"].(map[string]any)
	if delta["role"] != "assistant" {
		t.Errorf("expected role=assistant, got %v", delta["role"])
	}
	if tr.Model() != "claude-3-opus" {
		t.Errorf("expected model captured, got %q", tr.Model())
	}
	if tr.Usage().InputTokens != 10 {
		t.Errorf("expected input_tokens=10, got %d", tr.Usage().InputTokens)
	}
}

// thinking_delta concatenated text is exactly bracketed by a single <think>
// and a single </think> per message id (spec.md §8 round-trip property).
func TestStreamTranslator_ThinkingBracketedExactlyOnce(t *testing.T) {
	tr := NewStreamTranslator()
	tr.Translate("message_start", map[string]any{
		"message": map[string]any{"id": "msg_1", "model": "claude-3-opus"},
	})

	var out strings.Builder
	emit := func(chunks []map[string]any) {
		for _, c := range chunks {
			choices := c["choices"].([]map[string]any)
			delta := choices[0]["delta"].(map[string]any)
			if text, ok := delta["content"].(string); ok {
				out.WriteString(text)
			}
		}
	}

	emit(tr.Translate("content_block_start", map[string]any{
		"content_block": map[string]any{"type": "thinking"},
	}))
	emit(tr.Translate("content_block_delta", map[string]any{
		"delta": map[string]any{"type": "thinking_delta", "thinking": "pondering"},
	}))
	emit(tr.Translate("content_block_start", map[string]any{
		"content_block": map[string]any{"type": "text"},
	}))
	emit(tr.Translate("content_block_delta", map[string]any{
		"delta": map[string]any{"type": "text_delta", "text": "hello"},
	}))
	emit(tr.Translate("message_stop", map[string]any{}))

	got := out.String()
	if strings.Count(got, "<think>") != 1 || strings.Count(got, "</think>") != 1 {
		t.Fatalf("expected exactly one <think>/</think> pair, got %q", got)
	}
	openIdx := strings.Index(got, "<think>")
	closeIdx := strings.Index(got, "</think>")
	if !(openIdx < closeIdx && strings.Contains(got[openIdx:closeIdx], "pondering")) {
		t.Errorf("expected thinking text between brackets, got %q", got)
	}
	if !strings.Contains(got, "hello") {
		t.Errorf("expected trailing text content present, got %q", got)
	}
}

func TestStreamTranslator_MessageStopClosesDanglingThinking(t *testing.T) {
	tr := NewStreamTranslator()
	tr.Translate("message_start", map[string]any{
		"message": map[string]any{"id": "msg_1"},
	})
	tr.Translate("content_block_start", map[string]any{
		"content_block": map[string]any{"type": "thinking"},
	})
	chunks := tr.Translate("message_stop", map[string]any{})

	found := false
	for _, c := range chunks {
		choices := c["choices"].([]map[string]any)
		delta := choices[0]["delta"].(map[string]any)
		if text, ok := delta["content"].(string); ok && strings.Contains(text, "</think>") {
			found = true
		}
	}
	if !found {
		t.Error("expected message_stop to close a dangling thinking block")
	}
}

func TestStreamTranslator_MessageDeltaAccumulatesUsageWithoutEmitting(t *testing.T) {
	tr := NewStreamTranslator()
	tr.Translate("message_start", map[string]any{
		"message": map[string]any{"id": "msg_1", "usage": map[string]any{"input_tokens": float64(5)}},
	})
	chunks := tr.Translate("message_delta", map[string]any{
		"usage": map[string]any{"output_tokens": float64(7)},
	})
	if chunks != nil {
		t.Errorf("expected message_delta to emit no chunks, got %d", len(chunks))
	}
	if tr.Usage().OutputTokens != 7 {
		t.Errorf("expected output_tokens=7, got %d", tr.Usage().OutputTokens)
	}
	if tr.Usage().TotalTokens != 12 {
		t.Errorf("expected total_tokens=12, got %d", tr.Usage().TotalTokens)
	}
}
