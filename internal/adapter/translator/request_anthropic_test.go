package translator

import "testing"

func TestToAnthropicMessages_StringContentWrapped(t *testing.T) {
	req := map[string]any{
		"model": "gpt-4",
		"messages": []any{
			map[string]any{"role": "user", "content": "hello there"},
		},
	}
	out, err := ToAnthropicMessages(req, ConversionTable{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["stream"] != true {
		t.Error("expected stream=true always set on the wire")
	}
	messages := out["messages"].([]map[string]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	blocks := messages[0]["content"].([]map[string]any)
	if blocks[0]["type"] != "text" || blocks[0]["text"] != "hello there" {
		t.Errorf("expected wrapped text block, got %+v", blocks[0])
	}
}

func TestToAnthropicMessages_SystemExtractedWithPreamble(t *testing.T) {
	req := map[string]any{
		"model": "gpt-4",
		"messages": []any{
			map[string]any{"role": "system", "content": "be nice"},
			map[string]any{"role": "user", "content": "hi"},
		},
	}
	out, err := ToAnthropicMessages(req, ConversionTable{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	system := out["system"].([]map[string]any)
	if len(system) != 2 {
		t.Fatalf("expected preamble + one system block, got %d", len(system))
	}
	if system[0]["text"] != anthropicClientPreamble {
		t.Errorf("expected preamble first, got %v", system[0]["text"])
	}
	if _, ok := system[0]["cache_control"]; !ok {
		t.Error("expected preamble to carry an ephemeral cache_control marker")
	}
	if system[1]["text"] != "be nice" {
		t.Errorf("expected client system text preserved, got %v", system[1]["text"])
	}
}

func TestToAnthropicMessages_StripsDisallowedParams(t *testing.T) {
	req := map[string]any{
		"model":             "gpt-4",
		"messages":          []any{map[string]any{"role": "user", "content": "hi"}},
		"frequency_penalty": 0.5,
		"n":                 3,
	}
	_, err := ToAnthropicMessages(req, ConversionTable{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := req["frequency_penalty"]; ok {
		t.Error("expected frequency_penalty stripped")
	}
	if _, ok := req["n"]; ok {
		t.Error("expected n stripped")
	}
}

func TestToAnthropicMessages_ThinkingSuffixForcesTemperature(t *testing.T) {
	req := map[string]any{
		"model":    "claude-3-opus-thinking",
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	}
	out, err := ToAnthropicMessages(req, ConversionTable{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["model"] != "claude-3-opus" {
		t.Errorf("expected -thinking suffix stripped from model, got %v", out["model"])
	}
	thinking, ok := out["thinking"].(map[string]any)
	if !ok {
		t.Fatal("expected thinking config present")
	}
	if thinking["budget_tokens"] != thinkingBudgetTokens {
		t.Errorf("expected budget_tokens %d, got %v", thinkingBudgetTokens, thinking["budget_tokens"])
	}
	if out["temperature"] != 1 {
		t.Errorf("expected forced temperature=1, got %v", out["temperature"])
	}
}

// Cache-control cap of 3: given a request with 5 markers across system and
// messages, exactly 3 survive, chosen in document order.
func TestCapCacheControlBlocks_KeepsFirstThreeInDocumentOrder(t *testing.T) {
	marker := func() map[string]any { return map[string]any{"type": "ephemeral"} }
	block := func(text string, cached bool) map[string]any {
		b := map[string]any{"type": "text", "text": text}
		if cached {
			b["cache_control"] = marker()
		}
		return b
	}

	system := []map[string]any{block("sys1", true), block("sys2", true)}
	messages := []map[string]any{
		{"content": []map[string]any{block("m1", true), block("m2", true)}},
		{"content": []map[string]any{block("m3", true)}},
	}

	capCacheControlBlocks(system, messages)

	survivors := 0
	if _, ok := system[0]["cache_control"]; ok {
		survivors++
	}
	if _, ok := system[1]["cache_control"]; ok {
		survivors++
	}
	for _, msg := range messages {
		for _, b := range msg["content"].([]map[string]any) {
			if _, ok := b["cache_control"]; ok {
				survivors++
			}
		}
	}
	if survivors != maxCacheControlMarkers {
		t.Fatalf("expected exactly %d survivors, got %d", maxCacheControlMarkers, survivors)
	}
	// document order: sys1, sys2, m1 survive; m2, m3 stripped.
	if _, ok := system[0]["cache_control"]; !ok {
		t.Error("expected sys1 marker to survive (first in document order)")
	}
	m2Blocks := messages[0]["content"].([]map[string]any)
	if _, ok := m2Blocks[1]["cache_control"]; ok {
		t.Error("expected m2 marker stripped (4th in document order)")
	}
}
