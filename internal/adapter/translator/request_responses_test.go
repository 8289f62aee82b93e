package translator

import (
	"strings"
	"testing"
)

func TestToOpenAIResponses_PrependsEnvironmentContextTurn(t *testing.T) {
	req := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}
	out, err := ToOpenAIResponses(req, "gpt-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	input := out["input"].([]map[string]any)
	if len(input) != 2 {
		t.Fatalf("expected environment_context + 1 message, got %d", len(input))
	}
	content := input[0]["content"].([]map[string]any)
	text := content[0]["text"].(string)
	if !strings.Contains(text, "<environment_context>") {
		t.Errorf("expected first turn to carry environment_context, got %q", text)
	}
}

func TestToOpenAIResponses_DropsSystemMessages(t *testing.T) {
	req := map[string]any{
		"messages": []any{
			map[string]any{"role": "system", "content": "be nice"},
			map[string]any{"role": "user", "content": "hi"},
		},
	}
	out, err := ToOpenAIResponses(req, "gpt-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	input := out["input"].([]map[string]any)
	for _, turn := range input {
		if turn["role"] == "system" {
			t.Error("expected system messages folded away, not forwarded as a turn")
		}
	}
	if out["instructions"] != codexInstructions {
		t.Error("expected fixed codex instructions attached")
	}
}

func TestToOpenAIResponses_AttachesFixedToolSchema(t *testing.T) {
	req := map[string]any{"messages": []any{}}
	out, err := ToOpenAIResponses(req, "gpt-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tools := out["tools"].([]map[string]any)
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool["name"].(string)] = true
	}
	for _, want := range []string{"shell", "update_plan", "view_image"} {
		if !names[want] {
			t.Errorf("expected tool %q present in fixed schema", want)
		}
	}
}
