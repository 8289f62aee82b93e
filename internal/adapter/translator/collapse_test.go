package translator

import (
	"testing"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// S5: client sends OpenAI-Chat with stream=false. Upstream streams 3 text
// deltas "foo", " ", "bar". Client receives a single JSON response with
// content "foo bar" and finish_reason "stop".
func TestCollapser_AccumulatesDeltasIntoSingleResponse(t *testing.T) {
	c := NewCollapser("req1", "claude-3-opus")
	finish := "stop"

	c.Feed(map[string]any{"choices": []map[string]any{
		{"delta": map[string]any{"content": "foo"}},
	}})
	c.Feed(map[string]any{"choices": []map[string]any{
		{"delta": map[string]any{"content": " "}},
	}})
	c.Feed(map[string]any{"choices": []map[string]any{
		{"delta": map[string]any{"content": "bar"}, "finish_reason": &finish},
	}})

	out := c.Build(domain.UsageRecord{InputTokens: 5, OutputTokens: 3, TotalTokens: 8})

	choices := out["choices"].([]map[string]any)
	msg := choices[0]["message"].(map[string]any)
	if msg["content"] != "foo bar" {
		t.Errorf("expected collapsed content 'foo bar', got %q", msg["content"])
	}
	if choices[0]["finish_reason"] != "stop" {
		t.Errorf("expected finish_reason=stop, got %v", choices[0]["finish_reason"])
	}
	usage := out["usage"].(map[string]any)
	if usage["prompt_tokens"] != int64(5) || usage["completion_tokens"] != int64(3) || usage["total_tokens"] != int64(8) {
		t.Errorf("unexpected usage block: %+v", usage)
	}
	if out["object"] != "chat.completion" {
		t.Errorf("expected object=chat.completion, got %v", out["object"])
	}
}

func TestCollapser_DefaultsFinishReasonToStopWhenNeverSet(t *testing.T) {
	c := NewCollapser("req1", "claude-3-opus")
	c.Feed(map[string]any{"choices": []map[string]any{
		{"delta": map[string]any{"content": "hi"}},
	}})
	out := c.Build(domain.UsageRecord{})
	choices := out["choices"].([]map[string]any)
	if choices[0]["finish_reason"] != "stop" {
		t.Errorf("expected default finish_reason=stop, got %v", choices[0]["finish_reason"])
	}
}
