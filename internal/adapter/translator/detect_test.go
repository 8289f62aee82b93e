package translator

import "testing"

func TestIsOpenAIChat_StringContentDetectedAsOpenAI(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	if !IsOpenAIChat(body) {
		t.Error("expected string-content message to be detected as OpenAI-Chat")
	}
}

func TestIsOpenAIChat_AnthropicSystemFieldWins(t *testing.T) {
	body := []byte(`{"model":"gpt-4","system":"be nice","messages":[{"role":"user","content":"hi"}]}`)
	if IsOpenAIChat(body) {
		t.Error("expected presence of top-level system field to force Anthropic detection")
	}
}

func TestIsOpenAIChat_AnthropicContentBlocksWins(t *testing.T) {
	body := []byte(`{"model":"claude-3-opus","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`)
	if IsOpenAIChat(body) {
		t.Error("expected Anthropic content-block shape to be detected as Anthropic")
	}
}

func TestIsOpenAIChat_OpenAIOnlyParamDetected(t *testing.T) {
	body := []byte(`{"model":"claude-3-opus","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],"n":2}`)
	// Anthropic-shaped content blocks take priority over the openai-only param.
	if IsOpenAIChat(body) {
		t.Error("expected Anthropic content blocks to override an openai-only param")
	}

	body2 := []byte(`{"model":"some-model","messages":[{"role":"user","content":[{"type":"input_text","text":"hi"}]}],"frequency_penalty":0.2}`)
	if !IsOpenAIChat(body2) {
		t.Error("expected frequency_penalty to contribute to OpenAI-Chat detection")
	}
}

func TestIsOpenAIChat_ModelPrefixDetected(t *testing.T) {
	body := []byte(`{"model":"gpt-4-turbo","messages":[]}`)
	if !IsOpenAIChat(body) {
		t.Error("expected gpt- prefixed model to be detected as OpenAI-Chat")
	}
}

func TestIsOpenAIChat_NeitherSignalDefaultsFalse(t *testing.T) {
	body := []byte(`{"model":"claude-3-opus","messages":[]}`)
	if IsOpenAIChat(body) {
		t.Error("expected no OpenAI signal present to default to Anthropic")
	}
}
