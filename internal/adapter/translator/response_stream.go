package translator

import (
	"fmt"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// msgState is the per-upstream-message-id streaming state, so that two
// concurrently in-flight streams (e.g. a mid-stream reconnect that starts a
// fresh upstream message) never share thinking-bracket bookkeeping (spec.md
// §4.4: "Per-message thinking state is keyed by the upstream message id").
type msgState struct {
	inThinking bool
	opened     bool
}

// StreamTranslator converts one Anthropic-Messages SSE stream into OpenAI-Chat
// chunks, per spec.md §4.4's event table. It is NOT safe to share across
// concurrent streams -- construct one per request.
type StreamTranslator struct {
	messages map[string]*msgState
	usage    domain.UsageRecord
	model    string
}

// NewStreamTranslator builds a translator for one client-visible stream.
func NewStreamTranslator() *StreamTranslator {
	return &StreamTranslator{messages: make(map[string]*msgState)}
}

// Usage returns the token totals accumulated from the message_start and
// message_delta events seen so far (spec.md §4.5 step 5).
func (t *StreamTranslator) Usage() domain.UsageRecord { return t.usage }

// Model returns the model name captured from message_start, for usage
// accounting keys.
func (t *StreamTranslator) Model() string { return t.model }

// Translate converts one decoded Anthropic SSE event into zero or more
// OpenAI-Chat chunk payloads ready for re-encoding as `data: <json>` lines.
// Event types outside the table (spec.md §4.4) are dropped -- returns nil.
func (t *StreamTranslator) Translate(eventType string, event map[string]any) []map[string]any {
	switch eventType {
	case "message_start":
		return t.onMessageStart(event)
	case "content_block_start":
		return t.onContentBlockStart(event)
	case "content_block_delta":
		return t.onContentBlockDelta(event)
	case "message_delta":
		t.accumulateUsage(event)
		return nil
	case "message_stop":
		return t.onMessageStop(event)
	default:
		return nil
	}
}

func (t *StreamTranslator) onMessageStart(event map[string]any) []map[string]any {
	msg, _ := event["message"].(map[string]any)
	id, _ := msg["id"].(string)
	if id == "" {
		id = "unknown"
	}
	if model, ok := msg["model"].(string); ok {
		t.model = model
	}
	t.messages[id] = &msgState{}
	t.accumulateUsageFrom(msg["usage"])

	return []map[string]any{
		chatChunk(id, map[string]any{"role": "assistant"}, nil),
	}
}

func (t *StreamTranslator) onContentBlockStart(event map[string]any) []map[string]any {
	id := t.currentMessageID(event)
	state := t.state(id)
	block, _ := event["content_block"].(map[string]any)
	blockType, _ := block["type"].(string)

	switch blockType {
	case "thinking":
		state.inThinking = true
		state.opened = true
		return []map[string]any{chatChunk(id, map[string]any{"content": "<think>"}, nil)}
	case "text":
		if state.inThinking {
			state.inThinking = false
			return []map[string]any{chatChunk(id, map[string]any{"content": "</think>\n\n"}, nil)}
		}
	}
	return nil
}

func (t *StreamTranslator) onContentBlockDelta(event map[string]any) []map[string]any {
	id := t.currentMessageID(event)
	delta, _ := event["delta"].(map[string]any)
	deltaType, _ := delta["type"].(string)

	switch deltaType {
	case "text_delta":
		text, _ := delta["text"].(string)
		return []map[string]any{chatChunk(id, map[string]any{"content": text}, nil)}
	case "thinking_delta":
		text, _ := delta["thinking"].(string)
		return []map[string]any{chatChunk(id, map[string]any{"content": text}, nil)}
	default:
		return nil
	}
}

func (t *StreamTranslator) onMessageStop(event map[string]any) []map[string]any {
	id := t.currentMessageID(event)
	state := t.state(id)

	var chunks []map[string]any
	if state.inThinking {
		chunks = append(chunks, chatChunk(id, map[string]any{"content": "</think>"}, nil))
		state.inThinking = false
	}
	chunks = append(chunks, chatChunk(id, map[string]any{}, strPtr("stop")))
	delete(t.messages, id)
	return chunks
}

func (t *StreamTranslator) currentMessageID(event map[string]any) string {
	if id, ok := event["message_id"].(string); ok && id != "" {
		return id
	}
	// content_block_* / message_delta events don't repeat the id; fall back
	// to the single in-flight message when there's exactly one (the common
	// case -- one client request maps to one upstream message).
	for id := range t.messages {
		return id
	}
	return "unknown"
}

func (t *StreamTranslator) state(id string) *msgState {
	s, ok := t.messages[id]
	if !ok {
		s = &msgState{}
		t.messages[id] = s
	}
	return s
}

func (t *StreamTranslator) accumulateUsage(event map[string]any) {
	t.accumulateUsageFrom(event["usage"])
}

func (t *StreamTranslator) accumulateUsageFrom(raw any) {
	usage, ok := raw.(map[string]any)
	if !ok {
		return
	}
	if v, ok := toFloat(usage["input_tokens"]); ok {
		t.usage.InputTokens += int64(v)
	}
	if v, ok := toFloat(usage["output_tokens"]); ok {
		t.usage.OutputTokens += int64(v)
	}
	if v, ok := toFloat(usage["cache_creation_input_tokens"]); ok {
		t.usage.CacheCreationTokens += int64(v)
	}
	if v, ok := toFloat(usage["cache_read_input_tokens"]); ok {
		t.usage.CacheReadTokens += int64(v)
	}
	t.usage.TotalTokens = t.usage.InputTokens + t.usage.OutputTokens
}

// chatChunk builds one OpenAI-Chat `chat.completion.chunk` payload.
func chatChunk(id string, delta map[string]any, finishReason *string) map[string]any {
	return map[string]any{
		"id":      fmt.Sprintf("chatcmpl-%s", id),
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finishReason}},
	}
}

func strPtr(s string) *string { return &s }
