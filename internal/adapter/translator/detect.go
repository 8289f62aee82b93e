package translator

import (
	"strings"

	"github.com/tidwall/gjson"
)

// IsOpenAIChat implements the detection heuristic from spec.md §4.4: an OR
// of (a) string-shaped message content, (b) presence of OpenAI-only
// parameters, (c) an OpenAI-style model name -- unless Anthropic-specific
// fields are also present, in which case Anthropic wins.
//
// Uses gjson for a cheap scan over the raw body rather than a full
// unmarshal, since this check runs before we know which shape to decode
// into.
func IsOpenAIChat(body []byte) bool {
	parsed := gjson.ParseBytes(body)

	if anthropicSpecificFieldsPresent(parsed) {
		return false
	}

	if stringContentPresent(parsed) {
		return true
	}
	for _, p := range openAIOnlyParams {
		if parsed.Get(p).Exists() {
			return true
		}
	}

	model := parsed.Get("model").String()
	lowerModel := strings.ToLower(model)
	for _, prefix := range openAIModelPrefixes {
		if strings.HasPrefix(lowerModel, prefix) {
			return true
		}
	}

	return false
}

func anthropicSpecificFieldsPresent(parsed gjson.Result) bool {
	if parsed.Get("system").Exists() || parsed.Get("anthropic_version").Exists() {
		return true
	}
	blockTypePresent := false
	parsed.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			t := block.Get("type").String()
			if t == "text" || t == "image" {
				blockTypePresent = true
				return false
			}
			return true
		})
		return !blockTypePresent
	})
	return blockTypePresent
}

func stringContentPresent(parsed gjson.Result) bool {
	found := false
	parsed.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.Exists() && content.Type == gjson.String {
			found = true
			return false
		}
		return true
	})
	return found
}
