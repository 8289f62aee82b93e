// Package translator implements the Dialect Translator (spec.md §4.4,
// component C4): bidirectional translation between OpenAI-Chat, Anthropic
// Messages and OpenAI Responses request/response shapes.
package translator

import (
	"strings"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// maxCacheControlMarkers is the empirically observed Anthropic cap (spec.md
// §4.4 "Cache-control block cap"): the spec notes upstream accepts at most 4
// but advises treating 3 as the practical cap.
const maxCacheControlMarkers = 3

// anthropicClientPreamble is the mandatory fixed system preamble identifying
// the CLI client, injected ahead of any client-supplied system messages
// (spec.md §4.4).
const anthropicClientPreamble = "You are Claude Code, Anthropic's official CLI for Claude."

// thinkingBudgetTokens is the fixed budget attached to thinking mode
// (spec.md §4.4 "-thinking suffix").
const thinkingBudgetTokens = 30000

// defaultMaxTokens is used when the client didn't specify one (spec.md §4.4).
const defaultMaxTokens = 32000

// disallowedOpenAIParams trigger upstream 5xx if forwarded to Anthropic
// verbatim (spec.md §4.4).
var disallowedOpenAIParams = []string{
	"frequency_penalty", "presence_penalty", "logit_bias", "n", "best_of", "user", "stop",
}

// openAIOnlyParams contribute to the OpenAI-Chat detection heuristic
// (spec.md §4.4 "Detection of OpenAI-Chat input").
var openAIOnlyParams = []string{
	"frequency_penalty", "presence_penalty", "logit_bias", "n", "best_of", "user",
}

// openAIModelPrefixes are name patterns that suggest an OpenAI-Chat caller
// (spec.md §4.4).
var openAIModelPrefixes = []string{"gpt-", "text-", "davinci", "curie", "babbage", "ada"}

// ConversionTable is a read-only snapshot of the configured model-conversion
// rules, looked up by source model name (spec.md §3 ModelConversion).
type ConversionTable map[string]domain.ModelConversion

// Lookup finds the conversion rule for model, stripping a trailing
// "-thinking" suffix first and reporting whether thinking mode was
// requested (spec.md §4.4: "special suffix -thinking enables thinking
// mode").
func (t ConversionTable) Lookup(model string) (rule domain.ModelConversion, thinking bool, found bool) {
	const suffix = "-thinking"
	lookupModel := model
	if strings.HasSuffix(strings.ToLower(model), suffix) {
		thinking = true
		lookupModel = model[:len(model)-len(suffix)]
	}
	rule, found = t[lookupModel]
	if !found {
		rule = domain.ModelConversion{SourceModel: lookupModel, TargetModel: lookupModel, Kind: domain.ConversionSimpleRename}
	}
	return rule, thinking, found
}

// ApplyModelConversion renames req's "model" field per the configured
// ModelConversion table and, when the model carries the "-thinking"
// suffix, also adds the thinking block and forces temperature=1. It does
// not consult the rule's Kind: full_format's block rewriting (done by
// ToAnthropicMessages) is never applied here. Used for requests that are
// already correctly shaped for their upstream (a native Anthropic
// passthrough, or the Responses translation).
func ApplyModelConversion(req map[string]any, conversions ConversionTable) {
	model, _ := req["model"].(string)
	if model == "" {
		return
	}
	rule, thinking, _ := conversions.Lookup(model)
	req["model"] = rule.TargetModel
	if thinking {
		req["thinking"] = map[string]any{"type": "enabled", "budget_tokens": thinkingBudgetTokens}
		req["temperature"] = 1
	}
}
