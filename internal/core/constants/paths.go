package constants

const (
	// PathV1Messages is the Anthropic Messages API entry point.
	PathV1Messages = "/v1/messages"
	// PathV1ChatCompletions is the OpenAI Chat Completions entry point.
	PathV1ChatCompletions = "/v1/chat/completions"
	// PathOpenAIPrefix is stripped from requests arriving at the OpenAI-compatible
	// alias routes (e.g. /openai/v1/chat/completions) before dispatch.
	PathOpenAIPrefix = "/openai"

	DefaultHealthCheckEndpoint = "/internal/health"
	DefaultStatusEndpoint      = "/internal/status"
)
