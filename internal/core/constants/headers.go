package constants

const (
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-Id"
	HeaderXUpstreamName = "X-Upstream-Name"

	// Anthropic Messages upstream fields, per spec.md §6: "the translator
	// preserves bit-exactness of required upstream fields" -- both upstreams
	// reject well-formed requests missing these, so the orchestrator sets
	// them on every attempt rather than leaving them to client pass-through.
	HeaderAnthropicVersion = "anthropic-version"
	HeaderAnthropicBeta    = "anthropic-beta"
	HeaderStainlessLang    = "x-stainless-lang"
	HeaderStainlessRuntime = "x-stainless-runtime"
	HeaderStainlessOS      = "x-stainless-os"
	HeaderStainlessArch    = "x-stainless-arch"

	// OpenAI Responses ("codex") upstream fields, per spec.md §6.
	HeaderConversationID = "conversation_id"
	HeaderSessionID      = "session_id"
	HeaderOriginator     = "originator"
)

const (
	AnthropicVersionValue = "2023-06-01"
	AnthropicBetaValue    = "prompt-caching-2024-07-31"
	StainlessLangValue    = "python"
	StainlessRuntimeValue = "CPython"
	StainlessOSValue      = "Linux"
	StainlessArchValue    = "x64"

	OriginatorCodexCLI = "codex_cli_rs"
)
