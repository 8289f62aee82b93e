package constants

// TranslatorMode records whether a request reached its upstream verbatim or
// needed a dialect conversion.
type TranslatorMode string

const (
	// TranslatorModePassthrough indicates the inbound dialect already matched
	// the pool's upstream dialect, so no conversion was needed.
	TranslatorModePassthrough TranslatorMode = "passthrough"

	// TranslatorModeTranslation indicates the request body and/or response
	// stream were rewritten between dialects.
	TranslatorModeTranslation TranslatorMode = "translation"
)
