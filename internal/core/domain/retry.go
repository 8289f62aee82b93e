package domain

// RetryLadderRung is one alternative backend consulted only by the
// strategy_retry path, independent of the main pool.
type RetryLadderRung struct {
	BaseURL     string
	Credential  string
	DisplayName string
}

// RetryLadder is the ordered list of rungs walked by strategy_retry.
type RetryLadder []RetryLadderRung

// ConversionKind distinguishes a plain model-name swap from a full
// Anthropic message-shape rewrite.
type ConversionKind string

const (
	ConversionSimpleRename ConversionKind = "simple_rename"
	ConversionFullFormat   ConversionKind = "full_format"
)

// ModelConversion maps a client-facing model name to the name and shape an
// upstream expects.
type ModelConversion struct {
	SourceModel string
	TargetModel string
	Kind        ConversionKind
}

// Strategy is the action the Retry Orchestrator takes for a classified outcome.
type Strategy string

const (
	StrategySwitchAPI    Strategy = "switch_api"
	StrategyRetryLadder  Strategy = "strategy_retry"
	StrategyNormalRetry  Strategy = "normal_retry"
	StrategyNoRetry      Strategy = "no_retry"
)

// TransportErrorKind identifies a transport-level (non-HTTP-status) failure.
type TransportErrorKind string

const (
	TransportReadError   TransportErrorKind = "ReadError"
	TransportConnectError TransportErrorKind = "ConnectError"
	TransportReadTimeout TransportErrorKind = "ReadTimeout"
)

// DefaultKey is the fallback entry consulted in each ErrorStrategyTable map
// when no exact key matches.
const DefaultKey = "default"

// ErrorStrategyTable holds the two classification maps described in
// spec.md §3: one keyed by decimal HTTP status (as a string), one keyed by
// TransportErrorKind.
type ErrorStrategyTable struct {
	ByStatus    map[string]Strategy
	ByTransport map[TransportErrorKind]Strategy
}

// NewErrorStrategyTable returns a table with just the two "default" entries
// populated per the hard-coded fallback in spec.md §4.2.
func NewErrorStrategyTable() *ErrorStrategyTable {
	return &ErrorStrategyTable{
		ByStatus:    map[string]Strategy{DefaultKey: StrategyRetryLadder},
		ByTransport: map[TransportErrorKind]Strategy{DefaultKey: StrategySwitchAPI},
	}
}
