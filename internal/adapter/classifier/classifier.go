// Package classifier implements the Error Classifier (spec.md §4.2,
// component C5): mapping an HTTP status or transport-exception kind to a
// retry strategy, consulting the configured table with a hard-coded
// fallback.
package classifier

import (
	"strconv"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// Outcome is either an HTTP status or a transport-level failure kind. Only
// one of the two fields is meaningful; IsTransport discriminates.
type Outcome struct {
	Status      int
	Transport   domain.TransportErrorKind
	IsTransport bool
}

// HTTPStatus builds an Outcome for a received HTTP status code.
func HTTPStatus(status int) Outcome {
	return Outcome{Status: status}
}

// TransportError builds an Outcome for a transport-level failure.
func TransportError(kind domain.TransportErrorKind) Outcome {
	return Outcome{Transport: kind, IsTransport: true}
}

// Classify maps outcome to a Strategy per spec.md §4.2's lookup order:
// exact key, then the table's "default" key, then the hard-coded fallback
// (switch_api for transport errors, strategy_retry for HTTP status).
func Classify(tbl *domain.ErrorStrategyTable, outcome Outcome) domain.Strategy {
	if outcome.IsTransport {
		if s, ok := tbl.ByTransport[outcome.Transport]; ok {
			return s
		}
		if s, ok := tbl.ByTransport[domain.TransportErrorKind(domain.DefaultKey)]; ok {
			return s
		}
		return domain.StrategySwitchAPI
	}

	key := strconv.Itoa(outcome.Status)
	if s, ok := tbl.ByStatus[key]; ok {
		return s
	}
	if s, ok := tbl.ByStatus[domain.DefaultKey]; ok {
		return s
	}
	return domain.StrategyRetryLadder
}
