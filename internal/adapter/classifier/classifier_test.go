package classifier

import (
	"testing"

	"github.com/thushan/llmrelay/internal/core/domain"
)

func TestClassify_ExactStatusMatch(t *testing.T) {
	tbl := domain.NewErrorStrategyTable()
	tbl.ByStatus["429"] = domain.StrategyRetryLadder
	tbl.ByStatus["401"] = domain.StrategySwitchAPI

	if got := Classify(tbl, HTTPStatus(429)); got != domain.StrategyRetryLadder {
		t.Errorf("expected strategy_retry for 429, got %s", got)
	}
	if got := Classify(tbl, HTTPStatus(401)); got != domain.StrategySwitchAPI {
		t.Errorf("expected switch_api for 401, got %s", got)
	}
}

func TestClassify_FallsBackToConfiguredDefault(t *testing.T) {
	tbl := domain.NewErrorStrategyTable()
	tbl.ByStatus[domain.DefaultKey] = domain.StrategyNormalRetry

	if got := Classify(tbl, HTTPStatus(599)); got != domain.StrategyNormalRetry {
		t.Errorf("expected configured default normal_retry, got %s", got)
	}
}

func TestClassify_HardCodedFallbackWhenTableEmpty(t *testing.T) {
	tbl := &domain.ErrorStrategyTable{
		ByStatus:    map[string]domain.Strategy{},
		ByTransport: map[domain.TransportErrorKind]domain.Strategy{},
	}

	if got := Classify(tbl, HTTPStatus(418)); got != domain.StrategyRetryLadder {
		t.Errorf("expected hard-coded strategy_retry fallback, got %s", got)
	}
	if got := Classify(tbl, TransportError(domain.TransportReadError)); got != domain.StrategySwitchAPI {
		t.Errorf("expected hard-coded switch_api fallback, got %s", got)
	}
}

func TestClassify_TransportExactAndDefault(t *testing.T) {
	tbl := domain.NewErrorStrategyTable()
	tbl.ByTransport[domain.TransportConnectError] = domain.StrategySwitchAPI
	tbl.ByTransport[domain.DefaultKey] = domain.StrategyNormalRetry

	if got := Classify(tbl, TransportError(domain.TransportConnectError)); got != domain.StrategySwitchAPI {
		t.Errorf("expected switch_api, got %s", got)
	}
	if got := Classify(tbl, TransportError(domain.TransportReadTimeout)); got != domain.StrategyNormalRetry {
		t.Errorf("expected default normal_retry, got %s", got)
	}
}
