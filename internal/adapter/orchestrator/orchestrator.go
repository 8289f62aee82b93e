// Package orchestrator implements the Retry Orchestrator (spec.md §4.3,
// component C6): the attempt loop that ties pool selection, error
// classification, dialect-aware deadlines and the Stream Rewriter together
// for one client request.
//
// Grounded on the teacher's RetryHandler.ExecuteWithRetry
// (internal/adapter/proxy/core/retry.go): a bounded attempt loop over a
// mutable candidate list, removing/rotating the failed entry in place and
// giving up once candidates run out. Generalised here with the
// classify-then-branch step spec.md §4.2/§4.3 adds on top of that shape,
// and with a genuinely fresh *http.Client per attempt rather than a shared
// client, per spec.md §5's anti-pooling policy.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thushan/llmrelay/internal/adapter/classifier"
	"github.com/thushan/llmrelay/internal/adapter/selector"
	"github.com/thushan/llmrelay/internal/adapter/stream"
	"github.com/thushan/llmrelay/internal/adapter/timeout"
	"github.com/thushan/llmrelay/internal/adapter/usage"
	"github.com/thushan/llmrelay/internal/core/constants"
	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/internal/logger"
	"github.com/thushan/llmrelay/internal/util"
	"github.com/thushan/llmrelay/pkg/eventbus"
)

// PoolEvent is published on the Orchestrator's Events bus whenever an
// attempt loop changes which entry is serving a pool, so something outside
// the request path (a status page, an ops dashboard) can observe failovers
// without polling pool state under its mutex.
type PoolEvent struct {
	Pool  string
	Entry string
	Kind  string // switch_api | no_available_entry
	At    time.Time
}

// defaultStrategyRetryTimeout is the extended read timeout the
// strategy_retry ladder gets, per spec.md §5.
const defaultStrategyRetryTimeout = 200 * time.Second

// maxNormalRetryBodyBytes bounds how much of a non-2xx response body gets
// buffered for verbatim surfacing; upstream error bodies are small JSON
// envelopes in practice.
const maxNormalRetryBodyBytes = 64 * 1024

// Orchestrator drives one client request's full attempt lifecycle against
// a single pool.
type Orchestrator struct {
	Pool            *domain.Pool
	ErrorStrategies *domain.ErrorStrategyTable
	RetryLadder     domain.RetryLadder
	Adaptive        *timeout.Adaptive // non-nil only for the responses pool
	UsageStore      *usage.Store
	Logger          logger.StyledLogger
	Events          *eventbus.EventBus[PoolEvent] // nil means no one's listening

	ConnectTimeout       time.Duration
	ReadTimeout          time.Duration // ignored when Adaptive is set
	StrategyRetryTimeout time.Duration // zero means defaultStrategyRetryTimeout

	nowFn   func() time.Time
	sleepFn func(time.Duration)
}

// publish fires a PoolEvent if something is listening. PublishAsync never
// blocks the request path on a slow or absent subscriber.
func (o *Orchestrator) publish(ev PoolEvent) {
	if o.Events != nil {
		o.Events.PublishAsync(ev)
	}
}

func (o *Orchestrator) sleep(d time.Duration) {
	if o.sleepFn != nil {
		o.sleepFn(d)
		return
	}
	time.Sleep(d)
}

func (o *Orchestrator) now() time.Time {
	if o.nowFn != nil {
		return o.nowFn()
	}
	return time.Now()
}

// Call performs the main-pool attempt loop, falling through to an
// exhaustive sweep (3x the pool size, per spec.md §4.3) before giving up.
// path is the upstream-relative request path already resolved by the
// handler (e.g. "/v1/messages"); body is the already-translated upstream
// payload. model is used for Usage Store bookkeeping.
func (o *Orchestrator) Call(ctx context.Context, path, model string, body []byte, streamOut stream.Flusher, tr stream.EventTranslator) (stream.Result, error) {
	o.Pool.Mu.Lock()
	entry := selector.Select(o.Pool, o.now(), o.Logger)
	o.Pool.Mu.Unlock()
	if entry == nil {
		o.publish(PoolEvent{Pool: o.Pool.Name, Kind: "no_available_entry", At: o.now()})
		return stream.Result{}, domain.ErrNoAvailableEntry
	}

	mainAttempts := len(o.Pool.Entries)
	fallthroughAttempts := 3 * mainAttempts

	var buffered []string
	emit := func(final bool) {
		if !final {
			return
		}
		for _, line := range buffered {
			o.Logger.Warn(line)
		}
	}

	for attemptNum := 0; attemptNum < mainAttempts+fallthroughAttempts; attemptNum++ {
		result, status, sendErr := o.attempt(ctx, entry, path, body, attemptNum, o.readDeadline(), streamOut, tr)

		if sendErr == nil && status >= 200 && status < 300 {
			o.recordSuccess(entry, model, result)
			result.EntryName = entry.Name
			emit(false)
			return result, nil
		}

		outcome := classifyOutcome(status, sendErr)
		strat := classifier.Classify(o.ErrorStrategies, outcome)
		buffered = append(buffered, fmt.Sprintf("attempt %d against %s failed, status=%d strategy=%s err=%v", attemptNum, entry.Name, status, strat, sendErr))

		// spec.md §4.6: a body-deadline timeout on the responses pool grows
		// the adaptive deadline for subsequent requests, regardless of which
		// strategy the classifier picked for this one.
		if o.Adaptive != nil && outcome.IsTransport && outcome.Transport == domain.TransportReadTimeout {
			o.Adaptive.RecordTimeout()
		}

		// spec.md §4.5 step 3: a mid-stream embedded error discovered after
		// bytes were already forwarded to the client can't be silently
		// retried -- the client has a partial response already. Still bump
		// the entry's failure accounting for future requests, then
		// terminate this one with the decoded status.
		if result.EmbeddedErr != nil && result.BytesFlushed {
			o.Pool.Mu.Lock()
			entry.RecordFailure(o.now())
			o.Pool.Mu.Unlock()
			result.EntryName = entry.Name
			emit(true)
			return result, fmt.Errorf("%w: %s", domain.ErrStreamInterrupted, result.EmbeddedErr.Message)
		}

		switch strat {
		case domain.StrategyNoRetry:
			emit(true)
			return result, fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, sendErr)

		case domain.StrategyRetryLadder:
			laddered, err := o.walkRetryLadder(ctx, path, model, body, streamOut, tr)
			if err == nil {
				emit(false)
				return laddered, nil
			}

		case domain.StrategySwitchAPI:
			o.Pool.Mu.Lock()
			// spec.md §4.2: "increment the current entry's error counter; if
			// it crosses threshold, select another entry". A failure that
			// doesn't cross the threshold retries the same entry.
			if entry.RecordFailure(o.now()) {
				if next := selector.NextAfter(o.Pool, entry, o.now()); next != nil && next != entry {
					entry = next
					o.publish(PoolEvent{Pool: o.Pool.Name, Entry: entry.Name, Kind: "switch_api", At: o.now()})
				}
			}
			o.Pool.Mu.Unlock()

		case domain.StrategyNormalRetry:
			// spec.md §4.2: "do NOT retry -- surface the response body to
			// the client after the delay."
			o.sleep(constants.DefaultNormalRetryDelay)
			if o.UsageStore != nil {
				_ = o.UsageStore.Record(model, domain.UsageRecord{Requests: 1})
			}
			result.EntryName = entry.Name
			emit(false)
			return result, nil
		}
	}

	emit(true)
	return stream.Result{}, domain.ErrRetriesExhausted
}

// walkRetryLadder tries each independent ladder rung in order with the
// extended read timeout, per spec.md §4.2's strategy_retry path.
func (o *Orchestrator) walkRetryLadder(ctx context.Context, path, model string, body []byte, streamOut stream.Flusher, tr stream.EventTranslator) (stream.Result, error) {
	timeoutDur := o.StrategyRetryTimeout
	if timeoutDur == 0 {
		timeoutDur = defaultStrategyRetryTimeout
	}
	for i, rung := range o.RetryLadder {
		// A ladder rung carries no dialect of its own (spec.md §3): it's a
		// same-dialect fallback for whichever pool is already in flight.
		entry := &domain.UpstreamEntry{Name: rung.DisplayName, BaseURL: rung.BaseURL, Credential: rung.Credential, Dialect: o.poolDialect()}
		result, status, err := o.attempt(ctx, entry, path, body, i, timeoutDur, streamOut, tr)
		if err == nil && status >= 200 && status < 300 {
			if o.UsageStore != nil {
				_ = o.UsageStore.Record(model, result.Usage)
			}
			result.EntryName = entry.Name
			return result, nil
		}
	}
	return stream.Result{}, domain.ErrRetriesExhausted
}

// attempt sends one HTTP request against entry with a fresh client (spec.md
// §5: "never shared across retry attempts"), pumping the response through
// the Stream Rewriter.
func (o *Orchestrator) attempt(ctx context.Context, entry *domain.UpstreamEntry, path string, body []byte, attemptNum int, readDeadline time.Duration, streamOut stream.Flusher, tr stream.EventTranslator) (stream.Result, int, error) {
	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	defer client.CloseIdleConnections()

	connectTimeout := o.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, connectTimeout+readDeadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, util.JoinURLPath(entry.BaseURL, path), bytes.NewReader(body))
	if err != nil {
		return stream.Result{}, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Content-Length", strconv.Itoa(len(body)))
	if entry.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+entry.Credential)
	}
	setDialectHeaders(httpReq, entry.Dialect)
	if attemptNum > 0 {
		// cache-defeating headers on every retry attempt, per spec.md §5.
		httpReq.Header.Set("Connection", "close")
		httpReq.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		httpReq.Header.Set("X-Request-Id", uuid.New().String())
		httpReq.Header.Set("X-Retry-Count", strconv.Itoa(attemptNum))
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return stream.Result{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Captured (bounded) so the normal_retry strategy can surface it to
		// the client verbatim, per spec.md §4.2.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxNormalRetryBodyBytes))
		return stream.Result{RawStatus: resp.StatusCode, RawBody: raw}, resp.StatusCode, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	if notifier, ok := streamOut.(stream.EntryNotifier); ok {
		notifier.NotifyEntry(entry.Name)
	}

	result, err := stream.Pump(resp.Body, streamOut, tr)
	if result.EmbeddedErr != nil {
		// spec.md §4.5 step 3: the embedded error's decoded status drives
		// classification, not the outer 200 the SSE frame arrived under.
		status := result.EmbeddedErr.Outcome.Status
		if status == 0 {
			status = http.StatusBadGateway
		}
		if err == nil {
			err = fmt.Errorf("translator: embedded upstream error: %s", result.EmbeddedErr.Message)
		}
		return result, status, err
	}
	return result, resp.StatusCode, err
}

// poolDialect reports the dialect this orchestrator's pool entries speak,
// inferred from whether an Adaptive controller is wired (only the responses
// pool has one), so retry-ladder rungs, which carry no dialect of their own,
// can still get the right upstream headers.
func (o *Orchestrator) poolDialect() domain.Dialect {
	if o.Adaptive != nil {
		return domain.DialectResponses
	}
	return domain.DialectMessages
}

// setDialectHeaders attaches the upstream fields spec.md §6 calls out as
// required for acceptance ("empirical field auditing by upstreams rejects
// requests missing them"): the Anthropic version/beta/stainless-* headers
// for a messages-dialect entry, or the Responses conversation/session/
// originator headers for a responses-dialect entry. A client-supplied
// value on the same header is not forwarded upstream today (the proxy
// only ever builds these requests itself), so the fixed values below are
// the only source.
func setDialectHeaders(req *http.Request, dialect domain.Dialect) {
	switch dialect {
	case domain.DialectMessages:
		req.Header.Set(constants.HeaderAnthropicVersion, constants.AnthropicVersionValue)
		req.Header.Set(constants.HeaderAnthropicBeta, constants.AnthropicBetaValue)
		req.Header.Set(constants.HeaderStainlessLang, constants.StainlessLangValue)
		req.Header.Set(constants.HeaderStainlessRuntime, constants.StainlessRuntimeValue)
		req.Header.Set(constants.HeaderStainlessOS, constants.StainlessOSValue)
		req.Header.Set(constants.HeaderStainlessArch, constants.StainlessArchValue)
	case domain.DialectResponses:
		id := uuid.New().String()
		req.Header.Set(constants.HeaderConversationID, id)
		req.Header.Set(constants.HeaderSessionID, id)
		req.Header.Set(constants.HeaderOriginator, constants.OriginatorCodexCLI)
	}
}

func (o *Orchestrator) readDeadline() time.Duration {
	if o.Adaptive != nil {
		return o.Adaptive.Deadline()
	}
	if o.ReadTimeout > 0 {
		return o.ReadTimeout
	}
	return 60 * time.Second
}

func (o *Orchestrator) recordSuccess(entry *domain.UpstreamEntry, model string, result stream.Result) {
	o.Pool.Mu.Lock()
	entry.RecordSuccess()
	o.Pool.Mu.Unlock()

	if o.Adaptive != nil {
		o.Adaptive.RecordSuccess()
	}
	if o.UsageStore != nil {
		_ = o.UsageStore.Record(model, result.Usage)
	}
}

// classifyOutcome turns a status/error pair from one attempt into the
// classifier.Outcome spec.md §4.2 expects: a transport kind when the
// request never produced a status, otherwise the HTTP status itself.
func classifyOutcome(status int, sendErr error) classifier.Outcome {
	if status == 0 && sendErr != nil {
		return classifier.TransportError(transportKind(sendErr))
	}
	return classifier.HTTPStatus(status)
}

func transportKind(err error) domain.TransportErrorKind {
	if errors.Is(err, domain.ErrStreamInterrupted) {
		return domain.TransportReadError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TransportReadTimeout
	}
	msg := err.Error()
	if strings.Contains(msg, "connect") || strings.Contains(msg, "refused") || strings.Contains(msg, "no such host") {
		return domain.TransportConnectError
	}
	return domain.TransportReadError
}
