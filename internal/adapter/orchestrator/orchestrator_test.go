package orchestrator

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thushan/llmrelay/internal/adapter/translator"
	"github.com/thushan/llmrelay/internal/adapter/usage"
	"github.com/thushan/llmrelay/internal/core/constants"
	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/internal/logger"
)

type nopFlusher struct {
	bytes.Buffer
}

func (n *nopFlusher) Flush() error { return nil }

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func statusServer(t *testing.T, status int, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(status)
	}))
}

func newPool(entries ...*domain.UpstreamEntry) *domain.Pool {
	return domain.NewPool("test", entries, time.Minute)
}

func newEntry(name, baseURL string, tier domain.Tier) *domain.UpstreamEntry {
	return &domain.UpstreamEntry{
		Name: name, BaseURL: baseURL, Tier: tier, Dialect: domain.DialectMessages,
		Enabled: true, DayMask: domain.AllDays, ErrorThreshold: 3, CooldownPeriod: time.Minute,
	}
}

// S1: primary always answers 429 (default classification: strategy_retry).
// The ladder's single rung succeeds, and the main pool is untouched.
func TestOrchestrator_StrategyRetryLadderRecoversWithoutMutatingMainPool(t *testing.T) {
	var hits int32
	primary := statusServer(t, http.StatusTooManyRequests, &hits)
	defer primary.Close()
	ladderSrv := sseServer(t, "data: [DONE]\n\n")
	defer ladderSrv.Close()

	entry := newEntry("primary", primary.URL, domain.TierPrimary)
	pool := newPool(entry)

	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: domain.NewErrorStrategyTable(),
		RetryLadder:     domain.RetryLadder{{BaseURL: ladderSrv.URL, DisplayName: "ladder-1"}},
		UsageStore:      usage.New(t.TempDir() + "/usage.json"),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
	}

	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	_, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err != nil {
		t.Fatalf("expected recovery via retry ladder, got %v", err)
	}
	if hits != 1 {
		t.Errorf("expected exactly one attempt against the always-429 primary, got %d", hits)
	}
	if entry.ErrorCount != 0 {
		t.Errorf("expected strategy_retry to leave the main pool entry's error count untouched, got %d", entry.ErrorCount)
	}
}

// S2-equivalent at the orchestrator level: primary answers 500, the
// error status classifies as switch_api, and the backup entry answers
// successfully on the next attempt.
func TestOrchestrator_SwitchAPIFallsOverToBackup(t *testing.T) {
	var primaryHits int32
	primary := statusServer(t, http.StatusInternalServerError, &primaryHits)
	defer primary.Close()
	backup := sseServer(t, "data: [DONE]\n\n")
	defer backup.Close()

	primaryEntry := newEntry("primary", primary.URL, domain.TierPrimary)
	backupEntry := newEntry("backup", backup.URL, domain.TierBackup)
	// ErrorThreshold=1 so a single failure crosses threshold and triggers
	// the switch_api failover this test exercises (spec.md §4.2: "if it
	// crosses threshold, select another entry").
	primaryEntry.ErrorThreshold = 1
	pool := newPool(primaryEntry, backupEntry)

	table := domain.NewErrorStrategyTable()
	table.ByStatus["500"] = domain.StrategySwitchAPI

	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: table,
		UsageStore:      usage.New(t.TempDir() + "/usage.json"),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
	}

	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	_, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err != nil {
		t.Fatalf("expected success after switching to backup, got %v", err)
	}
	if primaryHits != 1 {
		t.Errorf("expected exactly one attempt against the failing primary, got %d", primaryHits)
	}
	if backupEntry.ErrorCount != 0 {
		t.Error("expected the backup entry to record success, not carry an error count")
	}
}

// TestOrchestrator_SwitchAPIRetriesSameEntryBelowThreshold covers the
// corresponding below-threshold branch: a failure that does not cross
// ErrorThreshold must retry the same entry rather than failing over,
// matching scenario S2 (R1/R2 both hit A before R3 fails over to B).
func TestOrchestrator_SwitchAPIRetriesSameEntryBelowThreshold(t *testing.T) {
	var primaryHits, backupHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&primaryHits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&backupHits, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer backup.Close()

	primaryEntry := newEntry("primary", primary.URL, domain.TierPrimary) // ErrorThreshold: 3
	backupEntry := newEntry("backup", backup.URL, domain.TierBackup)
	pool := newPool(primaryEntry, backupEntry)

	table := domain.NewErrorStrategyTable()
	table.ByStatus["500"] = domain.StrategySwitchAPI

	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: table,
		UsageStore:      usage.New(t.TempDir() + "/usage.json"),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
	}

	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	_, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err != nil {
		t.Fatalf("expected eventual success on the primary, got %v", err)
	}
	if primaryHits != 3 {
		t.Errorf("expected 2 below-threshold failures plus 1 success all against the primary, got %d hits", primaryHits)
	}
	if backupHits != 0 {
		t.Errorf("expected the backup to never be tried while the primary stays below threshold, got %d hits", backupHits)
	}
}

// The exhaustive fallthrough tier is bounded at 3x the pool size on top of
// one pass over the pool itself; it must not retry forever.
func TestOrchestrator_ExhaustiveFallthroughIsBounded(t *testing.T) {
	var hitsA, hitsB int32
	a := statusServer(t, http.StatusInternalServerError, &hitsA)
	defer a.Close()
	b := statusServer(t, http.StatusInternalServerError, &hitsB)
	defer b.Close()

	entryA := newEntry("a", a.URL, domain.TierPrimary)
	entryB := newEntry("b", b.URL, domain.TierPrimary)
	pool := newPool(entryA, entryB)

	table := domain.NewErrorStrategyTable()
	table.ByStatus["500"] = domain.StrategySwitchAPI

	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: table,
		UsageStore:      usage.New(t.TempDir() + "/usage.json"),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
	}

	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	_, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err == nil {
		t.Fatal("expected ErrRetriesExhausted, got success")
	}

	total := hitsA + hitsB
	wantAttempts := int32(len(pool.Entries) + 3*len(pool.Entries))
	if total != wantAttempts {
		t.Errorf("expected exactly %d total attempts (pool size + 3x fallthrough), got %d", wantAttempts, total)
	}
}

// normal_retry must not retry: it sleeps once and surfaces the upstream
// response verbatim (spec.md §4.2), leaving the entry untouched.
func TestOrchestrator_NormalRetrySurfacesResponseWithoutRetrying(t *testing.T) {
	var hits int32
	body := `{"error":{"message":"internal error"}}`
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(body))
	}))
	defer primary.Close()

	entry := newEntry("primary", primary.URL, domain.TierPrimary)
	pool := newPool(entry)

	table := domain.NewErrorStrategyTable()
	table.ByStatus["500"] = domain.StrategyNormalRetry

	var slept time.Duration
	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: table,
		UsageStore:      usage.New(t.TempDir() + "/usage.json"),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
		sleepFn:         func(d time.Duration) { slept = d },
	}

	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	result, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err != nil {
		t.Fatalf("expected normal_retry to return without error, got %v", err)
	}
	if hits != 1 {
		t.Errorf("expected exactly one attempt, normal_retry must not retry, got %d", hits)
	}
	if result.RawStatus != http.StatusInternalServerError {
		t.Errorf("expected RawStatus 500, got %d", result.RawStatus)
	}
	if string(result.RawBody) != body {
		t.Errorf("expected the upstream body surfaced verbatim, got %q", result.RawBody)
	}
	if slept != constants.DefaultNormalRetryDelay {
		t.Errorf("expected a %s sleep, got %s", constants.DefaultNormalRetryDelay, slept)
	}
	if entry.ErrorCount != 0 {
		t.Errorf("expected normal_retry to leave the entry's error count untouched, got %d", entry.ErrorCount)
	}
}

func TestOrchestrator_NoAvailableEntryWhenPoolEmpty(t *testing.T) {
	pool := newPool()
	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: domain.NewErrorStrategyTable(),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
	}
	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	_, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err != domain.ErrNoAvailableEntry {
		t.Fatalf("expected ErrNoAvailableEntry, got %v", err)
	}
}

// gzippedErrorSSE builds the SSE body for an `event: error` frame whose
// `details` carries a gzip-compressed error payload, Unicode-code-point
// encoded the way the upstream is observed to do (spec.md §4.5 step 3).
func gzippedErrorSSE(t *testing.T, status int, message string) string {
	t.Helper()
	inner, err := json.Marshal(map[string]any{
		"error": map[string]any{"status": status, "message": message},
	})
	if err != nil {
		t.Fatalf("marshal inner error: %v", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(inner); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	runes := make([]rune, 0, buf.Len())
	for _, b := range buf.Bytes() {
		runes = append(runes, rune(b))
	}
	envelope, err := json.Marshal(map[string]string{"details": string(runes)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return "event: error\ndata: " + string(envelope) + "\n\n"
}

// S3: a 200 OK SSE stream carrying a gzip'd embedded error before any bytes
// reach the client must trigger a silent switch_api failover, not a
// successful (empty) response.
func TestOrchestrator_EmbeddedGzipErrorBeforeFlushSwitchesSilently(t *testing.T) {
	var primaryHits, backupHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(gzippedErrorSSE(t, 529, "overloaded")))
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&backupHits, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer backup.Close()

	primaryEntry := newEntry("primary", primary.URL, domain.TierPrimary)
	backupEntry := newEntry("backup", backup.URL, domain.TierBackup)
	// ErrorThreshold=1: this test is about the embedded-error-before-flush
	// mechanism, not threshold accounting, so a single failure should cross
	// it and trigger the switch (spec.md §4.2).
	primaryEntry.ErrorThreshold = 1
	pool := newPool(primaryEntry, backupEntry)

	table := domain.NewErrorStrategyTable()
	table.ByStatus["529"] = domain.StrategySwitchAPI

	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: table,
		UsageStore:      usage.New(t.TempDir() + "/usage.json"),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
	}

	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	_, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err != nil {
		t.Fatalf("expected a clean switch to the backup, got %v", err)
	}
	if primaryHits != 1 {
		t.Errorf("expected exactly one attempt against the failing primary, got %d", primaryHits)
	}
	if backupHits != 1 {
		t.Errorf("expected exactly one attempt against the backup, got %d", backupHits)
	}
	if out.Len() != 0 {
		t.Errorf("expected no client bytes from the aborted primary attempt, got %q", out.String())
	}
	if primaryEntry.ErrorCount == 0 {
		t.Error("expected the primary's failure to be recorded")
	}
}

// A gzip'd embedded error discovered after bytes were already forwarded to
// the client must terminate the stream rather than retry invisibly (spec.md
// §4.5 step 3: "otherwise the stream terminates with a proxy error event").
func TestOrchestrator_EmbeddedGzipErrorAfterFlushTerminates(t *testing.T) {
	var hits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		body := `event: message_start` + "\n" +
			`data: {"message":{"id":"msg_1","model":"claude-3-opus"}}` + "\n\n" +
			`event: content_block_start` + "\n" +
			`data: {"content_block":{"type":"text"}}` + "\n\n" +
			`event: content_block_delta` + "\n" +
			`data: {"delta":{"type":"text_delta","text":"hi"}}` + "\n\n" +
			gzippedErrorSSE(t, 529, "overloaded")
		_, _ = w.Write([]byte(body))
	}))
	defer primary.Close()

	entry := newEntry("primary", primary.URL, domain.TierPrimary)
	pool := newPool(entry)

	table := domain.NewErrorStrategyTable()
	table.ByStatus["529"] = domain.StrategySwitchAPI

	o := &Orchestrator{
		Pool:            pool,
		ErrorStrategies: table,
		UsageStore:      usage.New(t.TempDir() + "/usage.json"),
		Logger:          logger.NewPlainStyledLogger(slog.Default()),
	}

	out := &nopFlusher{}
	tr := translator.NewStreamTranslator()
	_, err := o.Call(context.Background(), "/v1/messages", "claude-3-opus", []byte(`{}`), out, tr)
	if err == nil {
		t.Fatal("expected the stream to terminate with an error once bytes were already flushed")
	}
	if hits != 1 {
		t.Errorf("expected no retry once bytes were flushed, got %d attempts", hits)
	}
	if out.Len() == 0 {
		t.Error("expected the partial stream to have reached the client before the embedded error")
	}
	if entry.ErrorCount == 0 {
		t.Error("expected the failure to still be recorded for future selection")
	}
}
