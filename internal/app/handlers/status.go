package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/thushan/llmrelay/internal/adapter/orchestrator"
	"github.com/thushan/llmrelay/internal/adapter/timeout"
	"github.com/thushan/llmrelay/internal/adapter/usage"
	"github.com/thushan/llmrelay/internal/core/constants"
	"github.com/thushan/llmrelay/internal/core/domain"
)

// maxRecentEvents bounds the in-memory failover history the status handler
// reports; older entries are dropped, not persisted (spec.md's Usage Store
// is the only durable state this proxy keeps).
const maxRecentEvents = 50

// EntryStatusResponse mirrors one UpstreamEntry's health for the status
// endpoint, grounded on the teacher's EndpointStatusResponse
// (internal/app/handler_status.go) but trimmed to the fields this proxy's
// simpler cooldown/day-mask model actually carries.
type EntryStatusResponse struct {
	Name          string `json:"name"`
	BaseURL       string `json:"base_url"`
	Tier          string `json:"tier"`
	Dialect       string `json:"dialect"`
	Status        string `json:"status"`
	Enabled       bool   `json:"enabled"`
	Active        bool   `json:"active"`
	ErrorCount    int    `json:"error_count"`
	CooldownUntil string `json:"cooldown_until,omitempty"`
}

// PoolStatusResponse reports one pool's entries and which one is currently
// serving traffic.
type PoolStatusResponse struct {
	Name        string                `json:"name"`
	UsingBackup bool                  `json:"using_backup"`
	Entries     []EntryStatusResponse `json:"entries"`
}

// FailoverEventResponse is one recorded orchestrator.PoolEvent, JSON-shaped
// for the status endpoint.
type FailoverEventResponse struct {
	At    time.Time `json:"at"`
	Pool  string    `json:"pool"`
	Entry string    `json:"entry"`
	Kind  string    `json:"kind"`
}

// AdaptiveTimeoutResponse reports the Responses pool's current inflated
// deadline state (spec.md §4.6), for an operator wondering why responses
// are taking longer than the configured base timeout.
type AdaptiveTimeoutResponse struct {
	ExtraSeconds         int `json:"extra_seconds"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`
}

// StatusResponse is the full /status payload: both pools' live health,
// recent failover history and usage/adaptive-timeout summaries, so an
// operator can see the effect of the Retry Orchestrator's switch_api
// decisions without reading logs (spec.md §12's supplemented "operators
// can see failover behaviour" goal).
type StatusResponse struct {
	Timestamp       time.Time               `json:"timestamp"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	MessagesPool    PoolStatusResponse      `json:"messages_pool"`
	ResponsesPool   PoolStatusResponse      `json:"responses_pool"`
	RecentFailover  []FailoverEventResponse `json:"recent_failover_events"`
	AdaptiveTimeout AdaptiveTimeoutResponse `json:"adaptive_timeout"`
	Usage           *domain.UsageFile       `json:"usage,omitempty"`
}

// StatusHandler serves /status and /health, reading pool state directly
// (under each pool's own mutex), draining failover events an EventBus
// subscription has been collecting in the background, and reading the
// Usage Store's own file (usage.Store.Read, already guarded by its own
// mutex) for the token-usage summary.
type StatusHandler struct {
	MessagesPool  *domain.Pool
	ResponsesPool *domain.Pool
	UsageStore    *usage.Store
	Adaptive      *timeout.Adaptive // nil when the responses pool has no adaptive controller configured
	StartTime     time.Time

	mu     sync.Mutex
	recent []FailoverEventResponse
}

// WatchEvents drains ch until it is closed, appending every PoolEvent to
// the bounded recent-events ring buffer. Runs in the background goroutine
// the caller (app.New) spawns; one per process.
func (h *StatusHandler) WatchEvents(ch <-chan orchestrator.PoolEvent) {
	for ev := range ch {
		h.mu.Lock()
		h.recent = append(h.recent, FailoverEventResponse{
			At: ev.At, Pool: ev.Pool, Entry: ev.Entry, Kind: ev.Kind,
		})
		if len(h.recent) > maxRecentEvents {
			h.recent = h.recent[len(h.recent)-maxRecentEvents:]
		}
		h.mu.Unlock()
	}
}

func (h *StatusHandler) recentEvents() []FailoverEventResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FailoverEventResponse, len(h.recent))
	copy(out, h.recent)
	return out
}

// ServeStatus handles GET /status.
func (h *StatusHandler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Timestamp:      time.Now(),
		UptimeSeconds:  int64(time.Since(h.StartTime).Seconds()),
		MessagesPool:   poolStatus(h.MessagesPool),
		ResponsesPool:  poolStatus(h.ResponsesPool),
		RecentFailover: h.recentEvents(),
	}
	if h.Adaptive != nil {
		snap := h.Adaptive.Snapshot()
		resp.AdaptiveTimeout = AdaptiveTimeoutResponse{
			ExtraSeconds:         snap.ExtraSeconds,
			ConsecutiveSuccesses: snap.ConsecutiveSuccesses,
		}
	}
	if h.UsageStore != nil {
		if file, err := h.UsageStore.Read(); err == nil {
			resp.Usage = file
		}
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeHealth handles GET /health: a liveness probe independent of upstream
// state, grounded on the teacher's healthHandler.
func (h *StatusHandler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func poolStatus(p *domain.Pool) PoolStatusResponse {
	if p == nil {
		return PoolStatusResponse{}
	}
	p.Mu.Lock()
	defer p.Mu.Unlock()

	entries := make([]EntryStatusResponse, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = EntryStatusResponse{
			Name:       e.Name,
			BaseURL:    e.BaseURL,
			Tier:       string(e.Tier),
			Dialect:    string(e.Dialect),
			Status:     string(e.Status),
			Enabled:    e.Enabled,
			Active:     i == p.ActiveIndex,
			ErrorCount: e.ErrorCount,
		}
		if !e.CooldownUntil.IsZero() {
			entries[i].CooldownUntil = e.CooldownUntil.Format(time.RFC3339)
		}
	}

	return PoolStatusResponse{
		Name:        p.Name,
		UsingBackup: p.UsingBackup,
		Entries:     entries,
	}
}
