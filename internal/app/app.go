// Package app assembles the relay's pools, orchestrators and HTTP server
// from configuration and drives its start/stop lifecycle.
//
// Grounded on the teacher's internal/app/app.go Application type: New
// builds everything from config and wires routes, Start begins serving in
// a goroutine reporting onto an error channel, Stop drains in-flight
// requests within the configured shutdown timeout.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/thushan/llmrelay/internal/adapter/diagnostics"
	"github.com/thushan/llmrelay/internal/adapter/orchestrator"
	"github.com/thushan/llmrelay/internal/adapter/timeout"
	"github.com/thushan/llmrelay/internal/adapter/translator"
	"github.com/thushan/llmrelay/internal/adapter/usage"
	"github.com/thushan/llmrelay/internal/app/handlers"
	"github.com/thushan/llmrelay/internal/app/middleware"
	"github.com/thushan/llmrelay/internal/config"
	"github.com/thushan/llmrelay/internal/core/constants"
	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/internal/logger"
	"github.com/thushan/llmrelay/internal/router"
	"github.com/thushan/llmrelay/internal/util"
	"github.com/thushan/llmrelay/pkg/eventbus"
)

// App holds everything the relay needs for one process lifetime.
type App struct {
	cfg    *config.Config
	log    logger.StyledLogger
	server *http.Server
	errCh  chan error

	messagesPool  *domain.Pool
	responsesPool *domain.Pool

	usageStore *usage.Store
	adaptive   *timeout.Adaptive
	events     *eventbus.EventBus[orchestrator.PoolEvent]
}

// New loads configuration, builds both pools and their orchestrators, and
// assembles the HTTP server -- but does not start listening yet.
func New(startTime time.Time, log logger.StyledLogger) (*App, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	messagesPool := config.BuildPool("messages", cfg.MessagesPool)
	responsesPool := config.BuildPool("responses", cfg.ResponsesPool)
	retryLadder := config.BuildRetryLadder(cfg.RetryLadder)
	errorStrategies := config.BuildErrorStrategyTable(cfg.ErrorStrategies)
	conversions := buildConversionTable(config.BuildModelConversions(cfg.ModelConversions))

	usageStore := usage.New(cfg.UsageStore.FilePath)
	adaptive := timeout.New(
		cfg.AdaptiveTimeout.BaseSeconds,
		cfg.AdaptiveTimeout.IncrementSeconds,
		cfg.AdaptiveTimeout.SuccessesToReset,
	)
	connectTimeout := time.Duration(cfg.AdaptiveTimeout.ConnectTimeoutSecs) * time.Second

	// One bus shared by both orchestrators so /status can report failovers
	// from either pool through a single subscription (spec.md §12's
	// supplemented "operators can see failover behaviour" goal).
	events := eventbus.New[orchestrator.PoolEvent]()

	messagesOrch := &orchestrator.Orchestrator{
		Pool:            messagesPool,
		ErrorStrategies: errorStrategies,
		RetryLadder:     retryLadder,
		UsageStore:      usageStore,
		Logger:          log,
		Events:          events,
		ConnectTimeout:  connectTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
	}
	responsesOrch := &orchestrator.Orchestrator{
		Pool:            responsesPool,
		ErrorStrategies: errorStrategies,
		RetryLadder:     retryLadder,
		Adaptive:        adaptive, // spec.md §4.6: adaptive deadline applies to the responses pool only.
		UsageStore:      usageStore,
		Logger:          log,
		Events:          events,
		ConnectTimeout:  connectTimeout,
	}

	relay := &handlers.Relay{
		MessagesOrchestrator:  messagesOrch,
		ResponsesOrchestrator: responsesOrch,
		Conversions:           conversions,
		Logger:                log,
	}

	status := &handlers.StatusHandler{
		MessagesPool:  messagesPool,
		ResponsesPool: responsesPool,
		UsageStore:    usageStore,
		Adaptive:      adaptive,
		StartTime:     startTime,
	}
	eventCh, _ := events.Subscribe(context.Background())
	go status.WatchEvents(eventCh)

	authTable := buildKeyTable(cfg.Auth)

	registry := router.NewRouteRegistry(log)
	registry.RegisterWithMethod(constants.PathV1Messages, wrap(authTable, relay.ServeMessages), "Anthropic Messages relay", http.MethodPost)
	registry.RegisterWithMethod(constants.PathV1ChatCompletions, wrap(authTable, relay.ServeChatCompletions), "OpenAI Chat Completions relay", http.MethodPost)
	registry.RegisterWithMethod(constants.PathOpenAIPrefix+"/", wrap(authTable, relay.ServeOpenAIAlias), "OpenAI-compatible alias relay", http.MethodPost)
	registry.Register("/status", status.ServeStatus, "Pool health and recent failover events")
	registry.Register("/health", status.ServeHealth, "Liveness probe")

	mux := http.NewServeMux()
	registry.WireUp(mux)

	trustedCIDRs, err := util.ParseTrustedCIDRs(cfg.Server.TrustedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("app: parse trusted_cidrs: %w", err)
	}

	// spec.md §6's two rolling request/response text logs, independent of
	// the structured slog output above. DiagnosticsDir empty disables them.
	diag, err := diagnostics.New(cfg.Logging.DiagnosticsDir, int64(cfg.Logging.MaxSizeMB)*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("app: build diagnostics logs: %w", err)
	}

	var handler http.Handler = mux
	handler = middleware.AccessLoggingMiddleware(log, cfg.Server.TrustProxyHeaders, trustedCIDRs)(handler)
	handler = middleware.EnhancedLoggingMiddleware(log, cfg.Server.TrustProxyHeaders, trustedCIDRs, diag)(handler)
	handler = middleware.NormalisePath(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		cfg:           cfg,
		log:           log,
		server:        server,
		errCh:         make(chan error, 1),
		messagesPool:  messagesPool,
		responsesPool: responsesPool,
		usageStore:    usageStore,
		adaptive:      adaptive,
		events:        events,
	}, nil
}

// Start begins serving HTTP in a background goroutine and returns nil at
// once, without waiting for the listener to bind. A ListenAndServe failure
// is sent on errCh and logged by a second goroutine, unless ctx is done
// first.
func (a *App) Start(ctx context.Context) error {
	a.log.InfoWithEndpoint("Starting web server", a.server.Addr)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.errCh <- err
		}
	}()

	go func() {
		select {
		case err := <-a.errCh:
			a.log.Error("web server failed", "error", err)
		case <-ctx.Done():
		}
	}()

	return nil
}

// Stop gracefully drains in-flight requests within the configured shutdown
// timeout.
func (a *App) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := a.server.Shutdown(shutdownCtx)
	a.events.Shutdown()
	return err
}

// buildConversionTable indexes the configured model-conversion rules by
// source model name, the shape translator.ConversionTable.Lookup expects.
func buildConversionTable(rules []domain.ModelConversion) translator.ConversionTable {
	table := make(translator.ConversionTable, len(rules))
	for _, r := range rules {
		table[r.SourceModel] = r
	}
	return table
}

// buildKeyTable turns the configured user keys into the bearer-token
// lookup table spec.md §6 describes. The resolver is a constant closure
// here since the proxy's own auth table doesn't carry a distinct upstream
// credential -- that lives on each pool entry instead -- but keeping the
// CredentialResolver indirection matches the spec's "opaque callable"
// phrasing and leaves room for per-user credential overrides later.
func buildKeyTable(cfg config.AuthConfig) middleware.KeyTable {
	table := make(middleware.KeyTable, len(cfg.Users))
	for _, u := range cfg.Users {
		name := u.Name
		table[u.UserKey] = func() string { return name }
	}
	return table
}

func wrap(table middleware.KeyTable, next http.HandlerFunc) http.HandlerFunc {
	handler := middleware.Authenticate(table, next)
	return func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}
}
