// Package handlers implements the three client-facing entry points spec.md
// §6 names: the Anthropic-native Messages endpoint, the OpenAI-Chat
// Completions endpoint, and the openai/* alias family, all landing on one
// of the two upstream pools via the Retry Orchestrator.
//
// Grounded on the teacher's app/handlers proxy handlers: decode, pick a
// pool, stream the upstream body back through a thin http.ResponseWriter
// wrapper, log on the way out.
package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/thushan/llmrelay/internal/adapter/orchestrator"
	"github.com/thushan/llmrelay/internal/adapter/stream"
	"github.com/thushan/llmrelay/internal/adapter/translator"
	"github.com/thushan/llmrelay/internal/core/constants"
	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/internal/logger"
	"github.com/thushan/llmrelay/internal/util"
)

// upstreamResponsesPath is the wire path the Responses-dialect upstream
// validates (spec.md §6: "OpenAI Responses (`/responses`)").
const upstreamResponsesPath = "/responses"

// Relay wires the Dialect Translator, the two pool orchestrators and the
// Stream Rewriter together for one inbound request.
type Relay struct {
	MessagesOrchestrator  *orchestrator.Orchestrator
	ResponsesOrchestrator *orchestrator.Orchestrator
	Conversions           translator.ConversionTable
	Logger                logger.StyledLogger
}

// ServeMessages handles the Anthropic Messages entry point and any inbound
// path containing "v1/messages" (spec.md §6 path normalization): forwarded
// verbatim to the messages pool if the body is already Anthropic-shaped,
// translated from OpenAI-Chat otherwise.
func (rl *Relay) ServeMessages(w http.ResponseWriter, r *http.Request) {
	rl.handle(w, r, domain.DialectMessages)
}

// ServeChatCompletions and ServeOpenAIAlias both land on the responses
// pool: spec.md §6 treats "v1/chat/completions" and any "openai/*" path as
// the same Responses-dialect entry point, differing only in the prefix
// stripped before matching.
func (rl *Relay) ServeChatCompletions(w http.ResponseWriter, r *http.Request) {
	rl.handle(w, r, domain.DialectResponses)
}

func (rl *Relay) ServeOpenAIAlias(w http.ResponseWriter, r *http.Request) {
	rl.handle(w, r, domain.DialectResponses)
}

func (rl *Relay) handle(w http.ResponseWriter, r *http.Request, target domain.Dialect) {
	requestID := util.GenerateRequestID()
	reqLog := rl.Logger.WithRequestID(requestID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProxyError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	defer r.Body.Close()

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		writeProxyError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	model, _ := decoded["model"].(string)
	wantsStream := true
	if v, ok := decoded["stream"].(bool); ok {
		wantsStream = v
	}

	upstreamBody, upstreamPath, orch, tr, mode, translateErr := rl.translate(target, body, decoded, requestID, model)
	if translateErr != nil {
		reqLog.Warn("dialect translation failed", "error", translateErr, "target", string(target))
		writeProxyError(w, http.StatusBadRequest, "dialect translation failed")
		return
	}

	encoded, err := json.Marshal(upstreamBody)
	if err != nil {
		writeProxyError(w, http.StatusBadRequest, "could not encode translated request")
		return
	}

	reqLog.Info("dispatching request", "pool", orch.Pool.Name, "mode", string(mode), "stream", wantsStream)

	if wantsStream {
		rl.serveStreaming(w, r, orch, upstreamPath, model, encoded, tr, reqLog)
		return
	}
	rl.serveCollapsed(w, r, orch, upstreamPath, model, encoded, tr, requestID, reqLog)
}

// translate picks the upstream pool/path for target and builds the
// upstream-shaped body, per spec.md §4.4's dialect table.
func (rl *Relay) translate(target domain.Dialect, body []byte, decoded map[string]any, requestID, model string) (map[string]any, string, *orchestrator.Orchestrator, stream.EventTranslator, constants.TranslatorMode, error) {
	if target == domain.DialectMessages {
		if translator.IsOpenAIChat(body) {
			out, err := translator.ToAnthropicMessages(decoded, rl.Conversions)
			return out, constants.PathV1Messages, rl.MessagesOrchestrator, translator.NewStreamTranslator(), constants.TranslatorModeTranslation, err
		}
		return passthroughAnthropic(decoded, rl.Conversions), constants.PathV1Messages, rl.MessagesOrchestrator, translator.NewStreamTranslator(), constants.TranslatorModePassthrough, nil
	}

	out, err := translator.ToOpenAIResponses(decoded, model)
	if err == nil {
		translator.ApplyModelConversion(out, rl.Conversions)
	}
	return out, upstreamResponsesPath, rl.ResponsesOrchestrator, translator.NewResponsesStreamAdapter(requestID, model), constants.TranslatorModeTranslation, err
}

// passthroughAnthropic forwards an already Anthropic-shaped body, applying
// the configured model-conversion rename (spec.md §3 ModelConversion) and
// forcing stream=true, the one wire requirement spec.md §4.4 applies
// regardless of translation mode.
func passthroughAnthropic(req map[string]any, conversions translator.ConversionTable) map[string]any {
	out := make(map[string]any, len(req)+1)
	for k, v := range req {
		out[k] = v
	}
	translator.ApplyModelConversion(out, conversions)
	out["stream"] = true
	return out
}

func (rl *Relay) serveStreaming(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, path, model string, body []byte, tr stream.EventTranslator, reqLog logger.StyledLogger) {
	// Headers are only buffered here, not sent: WriteHeader is deferred to
	// the first actual byte so a pre-flush orchestrator failure can still
	// report a proper 502 instead of a status already committed to 200.
	w.Header().Set(constants.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	// X-Upstream-Name is attached once the Retry Orchestrator confirms which
	// entry is actually about to stream bytes (httpFlusher.NotifyEntry),
	// spec.md §12: the display name of the entry that served the request,
	// not just the pool it came from.
	out := &httpFlusher{w: w}
	result, err := orch.Call(r.Context(), path, model, body, out, tr)
	if err == nil && result.RawBody != nil && !out.wrote {
		// normal_retry (spec.md §4.2): surface the upstream response
		// verbatim instead of translating it. Nothing has been flushed yet,
		// so the event-stream headers above can still be overridden.
		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		if result.EntryName != "" {
			w.Header().Set(constants.HeaderXUpstreamName, result.EntryName)
		}
		w.WriteHeader(result.RawStatus)
		_, _ = w.Write(result.RawBody)
		return
	}

	if err != nil && !out.wrote {
		// nothing reached the client yet: still able to send a clean error.
		writeProxyError(w, statusForOrchestratorErr(err), "upstream retries exhausted")
		return
	}
	if err != nil {
		reqLog.Warn("stream terminated after partial response", "error", err)
	}
}

func (rl *Relay) serveCollapsed(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, path, model string, body []byte, tr stream.EventTranslator, requestID string, reqLog logger.StyledLogger) {
	cf := &collapsingFlusher{}
	result, err := orch.Call(r.Context(), path, model, body, cf, tr)
	if err != nil {
		reqLog.Warn("collapsed request failed", "error", err)
		writeProxyError(w, statusForOrchestratorErr(err), "upstream retries exhausted")
		return
	}
	if result.RawBody != nil {
		// normal_retry (spec.md §4.2): nothing to collapse, surface verbatim.
		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		if result.EntryName != "" {
			w.Header().Set(constants.HeaderXUpstreamName, result.EntryName)
		}
		w.WriteHeader(result.RawStatus)
		_, _ = w.Write(result.RawBody)
		return
	}

	collapser := translator.NewCollapser(requestID, model)
	scanner := bufio.NewScanner(&cf.buf)
	for scanner.Scan() {
		line := scanner.Text()
		payload := strings.TrimPrefix(line, "data: ")
		if payload == line || payload == "[DONE]" || payload == "" {
			continue
		}
		var chunk map[string]any
		if json.Unmarshal([]byte(payload), &chunk) == nil {
			collapser.Feed(chunk)
		}
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	if result.EntryName != "" {
		w.Header().Set(constants.HeaderXUpstreamName, result.EntryName)
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(collapser.Build(result.Usage))
}

// statusForOrchestratorErr maps an unrecovered orchestrator failure to the
// client-visible status: 502 on all-retries-exhausted, per spec.md §6.
func statusForOrchestratorErr(_ error) int {
	return http.StatusBadGateway
}

func writeProxyError(w http.ResponseWriter, status int, message string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message, "type": "proxy_error"},
	})
}

// httpFlusher adapts a live http.ResponseWriter to stream.Flusher, tracking
// whether any bytes reached the client yet so a mid-stream orchestrator
// failure can still choose between a clean error and a silent cutoff.
type httpFlusher struct {
	w     http.ResponseWriter
	wrote bool
}

func (h *httpFlusher) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	if n > 0 {
		h.wrote = true
	}
	return n, err
}

// NotifyEntry implements stream.EntryNotifier: the orchestrator calls this
// once it knows which entry is about to stream, just before the first
// write commits the response headers.
func (h *httpFlusher) NotifyEntry(name string) {
	h.w.Header().Set(constants.HeaderXUpstreamName, name)
}

func (h *httpFlusher) Flush() error {
	if f, ok := h.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// collapsingFlusher buffers the Stream Rewriter's SSE output in memory so
// the non-streaming path (spec.md §4.7) can decode it back into chunks for
// the Collapser instead of relaying bytes to the client.
type collapsingFlusher struct {
	buf bytes.Buffer
}

func (c *collapsingFlusher) Write(p []byte) (int, error) { return c.buf.Write(p) }
func (c *collapsingFlusher) Flush() error                { return nil }
