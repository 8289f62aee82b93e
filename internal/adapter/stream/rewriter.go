// Package stream implements the Stream Rewriter (spec.md §4.5, component
// C7): reassembles upstream SSE bytes into complete lines, translates each
// event through the translator package, detects gzip'd embedded errors
// hiding behind an HTTP 200, and reports a StreamInterrupted signal for the
// Retry Orchestrator to catch before any bytes reach the client.
//
// Grounded on the teacher's transformStreamingSync/processStreamLine
// (internal/adapter/translator/anthropic/streaming.go): a blocking scan
// loop over SSE lines with a generous line buffer, continuing past bad
// lines rather than aborting the whole stream.
package stream

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/thushan/llmrelay/internal/adapter/classifier"
	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/pkg/pool"
)

// readBufferPool recycles the 32KiB upstream-read buffer across requests
// instead of allocating one per Pump call -- streaming responses can run
// for minutes and this buffer is read from in a tight loop the whole time.
var readBufferPool = pool.NewLitePool(func() *[32 * 1024]byte {
	return new([32 * 1024]byte)
})

// Flusher is the minimal client-write surface the rewriter needs; satisfied
// by http.ResponseController in the real handler and by a plain buffer in
// tests.
type Flusher interface {
	io.Writer
	Flush() error
}

// EntryNotifier is an optional Flusher capability, checked the same way
// http.ResponseWriter callers check for http.Flusher/http.Hijacker: a
// Flusher that also wants to know which upstream entry is about to stream
// bytes through it implements this, letting the orchestrator attach an
// X-Upstream-Name-style header before the first byte commits the response.
type EntryNotifier interface {
	NotifyEntry(name string)
}

// EventTranslator is the minimal shape Pump needs from a dialect
// translator: fold one decoded SSE event into zero or more OpenAI-Chat
// chunks, and report accumulated usage/model once the stream ends.
// translator.StreamTranslator and translator.ResponsesStreamAdapter both
// satisfy this without either package importing the other.
type EventTranslator interface {
	Translate(eventType string, event map[string]any) []map[string]any
	Usage() domain.UsageRecord
	Model() string
}

// EmbeddedError is a decoded `event: error` payload found mid-stream under
// an HTTP 200, per spec.md §4.5 step 3.
type EmbeddedError struct {
	Outcome classifier.Outcome
	Message string
}

// Result is what Pump reports once the upstream stream ends, cleanly or
// otherwise.
type Result struct {
	Usage        domain.UsageRecord
	Model        string
	BytesFlushed bool
	EmbeddedErr  *EmbeddedError

	// EntryName is the display name of the upstream entry that actually
	// served the request, set by the orchestrator after Pump returns (Pump
	// itself has no notion of which entry it's reading from). Surfaced on
	// the X-Upstream-Name response header per spec.md §12.
	EntryName string

	// RawStatus and RawBody are set only for the normal_retry strategy
	// (spec.md §4.2): "do NOT retry -- surface the response body to the
	// client after the delay." The Dialect Translator never runs on this
	// path since the status already told the orchestrator not to retry.
	RawStatus int
	RawBody   []byte
}

// transportAbortMarkers are substrings of read errors that indicate the
// upstream connection died mid-stream rather than completing normally
// (spec.md §4.5 step 4).
var transportAbortMarkers = []string{
	"peer closed connection",
	"incomplete chunked read",
	"connection reset by peer",
	"unexpected EOF",
	"tls: ",
}

// Pump reads line-reassembled SSE from upstream, translates each `data:`
// payload through tr, and writes the re-encoded OpenAI-Chat chunks to out.
// Returns domain.ErrStreamInterrupted if the connection dropped before any
// bytes were flushed to the client -- the caller (C6) may then reconnect
// silently. Any other read error, or one occurring after bytes were
// flushed, is returned as-is: the client has already seen a partial
// response and the handler must terminate the stream with a proxy error
// event rather than retry invisibly.
func Pump(upstream io.Reader, out Flusher, tr EventTranslator) (Result, error) {
	result := Result{}
	reassembler := &lineReassembler{}
	bufPtr := readBufferPool.Get()
	defer readBufferPool.Put(bufPtr)
	raw := bufPtr[:]
	var pendingEvent string

	for {
		n, readErr := upstream.Read(raw)
		if n > 0 {
			for _, line := range reassembler.push(raw[:n]) {
				emitted, embedded, err := processLine(line, &pendingEvent, tr, &result)
				if err != nil {
					return result, err
				}
				if embedded != nil {
					result.EmbeddedErr = embedded
					if result.BytesFlushed {
						return result, fmt.Errorf("translator: embedded upstream error after stream start: %s", embedded.Message)
					}
					return result, nil
				}
				if len(emitted) == 0 {
					continue
				}
				if err := writeChunks(out, emitted); err != nil {
					return result, err
				}
				result.BytesFlushed = true
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				result.Usage = tr.Usage()
				result.Model = tr.Model()
				return result, nil
			}
			if isTransportAbort(readErr) && !result.BytesFlushed {
				return result, domain.ErrStreamInterrupted
			}
			return result, readErr
		}
	}
}

// processLine interprets one reassembled SSE line, folding `event:` lines
// into pendingEvent and dispatching `data:` lines either to the embedded
// error path or to the normal translator.
func processLine(line []byte, pendingEvent *string, tr EventTranslator, result *Result) ([]map[string]any, *EmbeddedError, error) {
	text := string(line)

	switch {
	case strings.HasPrefix(text, "event:"):
		*pendingEvent = strings.TrimSpace(strings.TrimPrefix(text, "event:"))
		return nil, nil, nil
	case strings.HasPrefix(text, "data:"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "data:"))
		if payload == "[DONE]" {
			return nil, nil, nil
		}
		if payload == "" {
			return nil, nil, nil
		}
		eventType := *pendingEvent
		*pendingEvent = ""

		if eventType == "error" {
			embedded, err := decodeEmbeddedError(payload)
			if err != nil {
				return nil, nil, nil // malformed error payload: skip, keep reading.
			}
			return nil, embedded, nil
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, nil, nil // malformed chunk: skip per teacher's continue-on-bad-line policy.
		}
		return tr.Translate(eventType, event), nil, nil
	default:
		return nil, nil, nil
	}
}

// decodeEmbeddedError extracts and classifies the `details` field of an
// `event: error` payload, gunzipping it first if it looks gzip-compressed
// (spec.md §4.5 step 3).
func decodeEmbeddedError(payload string) (*EmbeddedError, error) {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, err
	}
	details, _ := envelope["details"].(string)
	if details == "" {
		return &EmbeddedError{Outcome: classifier.HTTPStatus(0), Message: "embedded error with no details"}, nil
	}

	// details carries each original byte as one Unicode code point (the
	// "Unicode-escaped form " spec.md §4.5 describes is just
	// this encoding surviving a JSON round trip) -- recover the raw bytes
	// by code point, not by a naive []byte(string) UTF-8 reinterpretation.
	raw := bytesFromCodepoints(details)
	if looksGzipped(raw) {
		decompressed, err := gunzip(raw)
		if err == nil {
			raw = decompressed
		}
	}

	var inner map[string]any
	status := 0
	message := details
	if err := json.Unmarshal(raw, &inner); err == nil {
		message = stringOrEmpty(inner["message"])
		if errBlock, ok := inner["error"].(map[string]any); ok {
			if message == "" {
				message = stringOrEmpty(errBlock["message"])
			}
			status = statusFromAny(errBlock["status"])
			if status == 0 {
				status = statusFromErrorType(stringOrEmpty(errBlock["type"]))
			}
		}
		if status == 0 {
			status = statusFromAny(inner["status"])
		}
	}

	return &EmbeddedError{Outcome: classifier.HTTPStatus(status), Message: message}, nil
}

// bytesFromCodepoints recovers the raw bytes of a string that carries one
// original byte per Unicode code point.
func bytesFromCodepoints(s string) []byte {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		b = append(b, byte(r))
	}
	return b
}

// looksGzipped reports whether b starts with the gzip magic bytes 1f 8b
// (spec.md §4.5 step 3). It checks raw bytes only; the Unicode-escaped form
// is turned into raw bytes by bytesFromCodepoints before this is called.
func looksGzipped(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}

func statusFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}

// statusFromErrorType maps Anthropic's named error types to HTTP status,
// used when the embedded error carries a type string instead of a numeric
// status (spec.md §4.5 step 3: "401 / 403 / 429 / 5xx / overloaded / invalid key").
func statusFromErrorType(errType string) int {
	switch errType {
	case "authentication_error":
		return 401
	case "permission_error":
		return 403
	case "rate_limit_error":
		return 429
	case "overloaded_error":
		return 529
	case "invalid_request_error":
		return 400
	case "api_error":
		return 500
	default:
		return 0
	}
}

func isTransportAbort(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range transportAbortMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func writeChunks(out Flusher, chunks []map[string]any) error {
	for _, chunk := range chunks {
		encoded, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := out.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := out.Write(encoded); err != nil {
			return err
		}
		if _, err := out.Write([]byte("\n\n")); err != nil {
			return err
		}
	}
	return out.Flush()
}

// lineReassembler maintains the byte buffer spec.md §4.5 step 1 describes:
// TCP reads don't respect line boundaries, and a `data:` line whose JSON
// payload is truncated (doesn't end in `}` or `]`) is held back rather than
// forwarded for decoding.
type lineReassembler struct {
	buf     []byte
	pending []byte
}

func (r *lineReassembler) push(chunk []byte) [][]byte {
	r.buf = append(r.buf, chunk...)
	var lines [][]byte

	for {
		idx := bytes.IndexByte(r.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(r.buf[:idx], "\r")
		r.buf = r.buf[idx+1:]

		if r.pending != nil {
			line = append(append([]byte{}, r.pending...), line...)
			r.pending = nil
		}

		if isTruncatedDataLine(line) {
			r.pending = line
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func isTruncatedDataLine(line []byte) bool {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return false
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 || string(payload) == "[DONE]" {
		return false
	}
	last := payload[len(payload)-1]
	return last != '}' && last != ']'
}
