package domain

import "errors"

// Sentinel errors for the small fixed set of terminal outcomes the
// orchestrator can surface to a client (spec.md §7).
var (
	// ErrNoAvailableEntry means a pool has no entry that passes Available()
	// and no backup or forced-continue candidate exists either.
	ErrNoAvailableEntry = errors.New("no available upstream entry")

	// ErrAuthFailed means the bearer user_key did not resolve in the
	// credential table.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTranslationFailed means the dialect translator could not build a
	// valid upstream request from the inbound body.
	ErrTranslationFailed = errors.New("dialect translation failed")

	// ErrRetriesExhausted means the attempt loop, including the exhaustive
	// fallthrough tier, ran out of entries without a success.
	ErrRetriesExhausted = errors.New("all retry attempts exhausted")

	// ErrStreamInterrupted signals a mid-stream disconnect detected by the
	// Stream Rewriter before any bytes were flushed to the client, and is
	// caught by the Retry Orchestrator to attempt a silent reconnect.
	ErrStreamInterrupted = errors.New("upstream stream interrupted")
)
