// Package domain holds the core data model for the relay: upstream pools,
// retry/translation tables and usage accounting. Nothing in this package
// performs I/O; it is the shape that the adapters operate on.
package domain

import "time"

// Tier is where an UpstreamEntry sits in its pool's failover order.
type Tier string

const (
	TierPrimary Tier = "primary"
	TierBackup  Tier = "backup"
)

// Dialect is the wire format an upstream entry natively speaks.
type Dialect string

const (
	// DialectMessages is the Anthropic Messages API.
	DialectMessages Dialect = "messages"
	// DialectResponses is the OpenAI Responses ("codex") API.
	DialectResponses Dialect = "responses"
	// DialectOpenAIAdapter is an OpenAI Chat Completions compatible upstream.
	DialectOpenAIAdapter Dialect = "openai_adapter"
)

// EntryStatus summarises an entry's health for logging and status reporting.
type EntryStatus string

const (
	StatusNormal  EntryStatus = "normal"
	StatusWarning EntryStatus = "warning"
)

// DayMask is a 7-bit, Monday-indexed week mask. Bit 0 = Monday ... bit 6 = Sunday.
type DayMask uint8

const (
	DayMonday DayMask = 1 << iota
	DayTuesday
	DayWednesday
	DayThursday
	DayFriday
	DaySaturday
	DaySunday
)

// AllDays is the mask for an entry available every day of the week.
const AllDays DayMask = DayMonday | DayTuesday | DayWednesday | DayThursday | DayFriday | DaySaturday | DaySunday

// WeekdayMask returns the DayMask bit corresponding to t's weekday.
func WeekdayMask(t time.Time) DayMask {
	switch t.Weekday() {
	case time.Monday:
		return DayMonday
	case time.Tuesday:
		return DayTuesday
	case time.Wednesday:
		return DayWednesday
	case time.Thursday:
		return DayThursday
	case time.Friday:
		return DayFriday
	case time.Saturday:
		return DaySaturday
	default:
		return DaySunday
	}
}

// UpstreamEntry is one configured backend in a Pool.
//
// Identity and classification fields come from config and are immutable for
// the lifetime of a config snapshot. Runtime fields (ErrorCount, CooldownUntil,
// Status) are mutated only under the owning Pool's mutex.
type UpstreamEntry struct {
	Name       string
	BaseURL    string
	Credential string

	Tier    Tier
	Dialect Dialect

	Enabled           bool
	DayMask           DayMask
	ActivationEnabled bool
	ActivationTime    string

	ErrorThreshold int
	CooldownPeriod time.Duration

	ErrorCount    int
	CooldownUntil time.Time
	Status        EntryStatus
}

// Available reports whether e may be selected at instant now, clearing an
// expired cooldown as a side effect (per spec.md §4.1 step 1). Callers must
// hold the owning Pool's mutex.
func (e *UpstreamEntry) Available(now time.Time) bool {
	if !e.Enabled {
		return false
	}
	if e.DayMask&WeekdayMask(now) == 0 {
		return false
	}
	if !e.CooldownUntil.IsZero() && !e.CooldownUntil.After(now) {
		e.CooldownUntil = time.Time{}
		e.ErrorCount = 0
		e.Status = StatusNormal
	}
	return e.CooldownUntil.IsZero()
}

// RecordSuccess clears error accounting, per the recovery contract in §4.1.
func (e *UpstreamEntry) RecordSuccess() {
	e.ErrorCount = 0
	e.CooldownUntil = time.Time{}
	e.Status = StatusNormal
}

// RecordFailure increments the error counter and, if it crosses the
// configured threshold, opens a cooldown window. Returns true if a cooldown
// was just opened.
func (e *UpstreamEntry) RecordFailure(now time.Time) bool {
	e.ErrorCount++
	if e.ErrorCount >= e.ErrorThreshold {
		e.CooldownUntil = now.Add(e.CooldownPeriod)
		e.Status = StatusWarning
		return true
	}
	return false
}
