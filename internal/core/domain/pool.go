package domain

import (
	"sync"
	"time"
)

// Pool is an ordered, tiered collection of UpstreamEntry values for one
// dialect family (the messages pool or the responses pool). All mutable
// fields are guarded by Mu; callers read or write them only while holding it.
type Pool struct {
	Mu sync.Mutex

	Name    string
	Entries []*UpstreamEntry

	ActiveIndex int // -1 when the pool is empty
	UsingBackup bool

	BackupStartedAt     time.Time
	LastPrimaryCheckAt  time.Time
	PrimaryCheckInterval time.Duration
}

// NewPool builds a Pool from its configured entries. ActiveIndex starts at
// -1 until the first Selector call establishes it.
func NewPool(name string, entries []*UpstreamEntry, primaryCheckInterval time.Duration) *Pool {
	return &Pool{
		Name:                 name,
		Entries:              entries,
		ActiveIndex:          -1,
		PrimaryCheckInterval: primaryCheckInterval,
	}
}

// Active returns the entry at ActiveIndex, or nil if the pool is empty or
// unset. Callers must hold Mu.
func (p *Pool) Active() *UpstreamEntry {
	if p.ActiveIndex < 0 || p.ActiveIndex >= len(p.Entries) {
		return nil
	}
	return p.Entries[p.ActiveIndex]
}

// Primaries returns the indices of tier=primary entries in configuration order.
func (p *Pool) Primaries() []int {
	var idx []int
	for i, e := range p.Entries {
		if e.Tier == TierPrimary {
			idx = append(idx, i)
		}
	}
	return idx
}

// Backups returns the indices of tier=backup entries in configuration order.
func (p *Pool) Backups() []int {
	var idx []int
	for i, e := range p.Entries {
		if e.Tier == TierBackup {
			idx = append(idx, i)
		}
	}
	return idx
}

// IndexOf returns the index of e within the pool, or -1 if not found.
func (p *Pool) IndexOf(e *UpstreamEntry) int {
	for i, entry := range p.Entries {
		if entry == e {
			return i
		}
	}
	return -1
}
