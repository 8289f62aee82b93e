// Package selector implements the pure upstream-selection state machine
// (spec.md §4.1, component C3): a priority-ordered walk over a Pool's
// entries that respects day-gating, cooldowns and primary/backup tiers.
package selector

import (
	"time"

	"github.com/thushan/llmrelay/internal/core/domain"
	"github.com/thushan/llmrelay/internal/logger"
)

// Select chooses the entry pool should prefer at instant now, mutating
// pool's ActiveIndex/UsingBackup/BackupStartedAt/LastPrimaryCheckAt fields
// per the algorithm in spec.md §4.1. The caller must hold pool.Mu.
//
// Returns nil only when the pool has no entries at all.
func Select(pool *domain.Pool, now time.Time, log logger.StyledLogger) *domain.UpstreamEntry {
	if len(pool.Entries) == 0 {
		pool.ActiveIndex = -1
		return nil
	}

	primaries := availableIndices(pool, pool.Primaries(), now)

	if pool.UsingBackup {
		if pool.LastPrimaryCheckAt.IsZero() || now.Sub(pool.LastPrimaryCheckAt) >= pool.PrimaryCheckInterval {
			pool.LastPrimaryCheckAt = now
			if len(primaries) > 0 {
				pool.UsingBackup = false
				pool.ActiveIndex = primaries[0]
				return pool.Active()
			}
		}
		return continueOnBackup(pool, now, log)
	}

	if len(primaries) > 0 {
		pool.ActiveIndex = primaries[0]
		return pool.Active()
	}

	backups := availableIndices(pool, pool.Backups(), now)
	if len(backups) > 0 {
		pool.UsingBackup = true
		pool.BackupStartedAt = now
		pool.LastPrimaryCheckAt = now
		pool.ActiveIndex = backups[0]
		return pool.Active()
	}

	return forceContinue(pool, log)
}

// continueOnBackup implements spec.md §4.1 step 2.b: stay on the current
// backup while it is available, else walk the backup list, else force
// continue on whatever is currently active.
func continueOnBackup(pool *domain.Pool, now time.Time, log logger.StyledLogger) *domain.UpstreamEntry {
	if active := pool.Active(); active != nil && active.Available(now) {
		return active
	}
	backups := availableIndices(pool, pool.Backups(), now)
	if len(backups) > 0 {
		pool.ActiveIndex = backups[0]
		return pool.Active()
	}
	return forceContinue(pool, log)
}

// forceContinue returns the current active entry regardless of availability,
// per spec.md §4.1's "force continue" clause, logging a warning.
func forceContinue(pool *domain.Pool, log logger.StyledLogger) *domain.UpstreamEntry {
	active := pool.Active()
	if active == nil && len(pool.Entries) > 0 {
		pool.ActiveIndex = 0
		active = pool.Entries[0]
	}
	if log != nil {
		name := ""
		if active != nil {
			name = active.Name
		}
		log.Warn("no available upstream entry, forcing continue on current active",
			"pool", pool.Name, "entry", name)
	}
	return active
}

// availableIndices filters idx down to entries that pass Available(now),
// clearing any expired cooldown as a side effect (spec.md §4.1 step 1).
func availableIndices(pool *domain.Pool, idx []int, now time.Time) []int {
	var out []int
	for _, i := range idx {
		if pool.Entries[i].Available(now) {
			out = append(out, i)
		}
	}
	return out
}

// NextAfter returns the replacement entry for skip, once the switch_api
// strategy (spec.md §4.2) has crossed skip's error threshold. It reuses
// Select's primary-before-backup walking rules: the first available primary
// other than skip, falling back to the first available backup, rather than
// a flat configuration-order walk that could hop to a backup ahead of an
// untried primary.
func NextAfter(pool *domain.Pool, skip *domain.UpstreamEntry, now time.Time) *domain.UpstreamEntry {
	if e := firstAvailableExcept(pool, pool.Primaries(), skip, now); e != nil {
		return e
	}
	return firstAvailableExcept(pool, pool.Backups(), skip, now)
}

// firstAvailableExcept returns the first entry among idx (in configuration
// order) that is available at now and is not skip.
func firstAvailableExcept(pool *domain.Pool, idx []int, skip *domain.UpstreamEntry, now time.Time) *domain.UpstreamEntry {
	for _, i := range idx {
		e := pool.Entries[i]
		if e != skip && e.Available(now) {
			return e
		}
	}
	return nil
}
