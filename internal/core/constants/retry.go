package constants

import "time"

// DefaultNormalRetryDelay is the "sleep briefly" spec.md §4.2 specifies for
// the normal_retry strategy before its unretried response is surfaced.
const DefaultNormalRetryDelay = 2 * time.Second