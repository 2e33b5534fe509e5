package pool

import "time"

// EvictionWeights are the three coefficients C2 applies to idle time, error
// rate, and age when scoring a context for eviction.
type EvictionWeights struct {
	Idle  float64
	Error float64
	Age   float64
}

// Config is the immutable-for-process-lifetime pool configuration (spec §3).
type Config struct {
	MaxContexts          int
	DefaultDomainDelay   time.Duration
	MaxQueueWait         time.Duration
	MaxConsecutiveErrors int
	EvictionWeights      EvictionWeights

	// PersistentContextsPath is the root directory under which one
	// subdirectory per persistent context id is kept, each holding a
	// single state.json written by the driver's StorageState capability.
	// The core treats this path as an opaque string (spec §6).
	PersistentContextsPath string
}

// DefaultConfig mirrors the original's dataclass defaults
// (browser_pool_size=5, default_domain_delay_ms=1000, max_queue_wait=30s,
// max_consecutive_errors=3, eviction weights 1/1/1).
func DefaultConfig() Config {
	return Config{
		MaxContexts:             5,
		DefaultDomainDelay:      time.Second,
		MaxQueueWait:            30 * time.Second,
		MaxConsecutiveErrors:    3,
		EvictionWeights:         EvictionWeights{Idle: 1, Error: 1, Age: 1},
		PersistentContextsPath:  "./persistent_contexts",
	}
}
