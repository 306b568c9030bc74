package observable

import "sync"

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// WithProgramCache registers a program cache used by the default evaluator.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *instanceConfig) {
		cfg.programCache = cache
	}
}

// MemoryProgramCache is an unbounded ProgramCache safe for concurrent use, so
// one cache can be shared by instances running on different loops.
type MemoryProgramCache struct {
	mu       sync.RWMutex
	programs map[string]any
}

// NewMemoryProgramCache returns an empty cache.
func NewMemoryProgramCache() *MemoryProgramCache {
	return &MemoryProgramCache{programs: map[string]any{}}
}

func (c *MemoryProgramCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.programs[key]
	return v, ok
}

func (c *MemoryProgramCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.programs == nil {
		c.programs = map[string]any{}
	}
	c.programs[key] = value
}

// Len returns the number of cached programs.
func (c *MemoryProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
