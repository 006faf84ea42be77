package resilience

import "sync"

// BreakerRegistry is a process-wide table of named breakers, generalized
// from the teacher's registry.Hub (a sync.Map of per-user Cells, populated
// lazily via LoadOrStore on first Register) into a sync.Map of per-operation
// Breakers populated lazily on first use.
type BreakerRegistry struct {
	breakers sync.Map // name -> *Breaker
	metrics  *MetricsRegistry
}

// NewBreakerRegistry constructs an empty registry. metrics is shared by
// every breaker it creates.
func NewBreakerRegistry(metrics *MetricsRegistry) *BreakerRegistry {
	return &BreakerRegistry{metrics: metrics}
}

// GetOrCreate returns the named breaker, creating it with cfg on first use.
// A name already registered keeps its original config; cfg is ignored on
// that path, mirroring Hub.Register's idempotent LoadOrStore.
func (r *BreakerRegistry) GetOrCreate(cfg BreakerConfig) *Breaker {
	if existing, ok := r.breakers.Load(cfg.Name); ok {
		return existing.(*Breaker)
	}
	created := NewBreaker(cfg, r.metrics)
	actual, _ := r.breakers.LoadOrStore(cfg.Name, created)
	return actual.(*Breaker)
}

// Get returns the named breaker, or ErrUnknownBreaker if it was never
// created.
func (r *BreakerRegistry) Get(name string) (*Breaker, error) {
	val, ok := r.breakers.Load(name)
	if !ok {
		return nil, newErr("resilience", "BreakerRegistry.Get", name, ErrUnknownBreaker)
	}
	return val.(*Breaker), nil
}

// Names returns every breaker name currently registered.
func (r *BreakerRegistry) Names() []string {
	var names []string
	r.breakers.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}
