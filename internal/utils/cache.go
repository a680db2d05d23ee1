package utils

import (
	"math"
	"sync"
	"time"
)

// ValueCache is a small TTL cache of the last archived value per channel.
// A nil value is a valid entry and means the channel last failed to read.
type ValueCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]entry
}

type entry struct {
	v  *float64
	at time.Time
}

// NewValueCache creates a new cache with the given TTL. If ttl <= 0, it defaults to 1h.
func NewValueCache(ttl time.Duration) *ValueCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ValueCache{ttl: ttl, data: make(map[string]entry, 32)}
}

// Unchanged reports whether key holds an unexpired value equal to v.
func (c *ValueCache) Unchanged(key string, v *float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return false
	}
	if time.Since(e.at) > c.ttl {
		delete(c.data, key)
		return false
	}
	switch {
	case e.v == nil && v == nil:
		return true
	case e.v == nil || v == nil:
		return false
	default:
		return FloatsEqual(*e.v, *v)
	}
}

// Set stores the value with the current timestamp.
func (c *ValueCache) Set(key string, v *float64) {
	var cp *float64
	if v != nil {
		x := *v
		cp = &x
	}
	c.mu.Lock()
	c.data[key] = entry{v: cp, at: time.Now()}
	c.mu.Unlock()
}

// FloatsEqual compares with a relative tolerance suited to sensor noise floors.
func FloatsEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= 1e-9*math.Max(scale, 1)
}
