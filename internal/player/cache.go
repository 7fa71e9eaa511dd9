package player

import (
	"sync"
	"time"
)

// Cache mirrors the external player's state, updated from observed
// property-change events (§3's "Local playback state cache"). It is the
// source of truth for outbound State messages.
type Cache struct {
	mu          sync.RWMutex
	filename    string
	duration    float64
	position    float64
	paused      bool
	speed       float64
	lastUpdated time.Time
}

// NewCache returns a Cache with a neutral default speed of 1.0.
func NewCache() *Cache {
	return &Cache{speed: 1.0}
}

// Snapshot is an immutable copy of the cache's fields at one instant.
type Snapshot struct {
	Filename    string
	Duration    float64
	Position    float64
	Paused      bool
	Speed       float64
	LastUpdated time.Time
}

// Snapshot returns a consistent copy; callers never see a partially
// updated cache (§5).
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Filename:    c.filename,
		Duration:    c.duration,
		Position:    c.position,
		Paused:      c.paused,
		Speed:       c.speed,
		LastUpdated: c.lastUpdated,
	}
}

func (c *Cache) setFilename(name string) {
	c.mu.Lock()
	c.filename = name
	c.lastUpdated = time.Now()
	c.mu.Unlock()
}

func (c *Cache) setDuration(d float64) {
	c.mu.Lock()
	c.duration = d
	c.lastUpdated = time.Now()
	c.mu.Unlock()
}

func (c *Cache) setPosition(p float64) {
	c.mu.Lock()
	c.position = p
	c.lastUpdated = time.Now()
	c.mu.Unlock()
}

func (c *Cache) setPaused(p bool) {
	c.mu.Lock()
	c.paused = p
	c.lastUpdated = time.Now()
	c.mu.Unlock()
}

func (c *Cache) setSpeed(s float64) {
	if s <= 0 {
		s = 1.0
	}
	c.mu.Lock()
	c.speed = s
	c.lastUpdated = time.Now()
	c.mu.Unlock()
}

// ProjectedPosition returns the position projected to now, per §4.3: a
// paused player never advances; a playing one advances at its current
// speed.
func (c *Cache) ProjectedPosition(now time.Time) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused || c.lastUpdated.IsZero() {
		return c.position
	}
	elapsed := now.Sub(c.lastUpdated).Seconds()
	if elapsed <= 0 {
		return c.position
	}
	speed := c.speed
	if speed <= 0 {
		speed = 1.0
	}
	return c.position + elapsed*speed
}
