// Package keypool rotates a fixed set of API credentials and tracks
// per-key rate-limit cooldowns and hourly usage.
//
// A Pool is meant to be shared by every caller in the process that talks to
// the same upstream API (the extraction filter and the speech synthesizer).
// All state transitions are guarded by a single mutex, so concurrent
// conversions observe one consistent rotation order.
package keypool

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultCooldown is how long a key is avoided after a rate-limit failure.
const DefaultCooldown = 600 * time.Second

const maskVisibleChars = 4

// ErrNoKeys is returned when a pool is created without any usable key.
var ErrNoKeys = errors.New("key pool requires at least one API key")

// KeyStats is a point-in-time snapshot of one key's bookkeeping.
type KeyStats struct {
	Index       int
	Masked      string
	Current     bool
	CoolingDown bool
	LastFailure time.Time
	HourlyUses  int
}

type usageCounter struct {
	hour  time.Time
	count int
}

// Pool is a rotating set of credentials.
type Pool struct {
	mu          sync.Mutex
	keys        []string
	current     int
	lastFailure map[int]time.Time
	usage       map[int]*usageCounter
	cooldown    time.Duration
	now         func() time.Time
}

// New creates a pool over keys. Empty entries are dropped; a non-positive
// cooldown falls back to DefaultCooldown.
func New(keys []string, cooldown time.Duration) (*Pool, error) {
	cleaned := make([]string, 0, len(keys))

	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	if len(cleaned) == 0 {
		return nil, ErrNoKeys
	}

	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	return &Pool{
		keys:        cleaned,
		current:     0,
		lastFailure: make(map[int]time.Time),
		usage:       make(map[int]*usageCounter),
		cooldown:    cooldown,
		now:         time.Now,
	}, nil
}

// ParseKeys splits a comma or newline separated list of keys, dropping
// blanks and duplicates while keeping the first-seen order.
func ParseKeys(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})

	seen := make(map[string]struct{}, len(fields))
	keys := make([]string, 0, len(fields))

	for _, field := range fields {
		key := strings.TrimSpace(field)
		if key == "" {
			continue
		}

		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return keys
}

// Mask hides all but the last few characters of a key for logging.
func Mask(key string) string {
	if len(key) <= maskVisibleChars {
		return strings.Repeat("*", len(key))
	}

	return strings.Repeat("*", len(key)-maskVisibleChars) + key[len(key)-maskVisibleChars:]
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.keys)
}

// Current returns the key the pool currently points at.
func (p *Pool) Current() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.current, p.keys[p.current]
}

// Rotate advances to the next key, wrapping to the first after the last.
func (p *Pool) Rotate() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = (p.current + 1) % len(p.keys)

	return p.current, p.keys[p.current]
}

// Available returns the current key unless it is cooling down and some other
// key is not, in which case the pool advances to the first such key.
func (p *Pool) Available() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.coolingDownLocked(p.current) {
		return p.current, p.keys[p.current]
	}

	for step := 1; step < len(p.keys); step++ {
		candidate := (p.current + step) % len(p.keys)
		if !p.coolingDownLocked(candidate) {
			p.current = candidate

			break
		}
	}

	return p.current, p.keys[p.current]
}

// MarkFailed starts the cooldown window for the key at index.
func (p *Pool) MarkFailed(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.keys) {
		return
	}

	p.lastFailure[index] = p.now()
}

// CoolingDown reports whether the key at index failed within the cooldown window.
func (p *Pool) CoolingDown(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.coolingDownLocked(index)
}

// RecordUse increments the key's usage counter for the current hour.
func (p *Pool) RecordUse(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.keys) {
		return
	}

	hour := p.now().Truncate(time.Hour)

	counter, ok := p.usage[index]
	if !ok || !counter.hour.Equal(hour) {
		counter = &usageCounter{hour: hour, count: 0}
		p.usage[index] = counter
	}

	counter.count++
}

// Stats returns a snapshot of every key's state.
func (p *Pool) Stats() []KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	hour := p.now().Truncate(time.Hour)
	stats := make([]KeyStats, 0, len(p.keys))

	for index, key := range p.keys {
		uses := 0
		if counter, ok := p.usage[index]; ok && counter.hour.Equal(hour) {
			uses = counter.count
		}

		stats = append(stats, KeyStats{
			Index:       index,
			Masked:      Mask(key),
			Current:     index == p.current,
			CoolingDown: p.coolingDownLocked(index),
			LastFailure: p.lastFailure[index],
			HourlyUses:  uses,
		})
	}

	return stats
}

func (p *Pool) coolingDownLocked(index int) bool {
	failedAt, ok := p.lastFailure[index]
	if !ok {
		return false
	}

	return p.now().Sub(failedAt) < p.cooldown
}
