package ratelimit

import (
	"sync"
	"time"

	"EventArb/internal/domain/models"
)

// Rule is the windowed threshold for one severity.
type Rule struct {
	Window    time.Duration
	Threshold int
	Cooldown  time.Duration
}

type key struct {
	severity models.Severity
	source   string
}

type counter struct {
	count         int
	windowStart   time.Time
	nextAllowedAt time.Time
	lastSeen      time.Time
}

// Limiter groups repeated alert observations per (severity, source).
// A key accumulates observations inside its window; reaching the threshold
// emits once and starts a cooldown during which observations are counted
// but never emitted. Fatal observations always emit and touch no state.
type Limiter struct {
	mu       sync.Mutex
	rules    map[models.Severity]Rule
	fallback Rule
	m        map[key]*counter
}

// New builds a limiter. Severities missing from rules use the error rule.
func New(rules map[models.Severity]Rule) *Limiter {
	l := &Limiter{rules: rules, m: make(map[key]*counter)}
	if r, ok := rules[models.SeverityError]; ok {
		l.fallback = r
	} else {
		l.fallback = Rule{Window: 180 * time.Second, Threshold: 5, Cooldown: 300 * time.Second}
	}
	return l
}

func (l *Limiter) rule(sev models.Severity) Rule {
	if r, ok := l.rules[sev]; ok {
		return r
	}
	return l.fallback
}

// Observe records one observation and reports whether the caller should
// emit, along with how many observations the emission stands for.
func (l *Limiter) Observe(sev models.Severity, source string, now time.Time) (bool, int) {
	if sev == models.SeverityFatal {
		return true, 1
	}
	r := l.rule(sev)
	k := key{severity: sev, source: source}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.m[k]
	if !ok {
		c = &counter{windowStart: now}
		l.m[k] = c
	}
	c.lastSeen = now

	if now.Before(c.nextAllowedAt) {
		c.count++
		return false, 0
	}
	if now.Sub(c.windowStart) > r.Window {
		c.count = 0
		c.windowStart = now
	}
	c.count++
	if c.count >= r.Threshold {
		n := c.count
		c.nextAllowedAt = now.Add(r.Cooldown)
		c.count = 0
		c.windowStart = now
		return true, n
	}
	return false, 0
}

// Sweep drops keys that are not cooling down and have been idle for more
// than twice their window. It returns the number of removed keys.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, c := range l.m {
		if now.Before(c.nextAllowedAt) {
			continue
		}
		if now.Sub(c.lastSeen) > 2*l.rule(k.severity).Window {
			delete(l.m, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
