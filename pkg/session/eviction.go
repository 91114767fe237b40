package session

import (
	"context"
	"time"
)

func (r *Registry) SetEvictionConfig(idle, interval time.Duration) {
	r.mu.Lock()
	r.evictIdle = idle
	r.evictInterval = interval
	r.mu.Unlock()
}

// StartEvictionLoop sweeps out sessions that never completed their handshake
// or were closed without being removed. Sessions with a live connection are
// never evicted.
func (r *Registry) StartEvictionLoop(ctx context.Context) {
	if ctx == nil {
		panic("session: StartEvictionLoop requires non-nil ctx")
	}
	r.mu.Lock()
	if r.evictRunning {
		r.mu.Unlock()
		return
	}
	idle := r.evictIdle
	interval := r.evictInterval
	if idle <= 0 || interval <= 0 {
		r.mu.Unlock()
		return
	}
	r.evictRunning = true
	r.mu.Unlock()

	go r.runEvictionLoop(ctx, interval)
}

func (r *Registry) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.evictRunning = false
			r.mu.Unlock()
			return
		case now := <-ticker.C:
			r.evictIdleOnce(now)
		}
	}
}

func (r *Registry) evictIdleOnce(now time.Time) int {
	if now.IsZero() {
		now = time.Now()
	}

	r.mu.Lock()
	idle := r.evictIdle
	if idle <= 0 {
		r.mu.Unlock()
		return 0
	}
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.Unlock()

	evicted := 0
	for _, s := range candidates {
		if !shouldEvict(now, idle, s) {
			continue
		}
		r.mu.Lock()
		current, ok := r.sessions[s.Key]
		if !ok || current != s {
			r.mu.Unlock()
			continue
		}
		delete(r.sessions, s.Key)
		r.mu.Unlock()

		s.Close()
		evicted++
	}
	return evicted
}

func shouldEvict(now time.Time, idle time.Duration, s *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return true
	}
	if s.state == StateOpen {
		return false
	}
	if s.inflight > 0 {
		return false
	}
	return now.Sub(s.lastActivity) >= idle
}
