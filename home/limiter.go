package home

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"
)

// Limiter throttles commands per user.
type Limiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	users map[snowflake.ID]*userLimiter
}

type userLimiter struct {
	l    *rate.Limiter
	seen time.Time
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{limit: rate.Limit(perSecond), burst: burst, users: make(map[snowflake.ID]*userLimiter)}
}

func (l *Limiter) Allow(id snowflake.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[id]
	if !ok {
		u = &userLimiter{l: rate.NewLimiter(l.limit, l.burst)}
		l.users[id] = u
	}
	u.seen = time.Now()
	return u.l.Allow()
}

// Prune forgets users idle for longer than idle.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, u := range l.users {
		if time.Since(u.seen) > idle {
			delete(l.users, id)
			n++
		}
	}
	return n
}
