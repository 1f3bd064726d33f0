package auth

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
)

// AttemptLimiter counts failed attempts per key inside a sliding window
type AttemptLimiter interface {
	// Fail records a failed attempt and returns the running count
	Fail(key string) int
	// Exceeded reports whether key reached the limit
	Exceeded(key string) bool
	Reset(key string)
}

type cacheLimiter struct {
	// mu serializes the read and write in Fail
	mu    sync.Mutex
	cache *bigcache.BigCache
	max   int
}

// NewAttemptLimiter keeps counters in memory for window
func NewAttemptLimiter(max int, window time.Duration) (AttemptLimiter, error) {
	cfg := bigcache.DefaultConfig(window)
	cfg.Verbose = false
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, err
	}
	return &cacheLimiter{cache: cache, max: max}, nil
}

func (l *cacheLimiter) count(key string) int {
	buf, err := l.cache.Get(key)
	if err != nil || len(buf) != 4 {
		return 0
	}
	return int(binary.BigEndian.Uint32(buf))
}

func (l *cacheLimiter) Fail(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.count(key) + 1
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(n))
	_ = l.cache.Set(key, buf)
	return n
}

func (l *cacheLimiter) Exceeded(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count(key) >= l.max
}

func (l *cacheLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.cache.Delete(key)
}
