package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(max int, window, block time.Duration) (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(max, window, block)
	l.now = c.now
	return l, c
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute, 5*time.Minute)

	for i := 0; i < 3; i++ {
		allowed, wait := l.Allow("10.0.0.1")
		assert.True(t, allowed, "request %d", i)
		assert.Zero(t, wait)
	}

	allowed, wait := l.Allow("10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, 5*time.Minute, wait)
}

func TestLimiter_BlockRemaining(t *testing.T) {
	l, c := newTestLimiter(1, time.Minute, 10*time.Minute)

	l.Allow("a")
	l.Allow("a")
	c.advance(4 * time.Minute)

	allowed, wait := l.Allow("a")
	assert.False(t, allowed)
	assert.Equal(t, 6*time.Minute, wait)

	c.advance(6 * time.Minute)
	allowed, _ = l.Allow("a")
	assert.True(t, allowed)
}

func TestLimiter_WindowResets(t *testing.T) {
	l, c := newTestLimiter(2, time.Minute, time.Hour)

	l.Allow("a")
	l.Allow("a")
	c.advance(time.Minute)

	allowed, _ := l.Allow("a")
	assert.True(t, allowed)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute, time.Hour)

	l.Allow("a")
	blocked, _ := l.Allow("a")
	other, _ := l.Allow("b")

	assert.False(t, blocked)
	assert.True(t, other)
}

func TestLimiter_Evict(t *testing.T) {
	l, c := newTestLimiter(1, time.Minute, 5*time.Minute)

	l.Allow("idle")
	l.Allow("blocked")
	l.Allow("blocked")
	require.Equal(t, 2, l.size())

	c.advance(3 * time.Minute)
	l.evict()
	assert.Equal(t, 1, l.size(), "blocked client is kept until its block ends")

	c.advance(3 * time.Minute)
	l.evict()
	assert.Zero(t, l.size())
}

func TestLimiter_Middleware(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute, 30*time.Second)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusAccepted, do().Code)

	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}
