package channels

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowList(t *testing.T) {
	empty := NewAllowList(nil)
	assert.True(t, empty.IsAllowed("573001234567"))

	a := NewAllowList([]string{"+57 300-123-4567", ""})
	assert.True(t, a.HasAllowList())
	assert.True(t, a.IsAllowed("573001234567"))
	assert.False(t, a.IsAllowed("573009999999"))
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct{ in, want string }{
		{"+1 (555) 010-2000", "15550102000"},
		{"  15550102000 ", "15550102000"},
		{"wa-user", "wa-user"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAddress(tt.in), tt.in)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hola", Truncate("hola", 10))
	assert.Equal(t, "hola m...", Truncate("hola mundo querido", 9))
}

func TestWebhookRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewWebhookRateLimiter(2)
	r.now = func() time.Time { return now }

	assert.True(t, r.Allow("a"))
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"))
	assert.True(t, r.Allow("b"), "keys are independent")

	now = now.Add(rateLimitWindow)
	assert.True(t, r.Allow("a"), "window resets")
}

func TestWebhookRateLimiterBoundsKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewWebhookRateLimiter(1)
	r.now = func() time.Time { return now }

	for i := 0; i < maxTrackedKeys; i++ {
		now = now.Add(time.Millisecond)
		r.Allow(fmt.Sprintf("k%d", i))
	}
	assert.False(t, r.Allow("k1"), "k1 spent its budget")

	now = now.Add(time.Millisecond)
	assert.True(t, r.Allow("fresh"))
	assert.Len(t, r.entries, maxTrackedKeys)
	_, kept := r.entries["k0"]
	assert.False(t, kept, "least recently seen key is evicted")
}
