package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(db, nil, testLogger())
	l.clock = func() time.Time { return now }

	const max = 5
	window := 60 * time.Second

	for i := 0; i < max; i++ {
		assert.True(t, l.Allow(ctx, "198.51.100.10", "/api/license/validate", max, window),
			"request %d should be admitted", i+1)
	}

	// Sixth request in the same window is rejected.
	assert.False(t, l.Allow(ctx, "198.51.100.10", "/api/license/validate", max, window))

	// Other keys and other endpoints have their own windows.
	assert.True(t, l.Allow(ctx, "198.51.100.11", "/api/license/validate", max, window))
	assert.True(t, l.Allow(ctx, "198.51.100.10", "/api/license/activate", max, window))

	// Once the window elapses the count resets and the request is admitted.
	now = now.Add(window)
	assert.True(t, l.Allow(ctx, "198.51.100.10", "/api/license/validate", max, window))
}

func TestRateLimiterPersistsRejections(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)

	l := NewRateLimiter(db, nil, testLogger())

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "198.51.100.20", "/api/license/validate", 1, time.Minute)
	}

	var events []RateLimitEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "198.51.100.20", events[0].Key)
	assert.Equal(t, "/api/license/validate", events[0].Endpoint)
	assert.Equal(t, 2, events[0].Count)
}

func TestRateLimiterAuditsRejections(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)
	audit := NewAuditLog(db, testLogger())

	l := NewRateLimiter(db, audit, testLogger())
	l.Allow(ctx, "198.51.100.30", "/api/license/activate", 1, time.Minute)
	l.Allow(ctx, "198.51.100.30", "/api/license/activate", 1, time.Minute)

	audit.Close()

	var entries []AuditEntry
	require.NoError(t, db.Where("action = ?", "rate_limit_exceeded").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "/api/license/activate", entries[0].EntityID)
	assert.Equal(t, "198.51.100.30", entries[0].Target)
	assert.False(t, entries[0].Success)
}

func TestRateLimiterPurgeStale(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(nil, nil, testLogger())
	l.clock = func() time.Time { return now }

	l.Allow(ctx, "a", "/x", 5, time.Minute)
	l.Allow(ctx, "b", "/x", 5, time.Minute)

	now = now.Add(30 * time.Minute)
	l.Allow(ctx, "c", "/x", 5, time.Minute)

	now = now.Add(45 * time.Minute)
	removed := l.PurgeStale(time.Hour)

	assert.Equal(t, 2, removed)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.windows, 1)
	_, kept := l.windows["c|/x"]
	assert.True(t, kept)
}
