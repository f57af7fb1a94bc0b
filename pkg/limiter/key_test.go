package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowIndex(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		want     int64
	}{
		{"start of window", time.Unix(120, 0), time.Minute, 2},
		{"end of window", time.Unix(179, 999_999_999), time.Minute, 2},
		{"sub-second interval", time.Unix(1, 500_000_000), 250 * time.Millisecond, 6},
		{"before epoch floors down", time.Unix(-1, 0), time.Minute, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, windowIndex(tt.now, tt.interval))
		})
	}
}

func TestBuildCacheKey(t *testing.T) {
	assert.Equal(t, "fw:5:login:0", buildCacheKey(fixedWindowKeyTag, "login", nil))
	assert.Equal(t, "lb:5:login:2:1:a:2:bc", buildCacheKey(leakyBucketKeyTag, "login", []string{"a", "bc"}))

	t.Run("deterministic", func(t *testing.T) {
		a := buildCacheKey(fixedWindowKeyTag, "h", []string{"u1", "ip"})
		b := buildCacheKey(fixedWindowKeyTag, "h", []string{"u1", "ip"})
		assert.Equal(t, a, b)
	})

	t.Run("no collisions across separators", func(t *testing.T) {
		keys := map[string]struct{}{}
		for _, parts := range [][]string{
			{"a:b"},
			{"a", "b"},
			{"a:1:b"},
			{""},
			{},
			{"", ""},
		} {
			keys[buildCacheKey(fixedWindowKeyTag, "h", parts)] = struct{}{}
		}
		assert.Len(t, keys, 6)
	})

	t.Run("strategies do not share keys", func(t *testing.T) {
		assert.NotEqual(t,
			buildCacheKey(fixedWindowKeyTag, "h", []string{"k"}),
			buildCacheKey(leakyBucketKeyTag, "h", []string{"k"}))
	})
}

func TestWindowedCacheKey(t *testing.T) {
	now := time.Unix(3600, 0)
	assert.Equal(t, "fw:1:h:1:1:u:60", windowedCacheKey(fixedWindowKeyTag, "h", []string{"u"}, time.Minute, now))
	assert.NotEqual(t,
		windowedCacheKey(fixedWindowKeyTag, "h", nil, time.Minute, now),
		windowedCacheKey(fixedWindowKeyTag, "h", nil, time.Minute, now.Add(time.Minute)))
}
