package limiter

import (
	"strconv"
	"strings"
	"time"
)

const (
	fixedWindowKeyTag = "fw"
	leakyBucketKeyTag = "lb"
)

// windowIndex returns floor(now / interval) as an integer window number.
func windowIndex(now time.Time, interval time.Duration) int64 {
	ns := now.UnixNano()
	idx := ns / int64(interval)
	if ns < 0 && ns%int64(interval) != 0 {
		idx--
	}
	return idx
}

// buildCacheKey derives the storage key for a handle/key pair.
//
// Every segment is length-prefixed, so ["a:b"] and ["a", "b"] produce
// different keys.
func buildCacheKey(tag, handle string, key []string) string {
	var b strings.Builder
	b.Grow(len(tag) + len(handle) + 24 + 8*len(key))

	b.WriteString(tag)
	writeSegment(&b, handle)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(len(key)))
	for _, part := range key {
		writeSegment(&b, part)
	}
	return b.String()
}

// windowedCacheKey appends the window index for the given instant.
func windowedCacheKey(tag, handle string, key []string, interval time.Duration, now time.Time) string {
	return buildCacheKey(tag, handle, key) + ":" + strconv.FormatInt(windowIndex(now, interval), 10)
}

func writeSegment(b *strings.Builder, s string) {
	b.WriteString(":")
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteString(":")
	b.WriteString(s)
}
