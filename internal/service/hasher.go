package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// MemoryBucketHours is the dedup window for stored memories: the same
	// statement inside one bucket reinforces, outside it creates anew.
	MemoryBucketHours = 24
	// MessageBucketHours is the dedup window for raw inbound messages.
	MessageBucketHours = 1
)

// ContentHash fingerprints a statement for time-bucketed deduplication.
// Content is trimmed and lowercased first; the bucket is unix hours divided
// by bucketHours, so identical statements in the same bucket collide and
// statements in adjacent buckets do not.
func ContentHash(userID, content string, ts time.Time, bucketHours int) string {
	if bucketHours <= 0 {
		bucketHours = MemoryBucketHours
	}
	normalized := strings.ToLower(strings.TrimSpace(content))
	bucket := ts.UTC().Unix() / 3600 / int64(bucketHours)

	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%d", userID, normalized, bucket)
	return hex.EncodeToString(h.Sum(nil))
}
