package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IdempotencyKey derives the dedup key for one ingest attempt. The key is a
// hash of the user, the opaque audio reference, and the user-local calendar
// date, so a retried webhook delivery of the same voice note maps onto the
// same entry while the same audio re-sent on a different day does not.
func IdempotencyKey(userID, audioRef string, occurredAt time.Time) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", userID, audioRef, occurredAt.Format(DateLayout)))
	return hex.EncodeToString(h[:])
}
