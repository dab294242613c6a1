package dispatcher

import (
	"fmt"

	"github.com/google/uuid"
)

// NewOwnerToken mints a fresh owner token, never reused across Runs, so
// the owner-check at Ack/Fail/Reschedule can distinguish the current
// Run's claims from a stale one left behind by a crashed or
// lease-expired predecessor.
func NewOwnerToken(prefix string) string {
	if prefix == "" {
		prefix = "relay"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}
