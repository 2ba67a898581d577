package render

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewWorkspaceName returns a workspace directory name of the form
// <prefix><unix-millis>-<ULID>. The ULID keeps names unique when two
// sessions start in the same millisecond.
func NewWorkspaceName(prefix string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return fmt.Sprintf("%s%d-%s", prefix, now.UnixMilli(), id)
}
