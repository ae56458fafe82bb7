package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewReference mints a reference that is never reused, not even for a retried
// initialization of the same order: merchant prefix, millisecond timestamp and
// 48 random bits.
func NewReference(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), suffix)
}
