package live

import (
	"fmt"
	"sync/atomic"
	"time"
)

var sessionCounter atomic.Uint64

// NewSessionID derives a session identifier from a process-wide counter plus
// the current timestamp. The counter keeps ids unique even when many
// connections arrive within the same millisecond.
func NewSessionID() string {
	return fmt.Sprintf("sess_%d_%d", time.Now().UnixMilli(), sessionCounter.Add(1))
}
