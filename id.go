package tideline

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowMilli returns the current time as Unix milliseconds.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}
