package checker

import (
	"time"

	"slotwatch/internal/slots"
)

const (
	nightStartHour = 23
	nightEndHour   = 7
)

// IsNightAt reports whether now falls in the site's night window,
// 23:00 through 07:59 local time (both boundary hours included).
func IsNightAt(d slots.Descriptor, now time.Time) bool {
	h := now.In(d.Loc()).Hour()
	return h >= nightStartHour || h <= nightEndHour
}
