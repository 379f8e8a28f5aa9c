package slots

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceUnavailable means the slot page could not be fetched (network, HTTP status).
	ErrSourceUnavailable = errors.New("slot source unavailable")
	// ErrSourceFormatChanged means the page was fetched but no longer looks like what we parse.
	ErrSourceFormatChanged = errors.New("slot source format changed")
)

// Descriptor identifies one watched site. Location is the site's local zone and
// drives both the night window and how slot times are rendered.
type Descriptor struct {
	BaseURL  string
	Location *time.Location
}

func (d Descriptor) String() string { return d.BaseURL }

// Loc returns the descriptor zone, defaulting to UTC.
func (d Descriptor) Loc() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

// Slot is one available appointment.
type Slot struct {
	DateTime    time.Time
	Description string
}

// Source reports the currently available slots for a site.
//
// Errors wrap ErrSourceUnavailable or ErrSourceFormatChanged.
type Source interface {
	FetchAvailableSlots(ctx context.Context, d Descriptor) ([]Slot, error)
}
