package bot

import (
	"fmt"
	"time"
)

// ActiveHours is the daily window in which the bot may answer. Start ==
// End means always active; Start > End wraps midnight (21-9 is active
// from 21:00 until 08:59).
type ActiveHours struct {
	Start    int
	End      int
	Location *time.Location
}

// NewActiveHours validates the hours and loads the IANA timezone. An empty
// timezone uses the local zone.
func NewActiveHours(start, end int, timezone string) (ActiveHours, error) {
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return ActiveHours{}, fmt.Errorf("active hours must be within 0-23, got %d-%d", start, end)
	}
	loc := time.Local
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return ActiveHours{}, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	return ActiveHours{Start: start, End: end, Location: loc}, nil
}

// Always is an ActiveHours that never closes.
var Always = ActiveHours{}

func (h ActiveHours) Active(t time.Time) bool {
	if h.Start == h.End {
		return true
	}
	if h.Location != nil {
		t = t.In(h.Location)
	}
	hour := t.Hour()
	if h.Start < h.End {
		return hour >= h.Start && hour < h.End
	}
	return hour >= h.Start || hour < h.End
}

func (h ActiveHours) String() string {
	if h.Start == h.End {
		return "always"
	}
	zone := "local"
	if h.Location != nil {
		zone = h.Location.String()
	}
	return fmt.Sprintf("%02d:00-%02d:00 %s", h.Start, h.End, zone)
}
