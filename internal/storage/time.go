package storage

import "time"

// nsTime reconstructs a time.Time from a UnixNano reading. A zero
// input decodes to the zero time.Time so an absent lease/timestamp
// round-trips as such.
func nsTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
