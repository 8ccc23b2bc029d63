package license

import "time"

// Clock provides the current time to the lifecycle manager. Injecting it
// keeps expiry and remaining-days logic testable with fixed timestamps.
type Clock interface {
	Now() time.Time
	// Tick returns a nanosecond-resolution counter for key derivation.
	// Wall-clock seconds are too coarse: two issuances in the same second
	// for the same email and tier would collide.
	Tick() int64
}

// SystemClock reads the system time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
func (SystemClock) Tick() int64    { return time.Now().UnixNano() }
