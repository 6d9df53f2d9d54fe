package cache

import "time"

// Clock supplies the current time. Tests substitute a fake clock to drive
// expiry without waiting.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
