// Package system provides the wall clock used by the request and check flows.
package system

import "time"

// Clock implements harvest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at microsecond precision, which is the
// finest resolution the persisted status record carries.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
