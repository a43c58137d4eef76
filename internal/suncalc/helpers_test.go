package suncalc

import "time"

// Helsinki coordinates for testing
const (
	testLatitude  = 60.1699
	testLongitude = 24.9384
)

func helsinki() *time.Location {
	return time.FixedZone("EEST", 3*60*60)
}

// newTestSunCalc creates a SunCalc instance with Helsinki coordinates.
func newTestSunCalc() *SunCalc {
	return NewSunCalc(testLatitude, testLongitude, helsinki())
}

// midsummerDate returns June 21, 2024 local noon - a date with predictable sun events.
func midsummerDate() time.Time {
	return time.Date(2024, 6, 21, 12, 0, 0, 0, helsinki())
}
