package geometry

import (
	"math"
	"time"
)

// TonsPerHectareYear is the flat sequestration rate used for estimates.
const TonsPerHectareYear = 10

// SerialDayToDate converts a spreadsheet serial day number to a date in the
// local calendar. Day 0 is 1899-12-30.
func SerialDayToDate(days int) time.Time {
	return SerialDayToDateIn(days, time.Local)
}

// SerialDayToDateIn is SerialDayToDate for an explicit location.
func SerialDayToDateIn(days int, loc *time.Location) time.Time {
	// time.Date normalizes the day overflow; a Duration would wrap past 2192.
	return time.Date(1899, time.December, 30+days, 0, 0, 0, 0, loc)
}

// CarbonStorageEstimate returns the estimated tons of CO2 stored by a parcel.
//
// The age is the difference of calendar years, not elapsed full years: a
// parcel planted in December and evaluated the following January counts one
// year of growth.
func CarbonStorageEstimate(areaHectares float64, planted, now time.Time) float64 {
	years := now.Year() - planted.Year()
	return math.Max(0, float64(years)*TonsPerHectareYear*areaHectares)
}

// StoredOrEstimated returns the stored CO2 value when present, otherwise the
// estimate.
func StoredOrEstimated(stored *float64, areaHectares float64, planted, now time.Time) float64 {
	if stored != nil {
		return *stored
	}
	return CarbonStorageEstimate(areaHectares, planted, now)
}
