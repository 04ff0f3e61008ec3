// Package servicedate implements pure date/time arithmetic: service-date
// derivation, planned-time reconstruction, and delay computation for
// GTFS's "seconds since service-day midnight" model, where seconds may
// exceed 86400 for trips that run past midnight.
package servicedate

import "time"

const daySeconds = 86400

// lateNightFloor is 22:00 in seconds-since-midnight.
const lateNightFloor = 79200

// earlyMorningCeiling is 03:00 in seconds-since-midnight.
const earlyMorningCeiling = 3 * 3600

// ServiceDate derives the service date an observed event belongs to:
//
//  1. convert eventTime (any instant) to loc
//  2. serviceDate = local_date(eventTime)
//  3. if scheduledSeconds >= 86400, subtract one day
//  4. else if scheduledSeconds >= 22:00 and local_time < 03:00, subtract one day
func ServiceDate(eventTime time.Time, scheduledSeconds int, loc *time.Location) time.Time {
	local := eventTime.In(loc)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	if scheduledSeconds >= daySeconds {
		return date.AddDate(0, 0, -1)
	}

	localSeconds := local.Hour()*3600 + local.Minute()*60 + local.Second()
	if scheduledSeconds >= lateNightFloor && localSeconds < earlyMorningCeiling {
		return date.AddDate(0, 0, -1)
	}

	return date
}

// PlannedTime reconstructs the scheduled wall-clock instant for a stop on a
// given service date:
//
//	day_offset = scheduledSeconds div 86400
//	seconds_in_day = scheduledSeconds mod 86400
//	planned_time = midnight(serviceDate, loc) + day_offset days + seconds_in_day seconds
func PlannedTime(serviceDate time.Time, scheduledSeconds int, loc *time.Location) time.Time {
	dayOffset := scheduledSeconds / daySeconds
	secondsInDay := scheduledSeconds % daySeconds

	midnight := time.Date(
		serviceDate.Year(), serviceDate.Month(), serviceDate.Day(),
		0, 0, 0, 0, loc,
	)
	return midnight.AddDate(0, 0, dayOffset).Add(time.Duration(secondsInDay) * time.Second)
}

// DelaySeconds returns how many seconds late (positive) or early (negative)
// eventTime is relative to plannedTime.
func DelaySeconds(eventTime, plannedTime time.Time) int {
	return int(eventTime.Sub(plannedTime).Round(time.Second).Seconds())
}
