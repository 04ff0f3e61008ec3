package servicedate_test

import (
	"testing"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/servicedate"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestServiceDate_OvernightScheduledSeconds(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/Warsaw")

	// event at UTC 2026-02-09T23:10:00Z is 2026-02-10T00:10+01:00 local;
	// scheduled_seconds >= 86400 rolls the service date back a day from
	// that local calendar date.
	eventTime := time.Date(2026, 2, 9, 23, 10, 0, 0, time.UTC)
	got := servicedate.ServiceDate(eventTime, 90000, loc)
	want := time.Date(2026, 2, 9, 0, 0, 0, 0, loc)

	if !got.Equal(want) {
		t.Fatalf("ServiceDate = %v, want %v", got, want)
	}
}

func TestServiceDate_LateNightInDayTrip(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/Warsaw")

	// scheduled_seconds just past 22:00 (e.g. 22:05 = 79500), but the
	// sample arrives at 00:30 local the next calendar day: still belongs
	// to the previous service date.
	eventTime := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC) // 00:30 CET next day
	got := servicedate.ServiceDate(eventTime, 79500, loc)
	want := time.Date(2026, 2, 10, 0, 0, 0, 0, loc)

	if !got.Equal(want) {
		t.Fatalf("ServiceDate = %v, want %v", got, want)
	}
}

func TestServiceDate_OrdinaryDaytimeTrip(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/Warsaw")

	// ordinary daytime arrival: 2026-02-09T12:00:00Z, scheduled_seconds=43200 (noon).
	eventTime := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	got := servicedate.ServiceDate(eventTime, 43200, loc)
	want := time.Date(2026, 2, 9, 0, 0, 0, 0, loc)

	if !got.Equal(want) {
		t.Fatalf("ServiceDate = %v, want %v", got, want)
	}
}

func TestPlannedTime_Scenario1(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/Warsaw")

	serviceDate := time.Date(2026, 2, 9, 0, 0, 0, 0, loc)
	got := servicedate.PlannedTime(serviceDate, 43200, loc)
	want := time.Date(2026, 2, 9, 12, 0, 0, 0, loc) // local midnight + 12h

	if !got.Equal(want) {
		t.Fatalf("PlannedTime = %v, want %v", got, want)
	}
}

func TestPlannedTime_Scenario5Overnight(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/Warsaw")

	serviceDate := time.Date(2026, 2, 9, 0, 0, 0, 0, loc)
	got := servicedate.PlannedTime(serviceDate, 90000, loc)
	want := time.Date(2026, 2, 10, 1, 0, 0, 0, loc)

	if !got.Equal(want) {
		t.Fatalf("PlannedTime = %v, want %v", got, want)
	}
}

func TestPlannedTime_RoundTrip(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/Warsaw")
	serviceDate := time.Date(2026, 6, 15, 0, 0, 0, 0, loc)

	for scheduledSeconds := 0; scheduledSeconds <= 108000; scheduledSeconds += 137 {
		planned := servicedate.PlannedTime(serviceDate, scheduledSeconds, loc)
		midnight := time.Date(serviceDate.Year(), serviceDate.Month(), serviceDate.Day(), 0, 0, 0, 0, loc)
		roundTripped := int(planned.Sub(midnight).Seconds())

		if roundTripped != scheduledSeconds {
			t.Fatalf("round trip for %d seconds: got %d", scheduledSeconds, roundTripped)
		}
	}
}

func TestDelaySeconds_Symmetry(t *testing.T) {
	loc := mustLoadLocation(t, "Europe/Warsaw")
	planned := time.Date(2026, 2, 9, 13, 0, 0, 0, loc)
	event := planned.Add(90 * time.Second)

	forward := servicedate.DelaySeconds(event, planned)
	backward := servicedate.DelaySeconds(planned, event)

	if forward != 90 {
		t.Fatalf("forward delay = %d, want 90", forward)
	}
	if backward != -forward {
		t.Fatalf("DelaySeconds not antisymmetric: forward=%d backward=%d", forward, backward)
	}
}
