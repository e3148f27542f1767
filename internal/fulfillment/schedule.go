package fulfillment

import "time"

// ScheduleConfig drives pickup planning. Times are interpreted in Zone
// (the warehouse's local time, Mexico City by default).
type ScheduleConfig struct {
	Zone          *time.Location
	PickupHour    int // close time of day for the pickup, default 17
	PickupMinute  int
	CutoffHour    int // past this hour pickups roll to the next day, default 15
	WindowMinutes int // carrier minimum is 180
}

func DefaultSchedule() ScheduleConfig {
	zone, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		zone = time.FixedZone("CST", -6*60*60)
	}
	return ScheduleConfig{Zone: zone, PickupHour: 17, CutoffHour: 15, WindowMinutes: 180}
}

// PickupPlan is a carrier-acceptable window: the driver may arrive any time
// between ReadyAt and CloseAt.
type PickupPlan struct {
	ReadyAt time.Time
	CloseAt time.Time
}

// Next plans the earliest pickup for "now". Past the cutoff the pickup
// rolls to the next day, and weekends roll to Monday; the window start is
// the close time minus the configured window.
func (c ScheduleConfig) Next(now time.Time) PickupPlan {
	local := now.In(c.Zone)

	day := local
	if local.Hour() >= c.CutoffHour {
		day = day.AddDate(0, 0, 1)
	}
	switch day.Weekday() {
	case time.Saturday:
		day = day.AddDate(0, 0, 2)
	case time.Sunday:
		day = day.AddDate(0, 0, 1)
	}

	closeAt := time.Date(day.Year(), day.Month(), day.Day(), c.PickupHour, c.PickupMinute, 0, 0, c.Zone)
	window := time.Duration(c.WindowMinutes) * time.Minute
	return PickupPlan{ReadyAt: closeAt.Add(-window), CloseAt: closeAt}
}
