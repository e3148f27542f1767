package fulfillment

import (
	"testing"
	"time"
)

func mxZone(t *testing.T) *time.Location {
	t.Helper()
	zone, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return zone
}

func TestNextPickup(t *testing.T) {
	zone := mxZone(t)
	cfg := ScheduleConfig{Zone: zone, PickupHour: 17, CutoffHour: 15, WindowMinutes: 180}

	tests := []struct {
		name      string
		now       time.Time
		wantDay   time.Time
		wantClose string
		wantReady string
	}{
		{
			// Monday 2026-03-02
			name:      "before cutoff stays same day",
			now:       time.Date(2026, 3, 2, 10, 0, 0, 0, zone),
			wantDay:   time.Date(2026, 3, 2, 0, 0, 0, 0, zone),
			wantClose: "17:00",
			wantReady: "14:00",
		},
		{
			name:      "past cutoff rolls to next day",
			now:       time.Date(2026, 3, 2, 16, 0, 0, 0, zone),
			wantDay:   time.Date(2026, 3, 3, 0, 0, 0, 0, zone),
			wantClose: "17:00",
			wantReady: "14:00",
		},
		{
			name:      "exactly at cutoff rolls",
			now:       time.Date(2026, 3, 2, 15, 0, 0, 0, zone),
			wantDay:   time.Date(2026, 3, 3, 0, 0, 0, 0, zone),
			wantClose: "17:00",
			wantReady: "14:00",
		},
		{
			// Friday 2026-03-06 past cutoff -> Saturday -> Monday
			name:      "friday evening rolls to monday",
			now:       time.Date(2026, 3, 6, 18, 30, 0, 0, zone),
			wantDay:   time.Date(2026, 3, 9, 0, 0, 0, 0, zone),
			wantClose: "17:00",
			wantReady: "14:00",
		},
		{
			// Saturday 2026-03-07
			name:      "saturday rolls to monday",
			now:       time.Date(2026, 3, 7, 9, 0, 0, 0, zone),
			wantDay:   time.Date(2026, 3, 9, 0, 0, 0, 0, zone),
			wantClose: "17:00",
			wantReady: "14:00",
		},
		{
			// Sunday 2026-03-08
			name:      "sunday rolls to monday",
			now:       time.Date(2026, 3, 8, 9, 0, 0, 0, zone),
			wantDay:   time.Date(2026, 3, 9, 0, 0, 0, 0, zone),
			wantClose: "17:00",
			wantReady: "14:00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := cfg.Next(tt.now)
			gotDay := time.Date(plan.CloseAt.Year(), plan.CloseAt.Month(), plan.CloseAt.Day(), 0, 0, 0, 0, zone)
			if !gotDay.Equal(tt.wantDay) {
				t.Errorf("day = %s, want %s", gotDay.Format("2006-01-02"), tt.wantDay.Format("2006-01-02"))
			}
			if got := plan.CloseAt.Format("15:04"); got != tt.wantClose {
				t.Errorf("close = %s, want %s", got, tt.wantClose)
			}
			if got := plan.ReadyAt.Format("15:04"); got != tt.wantReady {
				t.Errorf("ready = %s, want %s", got, tt.wantReady)
			}
		})
	}
}

// The window start must sit exactly the configured window before close,
// which is the carrier's 180-minute floor by default.
func TestWindowIsExactly180Minutes(t *testing.T) {
	cfg := DefaultSchedule()
	plan := cfg.Next(time.Date(2026, 3, 2, 16, 0, 0, 0, cfg.Zone))
	if got := plan.CloseAt.Sub(plan.ReadyAt); got != 180*time.Minute {
		t.Errorf("window = %s, want 180m", got)
	}
}
