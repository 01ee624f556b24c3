package watchdog_test

import (
	"testing"
	"time"

	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/watchdog"
)

func at(day, hour, minute int) time.Time {
	// March 2026: the 2nd is a Monday.
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrInt(v int) *int { return &v }

func TestIsDue(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		m    model.Monitor
		now  time.Time
		want bool
	}{
		{
			name: "never checked is due at any hour",
			m:    model.Monitor{Active: true, Cadence: model.CadenceDaily, PreferredHour: 9},
			now:  at(2, 3, 0),
			want: true,
		},
		{
			name: "inactive is never due",
			m:    model.Monitor{Active: false, Cadence: model.CadenceDaily},
			now:  at(2, 9, 0),
			want: false,
		},
		{
			name: "daily not due before 24h",
			m:    model.Monitor{Active: true, Cadence: model.CadenceDaily, PreferredHour: 9, LastCheckedAt: ptrTime(at(2, 9, 30))},
			now:  at(3, 9, 10),
			want: false,
		},
		{
			name: "daily due at preferred hour after 24h",
			m:    model.Monitor{Active: true, Cadence: model.CadenceDaily, PreferredHour: 9, LastCheckedAt: ptrTime(at(2, 9, 0))},
			now:  at(3, 9, 5),
			want: true,
		},
		{
			name: "overdue within grace waits for preferred hour",
			m:    model.Monitor{Active: true, Cadence: model.CadenceDaily, PreferredHour: 9, LastCheckedAt: ptrTime(at(2, 9, 0))},
			now:  at(3, 12, 0),
			want: false,
		},
		{
			name: "overdue past grace catches up",
			m:    model.Monitor{Active: true, Cadence: model.CadenceDaily, PreferredHour: 9, LastCheckedAt: ptrTime(at(2, 9, 0))},
			now:  at(3, 12, 1),
			want: true,
		},
		{
			name: "weekly waits for preferred weekday",
			m: model.Monitor{Active: true, Cadence: model.CadenceWeekly, PreferredHour: 9, PreferredWeekday: ptrInt(2),
				LastCheckedAt: ptrTime(at(2, 9, 0))},
			now:  at(10, 9, 0), // Tuesday
			want: false,
		},
		{
			name: "weekly due on preferred weekday",
			m: model.Monitor{Active: true, Cadence: model.CadenceWeekly, PreferredHour: 9, PreferredWeekday: ptrInt(2),
				LastCheckedAt: ptrTime(at(2, 9, 0))},
			now:  at(11, 9, 0), // Wednesday
			want: true,
		},
		{
			name: "weekly not due before seven days",
			m:    model.Monitor{Active: true, Cadence: model.CadenceWeekly, PreferredHour: 9, LastCheckedAt: ptrTime(at(2, 9, 0))},
			now:  at(8, 9, 0),
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := watchdog.IsDue(&tc.m, tc.now, watchdog.DefaultCatchUp); got != tc.want {
				t.Errorf("IsDue = %v, want %v", got, tc.want)
			}
		})
	}
}

// A monitor checked at T is never due before T+24h, whatever the hour.
func TestIsDue_DailyNeverEarly(t *testing.T) {
	t.Parallel()
	last := at(2, 9, 0)
	m := model.Monitor{Active: true, Cadence: model.CadenceDaily, PreferredHour: 9, LastCheckedAt: &last}
	for d := time.Duration(0); d < 24*time.Hour; d += 17 * time.Minute {
		if watchdog.IsDue(&m, last.Add(d), watchdog.DefaultCatchUp) {
			t.Fatalf("due %v after last check", d)
		}
	}
}
