package watchdog

import (
	"time"

	"github.com/raysh454/siteaudit/internal/model"
)

// DefaultCatchUp is how late a check may run outside its preferred hour.
const DefaultCatchUp = 3 * time.Hour

// IsDue reports whether m should be checked at now (UTC).
//
// A monitor never checked is due immediately. Otherwise it is due once
// lastCheckedAt + cadence has passed, on the preferred weekday for weekly
// monitors that set one, and either at the preferred hour or when the
// check is overdue by more than catchUp.
func IsDue(m *model.Monitor, now time.Time, catchUp time.Duration) bool {
	if m == nil || !m.Active {
		return false
	}
	if m.LastCheckedAt == nil {
		return true
	}
	now = now.UTC()
	next := m.LastCheckedAt.UTC().Add(m.Cadence.Interval())
	if now.Before(next) {
		return false
	}
	if m.Cadence == model.CadenceWeekly && m.PreferredWeekday != nil && model.Weekday(now) != *m.PreferredWeekday {
		return false
	}
	return now.Hour() == m.PreferredHour || now.Sub(next) > catchUp
}
