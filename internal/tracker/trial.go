package tracker

import (
	"fmt"
	"time"

	"sessiontrack/internal/models"
)

// AllYears is granted to premium users and active trials.
var AllYears = []string{"1", "2", "3", "4", "5", "6", "7"}

// IsTrialExpired uses a strict comparison: a trial ending exactly now is
// still active.
func IsTrialExpired(endMillis int64, now time.Time) bool {
	return now.UnixMilli() > endMillis
}

func TrialRemaining(endMillis int64, now time.Time) time.Duration {
	ms := endMillis - now.UnixMilli()
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// FormatTrialRemaining renders "Dd Hh Mm" from one day up, else HH:MM:SS.
func FormatTrialRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

type TrialStatus struct {
	OnTrial   bool          `json:"onTrial"`
	Expired   bool          `json:"expired"`
	EndDate   *int64        `json:"endDate,omitempty"`
	Remaining time.Duration `json:"remainingMs"`
	Display   string        `json:"display"`
}

func trialStatus(u models.UserRecord, now time.Time) TrialStatus {
	st := TrialStatus{OnTrial: u.OnTrial(), EndDate: u.TrialEndDate}
	if !st.OnTrial || u.TrialEndDate == nil {
		return st
	}
	st.Expired = IsTrialExpired(*u.TrialEndDate, now)
	st.Remaining = TrialRemaining(*u.TrialEndDate, now)
	st.Display = FormatTrialRemaining(st.Remaining)
	return st
}

// fullAccess holds for premium plans and for trials that have not expired.
// A trial without an end date counts as active.
func fullAccess(u models.UserRecord, now time.Time) bool {
	if u.Plan == models.UserPlanPremium {
		return true
	}
	if !u.OnTrial() {
		return false
	}
	return u.TrialEndDate == nil || !IsTrialExpired(*u.TrialEndDate, now)
}

func accessibleYears(u models.UserRecord, now time.Time) []string {
	if fullAccess(u, now) {
		return append([]string(nil), AllYears...)
	}
	return append([]string(nil), u.RegisteredYears...)
}

func hasAccessToYear(u models.UserRecord, year int, now time.Time) bool {
	if fullAccess(u, now) {
		return true
	}
	want := fmt.Sprint(year)
	for _, y := range u.RegisteredYears {
		if y == want {
			return true
		}
	}
	return false
}
