package domain

import "time"

const deliveryBusinessDays = 5

// AddBusinessDays moves t forward by n weekdays, skipping Saturdays and Sundays.
// The time of day is preserved.
func AddBusinessDays(t time.Time, n int) time.Time {
	for added := 0; added < n; {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return t
}
