package eventual

import (
	"fmt"
	"time"

	"github.com/stratadb/strata/internal/types"
)

// cohortKeys computes the four cohort keys for an instant in the plugin's
// timezone. Week keys use ISO week numbering, so a January day can fall in
// the previous year's final week.
type cohortKeys struct {
	Hour  string
	Day   string
	Week  string
	Month string
}

func computeCohorts(t time.Time, loc *time.Location) cohortKeys {
	local := t.In(loc)
	year, week := local.ISOWeek()
	return cohortKeys{
		Hour:  local.Format("2006-01-02T15"),
		Day:   local.Format("2006-01-02"),
		Week:  fmt.Sprintf("%04d-W%02d", year, week),
		Month: local.Format("2006-01"),
	}
}

func (c cohortKeys) forPeriod(p types.Period) string {
	switch p {
	case types.PeriodHour:
		return c.Hour
	case types.PeriodDay:
		return c.Day
	case types.PeriodWeek:
		return c.Week
	case types.PeriodMonth:
		return c.Month
	}
	return ""
}
