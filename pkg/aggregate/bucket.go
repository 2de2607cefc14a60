package aggregate

import (
	"fmt"
	"time"
)

// Granularity selects the time-bucket width for grouping.
type Granularity string

const (
	GroupByHour  Granularity = "hour"
	GroupByDay   Granularity = "day"
	GroupByWeek  Granularity = "week"
	GroupByMonth Granularity = "month"
)

// ParseGranularity normalizes a groupBy string, defaulting to day.
func ParseGranularity(s string) Granularity {
	switch Granularity(s) {
	case GroupByHour, GroupByDay, GroupByWeek, GroupByMonth:
		return Granularity(s)
	default:
		return GroupByDay
	}
}

// BucketKey derives the grouping key for a timestamp at the given
// granularity. Keys are zero-padded so lexicographic order is
// chronological order within one granularity:
//
//	hour   2024-03-05-14
//	day    2024-03-05
//	week   2024-W09
//	month  2024-03
func BucketKey(t time.Time, g Granularity) string {
	switch g {
	case GroupByHour:
		return t.Format("2006-01-02-15")
	case GroupByWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GroupByMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// bucketStep is the duration between adjacent buckets, used when generating
// synthetic bucket sequences.
func bucketStep(g Granularity) time.Duration {
	switch g {
	case GroupByHour:
		return time.Hour
	case GroupByWeek:
		return 7 * 24 * time.Hour
	case GroupByMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// TimeRange labels accepted by the aggregation API.
const (
	Range10m = "10m"
	Range7d  = "7d"
	Range30d = "30d"
	Range90d = "90d"
	Range1y  = "1y"
	RangeAll = "all"
)

// RangeStart resolves a time-range label to its lower bound relative to
// now. RangeAll returns the zero time (no lower bound). Unknown labels fall
// back to 30 days.
func RangeStart(now time.Time, timeRange string) time.Time {
	switch timeRange {
	case Range10m:
		return now.Add(-10 * time.Minute)
	case Range7d:
		return now.AddDate(0, 0, -7)
	case Range30d:
		return now.AddDate(0, 0, -30)
	case Range90d:
		return now.AddDate(0, 0, -90)
	case Range1y:
		return now.AddDate(0, 0, -365)
	case RangeAll:
		return time.Time{}
	default:
		return now.AddDate(0, 0, -30)
	}
}
