package services

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const day = 24 * time.Hour

// FormatDistance renders kilometres rounded to whole units with thousands separators
func FormatDistance(km float64) string {
	n := int64(math.Round(km))
	neg := n < 0
	if neg {
		n = -n
	}

	s := strconv.FormatInt(n, 10)
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out) + " km"
	}
	return string(out) + " km"
}

// TimeAgo describes how long ago a millisecond timestamp was
func TimeAgo(timestampMs int64, now time.Time) string {
	seconds := (now.UnixMilli() - timestampMs) / 1000
	switch {
	case seconds < 60:
		return "Just now"
	case seconds < 3600:
		return fmt.Sprintf("%d min ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%d hours ago", seconds/3600)
	default:
		return fmt.Sprintf("%d days ago", seconds/86400)
	}
}

// DaysTogether returns the whole days elapsed since a YYYY-MM-DD date (UTC midnight)
func DaysTogether(date string, now time.Time) (int, error) {
	start, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return floorDays(now.Sub(start)), nil
}

// DaysUntilMeet returns the whole days left until a YYYY-MM-DD date; negative once passed
func DaysUntilMeet(date string, now time.Time) (int, error) {
	target, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return floorDays(target.Sub(now)), nil
}

// MeetLabel renders the countdown to the next meeting
func MeetLabel(daysUntil int) string {
	if daysUntil < 0 {
		return "Soon"
	}
	return fmt.Sprintf("%d days", daysUntil)
}

func floorDays(d time.Duration) int {
	return int(math.Floor(float64(d) / float64(day)))
}
