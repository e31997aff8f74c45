package domain

import (
	"fmt"
	"time"
)

const (
	MaxOrderNumberAttempts = 50
	maxDailySequence       = 9999
)

// OrderNumberPrefix is the per-day namespace, e.g. "ORD-20261018-".
func OrderNumberPrefix(day time.Time) string {
	return "ORD-" + day.Format("20060102") + "-"
}

func FormatOrderNumber(day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", OrderNumberPrefix(day), seq)
}

// DayKey turns a calendar day into an int usable as an advisory lock key.
func DayKey(day time.Time) int32 {
	return int32(day.Year()*10000 + int(day.Month())*100 + day.Day())
}

// NextOrderNumber proposes count+1 and walks forward while taken reports the
// candidate as used, for at most MaxOrderNumberAttempts candidates.
func NextOrderNumber(day time.Time, count int, taken func(string) (bool, error)) (string, error) {
	seq := count + 1
	for attempt := 0; attempt < MaxOrderNumberAttempts; attempt++ {
		if seq > maxDailySequence {
			break
		}
		candidate := FormatOrderNumber(day, seq)
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
		seq++
	}
	return "", fmt.Errorf("%w: no free number for %s after %d attempts", ErrAllocationFailure, day.Format("2006-01-02"), MaxOrderNumberAttempts)
}
