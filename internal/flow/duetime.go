package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// namedTimes maps colloquial time-of-day words to a clock hour.
var namedTimes = map[string]int{
	"morning":   9,
	"noon":      12,
	"afternoon": 14,
	"evening":   18,
	"tonight":   21,
	"night":     21,
	"midnight":  0,
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseDue resolves free-form due-date and due-time expressions against now.
// Supported dates: "today", "tomorrow", weekday names (next occurrence),
// YYYY-MM-DD. Supported times: HH:MM (24h), "6pm"/"6:30pm", named times
// ("evening", "noon"). Returns false when neither expression is recognized.
func parseDue(dateExpr, timeExpr string, now time.Time) (time.Time, bool) {
	day, dayOK := parseDueDate(dateExpr, now)
	if !dayOK {
		day = now
	}

	hour, minute, timeOK := parseDueTime(timeExpr)
	if !dayOK && !timeOK {
		return time.Time{}, false
	}
	if !timeOK {
		// Date without a time defaults to end of day.
		hour, minute = 23, 59
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), true
}

func parseDueDate(expr string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(expr))
	s = strings.TrimPrefix(s, "this ")
	s = strings.TrimPrefix(s, "next ")
	switch s {
	case "":
		return time.Time{}, false
	case "today", "tonight":
		return now, true
	case "tomorrow":
		return now.AddDate(0, 0, 1), true
	}
	if wd, ok := weekdayNames[s]; ok {
		days := (int(wd) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return now.AddDate(0, 0, days), true
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseDueTime(expr string) (hour, minute int, ok bool) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return 0, 0, false
	}
	if h, found := namedTimes[s]; found {
		return h, 0, true
	}

	meridiem := ""
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		meridiem = s[len(s)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}
	hPart, mPart := s, "0"
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		hPart, mPart = s[:idx], s[idx+1:]
	}
	h, err := strconv.Atoi(hPart)
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(mPart)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	switch meridiem {
	case "pm":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h != 12 {
			h += 12
		}
	case "am":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h == 12 {
			h = 0
		}
	default:
		if h < 0 || h > 23 {
			return 0, 0, false
		}
	}
	return h, m, true
}

// formatDeadline renders a natural reading of a task's due expressions,
// e.g. "Today at 6:00 PM" or "this Friday".
func formatDeadline(dateExpr, timeExpr string, now time.Time) string {
	datePart := strings.TrimSpace(dateExpr)
	if due, ok := parseDueDate(datePart, now); ok {
		switch {
		case sameDay(due, now):
			datePart = "Today"
		case sameDay(due, now.AddDate(0, 0, 1)):
			datePart = "Tomorrow"
		default:
			datePart = "this " + due.Weekday().String()
		}
	}

	timePart := ""
	if h, m, ok := parseDueTime(timeExpr); ok {
		timePart = formatClock(h, m)
	} else if t := strings.TrimSpace(timeExpr); t != "" {
		timePart = t
	}

	switch {
	case datePart != "" && timePart != "":
		return fmt.Sprintf("%s at %s", datePart, timePart)
	case datePart != "":
		return datePart
	case timePart != "":
		return "at " + timePart
	default:
		return "no deadline set"
	}
}

func formatClock(h, m int) string {
	meridiem := "AM"
	display := h
	switch {
	case h == 0:
		display = 12
	case h == 12:
		meridiem = "PM"
	case h > 12:
		display = h - 12
		meridiem = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", display, m, meridiem)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
