package domain

import (
	"strconv"
	"strings"
	"time"
)

// StartGrace is how long after the scheduled start a campaign may still be
// picked up. Windows that opened earlier than this are not retroactively
// dialed; a restarted process only recovers recently missed starts.
const StartGrace = 30 * time.Minute

// Location resolves the schedule's timezone. Unknown or empty names degrade
// to UTC; the second return reports that fallback so callers can warn.
func (s *Schedule) Location() (*time.Location, bool) {
	if s == nil || s.Timezone == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC, true
	}
	return loc, false
}

// ShouldStart reports whether the campaign's window opened recently enough
// that dialing should begin now.
func (s *Schedule) ShouldStart(now time.Time) bool {
	if s == nil {
		return false
	}
	start, end, ok := s.windowOn(s.ScheduledDate, now)
	if !ok {
		return false
	}
	local := s.localize(now)
	return !local.Before(start) && local.Before(start.Add(StartGrace)) && local.Before(end)
}

// ShouldStop reports whether the window has closed. For campaigns running on
// a day after the scheduled date (daily resumption) the window bounds of the
// current day apply. Wall-clock arithmetic is naive across DST transitions;
// behavior inside a spring-forward or fall-back hour is best-effort.
func (s *Schedule) ShouldStop(now time.Time) bool {
	if s == nil || s.EndTime == "" {
		return false
	}
	day := s.effectiveDay(now)
	_, end, ok := s.windowOn(day, now)
	if !ok {
		return false
	}
	return !s.localize(now).Before(end)
}

// CanResumeInWindow reports whether today's instance of the daily window is
// currently open, used to wake paused_time_window campaigns on later days.
func (s *Schedule) CanResumeInWindow(now time.Time) bool {
	if s == nil || s.EndTime == "" {
		return false
	}
	local := s.localize(now)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	start, end, ok := s.windowOn(today, now)
	if !ok {
		return false
	}
	return !local.Before(start) && local.Before(end)
}

func (s *Schedule) localize(now time.Time) time.Time {
	loc, _ := s.Location()
	return now.In(loc)
}

// effectiveDay is the scheduled date, or today when the scheduled date has
// already passed in the target timezone.
func (s *Schedule) effectiveDay(now time.Time) time.Time {
	local := s.localize(now)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	sched := time.Date(s.ScheduledDate.Year(), s.ScheduledDate.Month(), s.ScheduledDate.Day(), 0, 0, 0, 0, local.Location())
	if today.After(sched) {
		return today
	}
	return sched
}

// windowOn combines the given calendar day with the start/end wall times.
// End times at or before the start roll to the next day (past-midnight windows).
func (s *Schedule) windowOn(day time.Time, now time.Time) (start, end time.Time, ok bool) {
	loc, _ := s.Location()
	startH, startM, ok := parseClock(s.StartTime)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start = time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, loc)

	if s.EndTime == "" {
		return start, start.Add(24 * time.Hour), true
	}
	endH, endM, ok := parseClock(s.EndTime)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end = time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, loc)
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end, true
}

func parseClock(v string) (hour, minute int, ok bool) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
