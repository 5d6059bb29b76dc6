package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
)

const (
	MinOutreachDelay = 2 * time.Hour
	MaxOutreachDelay = 24 * time.Hour

	// searchDays bounds the look-ahead for a permitted contact time.
	searchDays = 16
)

// clockWindow is a daily [start, end) window in minutes after local midnight.
// start > end wraps midnight; start == end is empty.
type clockWindow struct {
	start, end int
}

func (w clockWindow) contains(minute int) bool {
	if w.start == w.end {
		return false
	}
	if w.start < w.end {
		return minute >= w.start && minute < w.end
	}
	return minute >= w.start || minute < w.end
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	return hour*60 + minute, nil
}

// ContactPolicy is a validated restaurant contact configuration.
type ContactPolicy struct {
	loc          *time.Location
	contact      clockWindow
	quiet        clockWindow
	delay        time.Duration
	country      string
	skipHolidays bool
	holidays     *HolidayService
}

// NewContactPolicy validates r. Errors wrap feedback.ErrConfiguration.
func NewContactPolicy(r *models.Restaurant, defaultDelay time.Duration, holidays *HolidayService) (*ContactPolicy, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: restaurant not found", feedback.ErrConfiguration)
	}
	if !r.IsActive {
		return nil, fmt.Errorf("%w: restaurant %s is inactive", feedback.ErrConfiguration, r.ID)
	}

	loc, err := time.LoadLocation(r.Timezone)
	if err != nil || r.Timezone == "" {
		return nil, fmt.Errorf("%w: restaurant %s has invalid timezone %q", feedback.ErrConfiguration, r.ID, r.Timezone)
	}

	clocks := []string{r.ContactStart, r.ContactEnd, r.QuietStart, r.QuietEnd}
	minutes := make([]int, len(clocks))
	for i, c := range clocks {
		if minutes[i], err = parseClock(c); err != nil {
			return nil, fmt.Errorf("%w: restaurant %s: %v", feedback.ErrConfiguration, r.ID, err)
		}
	}

	p := &ContactPolicy{
		loc:          loc,
		contact:      clockWindow{start: minutes[0] % 1440, end: minutes[1] % 1440},
		quiet:        clockWindow{start: minutes[2] % 1440, end: minutes[3] % 1440},
		delay:        r.OutreachDelay(),
		country:      r.CountryCode,
		skipHolidays: r.SkipHolidays,
		holidays:     holidays,
	}
	if p.delay == 0 {
		p.delay = defaultDelay
	}
	if p.delay < MinOutreachDelay || p.delay > MaxOutreachDelay {
		return nil, fmt.Errorf("%w: restaurant %s outreach delay %v outside %v-%v",
			feedback.ErrConfiguration, r.ID, p.delay, MinOutreachDelay, MaxOutreachDelay)
	}
	if p.contact.start == p.contact.end {
		return nil, fmt.Errorf("%w: restaurant %s has an empty contact window", feedback.ErrConfiguration, r.ID)
	}
	if !p.hasPermittedMinute() {
		return nil, fmt.Errorf("%w: restaurant %s quiet hours cover the whole contact window", feedback.ErrConfiguration, r.ID)
	}
	if p.skipHolidays && (p.holidays == nil || !p.holidays.Supports(p.country)) {
		return nil, fmt.Errorf("%w: restaurant %s skips holidays but country %q has no calendar",
			feedback.ErrConfiguration, r.ID, p.country)
	}
	return p, nil
}

func (p *ContactPolicy) hasPermittedMinute() bool {
	for m := 0; m < 1440; m++ {
		if p.contact.contains(m) && !p.quiet.contains(m) {
			return true
		}
	}
	return false
}

// Permitted reports whether a message may be sent at t.
func (p *ContactPolicy) Permitted(t time.Time) bool {
	local := t.In(p.loc)
	minute := local.Hour()*60 + local.Minute()
	if !p.contact.contains(minute) || p.quiet.contains(minute) {
		return false
	}
	if p.skipHolidays && p.holidays.IsPublicHoliday(local, p.country) {
		return false
	}
	return true
}

// NextPermitted returns the first permitted instant at or after t. Permitted
// periods can only begin at a window boundary or at midnight, so only those
// instants are tried.
func (p *ContactPolicy) NextPermitted(t time.Time) (time.Time, bool) {
	if p.Permitted(t) {
		return t.UTC(), true
	}

	local := t.In(p.loc)
	if p.skipHolidays && p.holidays.IsPublicHoliday(local, p.country) {
		// Jump past the whole holiday run, then search from its last midnight.
		day := p.holidays.NextNonHoliday(local, p.country)
		local = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, p.loc)
		if p.Permitted(local) {
			return local.UTC(), true
		}
		t = local
	}
	boundaries := []int{0, p.contact.start, p.quiet.end}

	for d := 0; d < searchDays; d++ {
		var best time.Time
		for _, m := range boundaries {
			c := time.Date(local.Year(), local.Month(), local.Day()+d, m/60, m%60, 0, 0, p.loc)
			if !c.After(t) || !p.Permitted(c) {
				continue
			}
			if best.IsZero() || c.Before(best) {
				best = c
			}
		}
		if !best.IsZero() {
			return best.UTC(), true
		}
	}
	return time.Time{}, false
}

// EarliestSend is visit time plus delay, moved forward to a permitted instant.
func (p *ContactPolicy) EarliestSend(visitAt time.Time) (time.Time, bool) {
	return p.NextPermitted(visitAt.Add(p.delay))
}

// OutreachScheduler computes when a visit's greeting may go out.
type OutreachScheduler struct {
	defaultDelay time.Duration
	pacer        *Pacer
	holidays     *HolidayService
}

func NewOutreachScheduler(defaultDelay time.Duration, pacer *Pacer, holidays *HolidayService) *OutreachScheduler {
	return &OutreachScheduler{defaultDelay: defaultDelay, pacer: pacer, holidays: holidays}
}

// Policy validates the restaurant's contact configuration.
func (s *OutreachScheduler) Policy(r *models.Restaurant) (*ContactPolicy, error) {
	return NewContactPolicy(r, s.defaultDelay, s.holidays)
}

// Plan returns the send time for a visit. A future visit timestamp is
// rejected; configuration problems wrap feedback.ErrConfiguration.
func (s *OutreachScheduler) Plan(visitAt time.Time, r *models.Restaurant, now time.Time) (time.Time, error) {
	if visitAt.After(now) {
		return time.Time{}, feedback.ErrFutureVisit
	}
	policy, err := s.Policy(r)
	if err != nil {
		return time.Time{}, err
	}

	at, ok := policy.EarliestSend(visitAt)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: restaurant %s has no permitted contact time within %d days",
			feedback.ErrConfiguration, r.ID, searchDays)
	}

	// Late-recorded visits are due immediately; let the shared bucket spread them.
	if !at.After(now) {
		at = now
		if s.pacer != nil {
			at = now.Add(s.pacer.Delay(r, now))
		}
		if at, ok = policy.NextPermitted(at); !ok {
			return time.Time{}, fmt.Errorf("%w: restaurant %s has no permitted contact time", feedback.ErrConfiguration, r.ID)
		}
	}
	return at.UTC(), nil
}
