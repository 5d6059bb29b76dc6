package services

import (
	"errors"
	"testing"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
)

func utc(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}

func TestOutreachScheduler_Plan(t *testing.T) {
	s := NewOutreachScheduler(2*time.Hour, NewPacer(), NewHolidayService())

	tests := []struct {
		name    string
		visitAt time.Time
		want    time.Time
	}{
		{"inside contact hours", utc(2025, 3, 10, 12, 0), utc(2025, 3, 10, 14, 0)},
		{"lands in quiet hours", utc(2025, 3, 10, 20, 30), utc(2025, 3, 11, 10, 0)},
		{"before contact hours", utc(2025, 3, 10, 7, 0), utc(2025, 3, 10, 10, 0)},
		{"between contact end and quiet start", utc(2025, 3, 10, 19, 30), utc(2025, 3, 11, 10, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRestaurant()
			got, err := s.Plan(tt.visitAt, &r, tt.visitAt)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Plan = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutreachScheduler_WindowsWrapMidnight(t *testing.T) {
	s := NewOutreachScheduler(2*time.Hour, nil, nil)
	r := testRestaurant()
	r.ContactStart, r.ContactEnd = "20:00", "02:00"
	r.QuietStart, r.QuietEnd = "01:00", "11:00"
	visit := utc(2025, 3, 10, 22, 0)
	got, err := s.Plan(visit, &r, visit)
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2025, 3, 11, 0, 0); !got.Equal(want) {
		t.Errorf("Plan = %v, want %v", got, want)
	}

	visit = utc(2025, 3, 10, 23, 30)
	got, _ = s.Plan(visit, &r, visit)
	if want := utc(2025, 3, 11, 20, 0); !got.Equal(want) {
		t.Errorf("Plan = %v, want %v", got, want)
	}
}

func TestOutreachScheduler_NeverInQuietHours(t *testing.T) {
	s := NewOutreachScheduler(2*time.Hour, nil, nil)
	r := testRestaurant()
	r.ContactStart, r.ContactEnd = "08:00", "23:00"
	policy, err := s.Policy(&r)
	if err != nil {
		t.Fatal(err)
	}

	start := utc(2025, 3, 10, 0, 0)
	for i := 0; i < 24*4; i++ {
		visit := start.Add(time.Duration(i) * 15 * time.Minute)
		at, ok := policy.EarliestSend(visit)
		if !ok {
			t.Fatalf("no send time for %v", visit)
		}
		if h := at.Hour(); h >= 22 || h < 9 {
			t.Fatalf("visit %v scheduled at %v inside quiet hours", visit, at)
		}
		if at.Before(visit.Add(2 * time.Hour)) {
			t.Fatalf("visit %v scheduled before delay: %v", visit, at)
		}
	}
}

func TestOutreachScheduler_LateVisitIsDueNow(t *testing.T) {
	s := NewOutreachScheduler(2*time.Hour, NewPacer(), nil)
	r := testRestaurant()
	now := utc(2025, 3, 10, 15, 0)

	got, err := s.Plan(utc(2025, 3, 10, 10, 0), &r, now)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now) {
		t.Errorf("Plan = %v, want now", got)
	}
}

func TestOutreachScheduler_SkipsHolidays(t *testing.T) {
	holidays := NewHolidayService()
	s := NewOutreachScheduler(2*time.Hour, nil, holidays)
	r := testRestaurant()
	r.CountryCode = "GB"
	r.SkipHolidays = true

	visit := utc(2026, 12, 24, 20, 0)
	got, err := s.Plan(visit, &r, visit)
	if err != nil {
		t.Fatal(err)
	}
	if !got.After(utc(2026, 12, 25, 23, 59)) || holidays.IsPublicHoliday(got, "GB") {
		t.Errorf("Plan = %v lands on a holiday", got)
	}
	if got.Hour() != 10 || got.Minute() != 0 {
		t.Errorf("Plan = %v, want start of contact hours", got)
	}
}

func TestOutreachScheduler_Errors(t *testing.T) {
	s := NewOutreachScheduler(2*time.Hour, nil, NewHolidayService())
	now := utc(2025, 3, 10, 12, 0)

	r := testRestaurant()
	if _, err := s.Plan(now.Add(time.Minute), &r, now); !errors.Is(err, feedback.ErrFutureVisit) {
		t.Errorf("future visit err = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *models.Restaurant)
	}{
		{"bad timezone", func(r *models.Restaurant) { r.Timezone = "Mars/Olympus" }},
		{"empty timezone", func(r *models.Restaurant) { r.Timezone = "" }},
		{"bad clock", func(r *models.Restaurant) { r.ContactStart = "25:00" }},
		{"delay too short", func(r *models.Restaurant) { r.OutreachDelaySeconds = 3600 }},
		{"delay too long", func(r *models.Restaurant) { r.OutreachDelaySeconds = 25 * 3600 }},
		{"quiet covers contact", func(r *models.Restaurant) { r.QuietStart, r.QuietEnd = "09:00", "22:00" }},
		{"inactive", func(r *models.Restaurant) { r.IsActive = false }},
		{"holidays without calendar", func(r *models.Restaurant) { r.SkipHolidays, r.CountryCode = true, "SA" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRestaurant()
			tt.mutate(&r)
			if _, err := s.Plan(now.Add(-time.Hour), &r, now); !errors.Is(err, feedback.ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
		})
	}

	if _, err := s.Plan(now.Add(-time.Hour), nil, now); !errors.Is(err, feedback.ErrConfiguration) {
		t.Errorf("nil restaurant err = %v", err)
	}
}
