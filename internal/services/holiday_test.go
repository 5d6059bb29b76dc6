package services

import (
	"testing"
	"time"
)

func TestHolidayService_IsPublicHoliday(t *testing.T) {
	svc := NewHolidayService()

	tests := []struct {
		name    string
		date    time.Time
		country string
		want    bool
	}{
		{"US independence day", time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC), "US", true},
		{"US ordinary weekday", time.Date(2026, 7, 8, 12, 0, 0, 0, time.UTC), "US", false},
		{"weekend is not a holiday", time.Date(2026, 7, 11, 12, 0, 0, 0, time.UTC), "US", false},
		{"GB christmas", time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC), "GB", true},
		{"CN national day", time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC), "CN", true},
		{"unknown country", time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC), "SA", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.IsPublicHoliday(tt.date, tt.country); got != tt.want {
				t.Errorf("IsPublicHoliday() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHolidayService_NextNonHoliday(t *testing.T) {
	svc := NewHolidayService()
	christmas := time.Date(2026, 12, 25, 10, 30, 0, 0, time.UTC)

	got := svc.NextNonHoliday(christmas, "GB")
	if !got.After(christmas) || svc.IsPublicHoliday(got, "GB") {
		t.Errorf("NextNonHoliday = %v, still a holiday", got)
	}
	if got.Hour() != 10 || got.Minute() != 30 {
		t.Errorf("clock time changed: %v", got)
	}
	if !svc.Supports("GB") || svc.Supports("SA") {
		t.Error("Supports mismatch")
	}
}
