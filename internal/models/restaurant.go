package models

import "time"

// Restaurant holds the contact policy used when scheduling outreach.
// Clock values are "HH:MM" in the restaurant's timezone.
type Restaurant struct {
	ID                   string    `gorm:"primaryKey;size:64" json:"id"`
	Name                 string    `gorm:"size:200" json:"name"`
	Timezone             string    `gorm:"size:64" json:"timezone"`
	ContactStart         string    `gorm:"size:5" json:"contact_start"`
	ContactEnd           string    `gorm:"size:5" json:"contact_end"`
	QuietStart           string    `gorm:"size:5" json:"quiet_start"`
	QuietEnd             string    `gorm:"size:5" json:"quiet_end"`
	OutreachDelaySeconds int64     `json:"outreach_delay_seconds"`
	ReviewURL            string    `gorm:"size:500" json:"review_url"`
	GooglePlaceID        string    `gorm:"size:200" json:"google_place_id"`
	SendRatePerMinute    int       `gorm:"default:30" json:"send_rate_per_minute"`
	SendBurst            int       `gorm:"default:10" json:"send_burst"`
	IMBotID              *uint     `json:"im_bot_id"`
	CountryCode          string    `gorm:"size:8" json:"country_code"`
	SkipHolidays         bool      `gorm:"default:false" json:"skip_holidays"`
	IsActive             bool      `gorm:"default:true" json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Restaurant) TableName() string { return "restaurants" }

// OutreachDelay returns the configured delay between visit and greeting.
func (r *Restaurant) OutreachDelay() time.Duration {
	return time.Duration(r.OutreachDelaySeconds) * time.Second
}
