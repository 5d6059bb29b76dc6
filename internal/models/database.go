package models

import (
	"fmt"

	"github.com/huangang/feedbackloop/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to the configured database without touching the global handle.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return db, nil
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Migrate creates or updates every table the service uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Restaurant{},
		&FeedbackRequest{},
		&OutreachAttempt{},
		&CustomerResponse{},
		&SentimentResult{},
		&RoutingDecision{},
		&ProcessedEvent{},
		&VisitTransition{},
		&IMBot{},
		&LLMConfig{},
		&SystemConfig{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func AutoMigrate() error {
	return Migrate(DB)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates runtime-tunable settings if missing.
func SeedDefaultData(db *gorm.DB, fb *config.FeedbackConfig) error {
	defaultConfigs := []SystemConfig{
		{Key: "routing_confidence_floor", Value: fmt.Sprintf("%g", fb.ConfidenceFloor), Type: "float", Group: "routing", Label: "Minimum classifier confidence"},
		{Key: "routing_positive_threshold", Value: fmt.Sprintf("%g", fb.PositiveThreshold), Type: "float", Group: "routing", Label: "Positive confidence for review requests"},
		{Key: "rating_positive_min", Value: fmt.Sprintf("%d", fb.RatingPositiveMin), Type: "int", Group: "routing", Label: "Lowest star rating treated as positive"},
		{Key: "rating_negative_max", Value: fmt.Sprintf("%d", fb.RatingNegativeMax), Type: "int", Group: "routing", Label: "Highest star rating treated as negative"},
		{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "System Log Retention Days"},
	}

	for _, cfg := range defaultConfigs {
		var count int64
		db.Model(&SystemConfig{}).Where("`key` = ?", cfg.Key).Count(&count)
		if count == 0 {
			if err := db.Create(&cfg).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// SeedRestaurants upserts the restaurants listed in the config file.
func SeedRestaurants(db *gorm.DB, restaurants []config.RestaurantConfig) error {
	for _, rc := range restaurants {
		if rc.ID == "" {
			return fmt.Errorf("restaurant without id in config")
		}
		r := Restaurant{
			ID:                   rc.ID,
			Name:                 rc.Name,
			Timezone:             rc.Timezone,
			ContactStart:         rc.ContactStart,
			ContactEnd:           rc.ContactEnd,
			QuietStart:           rc.QuietStart,
			QuietEnd:             rc.QuietEnd,
			OutreachDelaySeconds: int64(rc.OutreachDelay.Seconds()),
			ReviewURL:            rc.ReviewURL,
			GooglePlaceID:        rc.GooglePlaceID,
			SendRatePerMinute:    rc.SendRatePerMinute,
			SendBurst:            rc.SendBurst,
			CountryCode:          rc.CountryCode,
			SkipHolidays:         rc.SkipHolidays,
			IsActive:             true,
		}
		if rc.IMBotID != 0 {
			id := rc.IMBotID
			r.IMBotID = &id
		}
		if err := db.Save(&r).Error; err != nil {
			return fmt.Errorf("seed restaurant %s: %w", rc.ID, err)
		}
	}
	return nil
}
