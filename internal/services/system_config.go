package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where("`key` = ?", key).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) GetFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s.GetWithDefault(key, "")), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s.GetWithDefault(key, "")))
	if err != nil {
		return defaultValue
	}
	return v
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where("`key` = ?", key).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where("`group` = ?", group).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// RatingScale maps a star rating to a label.
type RatingScale struct {
	Max         int
	PositiveMin int
	NegativeMax int
}

// Label returns the label for rating, or false when it is out of range.
func (r RatingScale) Label(rating int) (feedback.Label, bool) {
	if rating < 1 || rating > r.Max {
		return "", false
	}
	switch {
	case rating >= r.PositiveMin:
		return feedback.LabelPositive, true
	case rating <= r.NegativeMax:
		return feedback.LabelNegative, true
	}
	return feedback.LabelNeutral, true
}

// ThresholdService reads routing thresholds from system_configs with the
// config file values as fallback, so operators can tune them at runtime.
type ThresholdService struct {
	configs  *SystemConfigService
	defaults config.FeedbackConfig
}

func NewThresholdService(db *gorm.DB, defaults config.FeedbackConfig) *ThresholdService {
	return &ThresholdService{configs: NewSystemConfigService(db), defaults: defaults}
}

func (s *ThresholdService) Routing() feedback.Thresholds {
	return feedback.Thresholds{
		ConfidenceFloor:   s.configs.GetFloat("routing_confidence_floor", s.defaults.ConfidenceFloor),
		PositiveThreshold: s.configs.GetFloat("routing_positive_threshold", s.defaults.PositiveThreshold),
	}
}

func (s *ThresholdService) Rating() RatingScale {
	return RatingScale{
		Max:         s.defaults.RatingScaleMax,
		PositiveMin: s.configs.GetInt("rating_positive_min", s.defaults.RatingPositiveMin),
		NegativeMax: s.configs.GetInt("rating_negative_max", s.defaults.RatingNegativeMax),
	}
}

// RoutingSettings is the operator view of the runtime-tunable settings.
type RoutingSettings struct {
	ConfidenceFloor   float64 `json:"confidence_floor"`
	PositiveThreshold float64 `json:"positive_threshold"`
	RatingScaleMax    int     `json:"rating_scale_max"`
	RatingPositiveMin int     `json:"rating_positive_min"`
	RatingNegativeMax int     `json:"rating_negative_max"`
	LogRetentionDays  int     `json:"log_retention_days"`
}

type UpdateRoutingSettingsRequest struct {
	ConfidenceFloor   *float64 `json:"confidence_floor" binding:"omitempty,min=0,max=1"`
	PositiveThreshold *float64 `json:"positive_threshold" binding:"omitempty,min=0,max=1"`
	RatingPositiveMin *int     `json:"rating_positive_min" binding:"omitempty,min=1"`
	RatingNegativeMax *int     `json:"rating_negative_max" binding:"omitempty,min=0"`
	LogRetentionDays  *int     `json:"log_retention_days" binding:"omitempty,min=0"`
}

// ErrInvalidSettings is returned when an update would leave the settings inconsistent.
var ErrInvalidSettings = errors.New("invalid settings")

func (s *ThresholdService) Settings() RoutingSettings {
	th := s.Routing()
	scale := s.Rating()
	return RoutingSettings{
		ConfidenceFloor:   th.ConfidenceFloor,
		PositiveThreshold: th.PositiveThreshold,
		RatingScaleMax:    scale.Max,
		RatingPositiveMin: scale.PositiveMin,
		RatingNegativeMax: scale.NegativeMax,
		LogRetentionDays:  s.configs.GetInt("log_retention_days", 30),
	}
}

// Update validates the merged result before writing any key.
func (s *ThresholdService) Update(req *UpdateRoutingSettingsRequest) (RoutingSettings, error) {
	next := s.Settings()
	if req.ConfidenceFloor != nil {
		next.ConfidenceFloor = *req.ConfidenceFloor
	}
	if req.PositiveThreshold != nil {
		next.PositiveThreshold = *req.PositiveThreshold
	}
	if req.RatingPositiveMin != nil {
		next.RatingPositiveMin = *req.RatingPositiveMin
	}
	if req.RatingNegativeMax != nil {
		next.RatingNegativeMax = *req.RatingNegativeMax
	}
	if req.LogRetentionDays != nil {
		next.LogRetentionDays = *req.LogRetentionDays
	}

	if next.ConfidenceFloor > next.PositiveThreshold {
		return RoutingSettings{}, fmt.Errorf("%w: confidence_floor exceeds positive_threshold", ErrInvalidSettings)
	}
	if next.RatingPositiveMin > next.RatingScaleMax || next.RatingNegativeMax >= next.RatingPositiveMin {
		return RoutingSettings{}, fmt.Errorf("%w: rating bands must satisfy negative_max < positive_min <= %d",
			ErrInvalidSettings, next.RatingScaleMax)
	}

	values := map[string]string{
		"routing_confidence_floor":   strconv.FormatFloat(next.ConfidenceFloor, 'g', -1, 64),
		"routing_positive_threshold": strconv.FormatFloat(next.PositiveThreshold, 'g', -1, 64),
		"rating_positive_min":        strconv.Itoa(next.RatingPositiveMin),
		"rating_negative_max":        strconv.Itoa(next.RatingNegativeMax),
		"log_retention_days":         strconv.Itoa(next.LogRetentionDays),
	}
	for key, value := range values {
		if err := s.configs.Set(key, value); err != nil {
			return RoutingSettings{}, err
		}
	}
	return s.Settings(), nil
}
