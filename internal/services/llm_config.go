package services

import (
	"context"
	"errors"
	"strings"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"gorm.io/gorm"
)

var ErrLLMConfigNotFound = errors.New("llm config not found")

type LLMConfigService struct {
	db *gorm.DB
	ai *AIService
}

func NewLLMConfigService(db *gorm.DB, ai *AIService) *LLMConfigService {
	return &LLMConfigService{db: db, ai: ai}
}

// LLMConfigView is an LLMConfig with its API key masked.
type LLMConfigView struct {
	models.LLMConfig
	APIKeyMask string `json:"api_key_mask"`
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func newLLMConfigView(c models.LLMConfig) LLMConfigView {
	return LLMConfigView{LLMConfig: c, APIKeyMask: maskAPIKey(c.APIKey)}
}

type LLMConfigListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Provider string `form:"provider"`
	IsActive *bool  `form:"is_active"`
}

type LLMConfigListResponse struct {
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Items    []LLMConfigView `json:"items"`
}

type CreateLLMConfigRequest struct {
	Name        string  `json:"name" binding:"required"`
	Provider    string  `json:"provider" binding:"omitempty,oneof=openai azure anthropic ollama gemini"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model" binding:"required"`
	MaxTokens   int     `json:"max_tokens" binding:"omitempty,min=1"`
	Temperature float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
	IsDefault   bool    `json:"is_default"`
	IsActive    *bool   `json:"is_active"`
}

type UpdateLLMConfigRequest struct {
	Name        string   `json:"name"`
	Provider    string   `json:"provider" binding:"omitempty,oneof=openai azure anthropic ollama gemini"`
	BaseURL     string   `json:"base_url"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"max_tokens" binding:"omitempty,min=1"`
	Temperature *float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
	IsDefault   *bool    `json:"is_default"`
	IsActive    *bool    `json:"is_active"`
}

// List returns paginated LLM configs
func (s *LLMConfigService) List(req *LLMConfigListRequest) (*LLMConfigListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	var configs []models.LLMConfig
	var total int64

	query := s.db.Model(&models.LLMConfig{})

	if req.Name != "" {
		query = query.Where("name LIKE ? OR model LIKE ?", "%"+req.Name+"%", "%"+req.Name+"%")
	}
	if req.Provider != "" {
		query = query.Where("provider = ?", req.Provider)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("is_default DESC, id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}

	items := make([]LLMConfigView, 0, len(configs))
	for _, c := range configs {
		items = append(items, newLLMConfigView(c))
	}
	return &LLMConfigListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

func (s *LLMConfigService) get(id uint) (*models.LLMConfig, error) {
	var c models.LLMConfig
	if err := s.db.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLLMConfigNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *LLMConfigService) GetByID(id uint) (*LLMConfigView, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	v := newLLMConfigView(*c)
	return &v, nil
}

// Create stores a new model endpoint. Sentiment prompts are short, so
// MaxTokens defaults low and Temperature stays deterministic.
func (s *LLMConfigService) Create(req *CreateLLMConfigRequest) (*LLMConfigView, error) {
	if req.Provider == "" {
		req.Provider = "openai"
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 256
	}

	c := models.LLMConfig{
		Name:        req.Name,
		Provider:    req.Provider,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		IsDefault:   req.IsDefault,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if c.IsDefault {
			if err := tx.Model(&models.LLMConfig{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		if !c.IsActive {
			return tx.Model(&c).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := newLLMConfigView(c)
	return &v, nil
}

func (s *LLMConfigService) Update(id uint, req *UpdateLLMConfigRequest) (*LLMConfigView, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})

	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Provider != "" {
		updates["provider"] = req.Provider
	}
	if req.BaseURL != "" {
		updates["base_url"] = req.BaseURL
	}
	if req.APIKey != "" {
		updates["api_key"] = req.APIKey
	}
	if req.Model != "" {
		updates["model"] = req.Model
	}
	if req.MaxTokens != nil {
		updates["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		updates["temperature"] = *req.Temperature
	}
	if req.IsDefault != nil {
		updates["is_default"] = *req.IsDefault
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if req.IsDefault != nil && *req.IsDefault {
				if err := tx.Model(&models.LLMConfig{}).Where("is_default = ? AND id != ?", true, id).Update("is_default", false).Error; err != nil {
					return err
				}
			}
			return tx.Model(c).Updates(updates).Error
		})
		if err != nil {
			return nil, err
		}
	}
	return s.GetByID(id)
}

func (s *LLMConfigService) Delete(id uint) error {
	result := s.db.Delete(&models.LLMConfig{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLLMConfigNotFound
	}
	return nil
}

// Test classifies a sample reply with one specific config.
func (s *LLMConfigService) Test(ctx context.Context, id uint, text, language string) (*feedback.Verdict, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if text == "" {
		text = "The food was great, thank you!"
	}
	return s.ai.ClassifyWith(ctx, c, text, language)
}
