package services

import (
	"context"
	"errors"

	"github.com/huangang/feedbackloop/internal/models"
	"gorm.io/gorm"
)

// ErrIMBotNotFound is returned for unknown or deleted bots.
var ErrIMBotNotFound = errors.New("im bot not found")

type IMBotService struct {
	db       *gorm.DB
	notifier *NotificationService
}

func NewIMBotService(db *gorm.DB, notifier *NotificationService) *IMBotService {
	return &IMBotService{db: db, notifier: notifier}
}

type IMBotListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Type     string `form:"type"`
	IsActive *bool  `form:"is_active"`
}

type IMBotListResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []models.IMBot `json:"items"`
}

type CreateIMBotRequest struct {
	Name      string `json:"name" binding:"required"`
	Type      string `json:"type" binding:"required,oneof=wechat_work dingtalk feishu slack discord teams telegram generic"`
	Webhook   string `json:"webhook" binding:"required,url"`
	Secret    string `json:"secret"`
	Extra     string `json:"extra"`
	IsActive  *bool  `json:"is_active"`
	IsDefault bool   `json:"is_default"`
}

type UpdateIMBotRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type" binding:"omitempty,oneof=wechat_work dingtalk feishu slack discord teams telegram generic"`
	Webhook   string `json:"webhook" binding:"omitempty,url"`
	Secret    string `json:"secret"`
	Extra     string `json:"extra"`
	IsActive  *bool  `json:"is_active"`
	IsDefault *bool  `json:"is_default"`
}

// List returns paginated IM bots
func (s *IMBotService) List(req *IMBotListRequest) (*IMBotListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	var bots []models.IMBot
	var total int64

	query := s.db.Model(&models.IMBot{})

	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("is_default DESC, id ASC").Find(&bots).Error; err != nil {
		return nil, err
	}

	return &IMBotListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    bots,
	}, nil
}

func (s *IMBotService) GetByID(id uint) (*models.IMBot, error) {
	var bot models.IMBot
	if err := s.db.First(&bot, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIMBotNotFound
		}
		return nil, err
	}
	return &bot, nil
}

// Create stores a new bot. At most one bot is the platform default.
func (s *IMBotService) Create(req *CreateIMBotRequest) (*models.IMBot, error) {
	bot := models.IMBot{
		Name:      req.Name,
		Type:      req.Type,
		Webhook:   req.Webhook,
		Secret:    req.Secret,
		Extra:     req.Extra,
		IsActive:  req.IsActive == nil || *req.IsActive,
		IsDefault: req.IsDefault,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if bot.IsDefault {
			if err := tx.Model(&models.IMBot{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		// gorm skips zero-value bools that carry a default tag
		if err := tx.Create(&bot).Error; err != nil {
			return err
		}
		if !bot.IsActive {
			return tx.Model(&bot).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (s *IMBotService) Update(id uint, req *UpdateIMBotRequest) (*models.IMBot, error) {
	bot, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})

	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Type != "" {
		updates["type"] = req.Type
	}
	if req.Webhook != "" {
		updates["webhook"] = req.Webhook
	}
	if req.Secret != "" {
		updates["secret"] = req.Secret
	}
	if req.Extra != "" {
		updates["extra"] = req.Extra
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.IsDefault != nil {
		updates["is_default"] = *req.IsDefault
	}
	if len(updates) == 0 {
		return bot, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if req.IsDefault != nil && *req.IsDefault {
			if err := tx.Model(&models.IMBot{}).Where("is_default = ? AND id != ?", true, id).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Model(bot).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// Delete removes a bot and detaches it from any restaurant using it.
func (s *IMBotService) Delete(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.IMBot{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrIMBotNotFound
		}
		return tx.Model(&models.Restaurant{}).Where("im_bot_id = ?", id).Update("im_bot_id", nil).Error
	})
}

func (s *IMBotService) GetAllActive() ([]models.IMBot, error) {
	var bots []models.IMBot
	if err := s.db.Where("is_active = ?", true).Order("is_default DESC, id ASC").Find(&bots).Error; err != nil {
		return nil, err
	}
	return bots, nil
}

// SendTest posts a sample escalation through the bot so operators can
// check the webhook before a real complaint arrives.
func (s *IMBotService) SendTest(ctx context.Context, id uint) error {
	bot, err := s.GetByID(id)
	if err != nil {
		return err
	}
	return s.notifier.NotifyBot(ctx, bot, &EscalationNotice{
		VisitID:        "test",
		RestaurantName: "Test",
		Reason:         "test notification",
		ResponseText:   "This is a test message.",
	})
}
