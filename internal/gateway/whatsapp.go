package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/pkg/logger"
)

// WhatsAppClient sends text messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	httpClient    *resty.Client
	phoneNumberID string
}

type sendTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendTextResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func NewWhatsAppClient(cfg *config.WhatsAppConfig) (*WhatsAppClient, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	logger.Info().Str("base_url", cfg.BaseURL).Str("phone_number_id", cfg.PhoneNumberID).Msg("WhatsApp client configured")

	return &WhatsAppClient{httpClient: client, phoneNumberID: cfg.PhoneNumberID}, nil
}

// Send posts a text message and returns the wamid assigned by Meta.
func (c *WhatsAppClient) Send(ctx context.Context, msg Message) (string, error) {
	to := NormalizePhone(msg.To)
	if to == "" {
		return "", fmt.Errorf("visit %s: empty recipient", msg.VisitID)
	}

	url := fmt.Sprintf("/%s/messages", c.phoneNumberID)
	var result sendTextResponse
	var failure apiError

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(sendTextRequest{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "text",
			Text:             textBody{PreviewURL: true, Body: msg.Text},
		}).
		SetResult(&result).
		SetError(&failure).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("whatsapp send request failed: %w", err)
	}
	if resp.IsError() {
		logger.Warn().
			Str("visit_id", msg.VisitID).
			Int("status_code", resp.StatusCode()).
			Str("error", failure.Error.Message).
			Msg("WhatsApp API returned an error")
		return "", fmt.Errorf("whatsapp send error: status %d: %s", resp.StatusCode(), failure.Error.Message)
	}
	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp send: response without message id")
	}
	return result.Messages[0].ID, nil
}
