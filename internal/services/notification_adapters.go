package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/pkg/logger"
)

// NotificationAdapter sends escalation notices to one IM platform.
// Each adapter handles the payload format and signing of its platform.
type NotificationAdapter interface {
	SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error
}

func getAdapter(botType string) NotificationAdapter {
	switch botType {
	case "wechat_work":
		return &wecomAdapter{}
	case "dingtalk":
		return &dingtalkAdapter{}
	case "feishu":
		return &feishuAdapter{}
	case "slack":
		return &slackAdapter{}
	case "discord":
		return &discordAdapter{}
	case "teams":
		return &teamsAdapter{}
	case "telegram":
		return &telegramAdapter{}
	default:
		return &genericAdapter{}
	}
}

// --- Helper functions shared by adapters ---

func postJSON(ctx context.Context, client *http.Client, webhookURL string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	logger.Infof("[Notification] POST %s, payload length: %d", webhookURL, len(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// splitMessage splits a long message into chunks, trying to break at newlines.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var parts []string
	remaining := msg

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			parts = append(parts, remaining)
			break
		}

		chunk := remaining[:maxLen]
		breakPoint := maxLen

		for i := len(chunk) - 1; i > maxLen/2; i-- {
			if chunk[i] == '\n' {
				breakPoint = i + 1
				break
			}
		}
		if breakPoint == maxLen {
			breakPoint = len(truncate(remaining, maxLen))
		}
		if breakPoint == 0 {
			_, breakPoint = utf8.DecodeRuneInString(remaining)
		}

		parts = append(parts, remaining[:breakPoint])
		remaining = remaining[breakPoint:]
	}

	return parts
}

func buildEscalationMessage(n *EscalationNotice) string {
	text := n.ResponseText
	if len(text) > 1000 {
		text = truncate(text, 1000) + "..."
	}

	msg := fmt.Sprintf(`🔴 **Negative feedback**

**Restaurant**: %s
**Visit**: %s
**Reason**: %s`, n.RestaurantName, n.VisitID, n.Reason)

	if n.Label != "" {
		msg += fmt.Sprintf("\n**Sentiment**: %s (%.0f%%)", n.Label, n.Confidence*100)
	}
	if n.CustomerPhone != "" {
		msg += fmt.Sprintf("\n**Customer**: %s", n.CustomerPhone)
	}
	msg += fmt.Sprintf("\n\n---\n%s", text)
	return msg
}

func dingTalkSign(timestamp int64, secret string) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, secret)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func feishuSign(timestamp int64, secret string) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, secret)
	h := hmac.New(sha256.New, []byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func dingTalkWebhookURL(webhook, secret string) string {
	if secret == "" {
		return webhook
	}
	timestamp := time.Now().UnixMilli()
	sign := dingTalkSign(timestamp, secret)
	return fmt.Sprintf("%s&timestamp=%d&sign=%s", webhook, timestamp, url.QueryEscape(sign))
}

// --- Adapter implementations ---

type wecomAdapter struct{}

func (a *wecomAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	parts := splitMessage(buildEscalationMessage(n), 4000)
	for i, part := range parts {
		content := part
		if len(parts) > 1 {
			content = fmt.Sprintf("**[%d/%d]**\n\n%s", i+1, len(parts), part)
		}
		payload := map[string]interface{}{
			"msgtype": "markdown_v2",
			"markdown_v2": map[string]string{
				"content": content,
			},
		}
		if err := postJSON(ctx, client, bot.Webhook, payload); err != nil {
			return err
		}
	}
	return nil
}

type dingtalkAdapter struct{}

func (a *dingtalkAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	webhookURL := dingTalkWebhookURL(bot.Webhook, bot.Secret)
	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": fmt.Sprintf("Negative feedback: %s", n.RestaurantName),
			"text":  buildEscalationMessage(n),
		},
	}
	return postJSON(ctx, client, webhookURL, payload)
}

type feishuAdapter struct{}

func (a *feishuAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	payload := map[string]interface{}{
		"msg_type": "text",
		"content": map[string]string{
			"text": buildEscalationMessage(n),
		},
	}
	if bot.Secret != "" {
		timestamp := time.Now().Unix()
		payload["timestamp"] = fmt.Sprintf("%d", timestamp)
		payload["sign"] = feishuSign(timestamp, bot.Secret)
	}
	return postJSON(ctx, client, bot.Webhook, payload)
}

type slackAdapter struct{}

func (a *slackAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	header := fmt.Sprintf(":red_circle: *Negative feedback*\n*Restaurant*: %s\n*Visit*: %s\n*Reason*: %s",
		n.RestaurantName, n.VisitID, n.Reason)

	text := truncate(n.ResponseText, 3000)

	payload := map[string]interface{}{
		"text": header,
		"blocks": []map[string]interface{}{
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": header,
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": "> " + text,
				},
			},
		},
	}
	return postJSON(ctx, client, bot.Webhook, payload)
}

type discordAdapter struct{}

func (a *discordAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	payload := map[string]interface{}{
		"content": splitMessage(buildEscalationMessage(n), 2000)[0],
	}
	return postJSON(ctx, client, bot.Webhook, payload)
}

type teamsAdapter struct{}

func buildAdaptiveCard(text string) map[string]interface{} {
	return map[string]interface{}{
		"type": "message",
		"attachments": []map[string]interface{}{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content": map[string]interface{}{
					"type":    "AdaptiveCard",
					"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
					"version": "1.5",
					"body": []map[string]interface{}{
						{
							"type": "TextBlock",
							"text": text,
							"wrap": true,
						},
					},
				},
			},
		},
	}
}

func (a *teamsAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	return postJSON(ctx, client, bot.Webhook, buildAdaptiveCard(buildEscalationMessage(n)))
}

type telegramAdapter struct{}

func (a *telegramAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	if bot.Extra == "" {
		return fmt.Errorf("telegram chat_id is required in extra field")
	}
	payload := map[string]interface{}{
		"chat_id":    bot.Extra,
		"text":       buildEscalationMessage(n),
		"parse_mode": "Markdown",
	}
	return postJSON(ctx, client, bot.Webhook, payload)
}

type genericAdapter struct{}

func (a *genericAdapter) SendEscalation(ctx context.Context, client *http.Client, bot *models.IMBot, n *EscalationNotice) error {
	payload := map[string]interface{}{
		"type":          "escalation",
		"visit_id":      n.VisitID,
		"restaurant_id": n.RestaurantID,
		"restaurant":    n.RestaurantName,
		"reason":        n.Reason,
		"response_text": n.ResponseText,
		"label":         n.Label,
		"confidence":    n.Confidence,
	}
	return postJSON(ctx, client, bot.Webhook, payload)
}
