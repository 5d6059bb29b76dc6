package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
)

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(signature, "sha256=")), []byte(expectedMAC))
}

// Sign returns the header value VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// metaPayload is the subset of the WhatsApp Cloud API webhook we consume.
type metaPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Statuses []struct {
					ID          string `json:"id"`
					Status      string `json:"status"`
					Timestamp   string `json:"timestamp"`
					RecipientID string `json:"recipient_id"`
				} `json:"statuses"`
				Messages []metaMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive struct {
		Type        string `json:"type"`
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

func (m metaMessage) text() string {
	switch m.Type {
	case "text":
		return m.Text.Body
	case "button":
		return m.Button.Text
	case "interactive":
		if m.Interactive.Type == "list_reply" {
			return m.Interactive.ListReply.Title
		}
		return m.Interactive.ButtonReply.Title
	}
	return ""
}

// DecodeWebhook turns a webhook body into event envelopes. It accepts the
// WhatsApp Cloud API payload, a single generic event object or an array of
// generic events. Unsupported Meta message types are skipped.
func DecodeWebhook(body []byte, now time.Time) ([]feedback.Envelope, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("empty webhook body")
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []feedback.Envelope
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("invalid event list: %w", err)
		}
		for i := range items {
			if err := normalizeGeneric(&items[i], now); err != nil {
				return nil, err
			}
		}
		return items, nil
	}

	var envelope struct {
		Object string          `json:"object"`
		Entry  json.RawMessage `json:"entry"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}
	if envelope.Entry != nil {
		return decodeMeta(body, now)
	}

	var env feedback.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	if err := normalizeGeneric(&env, now); err != nil {
		return nil, err
	}
	return []feedback.Envelope{env}, nil
}

// normalizeGeneric infers the variant of a generic event from its fields.
func normalizeGeneric(env *feedback.Envelope, now time.Time) error {
	if env.Kind == "" {
		switch {
		case env.DeliveryID != "":
			env.Kind = feedback.KindDelivery
		case env.VisitID != "" || env.CustomerPhone != "":
			env.Kind = feedback.KindResponse
		default:
			return fmt.Errorf("event %q has neither delivery_id nor visit_id", env.EventID)
		}
	}
	if env.CustomerPhone != "" {
		env.CustomerPhone = NormalizePhone(env.CustomerPhone)
	}
	if env.At.IsZero() {
		env.At = now
	}
	return nil
}

func decodeMeta(body []byte, now time.Time) ([]feedback.Envelope, error) {
	var payload metaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid whatsapp payload: %w", err)
	}

	var out []feedback.Envelope
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				if st.ID == "" || st.Status == "" {
					continue
				}
				out = append(out, feedback.Envelope{
					Kind:       feedback.KindDelivery,
					EventID:    fmt.Sprintf("status_%s_%s", st.ID, st.Status),
					DeliveryID: st.ID,
					Status:     feedback.DeliveryStatus(st.Status),
					At:         parseUnix(st.Timestamp, now),
				})
			}
			for _, msg := range change.Value.Messages {
				text := msg.text()
				if msg.ID == "" || text == "" {
					continue
				}
				out = append(out, feedback.Envelope{
					Kind:          feedback.KindResponse,
					EventID:       "msg_" + msg.ID,
					CustomerPhone: NormalizePhone(msg.From),
					Text:          text,
					At:            parseUnix(msg.Timestamp, now),
				})
			}
		}
	}
	return out, nil
}

func parseUnix(ts string, fallback time.Time) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec <= 0 {
		return fallback
	}
	return time.Unix(sec, 0).UTC()
}
