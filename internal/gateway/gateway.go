// Package gateway talks to the customer messaging channel.
package gateway

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured is returned when the channel credentials are missing.
var ErrNotConfigured = errors.New("messaging gateway not configured")

// Message is a rendered outbound text.
type Message struct {
	VisitID string
	To      string
	Text    string
}

// Gateway sends messages and returns the channel's delivery id.
type Gateway interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// NormalizePhone keeps only digits, the form WhatsApp uses in webhooks.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Disabled stands in when no channel credentials are configured. Every
// send fails, so visits end as delivery failures instead of hanging.
type Disabled struct{}

func (Disabled) Send(context.Context, Message) (string, error) { return "", ErrNotConfigured }
