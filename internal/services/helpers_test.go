package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/gateway"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/internal/store"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestRepo(t *testing.T) (*store.GormStore, *gorm.DB) {
	db := newTestDB(t)
	return store.NewGormStore(db), db
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time           { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testFeedbackConfig() config.FeedbackConfig {
	return config.DefaultConfig().Feedback
}

func testRestaurant() models.Restaurant {
	return models.Restaurant{
		ID:                   "r1",
		Name:                 "Test Grill",
		Timezone:             "UTC",
		ContactStart:         "10:00",
		ContactEnd:           "21:00",
		QuietStart:           "22:00",
		QuietEnd:             "09:00",
		OutreachDelaySeconds: int64((2 * time.Hour).Seconds()),
		ReviewURL:            "https://example.com/review/r1",
		SendRatePerMinute:    600,
		SendBurst:            100,
		IsActive:             true,
	}
}

// fakeGateway records outbound messages and returns sequential delivery ids.
type fakeGateway struct {
	mu    sync.Mutex
	calls int
	sent  []gateway.Message
	fail  func(call int) error
}

func (g *fakeGateway) Send(_ context.Context, msg gateway.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail != nil {
		if err := g.fail(g.calls); err != nil {
			return "", err
		}
	}
	g.sent = append(g.sent, msg)
	return fmt.Sprintf("wamid.%d", g.calls), nil
}

func (g *fakeGateway) Sent() []gateway.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Message(nil), g.sent...)
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeNotifier struct {
	mu      sync.Mutex
	calls   int
	notices []EscalationNotice
	err     func(call int) error
}

func (n *fakeNotifier) Notify(_ context.Context, notice *EscalationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		if err := n.err(n.calls); err != nil {
			return err
		}
	}
	n.notices = append(n.notices, *notice)
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (p *recordingPublisher) Publish(_ context.Context, o Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Outcomes() []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Outcome(nil), p.outcomes...)
}
