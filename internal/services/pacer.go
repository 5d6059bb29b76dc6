package services

import (
	"sync"
	"time"

	"github.com/huangang/feedbackloop/internal/models"
	"golang.org/x/time/rate"
)

// Pacer holds one send-rate token bucket per restaurant. The scheduler only
// peeks; the delivery manager is the only caller that takes tokens.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*pacedLimiter
}

type pacedLimiter struct {
	perMinute int
	burst     int
	limiter   *rate.Limiter
}

func NewPacer() *Pacer {
	return &Pacer{limiters: make(map[string]*pacedLimiter)}
}

func (p *Pacer) get(r *models.Restaurant) *rate.Limiter {
	perMinute, burst := r.SendRatePerMinute, r.SendBurst
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pl, ok := p.limiters[r.ID]
	if !ok || pl.perMinute != perMinute || pl.burst != burst {
		pl = &pacedLimiter{
			perMinute: perMinute,
			burst:     burst,
			limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
		}
		p.limiters[r.ID] = pl
	}
	return pl.limiter
}

// Delay returns how long until a token would be available at now, without
// consuming one.
func (p *Pacer) Delay(r *models.Restaurant, now time.Time) time.Duration {
	lim := p.get(r)
	tokens := lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(lim.Limit()) * float64(time.Second))
}

// Take consumes a token if one is available at now.
func (p *Pacer) Take(r *models.Restaurant, now time.Time) bool {
	return p.get(r).AllowN(now, 1)
}
