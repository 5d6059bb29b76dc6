package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/store"
	gocache "github.com/patrickmn/go-cache"
)

const googleWriteReviewURL = "https://search.google.com/local/writereview?placeid="

// ReviewLinkResolver maps a restaurant to its public review URL.
type ReviewLinkResolver struct {
	repo  store.Repository
	cache *gocache.Cache
}

func NewReviewLinkResolver(repo store.Repository, ttl time.Duration) *ReviewLinkResolver {
	return &ReviewLinkResolver{
		repo:  repo,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Resolve prefers the Google place id over a stored URL.
func (r *ReviewLinkResolver) Resolve(ctx context.Context, restaurantID string) (string, error) {
	if cached, ok := r.cache.Get(restaurantID); ok {
		return cached.(string), nil
	}

	restaurant, err := r.repo.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return "", err
	}

	var link string
	switch {
	case restaurant.GooglePlaceID != "":
		link = googleWriteReviewURL + url.QueryEscape(restaurant.GooglePlaceID)
	case restaurant.ReviewURL != "":
		link = restaurant.ReviewURL
	default:
		return "", fmt.Errorf("%w: restaurant %s has no review link", feedback.ErrConfiguration, restaurantID)
	}

	r.cache.SetDefault(restaurantID, link)
	return link, nil
}

// Invalidate drops a cached link after the restaurant changes.
func (r *ReviewLinkResolver) Invalidate(restaurantID string) {
	r.cache.Delete(restaurantID)
}
