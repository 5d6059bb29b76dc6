package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/huangang/feedbackloop/internal/feedback"
)

// RatingModelID identifies verdicts produced from a star rating.
const RatingModelID = "rating-scale"

// SentimentClassifier maps a reply to a verdict. Implementations must honour
// ctx cancellation; the caller sets the timeout.
type SentimentClassifier interface {
	Classify(ctx context.Context, text, language string) (*feedback.Verdict, error)
}

var errNotARating = errors.New("not a rating")

// RatingClassifier handles replies that are just a rating ("4", "٤", "3/4", "⭐⭐⭐").
type RatingClassifier struct {
	scale func() RatingScale
}

func NewRatingClassifier(scale func() RatingScale) *RatingClassifier {
	return &RatingClassifier{scale: scale}
}

func (c *RatingClassifier) Classify(_ context.Context, text, _ string) (*feedback.Verdict, error) {
	scale := c.scale()
	rating, ok := parseRating(text, scale.Max)
	if !ok {
		return nil, errNotARating
	}
	label, ok := scale.Label(rating)
	if !ok {
		return nil, errNotARating
	}
	return &feedback.Verdict{Label: label, Confidence: 1, Model: RatingModelID}, nil
}

// parseRating accepts a bare number, "n/d" (rescaled to max) or a run of
// star characters. Eastern Arabic and Persian digits are accepted.
func parseRating(text string, max int) (int, bool) {
	s := strings.TrimSpace(normalizeDigits(text))
	s = strings.TrimRight(s, ".!")
	if s == "" || max <= 0 {
		return 0, false
	}

	if stars := countStars(s); stars > 0 {
		return stars, stars <= max
	}

	if num, den, found := strings.Cut(s, "/"); found {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil || d <= 0 || n < 1 || n > d {
			return 0, false
		}
		if d == max {
			return n, true
		}
		scaled := int(math.Round(float64(n) * float64(max) / float64(d)))
		if scaled < 1 {
			scaled = 1
		}
		return scaled, true
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func countStars(s string) int {
	count := 0
	for _, r := range s {
		switch {
		case r == '⭐' || r == '★':
			count++
		case r == '\uFE0F' || unicode.IsSpace(r):
		default:
			return 0
		}
	}
	return count
}

func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		}
		return r
	}, s)
}

// CompositeClassifier tries the rating parser first and falls back to the
// text model for everything else.
type CompositeClassifier struct {
	rating *RatingClassifier
	text   SentimentClassifier
}

func NewCompositeClassifier(rating *RatingClassifier, text SentimentClassifier) *CompositeClassifier {
	return &CompositeClassifier{rating: rating, text: text}
}

func (c *CompositeClassifier) Classify(ctx context.Context, text, language string) (*feedback.Verdict, error) {
	if c.rating != nil {
		if v, err := c.rating.Classify(ctx, text, language); err == nil {
			return v, nil
		}
	}
	if c.text == nil {
		return nil, feedback.ErrClassification
	}
	return c.text.Classify(ctx, text, language)
}
