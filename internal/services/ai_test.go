package services

import (
	"context"
	"errors"
	"testing"

	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantLabel feedback.Label
		wantConf  float64
		wantErr   bool
	}{
		{"plain", `{"label":"positive","confidence":0.92}`, feedback.LabelPositive, 0.92, false},
		{"fenced", "```json\n{\"label\": \"Negative\", \"confidence\": 0.4}\n```", feedback.LabelNegative, 0.4, false},
		{"percent", `{"label":"neutral","confidence":75}`, feedback.LabelNeutral, 0.75, false},
		{"unknown label", `{"label":"happy","confidence":0.9}`, "", 0, true},
		{"out of range", `{"label":"positive","confidence":-1}`, "", 0, true},
		{"no json", "I think it's positive", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", v)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if v.Label != tt.wantLabel || v.Confidence != tt.wantConf {
				t.Errorf("verdict = %+v", v)
			}
		})
	}
}

func TestAIService_FallsBackAcrossConfigs(t *testing.T) {
	db := newTestDB(t)
	db.Create(&models.LLMConfig{Name: "primary", Provider: "openai", BaseURL: "http://primary", Model: "gpt-a", IsDefault: true, IsActive: true})
	db.Create(&models.LLMConfig{Name: "backup", Provider: "anthropic", BaseURL: "http://backup", Model: "claude-b", IsActive: true})

	svc := NewAIService(db, &config.OpenAIConfig{})
	var called []string
	svc.call = func(_ context.Context, c *models.LLMConfig, _ string) (string, error) {
		called = append(called, c.Name)
		if c.Name == "primary" {
			return "", errors.New("503")
		}
		return `{"label":"negative","confidence":0.81}`, nil
	}

	v, err := svc.Classify(context.Background(), "the food was cold", "en")
	if err != nil {
		t.Fatal(err)
	}
	if len(called) != 2 || called[0] != "primary" {
		t.Errorf("call order = %v", called)
	}
	if v.Label != feedback.LabelNegative || v.Model != "anthropic:claude-b" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestAIService_AllFail(t *testing.T) {
	db := newTestDB(t)
	svc := NewAIService(db, &config.OpenAIConfig{APIKey: "k", Model: "gpt-x"})
	svc.call = func(context.Context, *models.LLMConfig, string) (string, error) {
		return "not json", nil
	}

	_, err := svc.Classify(context.Background(), "ok", "en")
	if !errors.Is(err, feedback.ErrClassification) {
		t.Fatalf("err = %v, want ErrClassification", err)
	}

	// Without any model configured classification fails closed.
	empty := NewAIService(db, &config.OpenAIConfig{})
	if _, err := empty.Classify(context.Background(), "ok", "en"); !errors.Is(err, feedback.ErrClassification) {
		t.Fatalf("err = %v", err)
	}
}
