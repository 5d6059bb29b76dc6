package services

import (
	"context"
	"errors"
	"testing"

	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
)

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"sk-1234567890abcd", "sk-1*********abcd"},
	}
	for _, tt := range tests {
		if got := maskAPIKey(tt.key); got != tt.want {
			t.Errorf("maskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLLMConfigService_CreateDefaults(t *testing.T) {
	db := newTestDB(t)
	svc := NewLLMConfigService(db, NewAIService(db, &config.OpenAIConfig{}))

	v, err := svc.Create(&CreateLLMConfigRequest{Name: "main", Model: "gpt-4o-mini", APIKey: "sk-1234567890abcd", IsDefault: true})
	if err != nil {
		t.Fatal(err)
	}
	if v.Provider != "openai" || v.MaxTokens != 256 || !v.IsActive {
		t.Errorf("defaults = %+v", v.LLMConfig)
	}
	if v.APIKeyMask != "sk-1*********abcd" {
		t.Errorf("mask = %q", v.APIKeyMask)
	}

	second, _ := svc.Create(&CreateLLMConfigRequest{Name: "backup", Provider: "anthropic", Model: "claude", IsDefault: true})
	first, _ := svc.GetByID(v.ID)
	if first.IsDefault || !second.IsDefault {
		t.Errorf("default flags: first=%v second=%v", first.IsDefault, second.IsDefault)
	}

	list, err := svc.List(&LLMConfigListRequest{Provider: "anthropic"})
	if err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || list.Items[0].Name != "backup" {
		t.Errorf("list = %+v", list)
	}
}

func TestLLMConfigService_UpdateAndDelete(t *testing.T) {
	db := newTestDB(t)
	svc := NewLLMConfigService(db, NewAIService(db, &config.OpenAIConfig{}))

	v, _ := svc.Create(&CreateLLMConfigRequest{Name: "main", Model: "gpt-4o-mini"})
	tokens := 64
	no := false
	updated, err := svc.Update(v.ID, &UpdateLLMConfigRequest{MaxTokens: &tokens, IsActive: &no})
	if err != nil {
		t.Fatal(err)
	}
	if updated.MaxTokens != 64 || updated.IsActive {
		t.Errorf("updated = %+v", updated.LLMConfig)
	}

	if err := svc.Delete(v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetByID(v.ID); !errors.Is(err, ErrLLMConfigNotFound) {
		t.Errorf("GetByID after delete err = %v", err)
	}
	if _, err := svc.Update(v.ID, &UpdateLLMConfigRequest{Name: "x"}); !errors.Is(err, ErrLLMConfigNotFound) {
		t.Errorf("Update after delete err = %v", err)
	}
}

func TestLLMConfigService_Test(t *testing.T) {
	db := newTestDB(t)
	ai := NewAIService(db, &config.OpenAIConfig{})
	var prompts []string
	ai.call = func(_ context.Context, c *models.LLMConfig, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		if c.Name == "broken" {
			return "", errors.New("401")
		}
		return `{"label":"positive","confidence":0.9}`, nil
	}
	svc := NewLLMConfigService(db, ai)

	ok, _ := svc.Create(&CreateLLMConfigRequest{Name: "main", Model: "gpt-4o-mini"})
	broken, _ := svc.Create(&CreateLLMConfigRequest{Name: "broken", Model: "gpt-4o-mini"})

	v, err := svc.Test(context.Background(), ok.ID, "", "en")
	if err != nil {
		t.Fatal(err)
	}
	if v.Label != feedback.LabelPositive || v.Model != "openai:gpt-4o-mini" {
		t.Errorf("verdict = %+v", v)
	}
	if _, err := svc.Test(context.Background(), broken.ID, "ok", "en"); !errors.Is(err, feedback.ErrClassification) {
		t.Errorf("broken err = %v", err)
	}
	if len(prompts) != 2 {
		t.Errorf("calls = %d", len(prompts))
	}
}
