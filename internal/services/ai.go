package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/models"
	"github.com/huangang/feedbackloop/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
	"gorm.io/gorm"
)

var jsonObjectRegex = regexp.MustCompile(`(?s)\{.*\}`)

const sentimentPrompt = `You classify restaurant customer feedback.
The customer wrote (language hint: %s):
"""
%s
"""
Answer with a single JSON object and nothing else:
{"label": "positive" | "neutral" | "negative", "confidence": <number between 0 and 1>}`

// llmCaller sends one prompt to one configured model and returns the raw completion.
type llmCaller func(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error)

// AIService classifies free text with the configured LLMs, trying each active
// config in order until one returns a usable verdict.
type AIService struct {
	db     *gorm.DB
	config *config.OpenAIConfig
	call   llmCaller
}

func NewAIService(db *gorm.DB, cfg *config.OpenAIConfig) *AIService {
	s := &AIService{db: db, config: cfg}
	s.call = s.callLLM
	return s
}

func (s *AIService) Classify(ctx context.Context, text, language string) (*feedback.Verdict, error) {
	prompt := fmt.Sprintf(sentimentPrompt, language, text)

	var lastErr error
	for _, llmConfig := range s.getOrderedLLMConfigs(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", feedback.ErrClassification, err)
		}

		content, err := s.call(ctx, &llmConfig, prompt)
		if err == nil {
			var verdict *feedback.Verdict
			verdict, err = parseVerdict(content)
			if err == nil {
				verdict.Model = modelID(&llmConfig)
				return verdict, nil
			}
		}
		lastErr = err
		logger.Infof("[AI] LLM %s failed: %v, trying next...", llmConfig.Name, err)
	}

	if lastErr == nil {
		lastErr = errors.New("no LLM configured")
	}
	return nil, fmt.Errorf("%w: all LLMs failed, last error: %v", feedback.ErrClassification, lastErr)
}

// ClassifyWith runs one classification against a single config, without fallback.
func (s *AIService) ClassifyWith(ctx context.Context, llmConfig *models.LLMConfig, text, language string) (*feedback.Verdict, error) {
	content, err := s.call(ctx, llmConfig, fmt.Sprintf(sentimentPrompt, language, text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", feedback.ErrClassification, err)
	}
	verdict, err := parseVerdict(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", feedback.ErrClassification, err)
	}
	verdict.Model = modelID(llmConfig)
	return verdict, nil
}

func modelID(c *models.LLMConfig) string {
	provider := c.Provider
	if provider == "" {
		provider = "openai"
	}
	return provider + ":" + c.Model
}

// parseVerdict extracts {"label","confidence"} from a completion. Percent
// confidences (0-100) are scaled down.
func parseVerdict(content string) (*feedback.Verdict, error) {
	raw := jsonObjectRegex.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var out struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("invalid verdict JSON: %w", err)
	}

	label := feedback.Label(strings.ToLower(strings.TrimSpace(out.Label)))
	if !label.Valid() {
		return nil, fmt.Errorf("unknown label %q", out.Label)
	}
	confidence := out.Confidence
	if confidence > 1 && confidence <= 100 {
		confidence /= 100
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", out.Confidence)
	}
	return &feedback.Verdict{Label: label, Confidence: confidence}, nil
}

func (s *AIService) getOrderedLLMConfigs(ctx context.Context) []models.LLMConfig {
	var configs []models.LLMConfig
	db := s.db.WithContext(ctx)

	var defaultConfig models.LLMConfig
	if err := db.Where("is_default = ? AND is_active = ?", true, true).First(&defaultConfig).Error; err == nil {
		configs = append(configs, defaultConfig)
	}

	var backupConfigs []models.LLMConfig
	db.Where("is_active = ?", true).Order("id ASC").Find(&backupConfigs)
	for _, c := range backupConfigs {
		if len(configs) == 0 || c.ID != configs[0].ID {
			configs = append(configs, c)
		}
	}

	if len(configs) == 0 && s.config != nil && s.config.APIKey != "" {
		configs = append(configs, models.LLMConfig{
			Name:    "fallback",
			BaseURL: s.config.BaseURL,
			APIKey:  s.config.APIKey,
			Model:   s.config.Model,
		})
	}

	return configs
}

// callLLM dispatches to the provider-specific function based on Provider.
func (s *AIService) callLLM(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	logger.Infof("[AI] Using provider: %s, model: %s", llmConfig.Provider, llmConfig.Model)

	switch llmConfig.Provider {
	case "anthropic":
		return s.callAnthropic(ctx, llmConfig, prompt)
	case "ollama":
		return s.callOllama(ctx, llmConfig, prompt)
	case "gemini":
		return s.callGemini(ctx, llmConfig, prompt)
	case "azure":
		return s.callAzure(ctx, llmConfig, prompt)
	default:
		// openai and other OpenAI-compatible services
		return s.callOpenAI(ctx, llmConfig, prompt)
	}
}

func maxTokens(llmConfig *models.LLMConfig) int {
	if llmConfig.MaxTokens > 0 {
		return llmConfig.MaxTokens
	}
	return 256
}

func (s *AIService) callOpenAI(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	clientConfig := openai.DefaultConfig(llmConfig.APIKey)
	if llmConfig.BaseURL != "" {
		clientConfig.BaseURL = llmConfig.BaseURL
	}
	return chatCompletion(ctx, openai.NewClientWithConfig(clientConfig), llmConfig, prompt, "OpenAI")
}

// callAzure uses the deployment name in Model and https://{resource}.openai.azure.com as BaseURL.
func (s *AIService) callAzure(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	clientConfig := openai.DefaultAzureConfig(llmConfig.APIKey, llmConfig.BaseURL)
	return chatCompletion(ctx, openai.NewClientWithConfig(clientConfig), llmConfig, prompt, "Azure OpenAI")
}

func chatCompletion(ctx context.Context, client *openai.Client, llmConfig *models.LLMConfig, prompt, name string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: llmConfig.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(llmConfig.Temperature),
		MaxTokens:   maxTokens(llmConfig),
	})
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", name)
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *AIService) callAnthropic(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(llmConfig.APIKey)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(llmConfig.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := llmConfig.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens(llmConfig)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

func (s *AIService) callOllama(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	baseURL := llmConfig.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := llmConfig.Model
	if model == "" {
		model = "llama3"
	}

	stream := false
	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:  model,
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Options: map[string]interface{}{
			"temperature": llmConfig.Temperature,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Ollama API error: %w", err)
	}
	return content.String(), nil
}

func (s *AIService) callGemini(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: llmConfig.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("Gemini client error: %w", err)
	}

	model := llmConfig.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}
