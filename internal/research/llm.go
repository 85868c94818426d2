package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/skovale/briefgen/config"
	"github.com/skovale/briefgen/internal/helpers"
)

// OpenAIProvider implements LLMProvider against the OpenAI chat completions API
type OpenAIProvider struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate generates text using OpenAI
func (p *OpenAIProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, _, _, err := p.GenerateWithTokens(ctx, system, prompt)
	return resp, err
}

// GenerateWithTokens generates text and returns token usage
func (p *OpenAIProvider) GenerateWithTokens(ctx context.Context, system, prompt string) (string, int64, int64, error) {
	apiKey := p.cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("OpenAI API key not configured")
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	msgs := []chatMsg{}
	if system != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMsg{Role: "user", Content: prompt})

	body, err := json.Marshal(chatReq{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("do: %w", err)
	}
	raw, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return "", 0, 0, fmt.Errorf("read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, fmt.Errorf("OpenAI status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(raw)), 200))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, 0, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices")
	}

	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// ModelName returns the configured model
func (p *OpenAIProvider) ModelName() string {
	return p.cfg.Model
}

// CalculateCost calculates the cost for a given number of tokens
func (p *OpenAIProvider) CalculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) / 1000.0 * p.cfg.CostPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * p.cfg.CostPer1KOutput
	return inputCost + outputCost
}

// MockLLM is a deterministic provider used when no API key is available.
// It answers each stage prompt with plausible, well-formed JSON so the
// whole pipeline can run offline.
type MockLLM struct{}

// NewMockLLM creates a mock provider
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// Generate produces a canned response matching the requested stage
func (m *MockLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, _, _, err := m.GenerateWithTokens(ctx, system, prompt)
	return resp, err
}

// GenerateWithTokens produces a canned response and estimated token usage
func (m *MockLLM) GenerateWithTokens(ctx context.Context, system, prompt string) (string, int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}

	topic := promptField(prompt, "Topic:")
	if topic == "" {
		topic = "the topic"
	}

	var resp string
	switch {
	case strings.Contains(system, "research planner"):
		queries := []string{
			topic + " overview and background",
			topic + " recent developments",
			topic + " applications and case studies",
			topic + " challenges and limitations",
			topic + " future outlook",
		}
		b, _ := json.Marshal(queries)
		resp = string(b)
	case strings.Contains(system, "research assistant"):
		title := promptField(prompt, "Title:")
		if title == "" {
			title = topic
		}
		b, _ := json.Marshal(map[string]interface{}{
			"summary":    fmt.Sprintf("%s covers key aspects of %s, outlining context and notable developments.", title, topic),
			"key_points": []string{fmt.Sprintf("Coverage of %s", topic), "Context and background", "Notable developments"},
			"relevance":  0.8,
		})
		resp = string(b)
	case strings.Contains(system, "research analyst"):
		b, _ := json.Marshal(map[string]interface{}{
			"key_findings": []string{
				fmt.Sprintf("Interest in %s continues to grow across the surveyed sources", topic),
				fmt.Sprintf("Adoption of %s varies widely by context", topic),
				fmt.Sprintf("Open challenges around %s remain unresolved", topic),
			},
			"recommendations": []string{
				fmt.Sprintf("Monitor ongoing developments in %s", topic),
				"Validate conclusions against primary sources",
			},
			"assessment": fmt.Sprintf("The collected material gives a consistent picture of %s with moderate depth.", topic),
			"confidence": 0.7,
		})
		resp = string(b)
	case strings.Contains(system, "senior editor"):
		b, _ := json.Marshal(map[string]interface{}{
			"executive_summary": fmt.Sprintf("This brief surveys %s, drawing on the collected sources to outline the current landscape, main findings and recommended next steps.", topic),
			"key_findings": []string{
				fmt.Sprintf("Interest in %s continues to grow across the surveyed sources", topic),
				fmt.Sprintf("Adoption of %s varies widely by context", topic),
			},
			"analysis":        fmt.Sprintf("Across the gathered material, %s shows steady momentum with recurring themes and open questions.", topic),
			"recommendations": []string{fmt.Sprintf("Monitor ongoing developments in %s", topic)},
		})
		resp = string(b)
	default:
		resp = fmt.Sprintf("Mock response about %s.", topic)
	}

	inputTokens := int64((len(system) + len(prompt)) / 4)
	outputTokens := int64(len(resp) / 4)
	return resp, inputTokens, outputTokens, nil
}

// ModelName returns the mock model identifier
func (m *MockLLM) ModelName() string {
	return "mock"
}

// CalculateCost always reports zero cost
func (m *MockLLM) CalculateCost(inputTokens, outputTokens int64) float64 {
	return 0.0
}

// promptField extracts the value of a "Label: value" line from a prompt.
func promptField(prompt, label string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, label) {
			return strings.TrimSpace(strings.TrimPrefix(line, label))
		}
	}
	return ""
}
