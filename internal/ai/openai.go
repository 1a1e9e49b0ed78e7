package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI API 客户端
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// OpenAIConfig 配置
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIClient 创建客户端
func NewOpenAIClient(cfg *OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = FallbackModel(ProviderOpenAI)
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(conf),
		model:  model,
	}
}

// ChatWithOptions 带参数的聊天请求，返回内容与用量
func (c *OpenAIClient) ChatWithOptions(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, Usage, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: float32(temperature),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	// 推理模型（o1/o3/o4/gpt-5*）要求 MaxCompletionTokens
	if strings.HasPrefix(c.model, "o1") || strings.HasPrefix(c.model, "o3") ||
		strings.HasPrefix(c.model, "o4") || strings.HasPrefix(c.model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("OpenAI 调用失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("无响应内容")
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	slog.Debug("OpenAI API 调用成功", "tokens", usage.TotalTokens, "model", c.model)

	return resp.Choices[0].Message.Content, usage, nil
}
