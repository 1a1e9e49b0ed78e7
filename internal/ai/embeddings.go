package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingsClient 嵌入模型客户端（OpenAI 兼容端点）
type EmbeddingsClient struct {
	client *openai.Client
	model  string
	apiKey string
}

// EmbeddingsConfig 配置
type EmbeddingsConfig struct {
	APIKey  string
	BaseURL string // 留空使用 OpenAI 官方端点
	Model   string
}

// NewEmbeddingsClient 创建嵌入客户端
func NewEmbeddingsClient(cfg *EmbeddingsConfig) *EmbeddingsClient {
	if cfg == nil {
		cfg = &EmbeddingsConfig{}
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &EmbeddingsClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
	}
}

// IsConfigured 检查是否已配置
func (c *EmbeddingsClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Embed 批量生成文本嵌入
func (c *EmbeddingsClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("嵌入服务未配置 API Key")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("生成嵌入失败: %w", err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}
