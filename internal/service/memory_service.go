package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/daywindow"
	"github.com/linmu3/LifeMirror/internal/schema"
	chromem "github.com/philippgille/chromem-go"
)

// MemoryResult 记忆查询结果
type MemoryResult struct {
	Content    string
	Similarity float32
	Type       string
	Date       string
}

// MemoryService 长期记忆服务：把已完成的分析与每日总结索引进向量库，
// 供后续总结生成时检索历史上下文。
type MemoryService struct {
	db          *chromem.DB
	collection  *chromem.Collection
	embeddings  *ai.EmbeddingsClient
	storagePath string
}

// MemoryConfig 配置
type MemoryConfig struct {
	StoragePath string // 向量数据库存储路径
}

// NewMemoryService 创建记忆服务
func NewMemoryService(embeddings *ai.EmbeddingsClient, cfg *MemoryConfig) (*MemoryService, error) {
	if cfg == nil {
		cfg = &MemoryConfig{}
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "./data/memory"
	}

	if err := os.MkdirAll(cfg.StoragePath, 0755); err != nil {
		return nil, fmt.Errorf("创建记忆存储目录失败: %w", err)
	}

	db, err := chromem.NewPersistentDB(cfg.StoragePath, false)
	if err != nil {
		return nil, fmt.Errorf("创建向量数据库失败: %w", err)
	}

	collection, err := db.GetOrCreateCollection("memories", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("创建 collection 失败: %w", err)
	}

	return &MemoryService{
		db:          db,
		collection:  collection,
		embeddings:  embeddings,
		storagePath: cfg.StoragePath,
	}, nil
}

// IndexDailySummary 索引一份每日总结
func (s *MemoryService) IndexDailySummary(ctx context.Context, date, content string) error {
	if !s.embeddings.IsConfigured() {
		slog.Debug("嵌入服务未配置，跳过索引")
		return nil
	}
	if content == "" {
		return nil
	}

	doc := fmt.Sprintf("日期: %s\n总结: %s", date, content)
	vectors, err := s.embeddings.Embed(ctx, []string{doc})
	if err != nil {
		return fmt.Errorf("生成嵌入失败: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("嵌入结果为空")
	}

	// 同一天重复生成会覆盖旧文档，与总结本身的幂等替换保持一致
	return s.collection.AddDocument(ctx, chromem.Document{
		ID:        fmt.Sprintf("summary_%s", date),
		Content:   doc,
		Embedding: vectors[0],
		Metadata: map[string]string{
			"type": "daily_summary",
			"date": date,
		},
	})
}

// IndexAnalysis 索引一条已完成的条目分析
func (s *MemoryService) IndexAnalysis(ctx context.Context, entry *schema.Entry, insight string) error {
	if !s.embeddings.IsConfigured() {
		return nil
	}
	if entry == nil || insight == "" {
		return nil
	}

	date := daywindow.LocalDate(entry.CapturedAt, entry.TimezoneID, entry.UTCOffsetMin)
	doc := fmt.Sprintf("日期: %s\n类别: %s\n洞察: %s", date, entry.Category, insight)

	vectors, err := s.embeddings.Embed(ctx, []string{doc})
	if err != nil {
		return fmt.Errorf("生成嵌入失败: %w", err)
	}
	if len(vectors) == 0 {
		return nil
	}

	return s.collection.AddDocument(ctx, chromem.Document{
		ID:        fmt.Sprintf("entry_%d", entry.ID),
		Content:   doc,
		Embedding: vectors[0],
		Metadata: map[string]string{
			"type":     "analysis",
			"category": string(entry.Category),
			"date":     date,
		},
	})
}

// Query 查询相关记忆（余弦相似度）
func (s *MemoryService) Query(ctx context.Context, query string, topK int) ([]MemoryResult, error) {
	if !s.embeddings.IsConfigured() {
		return nil, fmt.Errorf("嵌入服务未配置")
	}
	if topK <= 0 {
		topK = 5
	}
	if count := s.collection.Count(); count == 0 {
		return nil, nil
	} else if topK > count {
		topK = count
	}

	queryVec, err := s.embeddings.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("生成查询嵌入失败: %w", err)
	}
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("查询嵌入为空")
	}

	results, err := s.collection.QueryEmbedding(ctx, queryVec[0], topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("向量搜索失败: %w", err)
	}

	memories := make([]MemoryResult, len(results))
	for i, r := range results {
		memories[i] = MemoryResult{
			Content:    r.Content,
			Similarity: r.Similarity,
			Type:       r.Metadata["type"],
			Date:       r.Metadata["date"],
		}
	}
	return memories, nil
}

// Close 关闭服务（持久化库自动保存）
func (s *MemoryService) Close() error {
	return nil
}

// GetStoragePath 获取存储路径
func (s *MemoryService) GetStoragePath() string {
	absPath, _ := filepath.Abs(s.storagePath)
	return absPath
}
