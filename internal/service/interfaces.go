package service

import (
	"context"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// 仓储/外部依赖的最小接口集合（ISP）

type EntryRepository interface {
	Create(ctx context.Context, entry *schema.Entry) error
	Update(ctx context.Context, entry *schema.Entry) error
	GetByID(ctx context.Context, id int64) (*schema.Entry, error)
	UpdateStatus(ctx context.Context, id int64, status schema.ProcessingStatus) error
	GetByWindow(ctx context.Context, startMs, endMs int64, category schema.Category, status schema.ProcessingStatus) ([]schema.Entry, error)
	LatestSummaryInWindow(ctx context.Context, startMs, endMs int64) (*schema.Entry, error)
}

type AnalysisRepository interface {
	Create(ctx context.Context, analysis *schema.Analysis) error
	Update(ctx context.Context, analysis *schema.Analysis) error
	GetByEntryID(ctx context.Context, entryID int64) (*schema.Analysis, error)
	GetByWindow(ctx context.Context, startMs, endMs int64) ([]schema.Analysis, error)
}

// SettingsProvider 读取当前生效的 AI 配置（外部配置协作方）
type SettingsProvider interface {
	ActiveProvider() string
	Model(provider string) string
	APIKey(provider string) string
}

// Invoker 模型调用客户端
type Invoker interface {
	InvokeAnalysis(ctx context.Context, reqCtx ai.RequestContext, req *ai.EntryAnalysisRequest) (*ai.InvokeResult, error)
	InvokeDailySummary(ctx context.Context, reqCtx ai.RequestContext, req *ai.DailySummaryRequest) (*ai.InvokeResult, error)
}

// MemoryQuerier 长期记忆（可选依赖，未配置时为 nil）
type MemoryQuerier interface {
	Query(ctx context.Context, query string, topK int) ([]MemoryResult, error)
	IndexDailySummary(ctx context.Context, date, content string) error
	IndexAnalysis(ctx context.Context, entry *schema.Entry, insight string) error
}
