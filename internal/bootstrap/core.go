package bootstrap

import (
	"log/slog"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/eventbus"
	"github.com/linmu3/LifeMirror/internal/pkg/config"
	"github.com/linmu3/LifeMirror/internal/repository"
	"github.com/linmu3/LifeMirror/internal/service"
)

// Core 持有跨二进制共享的核心依赖
type Core struct {
	Cfg *config.Config
	DB  *repository.Database
	Hub *eventbus.Hub

	Repos struct {
		Entry    *repository.EntryRepository
		Analysis *repository.AnalysisRepository
	}

	Services struct {
		Scheduler    *service.Scheduler
		Orchestrator *service.Orchestrator
		Aggregation  *service.AggregationService
		Memory       *service.MemoryService
	}

	Clients struct {
		Analyzer   *ai.Analyzer
		Embeddings *ai.EmbeddingsClient
	}
}

// NewCore 构建核心依赖（不启动收件箱监控和 HTTP 服务）
func NewCore(cfgPath string) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	config.SetupLogger(cfg.App.LogLevel)

	db, err := repository.NewDatabase(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	c := &Core{Cfg: cfg, DB: db, Hub: eventbus.NewHub()}

	// Repos（同步 API 路径共用；后台工作单元各自新建）
	c.Repos.Entry = repository.NewEntryRepository(db.DB)
	c.Repos.Analysis = repository.NewAnalysisRepository(db.DB)

	// Clients
	c.Clients.Analyzer = ai.NewAnalyzer(&ai.AnalyzerConfig{
		DeepSeekBaseURL: cfg.AI.DeepSeek.BaseURL,
		OpenAIBaseURL:   cfg.AI.OpenAI.BaseURL,
	})

	// 长期记忆（可选：需开启且配置了嵌入凭证）
	if cfg.Memory.Enabled {
		c.Clients.Embeddings = ai.NewEmbeddingsClient(&ai.EmbeddingsConfig{
			APIKey:  cfg.AI.Embeddings.APIKey,
			BaseURL: cfg.AI.Embeddings.BaseURL,
			Model:   cfg.AI.Embeddings.Model,
		})
		if !c.Clients.Embeddings.IsConfigured() {
			slog.Info("嵌入服务未配置，长期记忆不可用")
		} else {
			memory, err := service.NewMemoryService(c.Clients.Embeddings, &service.MemoryConfig{
				StoragePath: cfg.Memory.StoragePath,
			})
			if err != nil {
				slog.Warn("记忆服务初始化失败，禁用记忆", "error", err)
			} else {
				c.Services.Memory = memory
			}
		}
	}

	settings := &cfg.AI

	// 聚合服务必须全局共享：同一总结条目的并发生成靠它串行化
	c.Services.Aggregation = service.NewAggregationService(c.Repos.Entry, c.Repos.Analysis, c.Clients.Analyzer, settings)
	if c.Services.Memory != nil {
		c.Services.Aggregation.SetMemory(c.Services.Memory)
	}

	c.Services.Orchestrator = service.NewOrchestrator(c.Repos.Entry, c.Repos.Analysis, c.Clients.Analyzer, settings, c.Services.Aggregation)
	if c.Services.Memory != nil {
		c.Services.Orchestrator.SetMemory(c.Services.Memory)
	}

	// 每个后台工作单元持有独立的仓储与编排器实例
	factory := func() *service.WorkUnit {
		entryRepo := repository.NewEntryRepository(db.DB)
		analysisRepo := repository.NewAnalysisRepository(db.DB)
		orch := service.NewOrchestrator(entryRepo, analysisRepo, c.Clients.Analyzer, settings, c.Services.Aggregation)
		if c.Services.Memory != nil {
			orch.SetMemory(c.Services.Memory)
		}
		return &service.WorkUnit{EntryRepo: entryRepo, Processor: orch}
	}
	c.Services.Scheduler = service.NewScheduler(factory, c.Hub, cfg.Scheduler.Workers)

	return c, nil
}

// Close 关闭核心依赖资源
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	if c.Services.Memory != nil {
		_ = c.Services.Memory.Close()
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
