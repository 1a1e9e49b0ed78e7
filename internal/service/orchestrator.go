package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/daywindow"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// Orchestrator 分析编排器：解析配置、调用模型、解析结构化结果并落库。
// daily_summary 条目转交聚合服务，不走单条分析路径。
type Orchestrator struct {
	entryRepo    EntryRepository
	analysisRepo AnalysisRepository
	invoker      Invoker
	settings     SettingsProvider
	reconciler   *Reconciler
	aggregation  *AggregationService
	memory       MemoryQuerier // 可选
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	entryRepo EntryRepository,
	analysisRepo AnalysisRepository,
	invoker Invoker,
	settings SettingsProvider,
	aggregation *AggregationService,
) *Orchestrator {
	return &Orchestrator{
		entryRepo:    entryRepo,
		analysisRepo: analysisRepo,
		invoker:      invoker,
		settings:     settings,
		reconciler:   NewReconciler(entryRepo),
		aggregation:  aggregation,
	}
}

// SetMemory 设置长期记忆服务（可选）
func (o *Orchestrator) SetMemory(memory MemoryQuerier) {
	o.memory = memory
}

// ProcessEntry 处理单条条目：daily_summary 转交聚合服务，其余走统一分析路径。
// 任何内部异常都被捕获并转为通用失败结果，绝不向调度器抛出。
func (o *Orchestrator) ProcessEntry(ctx context.Context, entry *schema.Entry) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("分析条目时发生 panic", "entry_id", entryID(entry), "panic", r)
			res = failureResult("分析过程中发生内部错误")
		}
	}()

	if entry == nil || entry.ID == 0 {
		return failureResult("条目不存在")
	}
	if entry.Category == schema.CategoryDailySummary {
		return o.aggregation.Generate(ctx, entry)
	}
	return o.analyze(ctx, entry, "")
}

// ProcessCorrection 用户纠正既有分析：空纠正文本与总结条目直接拒绝。
func (o *Orchestrator) ProcessCorrection(ctx context.Context, entry *schema.Entry, correction string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("处理纠正时发生 panic", "entry_id", entryID(entry), "panic", r)
			res = failureResult("处理纠正时发生内部错误")
		}
	}()

	correction = strings.TrimSpace(correction)
	if correction == "" {
		return failureResult("纠正内容不能为空")
	}
	if entry == nil || entry.ID == 0 {
		return failureResult("条目不存在")
	}
	if entry.Category == schema.CategoryDailySummary {
		return failureResult("每日总结不支持纠正，请直接重新生成")
	}
	return o.analyze(ctx, entry, correction)
}

// analyze 统一分析路径。correction 为空表示首次分析。
func (o *Orchestrator) analyze(ctx context.Context, entry *schema.Entry, correction string) Result {
	reqCtx, failRes := resolveRequestContext(o.settings)
	if failRes != nil {
		return *failRes
	}

	// 既有分析：纠正/重跑时把原始结果带给模型做修订
	prior, err := o.analysisRepo.GetByEntryID(ctx, entry.ID)
	if err != nil {
		slog.Warn("查询既有分析失败", "entry_id", entry.ID, "error", err)
	}
	priorBody := ""
	if prior != nil {
		priorBody = prior.Body
	}

	capturedLocal := daywindow.ToLocal(time.UnixMilli(entry.CapturedAt).UTC(), entry.TimezoneID, entry.UTCOffsetMin)
	req := &ai.EntryAnalysisRequest{
		Category:        string(entry.Category),
		Description:     entry.Payload.Description(),
		AssetRef:        entry.AssetRef,
		CapturedAtLocal: capturedLocal.Format("2006-01-02 15:04"),
		PriorBody:       priorBody,
		CorrectionText:  correction,
	}

	invoked, err := o.invoker.InvokeAnalysis(ctx, reqCtx, req)
	if err != nil {
		slog.Error("模型调用失败", "entry_id", entry.ID, "provider", reqCtx.Provider, "error", err)
		return failureResult("分析调用失败")
	}
	if invoked == nil || strings.TrimSpace(invoked.Body) == "" {
		return failureResult("模型未返回分析结果")
	}
	slog.Debug("模型调用完成",
		"entry_id", entry.ID,
		"provider", reqCtx.Provider,
		"prompt_tokens", invoked.Usage.PromptTokens,
		"completion_tokens", invoked.Usage.CompletionTokens)

	// 解析失败不致命：原始文档照样落库，不丢数据
	parsed, parseErr := ai.ParseUnifiedResult(invoked.Body)
	if parseErr != nil {
		slog.Warn("分析结果解析失败，按原始文档保留", "entry_id", entry.ID, "error", parseErr)
	} else {
		if _, err := o.reconciler.Reconcile(ctx, entry, parsed.DetectedCategory); err != nil {
			slog.Error("校正条目分类失败", "entry_id", entry.ID, "error", err)
			return failureResult("保存分类结果失败")
		}
		for _, w := range parsed.ValidationWarnings() {
			slog.Warn("分析结果校验告警", "entry_id", entry.ID, "warning", w)
		}
	}

	if err := o.persistAnalysis(ctx, entry, prior, reqCtx, invoked.Body); err != nil {
		slog.Error("保存分析结果失败", "entry_id", entry.ID, "error", err)
		return failureResult("保存分析结果失败")
	}

	o.indexMemory(ctx, entry, parsed)
	return successResult("分析完成")
}

// persistAnalysis 幂等落库：无既有记录则新建，否则原地覆盖（保留 ID 与关联 ID）。
func (o *Orchestrator) persistAnalysis(ctx context.Context, entry *schema.Entry, prior *schema.Analysis, reqCtx ai.RequestContext, body string) error {
	if prior == nil {
		analysis := schema.NewAnalysis(entry.ID, reqCtx.Provider, reqCtx.Model, body)
		return o.analysisRepo.Create(ctx, analysis)
	}
	prior.Provider = reqCtx.Provider
	prior.Model = reqCtx.Model
	prior.Body = body
	prior.CapturedAt = time.Now().UnixMilli()
	return o.analysisRepo.Update(ctx, prior)
}

// indexMemory 把已完成的分析写入长期记忆（可选，失败只记日志）
func (o *Orchestrator) indexMemory(ctx context.Context, entry *schema.Entry, parsed *ai.UnifiedResult) {
	if o.memory == nil || parsed == nil {
		return
	}
	insight := ""
	switch {
	case parsed.Meal != nil:
		insight = parsed.Meal.Title
		if parsed.Meal.Description != "" {
			insight = strings.TrimSpace(insight + " " + parsed.Meal.Description)
		}
	case parsed.Exercise != nil:
		insight = parsed.Exercise.Insight
	case parsed.Sleep != nil:
		insight = parsed.Sleep.Insight
	case parsed.Other != nil:
		insight = parsed.Other.Insight
	}
	if insight == "" {
		return
	}
	if err := o.memory.IndexAnalysis(ctx, entry, insight); err != nil {
		slog.Warn("索引分析记忆失败", "entry_id", entry.ID, "error", err)
	}
}

func entryID(entry *schema.Entry) int64 {
	if entry == nil {
		return 0
	}
	return entry.ID
}
