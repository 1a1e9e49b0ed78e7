package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/daywindow"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// AggregationService 每日聚合服务：把一个本地日内已完成的饮食记录合成一份总结。
// 重复生成是幂等替换：同一总结条目的分析原地覆盖，不累积重复记录。
type AggregationService struct {
	entryRepo    EntryRepository
	analysisRepo AnalysisRepository
	invoker      Invoker
	settings     SettingsProvider
	memory       MemoryQuerier // 可选

	// 同一总结条目的并发 Generate 串行化（查找-覆盖的窗口竞争只按条目粒度保护）
	mu    sync.Mutex
	locks map[int64]*summaryLock
}

// summaryLock 带引用计数的条目锁：最后一个持有者释放时从表中移除，
// 长期运行的进程不会为历史总结条目无限累积互斥量。
type summaryLock struct {
	mu   sync.Mutex
	refs int
}

// NewAggregationService 创建聚合服务
func NewAggregationService(
	entryRepo EntryRepository,
	analysisRepo AnalysisRepository,
	invoker Invoker,
	settings SettingsProvider,
) *AggregationService {
	return &AggregationService{
		entryRepo:    entryRepo,
		analysisRepo: analysisRepo,
		invoker:      invoker,
		settings:     settings,
		locks:        make(map[int64]*summaryLock),
	}
}

// SetMemory 设置长期记忆服务（可选）
func (s *AggregationService) SetMemory(memory MemoryQuerier) {
	s.memory = memory
}

// Generate 为总结条目生成（或幂等重新生成）当日总结
func (s *AggregationService) Generate(ctx context.Context, summaryEntry *schema.Entry) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("生成每日总结时发生 panic", "entry_id", entryID(summaryEntry), "panic", r)
			res = failureResult("生成总结时发生内部错误")
		}
	}()

	if summaryEntry == nil || summaryEntry.ID == 0 {
		return failureResult("总结条目不存在")
	}
	if summaryEntry.Category != schema.CategoryDailySummary {
		return failureResult("条目不是每日总结")
	}

	lock := s.acquire(summaryEntry.ID)
	defer s.release(summaryEntry.ID, lock)

	reqCtx, failRes := resolveRequestContext(s.settings)
	if failRes != nil {
		return *failRes
	}

	window := daywindow.ForMillis(summaryEntry.CapturedAt, summaryEntry.TimezoneID, summaryEntry.UTCOffsetMin)
	date := daywindow.LocalDate(summaryEntry.CapturedAt, summaryEntry.TimezoneID, summaryEntry.UTCOffsetMin)
	zone := daywindow.ResolveLocation(summaryEntry.TimezoneID, summaryEntry.UTCOffsetMin).String()

	// 只取窗口内已完成的饮食记录：总结反映生成时刻已就绪的数据，不等待在途分析
	meals, err := s.entryRepo.GetByWindow(ctx, window.StartMs(), window.EndMs(), schema.CategoryMeal, schema.StatusCompleted)
	if err != nil {
		slog.Error("查询当日饮食记录失败", "date", date, "error", err)
		return failureResult("查询当日记录失败")
	}

	latest, err := s.latestAnalysisPerEntry(ctx, window.StartMs(), window.EndMs())
	if err != nil {
		slog.Error("查询当日分析失败", "date", date, "error", err)
		return failureResult("查询当日分析失败")
	}

	contexts := make([]ai.MealContext, 0, len(meals))
	for _, m := range meals {
		capturedUTC := time.UnixMilli(m.CapturedAt).UTC()
		mc := ai.MealContext{
			EntryID:         m.ID,
			CapturedAtUTC:   capturedUTC.Format(time.RFC3339),
			CapturedAtLocal: daywindow.ToLocal(capturedUTC, m.TimezoneID, m.UTCOffsetMin).Format("15:04"),
			TimezoneID:      m.TimezoneID,
			Description:     m.Payload.Description(),
		}
		if a, ok := latest[m.ID]; ok {
			if parsed, err := ai.ParseUnifiedResult(a.Body); err == nil && parsed.Meal != nil {
				mc.Insights = parsed.Meal
			}
		}
		contexts = append(contexts, mc)
	}

	// 既有总结分析：带给模型做修订而非重写
	prior, err := s.analysisRepo.GetByEntryID(ctx, summaryEntry.ID)
	if err != nil {
		slog.Warn("查询既有总结分析失败", "entry_id", summaryEntry.ID, "error", err)
	}
	priorBody := ""
	if prior != nil {
		priorBody = prior.Body
	}

	req := &ai.DailySummaryRequest{
		Date:            date,
		Timezone:        zone,
		Meals:           contexts,
		PriorBody:       priorBody,
		HistoryMemories: s.queryHistory(ctx, date),
	}

	invoked, err := s.invoker.InvokeDailySummary(ctx, reqCtx, req)
	if err != nil {
		slog.Error("总结调用失败", "date", date, "provider", reqCtx.Provider, "error", err)
		return failureResult("生成总结失败")
	}
	if invoked == nil || strings.TrimSpace(invoked.Body) == "" {
		return failureResult("模型未返回总结结果")
	}

	if err := s.persistSummaryAnalysis(ctx, summaryEntry, prior, reqCtx, invoked.Body); err != nil {
		slog.Error("保存总结分析失败", "entry_id", summaryEntry.ID, "error", err)
		return failureResult("保存总结失败")
	}

	// 更新总结条目自己的负载元数据
	summaryEntry.Payload = schema.Payload{DailySummary: &schema.DailySummaryPayload{
		MealCount:           len(meals),
		GeneratedAt:         time.Now().UnixMilli(),
		GeneratedAtTimezone: zone,
	}}
	if err := s.entryRepo.Update(ctx, summaryEntry); err != nil {
		slog.Error("更新总结条目失败", "entry_id", summaryEntry.ID, "error", err)
		return failureResult("保存总结失败")
	}

	s.indexSummary(ctx, date, invoked.Body)
	slog.Info("每日总结已生成", "date", date, "meal_count", len(meals))
	return successResult(fmt.Sprintf("已根据 %d 条饮食记录生成总结", len(meals)))
}

// EnsureSummaryEntry 查找指定本地日的总结条目，不存在则创建。
// date 为空表示今天；唯一性依赖"该本地日窗口内最近一条 daily_summary 条目"。
func (s *AggregationService) EnsureSummaryEntry(ctx context.Context, date, timezoneID string) (*schema.Entry, error) {
	loc := daywindow.ResolveLocation(timezoneID, nil)

	var instant time.Time
	if strings.TrimSpace(date) == "" {
		instant = time.Now()
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return nil, fmt.Errorf("日期格式错误（应为 YYYY-MM-DD）: %w", err)
		}
		// 取正午，避开夏令时在午夜附近的跳变
		instant = parsed.Add(12 * time.Hour)
	}

	window := daywindow.ForInstant(instant.UTC(), timezoneID, nil)
	existing, err := s.entryRepo.LatestSummaryInWindow(ctx, window.StartMs(), window.EndMs())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	entry := schema.NewDailySummaryEntry(instant.UnixMilli(), timezoneID)
	if err := s.entryRepo.Create(ctx, entry); err != nil {
		return nil, err
	}
	slog.Info("创建总结条目", "entry_id", entry.ID, "date", daywindow.LocalDate(entry.CapturedAt, timezoneID, nil))
	return entry, nil
}

// latestAnalysisPerEntry 窗口内的分析按条目去重，只保留最新一条。
// 数据模型本意是每条目至多一条在用分析，这里做防御性处理。
func (s *AggregationService) latestAnalysisPerEntry(ctx context.Context, startMs, endMs int64) (map[int64]schema.Analysis, error) {
	analyses, err := s.analysisRepo.GetByWindow(ctx, startMs, endMs)
	if err != nil {
		return nil, err
	}
	latest := make(map[int64]schema.Analysis, len(analyses))
	for _, a := range analyses {
		if existing, ok := latest[a.EntryID]; !ok || a.CapturedAt > existing.CapturedAt {
			latest[a.EntryID] = a
		}
	}
	return latest, nil
}

func (s *AggregationService) persistSummaryAnalysis(ctx context.Context, summaryEntry *schema.Entry, prior *schema.Analysis, reqCtx ai.RequestContext, body string) error {
	if prior == nil {
		analysis := schema.NewAnalysis(summaryEntry.ID, reqCtx.Provider, reqCtx.Model, body)
		return s.analysisRepo.Create(ctx, analysis)
	}
	prior.Provider = reqCtx.Provider
	prior.Model = reqCtx.Model
	prior.Body = body
	prior.CapturedAt = time.Now().UnixMilli()
	return s.analysisRepo.Update(ctx, prior)
}

// queryHistory 从长期记忆取相关历史总结片段（可选，失败只记日志）
func (s *AggregationService) queryHistory(ctx context.Context, date string) []string {
	if s.memory == nil {
		return nil
	}
	results, err := s.memory.Query(ctx, "饮食总结 "+date, 3)
	if err != nil {
		slog.Debug("查询历史记忆失败", "error", err)
		return nil
	}
	memories := make([]string, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Content) != "" {
			memories = append(memories, r.Content)
		}
	}
	return memories
}

func (s *AggregationService) indexSummary(ctx context.Context, date, body string) {
	if s.memory == nil {
		return
	}
	content := body
	if synth, err := ai.ParseDaySynthesis(body); err == nil && strings.TrimSpace(synth.Summary) != "" {
		content = synth.Summary
	}
	if err := s.memory.IndexDailySummary(ctx, date, content); err != nil {
		slog.Warn("索引总结记忆失败", "date", date, "error", err)
	}
}

func (s *AggregationService) acquire(summaryID int64) *summaryLock {
	s.mu.Lock()
	l, ok := s.locks[summaryID]
	if !ok {
		l = &summaryLock{}
		s.locks[summaryID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *AggregationService) release(summaryID int64, l *summaryLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, summaryID)
	}
	s.mu.Unlock()
}
