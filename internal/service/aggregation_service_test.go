package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/daywindow"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// ===== Mock Implementations for AggregationService =====

type fakeEntryRepoForAggregation struct {
	meals   []schema.Entry
	summary *schema.Entry

	gotStartMs  int64
	gotEndMs    int64
	gotCategory schema.Category
	gotStatus   schema.ProcessingStatus
	updates     []schema.Entry
	created     []*schema.Entry
}

func (f *fakeEntryRepoForAggregation) Create(ctx context.Context, entry *schema.Entry) error {
	entry.ID = int64(len(f.created) + 1000)
	f.created = append(f.created, entry)
	return nil
}
func (f *fakeEntryRepoForAggregation) Update(ctx context.Context, entry *schema.Entry) error {
	f.updates = append(f.updates, *entry)
	return nil
}
func (f *fakeEntryRepoForAggregation) GetByID(ctx context.Context, id int64) (*schema.Entry, error) {
	return nil, nil
}
func (f *fakeEntryRepoForAggregation) UpdateStatus(ctx context.Context, id int64, status schema.ProcessingStatus) error {
	return nil
}
func (f *fakeEntryRepoForAggregation) GetByWindow(ctx context.Context, startMs, endMs int64, category schema.Category, status schema.ProcessingStatus) ([]schema.Entry, error) {
	f.gotStartMs = startMs
	f.gotEndMs = endMs
	f.gotCategory = category
	f.gotStatus = status
	return f.meals, nil
}
func (f *fakeEntryRepoForAggregation) LatestSummaryInWindow(ctx context.Context, startMs, endMs int64) (*schema.Entry, error) {
	return f.summary, nil
}

func mealEntry(id int64, capturedAt int64, tz string, description string) schema.Entry {
	return schema.Entry{
		ID:         id,
		Category:   schema.CategoryMeal,
		CapturedAt: capturedAt,
		TimezoneID: tz,
		Status:     schema.StatusCompleted,
		Payload:    schema.Payload{Meal: &schema.MealPayload{Description: description}},
	}
}

func newSummaryEntry(t *testing.T, capturedAt int64, tz string) *schema.Entry {
	t.Helper()
	summary := schema.NewDailySummaryEntry(capturedAt, tz)
	summary.ID = 100
	return summary
}

func TestGenerateBuildsWindowFromEntryTimezone(t *testing.T) {
	// 2023-11-15 08:13 东京时间
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("加载时区失败: %v", err)
	}
	captured := time.Date(2023, 11, 15, 8, 13, 0, 0, tokyo).UnixMilli()

	entryRepo := &fakeEntryRepoForAggregation{}
	invoker := &fakeInvoker{summaryBody: `{"summary":"无记录","meal_count":0}`}
	s := NewAggregationService(entryRepo, &fakeAnalysisRepo{}, invoker, validSettings())

	res := s.Generate(context.Background(), newSummaryEntry(t, captured, "Asia/Tokyo"))
	if !res.Success {
		t.Fatalf("生成失败: %+v", res)
	}

	want := daywindow.ForMillis(captured, "Asia/Tokyo", nil)
	if entryRepo.gotStartMs != want.StartMs() || entryRepo.gotEndMs != want.EndMs() {
		t.Errorf("窗口 [%d,%d), 期望 [%d,%d)",
			entryRepo.gotStartMs, entryRepo.gotEndMs, want.StartMs(), want.EndMs())
	}
	if entryRepo.gotCategory != schema.CategoryMeal || entryRepo.gotStatus != schema.StatusCompleted {
		t.Errorf("应只选取已完成的饮食记录, 实际 category=%s status=%s",
			entryRepo.gotCategory, entryRepo.gotStatus)
	}
}

func TestGenerateIdempotentReplace(t *testing.T) {
	captured := time.Now().UnixMilli()
	meals := []schema.Entry{
		mealEntry(1, captured, "Asia/Shanghai", "早餐鸡蛋"),
		mealEntry(2, captured, "Asia/Shanghai", "午餐牛肉面"),
	}

	entryRepo := &fakeEntryRepoForAggregation{meals: meals}
	analysisRepo := &fakeAnalysisRepo{}
	invoker := &fakeInvoker{summaryBody: `{"summary":"今日两餐","meal_count":2,"total_calories":1500}`}
	s := NewAggregationService(entryRepo, analysisRepo, invoker, validSettings())

	summary := newSummaryEntry(t, captured, "Asia/Shanghai")
	if res := s.Generate(context.Background(), summary); !res.Success {
		t.Fatalf("首次生成失败: %+v", res)
	}
	if len(analysisRepo.created) != 1 {
		t.Fatalf("首次生成应新建分析, 实际 = %d", len(analysisRepo.created))
	}
	first := analysisRepo.created[0]
	firstCorrelation := first.CorrelationID

	// 第二次生成：原地覆盖，不新建
	analysisRepo.existing = first
	invoker.summaryBody = `{"summary":"今日两餐（修订）","meal_count":2,"total_calories":1480}`
	if res := s.Generate(context.Background(), summary); !res.Success {
		t.Fatalf("重新生成失败: %+v", res)
	}
	if len(analysisRepo.created) != 1 {
		t.Errorf("重新生成不应新建分析, 实际 = %d", len(analysisRepo.created))
	}
	if len(analysisRepo.updated) != 1 {
		t.Fatalf("重新生成应原地覆盖, 更新次数 = %d", len(analysisRepo.updated))
	}
	got := analysisRepo.updated[0]
	if got.ID != first.ID || got.CorrelationID != firstCorrelation {
		t.Error("覆盖必须保留分析 ID 与关联 ID")
	}

	// 总结条目自身负载被更新
	if len(entryRepo.updates) == 0 {
		t.Fatal("总结条目负载未更新")
	}
	last := entryRepo.updates[len(entryRepo.updates)-1]
	if last.Payload.DailySummary == nil {
		t.Fatal("总结条目应携带 DailySummaryPayload")
	}
	if last.Payload.DailySummary.MealCount != 2 {
		t.Errorf("MealCount = %d, 期望 2", last.Payload.DailySummary.MealCount)
	}
	if last.Payload.DailySummary.GeneratedAt == 0 {
		t.Error("GeneratedAt 未填充")
	}
}

func TestGeneratePassesPriorBodyForRevision(t *testing.T) {
	captured := time.Now().UnixMilli()
	prior := schema.NewAnalysis(100, "deepseek", "deepseek-chat", `{"summary":"旧总结","meal_count":1}`)
	prior.ID = 7

	analysisRepo := &fakeAnalysisRepo{existing: prior}
	invoker := &fakeInvoker{summaryBody: `{"summary":"新总结","meal_count":1}`}
	s := NewAggregationService(&fakeEntryRepoForAggregation{}, analysisRepo, invoker, validSettings())

	if res := s.Generate(context.Background(), newSummaryEntry(t, captured, "Asia/Shanghai")); !res.Success {
		t.Fatalf("生成失败: %+v", res)
	}
	if invoker.lastSummary == nil || invoker.lastSummary.PriorBody == "" {
		t.Error("重新生成应把既有总结带给模型修订")
	}
}

func TestGenerateLatestAnalysisPerEntry(t *testing.T) {
	captured := time.Now().UnixMilli()
	meals := []schema.Entry{mealEntry(1, captured, "Asia/Shanghai", "午餐")}

	old := schema.Analysis{ID: 1, EntryID: 1, CapturedAt: captured - 1000,
		Body: `{"detected_category":"meal","meal":{"title":"旧解析","calories":100}}`}
	newer := schema.Analysis{ID: 2, EntryID: 1, CapturedAt: captured,
		Body: `{"detected_category":"meal","meal":{"title":"新解析","calories":500}}`}

	analysisRepo := &fakeAnalysisRepo{inWindow: []schema.Analysis{old, newer}}
	invoker := &fakeInvoker{summaryBody: `{"summary":"ok","meal_count":1}`}
	s := NewAggregationService(&fakeEntryRepoForAggregation{meals: meals}, analysisRepo, invoker, validSettings())

	if res := s.Generate(context.Background(), newSummaryEntry(t, captured, "Asia/Shanghai")); !res.Success {
		t.Fatalf("生成失败: %+v", res)
	}
	if invoker.lastSummary == nil || len(invoker.lastSummary.Meals) != 1 {
		t.Fatal("饮食上下文缺失")
	}
	insights := invoker.lastSummary.Meals[0].Insights
	if insights == nil || insights.Title != "新解析" {
		t.Errorf("同一条目多条分析时应取最新一条, 实际 = %+v", insights)
	}
}

func TestGenerateMealInsightsAbsentOnParseFailure(t *testing.T) {
	captured := time.Now().UnixMilli()
	meals := []schema.Entry{mealEntry(1, captured, "Asia/Shanghai", "晚餐")}
	broken := schema.Analysis{ID: 1, EntryID: 1, CapturedAt: captured, Body: "not json"}

	invoker := &fakeInvoker{summaryBody: `{"summary":"ok","meal_count":1}`}
	s := NewAggregationService(&fakeEntryRepoForAggregation{meals: meals},
		&fakeAnalysisRepo{inWindow: []schema.Analysis{broken}}, invoker, validSettings())

	if res := s.Generate(context.Background(), newSummaryEntry(t, captured, "Asia/Shanghai")); !res.Success {
		t.Fatalf("生成失败: %+v", res)
	}
	mc := invoker.lastSummary.Meals[0]
	if mc.Insights != nil {
		t.Error("解析失败的分析不应提供洞察")
	}
	if mc.Description != "晚餐" {
		t.Errorf("描述未透传: %s", mc.Description)
	}
}

func TestGenerateRejectsNonSummaryEntry(t *testing.T) {
	s := NewAggregationService(&fakeEntryRepoForAggregation{}, &fakeAnalysisRepo{}, &fakeInvoker{}, validSettings())
	meal := mealEntry(1, time.Now().UnixMilli(), "", "午餐")
	if res := s.Generate(context.Background(), &meal); res.Success {
		t.Fatal("非总结条目不应进入聚合")
	}
}

func TestEnsureSummaryEntryReusesExisting(t *testing.T) {
	existing := newSummaryEntry(t, time.Now().UnixMilli(), "Asia/Shanghai")
	entryRepo := &fakeEntryRepoForAggregation{summary: existing}
	s := NewAggregationService(entryRepo, &fakeAnalysisRepo{}, &fakeInvoker{}, validSettings())

	got, err := s.EnsureSummaryEntry(context.Background(), "", "Asia/Shanghai")
	if err != nil {
		t.Fatalf("查找失败: %v", err)
	}
	if got.ID != existing.ID {
		t.Errorf("应复用已有总结条目, 实际 ID = %d", got.ID)
	}
	if len(entryRepo.created) != 0 {
		t.Error("已有总结条目时不应新建")
	}
}

func TestEnsureSummaryEntryCreatesForDate(t *testing.T) {
	entryRepo := &fakeEntryRepoForAggregation{}
	s := NewAggregationService(entryRepo, &fakeAnalysisRepo{}, &fakeInvoker{}, validSettings())

	got, err := s.EnsureSummaryEntry(context.Background(), "2023-11-15", "Asia/Tokyo")
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if got.Category != schema.CategoryDailySummary {
		t.Errorf("类别 = %s", got.Category)
	}
	if got.TimezoneID != "Asia/Tokyo" {
		t.Errorf("时区 = %s", got.TimezoneID)
	}
	if d := daywindow.LocalDate(got.CapturedAt, "Asia/Tokyo", nil); d != "2023-11-15" {
		t.Errorf("捕获时刻落在 %s, 期望 2023-11-15", d)
	}

	if _, err := s.EnsureSummaryEntry(context.Background(), "2023-11", "Asia/Tokyo"); err == nil {
		t.Error("非法日期格式应报错")
	}
}

func TestGenerateMissingCredentialsSkips(t *testing.T) {
	settings := fakeSettings{provider: ai.ProviderOpenAI, model: "gpt-4o-mini", apiKey: ""}
	s := NewAggregationService(&fakeEntryRepoForAggregation{}, &fakeAnalysisRepo{}, &fakeInvoker{}, settings)

	res := s.Generate(context.Background(), newSummaryEntry(t, time.Now().UnixMilli(), "Asia/Shanghai"))
	if res.Success || !res.RequiresCredentials {
		t.Errorf("缺少凭证应要求配置凭证: %+v", res)
	}
}

func TestGeneratePrunesSummaryLocks(t *testing.T) {
	entryRepo := &fakeEntryRepoForAggregation{}
	invoker := &fakeInvoker{summaryBody: `{"summary":"无记录","meal_count":0}`}
	s := NewAggregationService(entryRepo, &fakeAnalysisRepo{}, invoker, validSettings())

	for i := int64(0); i < 3; i++ {
		summary := newSummaryEntry(t, time.Now().UnixMilli(), "Asia/Shanghai")
		summary.ID = 200 + i
		if res := s.Generate(context.Background(), summary); !res.Success {
			t.Fatalf("生成失败: %+v", res)
		}
	}

	s.mu.Lock()
	n := len(s.locks)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("锁表残留 %d 个条目锁, 期望全部回收", n)
	}
}

func TestSummaryLockSerializesSameEntry(t *testing.T) {
	s := NewAggregationService(&fakeEntryRepoForAggregation{}, &fakeAnalysisRepo{}, &fakeInvoker{}, validSettings())

	l := s.acquire(7)

	var entered atomic.Bool
	done := make(chan struct{})
	go func() {
		l2 := s.acquire(7)
		entered.Store(true)
		s.release(7, l2)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if entered.Load() {
		t.Fatal("同一总结条目的并发获取未被串行化")
	}

	s.release(7, l)
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.locks) != 0 {
		t.Fatalf("最后一个持有者释放后锁表应为空, 实际 %d", len(s.locks))
	}
}
