package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// ===== Mock Implementations for Orchestrator =====

type fakeSettings struct {
	provider string
	model    string
	apiKey   string
}

func (f fakeSettings) ActiveProvider() string        { return f.provider }
func (f fakeSettings) Model(provider string) string  { return f.model }
func (f fakeSettings) APIKey(provider string) string { return f.apiKey }

type fakeAnalysisRepo struct {
	existing *schema.Analysis
	created  []*schema.Analysis
	updated  []*schema.Analysis
	inWindow []schema.Analysis
}

func (f *fakeAnalysisRepo) Create(ctx context.Context, analysis *schema.Analysis) error {
	f.created = append(f.created, analysis)
	return nil
}
func (f *fakeAnalysisRepo) Update(ctx context.Context, analysis *schema.Analysis) error {
	f.updated = append(f.updated, analysis)
	return nil
}
func (f *fakeAnalysisRepo) GetByEntryID(ctx context.Context, entryID int64) (*schema.Analysis, error) {
	if f.existing != nil && f.existing.EntryID == entryID {
		return f.existing, nil
	}
	return nil, nil
}
func (f *fakeAnalysisRepo) GetByWindow(ctx context.Context, startMs, endMs int64) ([]schema.Analysis, error) {
	return f.inWindow, nil
}

type fakeInvoker struct {
	body        string
	err         error
	summaryBody string
	lastReq     *ai.EntryAnalysisRequest
	lastSummary *ai.DailySummaryRequest
	calls       int
}

func (f *fakeInvoker) InvokeAnalysis(ctx context.Context, reqCtx ai.RequestContext, req *ai.EntryAnalysisRequest) (*ai.InvokeResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ai.InvokeResult{Body: f.body}, nil
}

func (f *fakeInvoker) InvokeDailySummary(ctx context.Context, reqCtx ai.RequestContext, req *ai.DailySummaryRequest) (*ai.InvokeResult, error) {
	f.calls++
	f.lastSummary = req
	if f.err != nil {
		return nil, f.err
	}
	return &ai.InvokeResult{Body: f.summaryBody}, nil
}

func validSettings() fakeSettings {
	return fakeSettings{provider: ai.ProviderDeepSeek, model: "deepseek-chat", apiKey: "sk-test"}
}

func newTestOrchestrator(entryRepo EntryRepository, analysisRepo AnalysisRepository, invoker Invoker, settings SettingsProvider) *Orchestrator {
	agg := NewAggregationService(entryRepo, analysisRepo, invoker, settings)
	return NewOrchestrator(entryRepo, analysisRepo, invoker, settings, agg)
}

func TestProcessEntrySuccessReclassifies(t *testing.T) {
	entryRepo := &fakeEntryRepoForReconcile{}
	analysisRepo := &fakeAnalysisRepo{}
	invoker := &fakeInvoker{body: `{"detected_category":"meal","meal":{"title":"牛肉面","calories":650}}`}
	o := newTestOrchestrator(entryRepo, analysisRepo, invoker, validSettings())

	entry := pendingEntry(1, schema.CategoryUnclassified, "午餐", "", "photo.jpg")
	res := o.ProcessEntry(context.Background(), entry)
	if !res.Success {
		t.Fatalf("期望成功, 实际: %+v", res)
	}
	if entry.Category != schema.CategoryMeal {
		t.Errorf("类别应被校正为 meal, 实际 = %s", entry.Category)
	}
	if entry.Payload.Meal == nil {
		t.Error("待定负载应被转换")
	}
	if len(analysisRepo.created) != 1 {
		t.Fatalf("应新建一条分析, 实际 = %d", len(analysisRepo.created))
	}
	if analysisRepo.created[0].EntryID != 1 {
		t.Errorf("分析未关联条目: %d", analysisRepo.created[0].EntryID)
	}
	if analysisRepo.created[0].Body != invoker.body {
		t.Error("原始结果文档应原样落库")
	}
}

func TestProcessEntryMissingCredentials(t *testing.T) {
	entryRepo := &fakeEntryRepoForReconcile{}
	analysisRepo := &fakeAnalysisRepo{}
	invoker := &fakeInvoker{}
	settings := fakeSettings{provider: ai.ProviderDeepSeek, model: "deepseek-chat", apiKey: ""}
	o := newTestOrchestrator(entryRepo, analysisRepo, invoker, settings)

	res := o.ProcessEntry(context.Background(), pendingEntry(1, schema.CategoryMeal, "", "", ""))
	if res.Success {
		t.Fatal("缺少凭证不应成功")
	}
	if !res.RequiresCredentials {
		t.Error("缺少凭证应置 RequiresCredentials")
	}
	if invoker.calls != 0 {
		t.Error("缺少凭证时不应调用模型")
	}
}

func TestProcessEntryUnsupportedProvider(t *testing.T) {
	o := newTestOrchestrator(&fakeEntryRepoForReconcile{}, &fakeAnalysisRepo{}, &fakeInvoker{},
		fakeSettings{provider: "claude", model: "x", apiKey: "k"})

	res := o.ProcessEntry(context.Background(), pendingEntry(1, schema.CategoryMeal, "", "", ""))
	if res.Success || res.RequiresCredentials {
		t.Errorf("不支持的提供商应为普通失败: %+v", res)
	}
}

func TestProcessEntryModelFallback(t *testing.T) {
	invoker := &fakeInvoker{body: `{"detected_category":"other","other":{"insight":"x"}}`}
	settings := fakeSettings{provider: ai.ProviderDeepSeek, model: "", apiKey: "sk-test"}
	o := newTestOrchestrator(&fakeEntryRepoForReconcile{}, &fakeAnalysisRepo{}, invoker, settings)

	res := o.ProcessEntry(context.Background(), pendingEntry(1, schema.CategoryOther, "", "", ""))
	if !res.Success {
		t.Fatalf("未配置模型时应回退默认模型: %+v", res)
	}
}

func TestProcessEntryInvokeErrorFails(t *testing.T) {
	invoker := &fakeInvoker{err: fmt.Errorf("连接超时")}
	o := newTestOrchestrator(&fakeEntryRepoForReconcile{}, &fakeAnalysisRepo{}, invoker, validSettings())

	res := o.ProcessEntry(context.Background(), pendingEntry(1, schema.CategoryMeal, "", "", ""))
	if res.Success {
		t.Fatal("传输错误应转为失败结果")
	}
	if res.RequiresCredentials {
		t.Error("传输错误不应要求凭证")
	}
	if invoker.calls != 1 {
		t.Error("传输错误不应自动重试")
	}
}

func TestProcessEntryParseFailureNonFatal(t *testing.T) {
	entryRepo := &fakeEntryRepoForReconcile{}
	analysisRepo := &fakeAnalysisRepo{}
	invoker := &fakeInvoker{body: "抱歉，无法解析这张图片"}
	o := newTestOrchestrator(entryRepo, analysisRepo, invoker, validSettings())

	entry := pendingEntry(1, schema.CategoryUnclassified, "午餐", "", "")
	res := o.ProcessEntry(context.Background(), entry)
	if !res.Success {
		t.Fatalf("解析失败不致命, 实际: %+v", res)
	}
	if len(analysisRepo.created) != 1 || analysisRepo.created[0].Body != invoker.body {
		t.Error("原始文档应照样落库，不丢数据")
	}
	if entry.Category != schema.CategoryUnclassified {
		t.Error("解析失败时不应改变分类")
	}
}

func TestProcessCorrectionBlankText(t *testing.T) {
	o := newTestOrchestrator(&fakeEntryRepoForReconcile{}, &fakeAnalysisRepo{}, &fakeInvoker{}, validSettings())

	res := o.ProcessCorrection(context.Background(), pendingEntry(1, schema.CategoryMeal, "", "", ""), "   ")
	if res.Success {
		t.Fatal("空纠正文本应快速失败")
	}
}

func TestProcessCorrectionRejectsSummary(t *testing.T) {
	o := newTestOrchestrator(&fakeEntryRepoForReconcile{}, &fakeAnalysisRepo{}, &fakeInvoker{}, validSettings())

	summary := schema.NewDailySummaryEntry(1700000000000, "Asia/Shanghai")
	summary.ID = 9
	res := o.ProcessCorrection(context.Background(), summary, "改一下")
	if res.Success {
		t.Fatal("每日总结不支持纠正")
	}
}

func TestProcessCorrectionOverwritesInPlace(t *testing.T) {
	prior := schema.NewAnalysis(1, "deepseek", "deepseek-chat", `{"detected_category":"meal","meal":{"title":"旧结果"}}`)
	prior.ID = 42
	priorCorrelation := prior.CorrelationID

	entryRepo := &fakeEntryRepoForReconcile{}
	analysisRepo := &fakeAnalysisRepo{existing: prior}
	invoker := &fakeInvoker{body: `{"detected_category":"meal","meal":{"title":"新结果"}}`}
	o := newTestOrchestrator(entryRepo, analysisRepo, invoker, validSettings())

	entry := &schema.Entry{ID: 1, Category: schema.CategoryMeal,
		Payload: schema.Payload{Meal: &schema.MealPayload{Description: "午餐"}}}
	res := o.ProcessCorrection(context.Background(), entry, "这是牛肉面不是拉面")
	if !res.Success {
		t.Fatalf("纠正失败: %+v", res)
	}

	if invoker.lastReq == nil {
		t.Fatal("未调用模型")
	}
	if invoker.lastReq.PriorBody == "" {
		t.Error("纠正应携带既有分析原文")
	}
	if invoker.lastReq.CorrectionText != "这是牛肉面不是拉面" {
		t.Error("纠正文本未传递")
	}

	if len(analysisRepo.created) != 0 {
		t.Error("纠正不应新建分析记录")
	}
	if len(analysisRepo.updated) != 1 {
		t.Fatalf("纠正应原地覆盖, 更新次数 = %d", len(analysisRepo.updated))
	}
	got := analysisRepo.updated[0]
	if got.ID != 42 || got.CorrelationID != priorCorrelation {
		t.Error("覆盖必须保留分析 ID 与关联 ID")
	}
	if got.Body != invoker.body {
		t.Error("分析内容未更新")
	}
}

func TestProcessEntryRoutesSummaryToAggregation(t *testing.T) {
	entryRepo := &fakeEntryRepoForReconcile{}
	analysisRepo := &fakeAnalysisRepo{}
	invoker := &fakeInvoker{summaryBody: `{"summary":"今日共两餐","meal_count":2}`}
	o := newTestOrchestrator(entryRepo, analysisRepo, invoker, validSettings())

	summary := schema.NewDailySummaryEntry(1700000000000, "Asia/Shanghai")
	summary.ID = 10
	res := o.ProcessEntry(context.Background(), summary)
	if !res.Success {
		t.Fatalf("总结生成失败: %+v", res)
	}
	if invoker.lastSummary == nil {
		t.Fatal("daily_summary 条目应走聚合路径")
	}
	if invoker.lastReq != nil {
		t.Error("daily_summary 条目不应走单条分析路径")
	}
}
