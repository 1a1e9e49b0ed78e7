package ai

import (
	"context"
	"fmt"
	"strings"
)

// Invoker 模型调用客户端：按请求上下文路由到具体提供商。
// 两个操作都可能因提供商/传输错误失败，由编排方捕获并转为通用失败结果。
type Invoker interface {
	InvokeAnalysis(ctx context.Context, reqCtx RequestContext, req *EntryAnalysisRequest) (*InvokeResult, error)
	InvokeDailySummary(ctx context.Context, reqCtx RequestContext, req *DailySummaryRequest) (*InvokeResult, error)
}

// chatter 聊天补全传输层（DeepSeek / OpenAI 共用）
type chatter interface {
	ChatWithOptions(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, Usage, error)
}

// Analyzer 健康事件分析器：构建提示词并调用所选提供商
type Analyzer struct {
	deepseekBaseURL string
	openaiBaseURL   string
}

// AnalyzerConfig 配置（仅传输层基址；凭证/模型来自每次调用的请求上下文）
type AnalyzerConfig struct {
	DeepSeekBaseURL string
	OpenAIBaseURL   string
}

// NewAnalyzer 创建分析器
func NewAnalyzer(cfg *AnalyzerConfig) *Analyzer {
	if cfg == nil {
		cfg = &AnalyzerConfig{}
	}
	return &Analyzer{
		deepseekBaseURL: cfg.DeepSeekBaseURL,
		openaiBaseURL:   cfg.OpenAIBaseURL,
	}
}

// transport 按请求上下文构建传输客户端。
// 每个工作单元独立持有自己的客户端实例，互不串扰。
func (a *Analyzer) transport(reqCtx RequestContext) (chatter, error) {
	switch reqCtx.Provider {
	case ProviderDeepSeek:
		return NewDeepSeekClient(&DeepSeekConfig{
			APIKey:  reqCtx.APIKey,
			BaseURL: a.deepseekBaseURL,
			Model:   reqCtx.Model,
		}), nil
	case ProviderOpenAI:
		return NewOpenAIClient(&OpenAIConfig{
			APIKey:  reqCtx.APIKey,
			BaseURL: a.openaiBaseURL,
			Model:   reqCtx.Model,
		}), nil
	default:
		return nil, fmt.Errorf("不支持的提供商: %s", reqCtx.Provider)
	}
}

// InvokeAnalysis 分析单条健康事件，返回统一结果文档
func (a *Analyzer) InvokeAnalysis(ctx context.Context, reqCtx RequestContext, req *EntryAnalysisRequest) (*InvokeResult, error) {
	client, err := a.transport(reqCtx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("分析以下一条健康记录，判别其类别并给出对应洞察。\n\n")
	if req.Category != "" && req.Category != "unclassified" {
		b.WriteString(fmt.Sprintf("当前类别: %s\n", req.Category))
	}
	if req.CapturedAtLocal != "" {
		b.WriteString(fmt.Sprintf("捕获时间（本地）: %s\n", req.CapturedAtLocal))
	}
	if req.Description != "" {
		b.WriteString(fmt.Sprintf("描述: %s\n", req.Description))
	}
	if req.AssetRef != "" {
		b.WriteString(fmt.Sprintf("关联资产: %s\n", req.AssetRef))
	}

	if req.PriorBody != "" {
		prior := req.PriorBody
		if len(prior) > 3000 {
			prior = prior[:3000] + "\n... (truncated)"
		}
		b.WriteString("\n既有分析结果（请在此基础上修订，而非重写）:\n")
		b.WriteString(prior)
		b.WriteString("\n")
	}
	if req.CorrectionText != "" {
		b.WriteString("\n用户纠正（必须优先采纳）:\n")
		b.WriteString(req.CorrectionText)
		b.WriteString("\n")
	}

	b.WriteString(`
请用 JSON 格式返回（不要 markdown 代码块），只填充与 detected_category 匹配的一个子结果:
{
  "detected_category": "meal|exercise|sleep|other",
  "meal": {"title": "...", "description": "...", "foods": ["..."], "calories": 0, "protein_grams": 0, "carbs_grams": 0, "fat_grams": 0, "confidence": "high|medium|low", "suggestions": "..."},
  "exercise": {"activity_type": "...", "duration_minutes": 0, "calories_burned": 0, "intensity": "...", "insight": "..."},
  "sleep": {"bed_time": "HH:MM", "wake_time": "HH:MM", "duration_minutes": 0, "quality": "...", "insight": "..."},
  "other": {"insight": "...", "tags": ["..."]}
}`)

	messages := []Message{
		{Role: "system", Content: "你是一个健康记录分析助手，擅长从饮食照片描述和运动/睡眠截图中提取结构化洞察。回复必须是纯 JSON，不要 markdown。"},
		{Role: "user", Content: b.String()},
	}

	response, usage, err := client.ChatWithOptions(ctx, messages, 0.2, 800)
	if err != nil {
		return nil, fmt.Errorf("分析调用失败: %w", err)
	}
	return &InvokeResult{Body: response, Usage: usage}, nil
}

// InvokeDailySummary 基于当日已完成饮食记录合成每日总结
func (a *Analyzer) InvokeDailySummary(ctx context.Context, reqCtx RequestContext, req *DailySummaryRequest) (*InvokeResult, error) {
	client, err := a.transport(reqCtx)
	if err != nil {
		return nil, err
	}

	var mealSummary strings.Builder
	meals := req.Meals
	// 控制 prompt 规模：只展开前 20 条
	if len(meals) > 20 {
		meals = meals[:20]
	}
	for _, m := range meals {
		desc := strings.TrimSpace(m.Description)
		if m.Insights != nil {
			line := m.Insights.Title
			if line == "" {
				line = m.Insights.Description
			}
			if line != "" {
				desc = line
			}
			mealSummary.WriteString(fmt.Sprintf("- [%s] %s（约 %d 千卡，蛋白 %.0fg / 碳水 %.0fg / 脂肪 %.0fg）\n",
				m.CapturedAtLocal, desc, m.Insights.Calories,
				m.Insights.ProteinGrams, m.Insights.CarbsGrams, m.Insights.FatGrams))
		} else {
			if desc == "" {
				desc = "（无描述，分析结果不可解析）"
			}
			mealSummary.WriteString(fmt.Sprintf("- [%s] %s\n", m.CapturedAtLocal, desc))
		}
	}

	var historySummary strings.Builder
	if len(req.HistoryMemories) > 0 {
		historySummary.WriteString("\n相关历史记忆（此前的饮食总结，可作为参考，不要编造）:\n")
		for _, mem := range req.HistoryMemories {
			historySummary.WriteString(fmt.Sprintf("- %s\n", mem))
		}
	}

	var priorSection string
	if req.PriorBody != "" {
		prior := req.PriorBody
		if len(prior) > 2000 {
			prior = prior[:2000] + "\n... (truncated)"
		}
		priorSection = "\n既有总结（请在其基础上修订，而非重写）:\n" + prior + "\n"
	}

	prompt := fmt.Sprintf(`根据以下当日饮食记录，生成一份每日饮食总结。
%s
日期: %s（时区: %s）
记录 %d 条（仅包含分析已完成的记录）:
%s
%s
请用 JSON 格式返回（不要 markdown 代码块）:
{
  "summary": "当日总结（2-6 句，引用具体食物/餐次，避免套话）",
  "meal_count": %d,
  "total_calories": 0,
  "nutrition_balance": "营养均衡评价（一段话）",
  "highlights": ["亮点（0-4 条）"],
  "suggestions": "明日建议（2-4 条可执行的小动作，用换行分隔）"
}`, historySummary.String(), req.Date, req.Timezone, len(req.Meals), mealSummary.String(), priorSection, len(req.Meals))

	messages := []Message{
		{Role: "system", Content: "你是一个健康饮食助手，帮助用户回顾每天的饮食并提供有建设性的反馈。回复必须是纯 JSON。"},
		{Role: "user", Content: prompt},
	}

	response, usage, err := client.ChatWithOptions(ctx, messages, 0.5, 1000)
	if err != nil {
		return nil, fmt.Errorf("生成总结失败: %w", err)
	}
	return &InvokeResult{Body: response, Usage: usage}, nil
}
