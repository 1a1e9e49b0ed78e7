package ai

// 提供商标识（封闭集合，配置中引用）
const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
)

// SupportedProvider 判断提供商是否受支持
func SupportedProvider(p string) bool {
	return p == ProviderDeepSeek || p == ProviderOpenAI
}

// FallbackModel 提供商未配置模型偏好时的兜底模型
func FallbackModel(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "deepseek-chat"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return ""
	}
}

// RequestContext 一次模型调用的解析后配置（提供商/模型/凭证）
type RequestContext struct {
	Provider string
	Model    string
	APIKey   string
}

// Message 聊天消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage 用量诊断信息
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InvokeResult 模型调用结果：原始结果文档 + 用量
type InvokeResult struct {
	Body  string
	Usage Usage
}

// EntryAnalysisRequest 单条目分析请求。
// PriorBody / CorrectionText 仅在纠正或重新生成时携带。
type EntryAnalysisRequest struct {
	Category        string // 当前类别（unclassified 表示待模型判别）
	Description     string // 用户/捕获流提供的原始描述
	AssetRef        string // 外部资产引用（仅作为上下文提示）
	CapturedAtLocal string // 捕获时刻的本地表示
	PriorBody       string // 既有分析原始结果（可空）
	CorrectionText  string // 用户纠正文本（可空）
}

// MealContext 每日总结中一条饮食记录的上下文
type MealContext struct {
	EntryID         int64
	CapturedAtUTC   string
	CapturedAtLocal string
	TimezoneID      string
	Description     string
	Insights        *MealInsights // 解析失败时为空
}

// DailySummaryRequest 每日总结请求
type DailySummaryRequest struct {
	Date            string // 本地日（YYYY-MM-DD）
	Timezone        string
	Meals           []MealContext
	PriorBody       string   // 既有总结原始结果，供模型修订而非重写（可空）
	HistoryMemories []string // 相关历史记忆（来自记忆服务，可空）
}
