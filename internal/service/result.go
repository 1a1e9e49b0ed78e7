package service

import (
	"fmt"

	"github.com/linmu3/LifeMirror/internal/ai"
)

// Result 同步操作的调用结果（ProcessEntry / ProcessCorrection / Generate 共用）
type Result struct {
	Success             bool   `json:"success"`
	Message             string `json:"message,omitempty"`
	RequiresCredentials bool   `json:"requires_credentials,omitempty"`
}

func successResult(msg string) Result {
	return Result{Success: true, Message: msg}
}

func failureResult(msg string) Result {
	return Result{Success: false, Message: msg}
}

func credentialsResult(msg string) Result {
	return Result{Success: false, Message: msg, RequiresCredentials: true}
}

// resolveRequestContext 解析生效的提供商/模型/凭证配置。
// 三类配置错误：不支持的提供商、缺少模型 → 失败；缺少凭证 → 需要配置凭证（映射 Skipped）。
func resolveRequestContext(settings SettingsProvider) (ai.RequestContext, *Result) {
	provider := settings.ActiveProvider()
	if !ai.SupportedProvider(provider) {
		res := failureResult(fmt.Sprintf("暂不支持的提供商: %s", provider))
		return ai.RequestContext{}, &res
	}

	model := settings.Model(provider)
	if model == "" {
		model = ai.FallbackModel(provider)
	}
	if model == "" {
		res := failureResult(fmt.Sprintf("提供商 %s 未配置模型", provider))
		return ai.RequestContext{}, &res
	}

	apiKey := settings.APIKey(provider)
	if apiKey == "" {
		res := credentialsResult(fmt.Sprintf("提供商 %s 未配置 API Key，请先在设置中填写", provider))
		return ai.RequestContext{}, &res
	}

	return ai.RequestContext{Provider: provider, Model: model, APIKey: apiKey}, nil
}
