package ai

import (
	"strings"
	"testing"
)

func TestParseUnifiedResultPlainJSON(t *testing.T) {
	body := `{"detected_category":"meal","meal":{"title":"牛肉面","foods":["牛肉","面条"],"calories":650,"confidence":"high"}}`

	r, err := ParseUnifiedResult(body)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if r.DetectedCategory != "meal" {
		t.Errorf("detected_category = %q, 期望 meal", r.DetectedCategory)
	}
	if r.Meal == nil || r.Meal.Title != "牛肉面" {
		t.Errorf("Meal 子结果不正确: %+v", r.Meal)
	}
	if r.Meal.Calories != 650 {
		t.Errorf("Calories = %d, 期望 650", r.Meal.Calories)
	}
}

func TestParseUnifiedResultStripsMarkdownFence(t *testing.T) {
	body := "```json\n{\"detected_category\":\"exercise\",\"exercise\":{\"activity_type\":\"跑步\",\"duration_minutes\":30}}\n```"

	r, err := ParseUnifiedResult(body)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if r.Exercise == nil || r.Exercise.ActivityType != "跑步" {
		t.Errorf("Exercise 子结果不正确: %+v", r.Exercise)
	}
}

func TestParseUnifiedResultInvalid(t *testing.T) {
	if _, err := ParseUnifiedResult("抱歉，我无法处理该请求"); err == nil {
		t.Error("非 JSON 响应应返回错误")
	}
}

func TestValidationWarnings(t *testing.T) {
	tests := []struct {
		name    string
		result  UnifiedResult
		substrs []string
	}{
		{
			name:   "类别与子结果一致时无告警",
			result: UnifiedResult{DetectedCategory: "meal", Meal: &MealInsights{Title: "早餐"}},
		},
		{
			name:    "类别缺少对应子结果",
			result:  UnifiedResult{DetectedCategory: "meal"},
			substrs: []string{"meal"},
		},
		{
			name: "多个子结果同时存在",
			result: UnifiedResult{
				DetectedCategory: "meal",
				Meal:             &MealInsights{},
				Exercise:         &ExerciseInsights{},
			},
			substrs: []string{"至多一个"},
		},
		{
			name:    "未知类别",
			result:  UnifiedResult{DetectedCategory: "vacation"},
			substrs: []string{"vacation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := tt.result.ValidationWarnings()
			if len(tt.substrs) == 0 {
				if len(warnings) != 0 {
					t.Errorf("期望无告警，实际: %v", warnings)
				}
				return
			}
			joined := strings.Join(warnings, "; ")
			for _, s := range tt.substrs {
				if !strings.Contains(joined, s) {
					t.Errorf("告警 %q 中缺少 %q", joined, s)
				}
			}
		})
	}
}

func TestParseDaySynthesis(t *testing.T) {
	body := `{"summary":"今天共三餐，蛋白质摄入充足。","meal_count":3,"total_calories":1800,"nutrition_balance":"较均衡","highlights":["早餐有鸡蛋"],"suggestions":"多喝水"}`

	s, err := ParseDaySynthesis(body)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if s.MealCount != 3 || s.TotalCalories != 1800 {
		t.Errorf("数值字段不正确: %+v", s)
	}
	if len(s.Highlights) != 1 {
		t.Errorf("highlights 长度 = %d, 期望 1", len(s.Highlights))
	}
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		if got := cleanJSONResponse(tt.in); got != tt.want {
			t.Errorf("cleanJSONResponse(%q) = %q, 期望 %q", tt.in, got, tt.want)
		}
	}
}

func TestSupportedProviderAndFallbackModel(t *testing.T) {
	if !SupportedProvider(ProviderDeepSeek) || !SupportedProvider(ProviderOpenAI) {
		t.Error("deepseek/openai 应为受支持的提供商")
	}
	if SupportedProvider("claude") {
		t.Error("未知提供商不应通过校验")
	}
	if FallbackModel(ProviderDeepSeek) != "deepseek-chat" {
		t.Errorf("deepseek 默认模型错误: %s", FallbackModel(ProviderDeepSeek))
	}
	if FallbackModel(ProviderOpenAI) == "" {
		t.Error("openai 默认模型不应为空")
	}
}
