package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnifiedResult 统一分析结果文档：模型判别出的类别 + 至多一个对应的子结果。
// 解析失败不是致命错误，原始结果文档照常落库。
type UnifiedResult struct {
	DetectedCategory string            `json:"detected_category"`
	Meal             *MealInsights     `json:"meal,omitempty"`
	Exercise         *ExerciseInsights `json:"exercise,omitempty"`
	Sleep            *SleepInsights    `json:"sleep,omitempty"`
	Other            *GeneralInsights  `json:"other,omitempty"`
}

// MealInsights 饮食洞察
type MealInsights struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Foods        []string `json:"foods"`
	Calories     int      `json:"calories"`
	ProteinGrams float64  `json:"protein_grams"`
	CarbsGrams   float64  `json:"carbs_grams"`
	FatGrams     float64  `json:"fat_grams"`
	Confidence   string   `json:"confidence"` // high/medium/low
	Suggestions  string   `json:"suggestions"`
}

// ExerciseInsights 运动洞察
type ExerciseInsights struct {
	ActivityType    string `json:"activity_type"`
	DurationMinutes int    `json:"duration_minutes"`
	CaloriesBurned  int    `json:"calories_burned"`
	Intensity       string `json:"intensity"`
	Insight         string `json:"insight"`
}

// SleepInsights 睡眠洞察
type SleepInsights struct {
	BedTime         string `json:"bed_time"`  // HH:MM
	WakeTime        string `json:"wake_time"` // HH:MM
	DurationMinutes int    `json:"duration_minutes"`
	Quality         string `json:"quality"`
	Insight         string `json:"insight"`
}

// GeneralInsights 其他类别的通用洞察
type GeneralInsights struct {
	Insight string   `json:"insight"`
	Tags    []string `json:"tags"`
}

// DaySynthesis 每日总结的合成结果
type DaySynthesis struct {
	Summary          string   `json:"summary"`
	MealCount        int      `json:"meal_count"`
	TotalCalories    int      `json:"total_calories"`
	NutritionBalance string   `json:"nutrition_balance"`
	Highlights       []string `json:"highlights"`
	Suggestions      string   `json:"suggestions"`
}

// ParseUnifiedResult 解析模型原始结果为统一分析文档
func ParseUnifiedResult(body string) (*UnifiedResult, error) {
	cleaned := cleanJSONResponse(body)
	if cleaned == "" {
		return nil, fmt.Errorf("结果为空")
	}
	var result UnifiedResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("解析统一结果失败: %w", err)
	}
	return &result, nil
}

// ParseDaySynthesis 解析每日总结结果
func ParseDaySynthesis(body string) (*DaySynthesis, error) {
	cleaned := cleanJSONResponse(body)
	if cleaned == "" {
		return nil, fmt.Errorf("结果为空")
	}
	var result DaySynthesis
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("解析总结失败: %w", err)
	}
	return &result, nil
}

// ValidationWarnings 校验统一结果的语义完整性。
// 仅用于诊断日志：警告不会阻断落库，也不会翻转处理结果。
func (r *UnifiedResult) ValidationWarnings() []string {
	var warns []string
	if r == nil {
		return warns
	}
	switch strings.ToLower(strings.TrimSpace(r.DetectedCategory)) {
	case "meal":
		if r.Meal == nil {
			warns = append(warns, "检测类别为 meal 但 meal 子结果缺失")
		}
	case "exercise":
		if r.Exercise == nil {
			warns = append(warns, "检测类别为 exercise 但 exercise 子结果缺失")
		}
	case "sleep":
		if r.Sleep == nil {
			warns = append(warns, "检测类别为 sleep 但 sleep 子结果缺失")
		}
	case "other":
		if r.Other == nil {
			warns = append(warns, "检测类别为 other 但 other 子结果缺失")
		}
	case "":
		warns = append(warns, "detected_category 缺失")
	default:
		warns = append(warns, fmt.Sprintf("未知检测类别: %s", r.DetectedCategory))
	}

	populated := 0
	for _, has := range []bool{r.Meal != nil, r.Exercise != nil, r.Sleep != nil, r.Other != nil} {
		if has {
			populated++
		}
	}
	if populated > 1 {
		warns = append(warns, fmt.Sprintf("子结果应至多一个，实际 %d 个", populated))
	}
	return warns
}

// cleanJSONResponse 清理 JSON 响应（移除 markdown 代码块和额外文本）
func cleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	// 移除 ```json ... ``` 或 ``` ... ```
	if strings.Contains(response, "```") {
		jsonStart := strings.Index(response, "```json")
		if jsonStart == -1 {
			jsonStart = strings.Index(response, "```")
		}
		if jsonStart != -1 {
			startIdx := strings.Index(response[jsonStart:], "\n")
			if startIdx != -1 {
				response = response[jsonStart+startIdx+1:]
			}
		}
		if endIdx := strings.LastIndex(response, "```"); endIdx != -1 {
			response = response[:endIdx]
		}
	}

	response = strings.TrimSpace(response)

	// 提取 JSON 对象（处理模型添加的前缀/后缀文字）
	if !strings.HasPrefix(response, "{") {
		if idx := strings.Index(response, "{"); idx != -1 {
			response = response[idx:]
		}
	}
	if !strings.HasSuffix(response, "}") {
		if idx := strings.LastIndex(response, "}"); idx != -1 {
			response = response[:idx+1]
		}
	}

	return strings.TrimSpace(response)
}
