package schema

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Payload 条目负载：按类别区分的和类型。
// 同一时刻只允许一个分支非空，以 Entry.Category 为判别标签；
// 所有读取/转换点都必须对类别做穷尽匹配，不做运行时类型探测。
type Payload struct {
	Pending      *PendingPayload      `json:"pending,omitempty"`
	Meal         *MealPayload         `json:"meal,omitempty"`
	Exercise     *ExercisePayload     `json:"exercise,omitempty"`
	DailySummary *DailySummaryPayload `json:"daily_summary,omitempty"`
}

// PendingPayload 分类前的最小负载：原始描述 + 可选预览图引用
type PendingPayload struct {
	Description     string `json:"description"`
	PreviewAssetRef string `json:"preview_asset_ref,omitempty"`
}

// MealPayload 饮食负载
type MealPayload struct {
	Description     string `json:"description"`
	PreviewAssetRef string `json:"preview_asset_ref,omitempty"`
}

// ExercisePayload 运动负载（截图引用来自条目主资产）
type ExercisePayload struct {
	Description        string `json:"description"`
	PreviewAssetRef    string `json:"preview_asset_ref,omitempty"`
	ScreenshotAssetRef string `json:"screenshot_asset_ref,omitempty"`
}

// DailySummaryPayload 每日总结占位负载
type DailySummaryPayload struct {
	MealCount           int    `json:"meal_count"`
	GeneratedAt         int64  `json:"generated_at"`          // Unix 时间戳（毫秒）
	GeneratedAtTimezone string `json:"generated_at_timezone"` // 生成时使用的时区
}

// IsPending 是否仍是待分类负载
func (p Payload) IsPending() bool {
	return p.Pending != nil && p.Meal == nil && p.Exercise == nil && p.DailySummary == nil
}

// MatchesCategory 负载分支与类别是否一致。
// sleep/other 有意沿用待分类负载（增量建模，见 DESIGN.md）。
func (p Payload) MatchesCategory(c Category) bool {
	switch c {
	case CategoryMeal:
		return p.Meal != nil
	case CategoryExercise:
		return p.Exercise != nil
	case CategoryDailySummary:
		return p.DailySummary != nil
	case CategorySleep, CategoryOther, CategoryUnclassified:
		return p.Pending != nil
	default:
		return false
	}
}

// Description 返回负载中的描述文本（每日总结负载无描述）
func (p Payload) Description() string {
	switch {
	case p.Meal != nil:
		return p.Meal.Description
	case p.Exercise != nil:
		return p.Exercise.Description
	case p.Pending != nil:
		return p.Pending.Description
	default:
		return ""
	}
}

// Value 实现 driver.Valuer 接口
func (p Payload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan 实现 sql.Scanner 接口
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = Payload{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid type for Payload")
	}

	if len(bytes) == 0 {
		*p = Payload{}
		return nil
	}
	return json.Unmarshal(bytes, p)
}
