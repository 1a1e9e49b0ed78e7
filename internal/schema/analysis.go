package schema

import (
	"time"

	"github.com/google/uuid"
)

// Analysis 一次模型调用产出的分析结果，归属于某个条目。
// 当前设计每个条目至多保留一条存活分析：纠正/重新生成时原地覆盖，不做版本化。
type Analysis struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID       int64     `gorm:"index" json:"entry_id"`
	CorrelationID string    `gorm:"size:36" json:"correlation_id"`
	Provider      string    `gorm:"size:32" json:"provider"`
	Model         string    `gorm:"size:64" json:"model"`
	CapturedAt    int64     `gorm:"index" json:"captured_at"`      // 生成时刻 Unix 时间戳（毫秒）
	Body          string    `gorm:"type:text" json:"body"`         // 模型原始结果文档（解析失败也原样保留）
	InsightsVer   int       `gorm:"default:1" json:"insights_ver"` // 结构化洞察文档版本
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Analysis) TableName() string {
	return "analyses"
}

// NewAnalysis 创建分析记录
func NewAnalysis(entryID int64, provider, model, body string) *Analysis {
	return &Analysis{
		EntryID:       entryID,
		CorrelationID: uuid.NewString(),
		Provider:      provider,
		Model:         model,
		CapturedAt:    time.Now().UnixMilli(),
		Body:          body,
		InsightsVer:   1,
	}
}
