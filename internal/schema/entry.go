package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category 条目类别（封闭集合）
// 分类完成前条目保持 unclassified，由模型检测结果归类。
type Category string

const (
	CategoryUnclassified Category = "unclassified"
	CategoryMeal         Category = "meal"
	CategoryExercise     Category = "exercise"
	CategorySleep        Category = "sleep"
	CategoryOther        Category = "other"
	CategoryDailySummary Category = "daily_summary"
)

// ParseDetectedCategory 将模型返回的类别字符串归一化到封闭集合。
// 无法识别的值返回 false，调用方不得擅自猜测类别。
func ParseDetectedCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "meal", "food", "饮食":
		return CategoryMeal, true
	case "exercise", "workout", "运动":
		return CategoryExercise, true
	case "sleep", "睡眠":
		return CategorySleep, true
	case "other", "其他":
		return CategoryOther, true
	case "unclassified":
		return CategoryUnclassified, true
	default:
		return "", false
	}
}

// ProcessingStatus 条目处理状态
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusSkipped    ProcessingStatus = "skipped"
)

// CanTransitionTo 判定状态迁移是否合法。
// completed 是唯一不可退出的终态；failed/skipped 允许用户重试回 pending；
// processing 可因取消静默回到 pending。
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		switch next {
		case StatusCompleted, StatusFailed, StatusSkipped, StatusPending:
			return true
		}
		return false
	case StatusFailed, StatusSkipped:
		return next == StatusPending
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// Terminal 是否为终态（pending 可再入队，不算终态）
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Entry 一条被捕获的健康事件（饮食照片、运动/睡眠截图），
// 或合成的每日总结占位条目。
// 数据量级：万级/年
type Entry struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	CorrelationID string           `gorm:"size:36;index" json:"correlation_id"`  // 对外可见关联 ID
	Category      Category         `gorm:"size:20;index" json:"category"`        // 类别（分类前为 unclassified）
	CapturedAt    int64            `gorm:"index" json:"captured_at"`             // 捕获时刻 Unix 时间戳（毫秒，UTC）
	TimezoneID    string           `gorm:"size:64" json:"timezone_id"`           // 捕获时所在时区 IANA ID（可空，旧数据无此字段）
	UTCOffsetMin  *int             `json:"utc_offset_min"`                       // 捕获时 UTC 偏移分钟数（可空）
	AssetRef      string           `gorm:"size:512" json:"asset_ref"`            // 外部资产引用（合成条目可空）
	Payload       Payload          `gorm:"type:text" json:"payload"`             // 按类别区分的结构化负载
	PayloadVer    int              `gorm:"default:1" json:"payload_ver"`         // 负载结构版本
	Status        ProcessingStatus `gorm:"size:16;index;default:pending" json:"status"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Entry) TableName() string {
	return "entries"
}

// NewEntry 创建待处理条目（携带待分类负载）
func NewEntry(category Category, description, assetRef string) *Entry {
	return &Entry{
		CorrelationID: uuid.NewString(),
		Category:      category,
		CapturedAt:    time.Now().UnixMilli(),
		TimezoneID:    localZoneID(),
		AssetRef:      assetRef,
		Payload: Payload{
			Pending: &PendingPayload{Description: description},
		},
		PayloadVer: 1,
		Status:     StatusPending,
	}
}

// NewDailySummaryEntry 创建每日总结占位条目
func NewDailySummaryEntry(capturedAt int64, timezoneID string) *Entry {
	return &Entry{
		CorrelationID: uuid.NewString(),
		Category:      CategoryDailySummary,
		CapturedAt:    capturedAt,
		TimezoneID:    timezoneID,
		Payload: Payload{
			DailySummary: &DailySummaryPayload{},
		},
		PayloadVer: 1,
		Status:     StatusPending,
	}
}

func localZoneID() string {
	name, _ := time.Now().Zone()
	loc := time.Local
	if loc != nil && loc.String() != "Local" {
		return loc.String()
	}
	return name
}
