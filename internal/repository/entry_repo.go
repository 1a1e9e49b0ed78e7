package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linmu3/LifeMirror/internal/schema"
	"gorm.io/gorm"
)

// EntryRepository 条目仓储
type EntryRepository struct {
	db *gorm.DB
}

// NewEntryRepository 创建条目仓储
func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Create 创建条目
func (r *EntryRepository) Create(ctx context.Context, entry *schema.Entry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("创建条目失败: %w", err)
	}
	return nil
}

// Update 全量覆盖条目（类别/负载/状态/时间戳一次写入）
func (r *EntryRepository) Update(ctx context.Context, entry *schema.Entry) error {
	if entry.ID == 0 {
		return fmt.Errorf("条目 ID 不能为空")
	}
	if err := r.db.WithContext(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("更新条目失败: %w", err)
	}
	return nil
}

// GetByID 按 ID 获取条目，不存在时返回 (nil, nil)
func (r *EntryRepository) GetByID(ctx context.Context, id int64) (*schema.Entry, error) {
	var entry schema.Entry
	err := r.db.WithContext(ctx).First(&entry, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("查询条目失败: %w", err)
	}
	return &entry, nil
}

// UpdateStatus 仅更新处理状态
func (r *EntryRepository) UpdateStatus(ctx context.Context, id int64, status schema.ProcessingStatus) error {
	result := r.db.WithContext(ctx).
		Model(&schema.Entry{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("更新条目状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		slog.Warn("更新状态未命中条目", "id", id, "status", status)
	}
	return nil
}

// GetByWindow 查询捕获时刻落在 [startMs, endMs) 内的条目，按捕获时间升序。
// category / status 传空值表示不过滤。
func (r *EntryRepository) GetByWindow(ctx context.Context, startMs, endMs int64, category schema.Category, status schema.ProcessingStatus) ([]schema.Entry, error) {
	query := r.db.WithContext(ctx).
		Where("captured_at >= ? AND captured_at < ?", startMs, endMs)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var entries []schema.Entry
	if err := query.Order("captured_at ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("查询窗口内条目失败: %w", err)
	}
	return entries, nil
}

// LatestSummaryInWindow 返回窗口内最近创建的每日总结条目，不存在时返回 (nil, nil)。
// 每日总结的唯一性由"该本地日最近一条 daily_summary"约定保证，而非硬键。
func (r *EntryRepository) LatestSummaryInWindow(ctx context.Context, startMs, endMs int64) (*schema.Entry, error) {
	var entry schema.Entry
	err := r.db.WithContext(ctx).
		Where("captured_at >= ? AND captured_at < ?", startMs, endMs).
		Where("category = ?", schema.CategoryDailySummary).
		Order("captured_at DESC").
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("查询每日总结条目失败: %w", err)
	}
	return &entry, nil
}

// ListRecent 最近创建的条目（CLI/本地 API 展示用）
func (r *EntryRepository) ListRecent(ctx context.Context, limit int) ([]schema.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []schema.Entry
	err := r.db.WithContext(ctx).
		Order("captured_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("查询最近条目失败: %w", err)
	}
	return entries, nil
}
