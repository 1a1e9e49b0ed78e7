package repository

import (
	"context"
	"fmt"

	"github.com/linmu3/LifeMirror/internal/schema"
	"gorm.io/gorm"
)

// AnalysisRepository 分析结果仓储
type AnalysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository 创建分析仓储
func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Create 创建分析记录
func (r *AnalysisRepository) Create(ctx context.Context, analysis *schema.Analysis) error {
	if err := r.db.WithContext(ctx).Create(analysis).Error; err != nil {
		return fmt.Errorf("创建分析失败: %w", err)
	}
	return nil
}

// Update 按分析 ID 原地覆盖（纠正/重新生成时保留原 ID 与关联 ID）
func (r *AnalysisRepository) Update(ctx context.Context, analysis *schema.Analysis) error {
	if analysis.ID == 0 {
		return fmt.Errorf("分析 ID 不能为空")
	}
	if err := r.db.WithContext(ctx).Save(analysis).Error; err != nil {
		return fmt.Errorf("更新分析失败: %w", err)
	}
	return nil
}

// GetByEntryID 获取条目对应的单条分析，不存在时返回 (nil, nil)。
// 数据模型约定每条目至多一条存活分析；防御性地取最近生成的一条。
func (r *AnalysisRepository) GetByEntryID(ctx context.Context, entryID int64) (*schema.Analysis, error) {
	var analysis schema.Analysis
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("captured_at DESC").
		First(&analysis).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("查询分析失败: %w", err)
	}
	return &analysis, nil
}

// GetByWindow 查询生成时刻落在 [startMs, endMs) 内的分析，按生成时间升序
func (r *AnalysisRepository) GetByWindow(ctx context.Context, startMs, endMs int64) ([]schema.Analysis, error) {
	var analyses []schema.Analysis
	err := r.db.WithContext(ctx).
		Where("captured_at >= ? AND captured_at < ?", startMs, endMs).
		Order("captured_at ASC").
		Find(&analyses).Error
	if err != nil {
		return nil, fmt.Errorf("查询窗口内分析失败: %w", err)
	}
	return analyses, nil
}

// DeleteByEntryID 删除条目的全部分析（条目删除时的级联清理）
func (r *AnalysisRepository) DeleteByEntryID(ctx context.Context, entryID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Delete(&schema.Analysis{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除分析失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}
