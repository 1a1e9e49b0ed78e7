package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/linmu3/LifeMirror/internal/schema"
)

// Reconciler 分类与负载校正：根据模型检出的类别归一化条目类别，
// 并把待定负载转换为对应类别的具体负载形态。
type Reconciler struct {
	entryRepo EntryRepository
}

// NewReconciler 创建校正器
func NewReconciler(entryRepo EntryRepository) *Reconciler {
	return &Reconciler{entryRepo: entryRepo}
}

// Reconcile 对条目应用模型检出的类别。
// 未识别的类别只记日志，不落任何写入；类别未变且负载未转换时也不产生写入。
// 类别与负载的更新通过一次仓储调用落库。
func (r *Reconciler) Reconcile(ctx context.Context, entry *schema.Entry, detected string) (bool, error) {
	if entry == nil || entry.ID == 0 {
		return false, nil
	}

	categoryChanged := false
	detected = strings.TrimSpace(detected)
	if detected != "" {
		normalized, ok := schema.ParseDetectedCategory(detected)
		if !ok {
			slog.Warn("模型返回了无法归一化的类别，保持原分类", "entry_id", entry.ID, "detected", detected)
		} else if normalized != entry.Category {
			entry.Category = normalized
			categoryChanged = true
		}
	}

	converted := r.convertPendingPayload(entry)

	if !categoryChanged && !converted {
		return false, nil
	}

	if converted {
		entry.PayloadVer++
	}
	if err := r.entryRepo.Update(ctx, entry); err != nil {
		return false, err
	}
	slog.Info("条目分类已校正",
		"entry_id", entry.ID,
		"category", entry.Category,
		"category_changed", categoryChanged,
		"payload_converted", converted)
	return true, nil
}

// convertPendingPayload 把待定负载转换为当前类别的具体形态。
// sleep/other 暂无专用负载形态，保持待定负载不变。
func (r *Reconciler) convertPendingPayload(entry *schema.Entry) bool {
	if !entry.Payload.IsPending() {
		return false
	}
	pending := entry.Payload.Pending

	switch entry.Category {
	case schema.CategoryMeal:
		preview := pending.PreviewAssetRef
		if preview == "" {
			preview = entry.AssetRef
		}
		entry.Payload = schema.Payload{Meal: &schema.MealPayload{
			Description:     pending.Description,
			PreviewAssetRef: preview,
		}}
		return true
	case schema.CategoryExercise:
		screenshot := entry.AssetRef
		if screenshot == "" {
			screenshot = pending.PreviewAssetRef
		}
		entry.Payload = schema.Payload{Exercise: &schema.ExercisePayload{
			Description:        pending.Description,
			PreviewAssetRef:    pending.PreviewAssetRef,
			ScreenshotAssetRef: screenshot,
		}}
		return true
	case schema.CategorySleep, schema.CategoryOther, schema.CategoryUnclassified, schema.CategoryDailySummary:
		return false
	default:
		return false
	}
}
