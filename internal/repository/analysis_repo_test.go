package repository

import (
	"context"
	"testing"
	"time"

	"github.com/linmu3/LifeMirror/internal/schema"
	"github.com/linmu3/LifeMirror/internal/testutil"
)

func TestAnalysisRepositoryCreateAndGetByEntryID(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	a := schema.NewAnalysis(42, "deepseek", "deepseek-chat", `{"detected_category":"meal"}`)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.GetByEntryID(ctx, 42)
	if err != nil {
		t.Fatalf("GetByEntryID error: %v", err)
	}
	if got == nil || got.Provider != "deepseek" {
		t.Fatalf("got=%+v", got)
	}

	missing, err := repo.GetByEntryID(ctx, 7)
	if err != nil || missing != nil {
		t.Fatalf("missing=(%+v, %v), want (nil, nil)", missing, err)
	}
}

func TestAnalysisRepositoryUpdateInPlace(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	a := schema.NewAnalysis(1, "deepseek", "deepseek-chat", "v1")
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	origID, origCorr := a.ID, a.CorrelationID

	a.Body = "v2"
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	got, _ := repo.GetByEntryID(ctx, 1)
	if got.ID != origID || got.CorrelationID != origCorr {
		t.Fatalf("原地覆盖应保留 ID 与关联 ID: got=%+v", got)
	}
	if got.Body != "v2" {
		t.Fatalf("body=%q, want v2", got.Body)
	}

	var count int64
	db.Model(&schema.Analysis{}).Where("entry_id = ?", 1).Count(&count)
	if count != 1 {
		t.Fatalf("count=%d, want 1（覆盖不应产生重复记录）", count)
	}
}

func TestAnalysisRepositoryGetByEntryIDPicksLatest(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	old := schema.NewAnalysis(5, "deepseek", "deepseek-chat", "old")
	old.CapturedAt = time.Now().Add(-time.Hour).UnixMilli()
	latest := schema.NewAnalysis(5, "deepseek", "deepseek-chat", "new")
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := repo.Create(ctx, latest); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.GetByEntryID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByEntryID error: %v", err)
	}
	if got.Body != "new" {
		t.Fatalf("body=%q, want new（防御性取最近一条）", got.Body)
	}
}

func TestAnalysisRepositoryGetByWindow(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	in := schema.NewAnalysis(1, "deepseek", "deepseek-chat", "in")
	in.CapturedAt = base + 60_000
	out := schema.NewAnalysis(2, "deepseek", "deepseek-chat", "out")
	out.CapturedAt = base + 25*60*60_000
	if err := repo.Create(ctx, in); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := repo.Create(ctx, out); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.GetByWindow(ctx, base, base+24*60*60_000)
	if err != nil {
		t.Fatalf("GetByWindow error: %v", err)
	}
	if len(got) != 1 || got[0].Body != "in" {
		t.Fatalf("got=%+v, want 仅窗口内一条", got)
	}
}

func TestAnalysisRepositoryDeleteByEntryID(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewAnalysisRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, schema.NewAnalysis(9, "deepseek", "deepseek-chat", "x")); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	n, err := repo.DeleteByEntryID(ctx, 9)
	if err != nil || n != 1 {
		t.Fatalf("DeleteByEntryID=(%d, %v), want (1, nil)", n, err)
	}
	got, _ := repo.GetByEntryID(ctx, 9)
	if got != nil {
		t.Fatalf("删除后不应再查得分析")
	}
}
