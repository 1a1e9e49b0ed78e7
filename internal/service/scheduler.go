package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/linmu3/LifeMirror/internal/eventbus"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// EntryProcessor 条目处理入口（编排器实现）
type EntryProcessor interface {
	ProcessEntry(ctx context.Context, entry *schema.Entry) Result
}

// WorkUnit 一次分析工作单元的协作方集合。
// 每个单元持有自己独立的仓储实例，并发单元之间互不串扰。
type WorkUnit struct {
	EntryRepo EntryRepository
	Processor EntryProcessor
}

// UnitFactory 为每个工作单元构造独立协作方
type UnitFactory func() *WorkUnit

// DefaultWorkers 默认并发工作单元上限
const DefaultWorkers = 4

// Scheduler 后台分析调度器：Queue 立即返回，分析在独立的工作单元中进行。
// 单元内状态迁移严格串行；不同条目之间没有顺序保证。
type Scheduler struct {
	factory UnitFactory
	hub     *eventbus.Hub
	sem     chan struct{} // nil 表示不限并发

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc

	wg         sync.WaitGroup
	base       context.Context
	baseCancel context.CancelFunc
	closed     atomic.Bool
}

// NewScheduler 创建调度器。workers 为并发上限，0 表示不限。
func NewScheduler(factory UnitFactory, hub *eventbus.Hub, workers int) *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	var sem chan struct{}
	if workers > 0 {
		sem = make(chan struct{}, workers)
	}
	return &Scheduler{
		factory:    factory,
		hub:        hub,
		sem:        sem,
		cancels:    make(map[int64]context.CancelFunc),
		base:       base,
		baseCancel: cancel,
	}
}

// Queue 将条目排入后台分析，立即返回。
// 单元内的任何故障都不会传播到调用方，只能通过最终状态和状态通知观察到。
func (s *Scheduler) Queue(entryID int64) {
	if entryID <= 0 {
		return
	}
	if s.closed.Load() {
		slog.Warn("调度器已关闭，拒绝入队", "entry_id", entryID)
		return
	}

	unitCtx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	if _, inflight := s.cancels[entryID]; inflight {
		s.mu.Unlock()
		cancel()
		slog.Debug("条目已在处理中，忽略重复入队", "entry_id", entryID)
		return
	}
	s.cancels[entryID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(unitCtx, entryID)
}

// Cancel 协作式取消在途工作单元。取消只在远程调用前后的检查点被观察到。
func (s *Scheduler) Cancel(entryID int64) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[entryID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Shutdown 停止接收新任务并等待在途单元结束；ctx 超时后强制取消剩余单元。
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closed.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.baseCancel()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, entryID int64) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, entryID)
		s.mu.Unlock()
	}()

	// 等待并发槽位；等待期间被取消则不触碰状态直接退出
	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	// 状态写入与完成通知不受单元取消影响
	writeCtx := context.WithoutCancel(s.base)

	var unit *WorkUnit
	defer func() {
		if r := recover(); r != nil {
			slog.Error("工作单元发生未处理故障", "entry_id", entryID, "panic", r)
			// 工厂自身 panic 时条目尚未进入 processing，保持 pending 等待重试
			if unit != nil {
				s.setStatus(writeCtx, unit, entryID, schema.StatusFailed)
			}
		}
	}()

	unit = s.factory()

	entry, err := unit.EntryRepo.GetByID(ctx, entryID)
	if err != nil {
		slog.Error("加载条目失败", "entry_id", entryID, "error", err)
		s.setStatus(writeCtx, unit, entryID, schema.StatusFailed)
		return
	}
	if entry == nil {
		slog.Warn("条目不存在，忽略", "entry_id", entryID)
		return
	}
	if !entry.Status.CanTransitionTo(schema.StatusProcessing) {
		slog.Warn("条目状态不允许进入处理", "entry_id", entryID, "status", entry.Status)
		return
	}

	s.setStatus(writeCtx, unit, entryID, schema.StatusProcessing)
	// 内存中的条目同步进入 processing：处理过程中的全行写入
	// （分类校正、总结负载更新）不得把过期的 pending 覆盖回存储
	entry.Status = schema.StatusProcessing

	result := unit.Processor.ProcessEntry(ctx, entry)

	// 取消不是失败：状态静默回退 pending，等待重新入队
	if ctx.Err() != nil {
		s.setStatus(writeCtx, unit, entryID, schema.StatusPending)
		return
	}

	final := schema.StatusFailed
	switch {
	case result.Success:
		final = schema.StatusCompleted
	case result.RequiresCredentials:
		final = schema.StatusSkipped
	}
	if !result.Success {
		slog.Warn("条目分析未成功", "entry_id", entryID, "status", final, "message", result.Message)
	}
	s.setStatus(writeCtx, unit, entryID, final)
}

func (s *Scheduler) setStatus(ctx context.Context, unit *WorkUnit, entryID int64, status schema.ProcessingStatus) {
	if err := unit.EntryRepo.UpdateStatus(ctx, entryID, status); err != nil {
		slog.Error("更新条目状态失败", "entry_id", entryID, "status", status, "error", err)
		return
	}
	if s.hub != nil {
		s.hub.Publish(eventbus.StatusEvent(entryID, status))
	}
}
