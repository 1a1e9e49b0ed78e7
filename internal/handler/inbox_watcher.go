package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linmu3/LifeMirror/internal/schema"
)

// CaptureSidecar 捕获流落到收件箱的 JSON 旁车文件。
// 外部捕获工具每产生一条记录就写一个 .json 文件，watcher 负责建条目并入队。
type CaptureSidecar struct {
	Category        string `json:"category"`
	Description     string `json:"description"`
	AssetRef        string `json:"asset_ref"`
	PreviewAssetRef string `json:"preview_asset_ref"`
	CapturedAt      int64  `json:"captured_at"` // Unix 毫秒，0 表示用当前时间
	TimezoneID      string `json:"timezone_id"`
	UTCOffsetMin    *int   `json:"utc_offset_min"`
}

// EntryCreator 建条目的最小仓储接口
type EntryCreator interface {
	Create(ctx context.Context, entry *schema.Entry) error
}

// Queuer 后台分析入队接口
type Queuer interface {
	Queue(entryID int64)
}

// InboxWatcher 捕获收件箱监控：发现旁车文件即创建待处理条目并排入分析
type InboxWatcher struct {
	watcher   *fsnotify.Watcher
	inboxDir  string
	defaultTZ string
	autoQueue bool
	entryRepo EntryCreator
	scheduler Queuer

	mu          sync.Mutex
	running     bool
	stopOnce    sync.Once
	stopChan    chan struct{}
	debounceMap map[string]time.Time
}

// InboxWatcherConfig 配置
type InboxWatcherConfig struct {
	InboxDir  string
	DefaultTZ string // 旁车未携带时区时的默认值（空则用系统本地）
	AutoQueue bool
}

// NewInboxWatcher 创建收件箱监控
func NewInboxWatcher(cfg *InboxWatcherConfig, entryRepo EntryCreator, scheduler Queuer) (*InboxWatcher, error) {
	if cfg == nil || cfg.InboxDir == "" {
		return nil, fmt.Errorf("收件箱目录未配置")
	}

	if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建收件箱目录失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}
	if err := watcher.Add(cfg.InboxDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("添加监控目录失败: %w", err)
	}

	return &InboxWatcher{
		watcher:     watcher,
		inboxDir:    cfg.InboxDir,
		defaultTZ:   cfg.DefaultTZ,
		autoQueue:   cfg.AutoQueue,
		entryRepo:   entryRepo,
		scheduler:   scheduler,
		stopChan:    make(chan struct{}),
		debounceMap: make(map[string]time.Time),
	}, nil
}

// Start 启动监控，并把已有的旁车文件先消化一遍
func (w *InboxWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()
	slog.Info("收件箱监控启动", "dir", w.inboxDir)

	// 启动前堆积的旁车
	if err := w.IngestExisting(ctx); err != nil {
		slog.Warn("消化存量旁车失败", "error", err)
	}

	go w.watchLoop(ctx)
	return nil
}

// Stop 停止监控
func (w *InboxWatcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		if !w.running {
			w.mu.Unlock()
			return
		}
		w.running = false
		w.mu.Unlock()

		close(w.stopChan)
		_ = w.watcher.Close()
		slog.Info("收件箱监控已停止")
	})
	return nil
}

// IngestExisting 处理目录内已存在的旁车文件
func (w *InboxWatcher) IngestExisting(ctx context.Context) error {
	files, err := os.ReadDir(w.inboxDir)
	if err != nil {
		return fmt.Errorf("读取收件箱目录失败: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !isSidecar(f.Name()) {
			continue
		}
		w.ingestFile(ctx, filepath.Join(w.inboxDir, f.Name()))
	}
	return nil
}

func (w *InboxWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("收件箱监控错误", "error", err)
		}
	}
}

func (w *InboxWatcher) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !isSidecar(event.Name) {
		return
	}

	// 防抖：Create 后常紧跟 Write
	w.mu.Lock()
	last, exists := w.debounceMap[event.Name]
	now := time.Now()
	if exists && now.Sub(last) < 2*time.Second {
		w.mu.Unlock()
		return
	}
	w.debounceMap[event.Name] = now
	w.mu.Unlock()

	w.ingestFile(ctx, event.Name)
}

// ingestFile 解析旁车并创建条目。处理完把旁车改名，避免重复消化。
func (w *InboxWatcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("读取旁车文件失败", "file", path, "error", err)
		return
	}

	var sidecar CaptureSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		slog.Warn("旁车文件格式错误", "file", path, "error", err)
		w.markIngested(path, ".rejected")
		return
	}

	entry, err := w.createEntry(ctx, &sidecar)
	if err != nil {
		slog.Error("创建条目失败", "file", path, "error", err)
		return
	}

	w.markIngested(path, ".ingested")
	slog.Info("收件箱条目已创建",
		"entry_id", entry.ID,
		"category", entry.Category,
		"correlation_id", entry.CorrelationID)

	if w.autoQueue && w.scheduler != nil {
		w.scheduler.Queue(entry.ID)
	}
}

func (w *InboxWatcher) createEntry(ctx context.Context, sidecar *CaptureSidecar) (*schema.Entry, error) {
	category := schema.CategoryUnclassified
	if parsed, ok := schema.ParseDetectedCategory(sidecar.Category); ok {
		category = parsed
	}

	entry := schema.NewEntry(category, sidecar.Description, sidecar.AssetRef)
	if sidecar.CapturedAt > 0 {
		entry.CapturedAt = sidecar.CapturedAt
	}
	if sidecar.TimezoneID != "" {
		entry.TimezoneID = sidecar.TimezoneID
	} else if w.defaultTZ != "" {
		entry.TimezoneID = w.defaultTZ
	}
	if sidecar.UTCOffsetMin != nil {
		entry.UTCOffsetMin = sidecar.UTCOffsetMin
	}
	if sidecar.PreviewAssetRef != "" && entry.Payload.Pending != nil {
		entry.Payload.Pending.PreviewAssetRef = sidecar.PreviewAssetRef
	}

	if err := w.entryRepo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (w *InboxWatcher) markIngested(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		slog.Warn("标记旁车文件失败", "file", path, "error", err)
	}
}

func isSidecar(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
