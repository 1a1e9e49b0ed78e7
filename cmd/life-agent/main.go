package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linmu3/LifeMirror/internal/bootstrap"
	"github.com/linmu3/LifeMirror/internal/handler"
	"github.com/linmu3/LifeMirror/internal/httpapi"
	"github.com/linmu3/LifeMirror/internal/pkg/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath, cfgErr := config.DefaultConfigPath()
	if cfgErr == nil {
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			_ = config.WriteFile(cfgPath, config.Default())
		}
	}

	core, err := bootstrap.NewCore(cfgPath)
	if err != nil {
		slog.Error("启动 Agent 失败", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	slog.Info("Life Agent 启动中...", "name", core.Cfg.App.Name, "version", core.Cfg.App.Version)

	// 收件箱监控：外部捕获进程投递旁车文件
	watcher, err := handler.NewInboxWatcher(&handler.InboxWatcherConfig{
		InboxDir:  core.Cfg.Capture.InboxDir,
		DefaultTZ: core.Cfg.Capture.DefaultTZ,
		AutoQueue: core.Cfg.Capture.AutoQueue,
	}, core.Repos.Entry, core.Services.Scheduler)
	if err != nil {
		slog.Error("创建收件箱监控失败", "error", err)
		os.Exit(1)
	}
	if err := watcher.Start(ctx); err != nil {
		slog.Error("启动收件箱监控失败", "error", err)
		os.Exit(1)
	}

	apiServer, err := httpapi.Start(ctx, core, httpapi.Options{ListenAddr: core.Cfg.Server.Addr})
	if err != nil {
		slog.Error("启动本地 API 失败", "error", err)
		os.Exit(1)
	}
	slog.Info("Life Agent 已启动", "api", apiServer.BaseURL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("收到系统退出信号，正在关闭...")

	cancel()
	_ = watcher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := core.Services.Scheduler.Shutdown(shutdownCtx); err != nil {
		slog.Warn("调度器未能在期限内排空", "error", err)
	}
	_ = apiServer.Shutdown(shutdownCtx)

	slog.Info("Life Agent 已退出")
}
