package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linmu3/LifeMirror/internal/ai"
	"github.com/linmu3/LifeMirror/internal/daywindow"
	"github.com/linmu3/LifeMirror/internal/pkg/config"
	"github.com/linmu3/LifeMirror/internal/repository"
	"github.com/linmu3/LifeMirror/internal/schema"
	"github.com/linmu3/LifeMirror/internal/service"
)

var (
	cfgFile string
	cfg     *config.Config
	db      *repository.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "life",
		Short: "LifeMirror - 个人健康事件记录与 AI 分析",
		Long:  `LifeMirror 在本地记录饮食、运动、睡眠等健康事件，调用大模型逐条分析并合成每日总结。`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				slog.Error("加载配置失败", "error", err)
				os.Exit(1)
			}
			config.SetupLogger(cfg.App.LogLevel)

			db, err = repository.NewDatabase(cfg.Storage.DBPath)
			if err != nil {
				slog.Error("初始化数据库失败", "error", err)
				os.Exit(1)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if db != nil {
				db.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(correctCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(queryCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildServices 装配分析链路（编排器 + 聚合服务 + 可选记忆）
func buildServices() (*service.Orchestrator, *service.AggregationService, *service.MemoryService) {
	entryRepo := repository.NewEntryRepository(db.DB)
	analysisRepo := repository.NewAnalysisRepository(db.DB)

	analyzer := ai.NewAnalyzer(&ai.AnalyzerConfig{
		DeepSeekBaseURL: cfg.AI.DeepSeek.BaseURL,
		OpenAIBaseURL:   cfg.AI.OpenAI.BaseURL,
	})

	aggregation := service.NewAggregationService(entryRepo, analysisRepo, analyzer, &cfg.AI)
	orchestrator := service.NewOrchestrator(entryRepo, analysisRepo, analyzer, &cfg.AI, aggregation)

	var memory *service.MemoryService
	if cfg.Memory.Enabled {
		embeddings := ai.NewEmbeddingsClient(&ai.EmbeddingsConfig{
			APIKey:  cfg.AI.Embeddings.APIKey,
			BaseURL: cfg.AI.Embeddings.BaseURL,
			Model:   cfg.AI.Embeddings.Model,
		})
		if embeddings.IsConfigured() {
			var err error
			memory, err = service.NewMemoryService(embeddings, &service.MemoryConfig{
				StoragePath: cfg.Memory.StoragePath,
			})
			if err != nil {
				fmt.Printf("⚠️  长期记忆不可用: %v\n", err)
			} else {
				orchestrator.SetMemory(memory)
				aggregation.SetMemory(memory)
			}
		}
	}

	return orchestrator, aggregation, memory
}

// processOne 同步处理一条条目，按结果落地状态（与后台调度器同一套状态机）
func processOne(ctx context.Context, entryRepo *repository.EntryRepository, orchestrator *service.Orchestrator, entry *schema.Entry) {
	if !entry.Status.CanTransitionTo(schema.StatusProcessing) {
		fmt.Printf("⚠️  条目 %d 当前状态 %s 不可处理\n", entry.ID, entry.Status)
		return
	}
	if err := entryRepo.UpdateStatus(ctx, entry.ID, schema.StatusProcessing); err != nil {
		fmt.Printf("❌ 更新状态失败: %v\n", err)
		return
	}
	// 处理中的全行写入（分类校正等）不得带着过期状态落库
	entry.Status = schema.StatusProcessing

	res := orchestrator.ProcessEntry(ctx, entry)

	final := schema.StatusFailed
	switch {
	case res.Success:
		final = schema.StatusCompleted
	case res.RequiresCredentials:
		final = schema.StatusSkipped
	}
	if err := entryRepo.UpdateStatus(ctx, entry.ID, final); err != nil {
		fmt.Printf("❌ 更新状态失败: %v\n", err)
		return
	}

	switch final {
	case schema.StatusCompleted:
		fmt.Printf("✅ 条目 %d 分析完成\n", entry.ID)
	case schema.StatusSkipped:
		fmt.Printf("⚠️  条目 %d 已跳过: %s\n", entry.ID, res.Message)
	default:
		fmt.Printf("❌ 条目 %d 分析失败: %s\n", entry.ID, res.Message)
	}
}

// ingestCmd 手工录入一条健康事件
func ingestCmd() *cobra.Command {
	var category string
	var asset string
	var analyze bool

	cmd := &cobra.Command{
		Use:   "ingest [描述]",
		Short: "录入一条健康事件（饮食/运动/睡眠）",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			description := strings.Join(args, " ")

			cat, ok := schema.ParseDetectedCategory(category)
			if !ok {
				cat = schema.CategoryUnclassified
			}

			entry := schema.NewEntry(cat, description, asset)
			entryRepo := repository.NewEntryRepository(db.DB)
			if err := entryRepo.Create(ctx, entry); err != nil {
				fmt.Printf("❌ 录入失败: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✅ 已录入条目 %d (类别: %s)\n", entry.ID, entry.Category)

			if analyze {
				orchestrator, _, memory := buildServices()
				if memory != nil {
					defer memory.Close()
				}
				processOne(ctx, entryRepo, orchestrator, entry)
			}
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "类别 (meal/exercise/sleep/other，留空为未分类)")
	cmd.Flags().StringVar(&asset, "asset", "", "资产引用（照片/截图路径）")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "录入后立即分析")

	return cmd
}

// analyzeCmd 分析待处理条目
func analyzeCmd() *cobra.Command {
	var limit int
	var id int64

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "分析待处理的条目",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			entryRepo := repository.NewEntryRepository(db.DB)
			orchestrator, _, memory := buildServices()
			if memory != nil {
				defer memory.Close()
			}

			if id > 0 {
				entry, err := entryRepo.GetByID(ctx, id)
				if err != nil || entry == nil {
					fmt.Printf("❌ 条目 %d 不存在\n", id)
					os.Exit(1)
				}
				processOne(ctx, entryRepo, orchestrator, entry)
				return
			}

			entries, err := entryRepo.ListRecent(ctx, limit)
			if err != nil {
				fmt.Printf("❌ 查询条目失败: %v\n", err)
				os.Exit(1)
			}

			pending := 0
			for i := range entries {
				if entries[i].Status != schema.StatusPending {
					continue
				}
				pending++
				processOne(ctx, entryRepo, orchestrator, &entries[i])
			}
			if pending == 0 {
				fmt.Println("📚 没有待处理的条目")
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最大处理数量")
	cmd.Flags().Int64Var(&id, "id", 0, "只处理指定条目")

	return cmd
}

// retryCmd 重试失败/跳过的条目
func retryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [条目ID]",
		Short: "重试失败或跳过的条目",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				fmt.Println("❌ 条目 ID 无效")
				os.Exit(1)
			}

			entryRepo := repository.NewEntryRepository(db.DB)
			entry, err := entryRepo.GetByID(ctx, id)
			if err != nil || entry == nil {
				fmt.Printf("❌ 条目 %d 不存在\n", id)
				os.Exit(1)
			}
			if !entry.Status.CanTransitionTo(schema.StatusPending) {
				fmt.Printf("⚠️  条目 %d 当前状态 %s 不允许重试\n", id, entry.Status)
				os.Exit(1)
			}
			if err := entryRepo.UpdateStatus(ctx, id, schema.StatusPending); err != nil {
				fmt.Printf("❌ 重置状态失败: %v\n", err)
				os.Exit(1)
			}
			entry.Status = schema.StatusPending

			orchestrator, _, memory := buildServices()
			if memory != nil {
				defer memory.Close()
			}
			processOne(ctx, entryRepo, orchestrator, entry)
		},
	}

	return cmd
}

// correctCmd 对已有分析提交用户纠正
func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct [条目ID] [纠正文本]",
		Short: "纠正一条已有的分析结果",
		Long:  "用户纠正文本会连同既有分析一并送回模型，在原分析记录上修订。",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				fmt.Println("❌ 条目 ID 无效")
				os.Exit(1)
			}
			correction := strings.Join(args[1:], " ")

			entryRepo := repository.NewEntryRepository(db.DB)
			entry, err := entryRepo.GetByID(ctx, id)
			if err != nil || entry == nil {
				fmt.Printf("❌ 条目 %d 不存在\n", id)
				os.Exit(1)
			}

			orchestrator, _, memory := buildServices()
			if memory != nil {
				defer memory.Close()
			}

			res := orchestrator.ProcessCorrection(ctx, entry, correction)
			if !res.Success {
				fmt.Printf("❌ 纠正失败: %s\n", res.Message)
				os.Exit(1)
			}
			fmt.Printf("✅ 条目 %d 的分析已按纠正修订\n", id)
		},
	}

	return cmd
}

// reportCmd 生成每日总结
func reportCmd() *cobra.Command {
	var date string
	var tz string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "生成每日总结",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			entryRepo := repository.NewEntryRepository(db.DB)
			analysisRepo := repository.NewAnalysisRepository(db.DB)
			_, aggregation, memory := buildServices()
			if memory != nil {
				defer memory.Close()
			}

			summaryEntry, err := aggregation.EnsureSummaryEntry(ctx, date, tz)
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				os.Exit(1)
			}
			localDate := daywindow.LocalDate(summaryEntry.CapturedAt, summaryEntry.TimezoneID, summaryEntry.UTCOffsetMin)
			fmt.Printf("📊 正在生成 %s 的总结...\n\n", localDate)

			res := aggregation.Generate(ctx, summaryEntry)
			if !res.Success {
				if res.RequiresCredentials {
					fmt.Printf("⚠️  凭证未配置: %s\n", res.Message)
					fmt.Println("   请设置环境变量或在 config.yaml 中配置 api_key")
				} else {
					fmt.Printf("❌ 生成总结失败: %s\n", res.Message)
				}
				os.Exit(1)
			}
			// 同步路径不经调度器，状态由这里落地
			if summaryEntry.Status.CanTransitionTo(schema.StatusProcessing) {
				_ = entryRepo.UpdateStatus(ctx, summaryEntry.ID, schema.StatusProcessing)
				_ = entryRepo.UpdateStatus(ctx, summaryEntry.ID, schema.StatusCompleted)
			}

			analysis, err := analysisRepo.GetByEntryID(ctx, summaryEntry.ID)
			if err != nil || analysis == nil {
				fmt.Println("✅ 总结已生成")
				return
			}
			printDaySynthesis(localDate, analysis.Body)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "指定日期 (YYYY-MM-DD，留空为今天)")
	cmd.Flags().StringVar(&tz, "tz", "", "时区 IANA ID（留空用系统本地）")

	return cmd
}

// printDaySynthesis 渲染总结内容（解析失败时原样输出）
func printDaySynthesis(date, body string) {
	fmt.Printf("📅 %s 每日总结\n", date)
	fmt.Println("═══════════════════════════════════════")

	synth, err := ai.ParseDaySynthesis(body)
	if err != nil {
		fmt.Printf("\n%s\n", body)
		fmt.Println("\n═══════════════════════════════════════")
		return
	}

	fmt.Printf("\n📝 总结\n%s\n", synth.Summary)
	fmt.Printf("\n📊 统计\n")
	fmt.Printf("  • 饮食记录: %d 条\n", synth.MealCount)
	if synth.TotalCalories > 0 {
		fmt.Printf("  • 估算热量: %d 千卡\n", synth.TotalCalories)
	}
	if synth.NutritionBalance != "" {
		fmt.Printf("\n🥗 营养均衡\n%s\n", synth.NutritionBalance)
	}
	if len(synth.Highlights) > 0 {
		fmt.Printf("\n🌟 亮点\n")
		for _, h := range synth.Highlights {
			fmt.Printf("  • %s\n", h)
		}
	}
	if synth.Suggestions != "" {
		fmt.Printf("\n💡 建议\n%s\n", synth.Suggestions)
	}
	fmt.Println("\n═══════════════════════════════════════")
}

// statusCmd 查看最近条目
func statusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "查看最近条目及处理状态",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			entryRepo := repository.NewEntryRepository(db.DB)
			entries, err := entryRepo.ListRecent(ctx, limit)
			if err != nil {
				fmt.Printf("❌ 查询失败: %v\n", err)
				os.Exit(1)
			}
			if len(entries) == 0 {
				fmt.Println("📚 还没有条目记录")
				return
			}

			statusIcons := map[schema.ProcessingStatus]string{
				schema.StatusPending:    "⏳",
				schema.StatusProcessing: "🔄",
				schema.StatusCompleted:  "✅",
				schema.StatusFailed:     "❌",
				schema.StatusSkipped:    "⚠️",
			}

			fmt.Printf("📋 最近 %d 条记录\n", len(entries))
			fmt.Println("═══════════════════════════════════════")
			for _, e := range entries {
				icon := statusIcons[e.Status]
				localDate := daywindow.LocalDate(e.CapturedAt, e.TimezoneID, e.UTCOffsetMin)
				fmt.Printf("  %s [%d] %s %s (%s)\n", icon, e.ID, localDate, e.Category, e.Status)
			}
			fmt.Println("═══════════════════════════════════════")
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "显示条数")

	return cmd
}

// queryCmd 语义检索历史记忆
func queryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query [问题]",
		Short: "查询历史健康记忆 (语义检索)",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			query := strings.Join(args, " ")

			embeddings := ai.NewEmbeddingsClient(&ai.EmbeddingsConfig{
				APIKey:  cfg.AI.Embeddings.APIKey,
				BaseURL: cfg.AI.Embeddings.BaseURL,
				Model:   cfg.AI.Embeddings.Model,
			})
			if !embeddings.IsConfigured() {
				fmt.Println("❌ 嵌入服务未配置，无法使用语义检索")
				fmt.Println("   请在 config.yaml 中配置 ai.embeddings.api_key")
				return
			}

			memory, err := service.NewMemoryService(embeddings, &service.MemoryConfig{
				StoragePath: cfg.Memory.StoragePath,
			})
			if err != nil {
				fmt.Printf("❌ 初始化记忆服务失败: %v\n", err)
				return
			}
			defer memory.Close()

			fmt.Printf("\n🔍 搜索: %s\n\n", query)

			results, err := memory.Query(ctx, query, topK)
			if err != nil {
				fmt.Printf("❌ 查询失败: %v\n", err)
				return
			}
			if len(results) == 0 {
				fmt.Println("未找到相关记忆，分析和总结完成后会自动建立索引")
				return
			}

			fmt.Printf("📚 找到 %d 条相关记忆:\n\n", len(results))
			for i, r := range results {
				fmt.Printf("──────────────────────────────────────\n")
				fmt.Printf("[%d] 类型: %s | 日期: %s | 相似度: %.2f\n", i+1, r.Type, r.Date, r.Similarity)
				fmt.Printf("%s\n", r.Content)
			}
			fmt.Println("──────────────────────────────────────")
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "n", 5, "返回结果数量")

	return cmd
}
