// =============================================================================
// VoxelForge 主入口
// =============================================================================
// 完整服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	voxelforge serve                       # 启动服务
//	voxelforge serve --config config.yaml  # 指定配置文件
//	voxelforge plan --subject dragon       # 打印生成计划
//	voxelforge version                     # 显示版本信息
//	voxelforge health                      # 健康检查
// =============================================================================

// @title VoxelForge API
// @version 1.0.0
// @description VoxelForge turns text prompts into multi-LOD voxel assets.
// @description
// @description ## Features
// @description - Asynchronous generation jobs with persisted manifests
// @description - Deterministic part planning and procedural synthesis
// @description - Optional OpenAI-compatible content generator with procedural fallback
// @description - Content-addressed artifact export

// @contact.name VoxelForge Team
// @contact.url https://github.com/BaSui01/voxelforge

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/config"
	"github.com/BaSui01/voxelforge/job"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "plan":
		runPlan(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	envFile := fs.String("env-file", ".env", "Optional dotenv file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting VoxelForge",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	if err := srv.Wait(ctx); err != nil {
		logger.Error("Server stopped unexpectedly", zap.Error(err))
	}
	srv.Shutdown()

	logger.Info("VoxelForge stopped")
}

// loadConfig 按 默认值 → YAML → dotenv → 环境变量 加载并校验配置
func loadConfig(configPath, envFile string) (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			loader = loader.WithEnvFiles(envFile)
		}
	}
	loader = loader.WithValidator((*config.Config).Validate)
	return loader.Load()
}

// =============================================================================
// 🧭 plan 命令
// =============================================================================

func runPlan(args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	subject := fs.String("subject", "", "Subject to plan")
	style := fs.String("style", "", "Style")
	pose := fs.String("pose", "", "Pose")
	seed := fs.Int64("seed", 0, "Seed")
	resolution := fs.Int("resolution", 0, "Target resolution (0 = 64)")
	lodCap := fs.Int("lod-cap", 0, "Highest LOD to generate (0 = no cap)")
	fs.Parse(args)

	prompt := job.Prompt{Subject: *subject, Style: *style, Pose: *pose, Seed: *seed, Resolution: *resolution}
	if err := prompt.Normalize(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid prompt: %v\n", err)
		os.Exit(1)
	}

	plan, err := asset.NewPlanner(asset.WithLODCap(*lodCap)).
		Plan(prompt.Subject, prompt.Style, prompt.Pose, prompt.Seed, prompt.Resolution)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Planning failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode plan: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("VoxelForge %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`VoxelForge - prompt to voxel asset generator

Usage:
  voxelforge <command> [options]

Commands:
  serve     Start the VoxelForge server
  plan      Print the generation plan for a prompt
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Dotenv file, ignored when missing (default .env)

Options for 'plan':
  --subject, --style, --pose, --seed, --resolution, --lod-cap

Examples:
  voxelforge serve
  voxelforge serve --config /etc/voxelforge/config.yaml
  voxelforge plan --subject dragon --seed 42 --resolution 256
  voxelforge health --addr http://localhost:8080
  voxelforge version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
