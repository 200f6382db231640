package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/nomadai/rag-gateway/internal/gateway"
	"github.com/nomadai/rag-gateway/internal/logger"
	"github.com/nomadai/rag-gateway/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long:  `Start the gateway with the tool, MCP, REST and admin endpoints`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServerFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	bindServerFlags(cmd)

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化目录结构
	if err := initDirectories(cfg); err != nil {
		return err
	}

	// 初始化日志
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting RAG gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.BaseURL+cfg.Upstream.Path),
		zap.Int("rate_limit", cfg.RateLimit.Requests),
		zap.Duration("rate_window", cfg.RateLimit.Window),
	)

	// Log key configuration status
	if len(cfg.Security.APIKeys) == 0 {
		log.Warn("No API keys configured, every ask_rag call will be rejected",
			zap.String("env", config.EnvAPIKeys))
	}
	for _, key := range cfg.Security.APIKeys {
		log.Info("API key loaded", zap.String("key_prefix", gateway.MaskKey(key)))
	}
	if cfg.Security.AdminKey == "" {
		log.Warn("No admin key configured, usage statistics are disabled",
			zap.String("env", config.EnvAdminKey))
	}

	// 创建服务器
	server.Version = Version
	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}
	defer srv.Close()

	// 启动HTTP服务器
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("Server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-stop
	log.Info("Shutting down server...")

	// In-flight questions may take up to the upstream timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Upstream.Timeout+5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server stopped gracefully")
	return nil
}

func initDirectories(cfg *config.Config) error {
	if cfg.Logging.Output == "" {
		return nil
	}
	dir := filepath.Dir(cfg.Logging.Output)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
