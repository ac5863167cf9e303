// hhsetl 是县 HHS 数据管道的服务入口：导入个案管理系统导出的数据文件，
// 并提供报表仪表盘与管理控制台。
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/net/netutil"

	"hhsetl/internal/config"
	"hhsetl/internal/obs"
	"hhsetl/internal/server"
	"hhsetl/internal/store"
	"hhsetl/internal/version"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（默认 .config.json）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("加载配置失败", "err", err)
		os.Exit(1)
	}

	logger := obs.NewLoggerWithFile(cfg.Env, logFilePath(cfg))
	slog.SetDefault(logger)

	ensureDirs(cfg)

	internalDB, err := store.OpenInternalDB(filepath.Join(cfg.Dirs.DatabaseDir, "internal.db") + "?_busy_timeout=30000")
	if err != nil {
		slog.Error("打开内部数据库失败", "err", err)
		os.Exit(1)
	}
	defer internalDB.Close()
	if err := store.EnsureInternalSchema(internalDB); err != nil {
		slog.Error("初始化内部数据库 schema 失败", "err", err)
		os.Exit(1)
	}

	// 业务库以管理界面保存的数据库设置为准，文件配置只提供初始值。
	dbCfg := cfg.DB
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if ds, err := store.New(internalDB, nil).GetDatabaseSettings(ctx); err == nil {
			dbCfg = ds.DBConfig(cfg.DB)
		}
		cancel()
	}

	domainDB, dialect, err := store.OpenDomainDB(cfg.Env, dbCfg)
	if err != nil {
		slog.Error("打开业务数据库失败", "type", dbCfg.Type, "err", err)
		os.Exit(1)
	}
	defer domainDB.Close()
	if dialect == store.DialectSQLite {
		if err := store.EnsureSQLiteSchema(domainDB); err != nil {
			slog.Error("初始化业务数据库 schema 失败", "err", err)
			os.Exit(1)
		}
	}

	app, err := server.NewApp(server.AppOptions{
		Config:     cfg,
		InternalDB: internalDB,
		DomainDB:   domainDB,
		Dialect:    dialect,
		Logger:     logger,
		Version:    version.Info(),
	})
	if err != nil {
		slog.Error("初始化服务失败", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	app.StartBackground(bgCtx)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: secondsOrZero(cfg.Server.ReadHeaderTimeoutSeconds),
		ReadTimeout:       secondsOrZero(cfg.Server.ReadTimeoutSeconds),
		IdleTimeout:       secondsOrZero(cfg.Server.IdleTimeoutSeconds),
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("HTTP 服务监听启动失败", "addr", addr, "err", err)
		os.Exit(1)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	auditSystemEvent(app.Store(), "system_started", cfg)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("服务启动", "addr", ln.Addr().String(), "https", cfg.Server.UseHTTPS,
			"dialect", string(dialect), "version", version.Info().Version)
		var err error
		if cfg.Server.UseHTTPS {
			err = httpServer.ServeTLS(ln, cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = httpServer.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serverErr:
		slog.Error("HTTP 服务异常退出", "err", err)
		os.Exit(1)
	}

	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("优雅停机失败", "err", err)
		_ = httpServer.Close()
	}
	auditSystemEvent(app.Store(), "system_stopped", cfg)
	slog.Info("服务已退出")
}

func logFilePath(cfg config.Config) string {
	if cfg.Dirs.LogsDir == "" {
		return ""
	}
	return filepath.Join(cfg.Dirs.LogsDir, "hhsetl.log")
}

func ensureDirs(cfg config.Config) {
	for _, dir := range []string{
		cfg.Dirs.DataDir, cfg.Dirs.InputDir, cfg.Dirs.OutputDir,
		cfg.Dirs.LogsDir, cfg.Dirs.DatabaseDir, cfg.Dirs.BackupDir, cfg.Dirs.SSLDir,
	} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("创建目录失败", "dir", dir, "err", err)
		}
	}
}

func secondsOrZero(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func auditSystemEvent(st *store.Store, action string, cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	details := "env=" + cfg.Env + " version=" + version.Info().Version
	_ = st.InsertAuditEvent(ctx, store.AuditEvent{
		Username: "system",
		Action:   action,
		Category: store.AuditCategorySystem,
		Details:  &details,
		Success:  true,
	})
}
