// Package server 组装依赖、中间件与后台任务，使 main 保持简单可读。
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	root "hhsetl"
	"hhsetl/internal/auth"
	"hhsetl/internal/config"
	"hhsetl/internal/etl"
	"hhsetl/internal/migrate"
	"hhsetl/internal/security"
	"hhsetl/internal/sftp"
	"hhsetl/internal/siem"
	"hhsetl/internal/store"
	"hhsetl/internal/version"
	"hhsetl/router"
)

type AppOptions struct {
	Config config.Config

	// InternalDB 固定是 SQLite（sys_* 表），DomainDB 按配置可以是四种后端之一。
	InternalDB *sql.DB
	DomainDB   *sql.DB
	Dialect    store.Dialect

	Logger  *slog.Logger
	Version version.BuildInfo
}

type App struct {
	cfg     config.Config
	store   *store.Store
	auth    *auth.Manager
	siem    *siem.Logger
	sftp    *sftp.Service
	runner  *etl.Runner
	watcher *etl.Watcher
	logger  *slog.Logger
	version version.BuildInfo
	engine  *gin.Engine
}

func NewApp(opts AppOptions) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	st := store.New(opts.InternalDB, opts.DomainDB)
	st.SetDialect(opts.Dialect)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 首次启动时把文件配置写入运行时设置表，之后一律以数据库为准。
	if err := st.SeedSIEMConfig(ctx, seedSIEMConfig(cfg.SIEM)); err != nil {
		return nil, err
	}
	if err := st.SeedSFTPConfig(ctx, seedSFTPConfig(cfg.SFTP)); err != nil {
		return nil, err
	}
	if err := st.SeedDatabaseSettings(ctx, seedDatabaseSettings(cfg.DB)); err != nil {
		return nil, err
	}

	authMgr := auth.NewManager(st, cfg.Auth, logger)
	created, err := authMgr.EnsureDefaultAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化默认管理员失败: %w", err)
	}
	if created {
		logger.Warn("已创建默认管理员账号，请立即修改密码", "username", auth.DefaultAdminUsername)
	}

	siemCfg, err := st.GetSIEMConfig(ctx)
	if err != nil {
		logger.Warn("读取 SIEM 配置失败，转发功能暂不可用", "error", err)
	}
	siemLog := siem.New(siemCfg, logger)

	sftpSvc := sftp.NewService(st, sftp.Secrets{
		Password:             cfg.SFTP.Password,
		PrivateKeyPassphrase: cfg.SFTP.PrivateKeyPassphrase,
	}, logger)

	validator := migrate.NewValidator(opts.DomainDB, opts.Dialect)
	proc := etl.NewProcessor(st, cfg, validator, logger)
	runner := etl.NewRunner(st, cfg, proc, logger)
	watcher := etl.NewWatcher(cfg, runner, logger)
	health := security.NewHealthChecker(cfg, st, authMgr)

	app := &App{
		cfg:     cfg,
		store:   st,
		auth:    authMgr,
		siem:    siemLog,
		sftp:    sftpSvc,
		runner:  runner,
		watcher: watcher,
		logger:  logger,
		version: opts.Version,
	}

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	if cfg.Server.MaxBodyBytes > 0 {
		engine.Use(bodyLimit(cfg.Server.MaxBodyBytes))
	}

	sessionSecret := strings.TrimSpace(os.Getenv("HHSETL_SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = randomSecret(32)
	}
	sessionStore := cookie.NewStore([]byte(sessionSecret))
	maxAge := cfg.Auth.SessionTimeoutMinutes * 60
	if maxAge <= 0 {
		maxAge = 1800
	}
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Env != "development" && !cfg.Auth.DisableSecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	engine.Use(sessions.Sessions("hhsetl_session", sessionStore))

	frontendDistDir := strings.TrimSpace(os.Getenv("FRONTEND_DIST_DIR"))
	if frontendDistDir == "" {
		frontendDistDir = "./web/dist"
	}
	var frontendFS fs.FS
	frontendIndexPage := loadEmbeddedIndexHTML()
	if len(frontendIndexPage) > 0 {
		frontendFS = root.WebDistFS
	}

	router.SetRouter(engine, router.Options{
		Cfg:     cfg,
		Store:   st,
		Auth:    authMgr,
		SIEM:    siemLog,
		SFTP:    sftpSvc,
		Runner:  runner,
		Health:  health,
		Version: opts.Version,

		FrontendDistDir:   frontendDistDir,
		FrontendIndexPage: frontendIndexPage,
		FrontendFS:        frontendFS,

		Healthz: app.handleHealthz,
	})
	app.engine = engine
	return app, nil
}

func (a *App) Handler() http.Handler {
	return a.engine
}

func (a *App) Store() *store.Store {
	return a.store
}

// Close 释放持有的外部资源（目前只有 SIEM 的 syslog 连接）。
func (a *App) Close() error {
	if a.siem != nil {
		return a.siem.Close()
	}
	return nil
}

// StartBackground 启动全部后台任务，ctx 取消时全部退出。
func (a *App) StartBackground(ctx context.Context) {
	go a.sessionCleanupLoop(ctx)
	go a.staleJobSweepLoop(ctx)
	go a.auditRetentionLoop(ctx)
	go a.siemRefreshLoop(ctx)
	go a.sftp.RunAutoDownload(ctx, a.afterAutoDownload)
	go func() {
		if err := a.watcher.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("目录监控退出", "error", err)
		}
	}()
}

// afterAutoDownload 在 SFTP 自动下载成功后触发一次导入。
func (a *App) afterAutoDownload(ctx context.Context, summary sftp.DownloadSummary) {
	jobID, err := a.runner.StartJob(ctx, etl.JobOptions{Trigger: "auto", Username: "system"})
	switch {
	case err == etl.ErrJobAlreadyRunning:
		a.logger.Info("已有导入作业在运行，下载的文件将由下一轮处理")
	case err != nil:
		a.logger.Error("自动导入启动失败", "error", err)
	default:
		a.logger.Info("自动导入已启动", "job_id", jobID, "downloaded", summary.SuccessfulDownloads)
	}
}

func (a *App) sessionCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if n, err := a.auth.CleanupExpiredSessions(opCtx); err == nil && n > 0 {
				a.logger.Debug("清理过期会话", "count", n)
			}
			cancel()
		}
	}
}

func (a *App) staleJobSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if n, err := a.runner.SweepStaleJobs(opCtx); err == nil && n > 0 {
				a.logger.Warn("清理僵死导入作业", "count", n)
			}
			cancel()
		}
	}
}

func (a *App) auditRetentionLoop(ctx context.Context) {
	days := a.cfg.Audit.RetentionDays
	if days <= 0 {
		return
	}

	cleanupOnce := func() {
		opCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
		if n, err := a.store.DeleteAuditEventsBefore(opCtx, cutoff); err != nil {
			a.logger.Error("审计记录清理失败", "error", err)
		} else if n > 0 {
			a.logger.Info("审计记录按保留期清理", "deleted", n, "retention_days", days)
		}
	}

	// 启动后先跑一轮，避免长期停机积压的记录要等到第二天才清。
	cleanupOnce()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupOnce()
		}
	}
}

// siemRefreshLoop 定期把数据库里的 SIEM 配置同步给转发器，
// 管理接口改完配置即便漏调 Reload 也能在一分钟内生效。
func (a *App) siemRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			cfg, err := a.store.GetSIEMConfig(opCtx)
			cancel()
			if err != nil {
				continue
			}
			a.siem.Reload(cfg)
		}
	}
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type resp struct {
		OK      bool   `json:"ok"`
		Env     string `json:"env"`
		Version string `json:"version"`
		Date    string `json:"date"`

		InternalDBOK bool   `json:"internal_db_ok"`
		DomainDBOK   bool   `json:"domain_db_ok"`
		Dialect      string `json:"dialect"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := resp{
		OK:           true,
		Env:          a.cfg.Env,
		Version:      a.version.Version,
		Date:         a.version.Date,
		InternalDBOK: a.store.PingInternal(ctx) == nil,
		DomainDBOK:   a.store.PingDomain(ctx) == nil,
		Dialect:      string(a.store.Dialect()),
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_ = json.NewEncoder(w).Encode(out)
}

// requestLogger 用 slog 记录每个请求的概要。路径里不会出现 PHI，放心落日志。
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}

func bodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func randomSecret(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func loadEmbeddedIndexHTML() []byte {
	b, err := fs.ReadFile(root.WebDistFS, "web/dist/index.html")
	if err != nil || len(b) == 0 {
		return nil
	}
	return b
}

func seedSIEMConfig(c config.SIEMConfig) store.SIEMConfig {
	return store.SIEMConfig{
		Enabled:              c.Enabled,
		SyslogEnabled:        c.SyslogEnabled,
		SyslogHost:           c.SyslogHost,
		SyslogPort:           c.SyslogPort,
		SyslogProtocol:       c.SyslogProtocol,
		IncludeSensitiveData: c.IncludeSensitiveData,
		SyslogMinSeverity:    c.SyslogMinSeverity,
	}
}

func seedSFTPConfig(c config.SFTPConfig) store.SFTPConfig {
	return store.SFTPConfig{
		Enabled:                 c.Enabled,
		Host:                    c.Host,
		Port:                    c.Port,
		Username:                c.Username,
		AuthMethod:              c.AuthMethod,
		PrivateKeyPath:          c.PrivateKeyPath,
		RemoteDirectory:         c.RemoteDirectory,
		AutoDownload:            c.AutoDownload,
		DownloadIntervalMinutes: c.DownloadIntervalMin,
		DeleteAfterDownload:     c.DeleteAfterDownload,
		LocalDownloadPath:       c.LocalDownloadPath,
		TimeoutSeconds:          c.TimeoutSeconds,
		MaxRetries:              c.MaxRetries,
		VerifyHostKey:           c.VerifyHostKey,
		KnownHostsPath:          c.KnownHostsPath,
	}
}

func seedDatabaseSettings(c config.DBConfig) store.DatabaseSettings {
	ds := store.DatabaseSettings{
		DBType:            c.Type,
		ConnectionTimeout: c.ConnectTimeoutSeconds,
		MaxConnections:    c.MaxConnections,
	}
	ds.Path = optStr(c.SQLitePath)
	ds.MSSQLServer = optStr(c.MSSQL.Server)
	ds.MSSQLPort = optInt(c.MSSQL.Port)
	ds.MSSQLDatabase = optStr(c.MSSQL.Database)
	ds.MSSQLUsername = optStr(c.MSSQL.Username)
	ds.MSSQLPassword = optStr(c.MSSQL.Password)
	ds.MSSQLTrustedConnection = c.MSSQL.TrustedConnection
	ds.PostgresHost = optStr(c.Postgres.Host)
	ds.PostgresPort = optInt(c.Postgres.Port)
	ds.PostgresDatabase = optStr(c.Postgres.Database)
	ds.PostgresUsername = optStr(c.Postgres.Username)
	ds.PostgresPassword = optStr(c.Postgres.Password)
	ds.MySQLHost = optStr(c.MySQL.Host)
	ds.MySQLPort = optInt(c.MySQL.Port)
	ds.MySQLDatabase = optStr(c.MySQL.Database)
	ds.MySQLUsername = optStr(c.MySQL.Username)
	ds.MySQLPassword = optStr(c.MySQL.Password)
	return ds
}

func optStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optInt(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
