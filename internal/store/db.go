// Package store 负责数据库连接、内置 schema 与各实体的持久化，
// 业务层不直接拼 SQL。内部库（sys_* 表）固定使用 SQLite；
// 业务数据库（people/cases/referrals 等表）支持 SQLite/MSSQL/PostgreSQL/MySQL 四种后端。
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"
	mssql "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"hhsetl/internal/config"
)

// OpenDomainDB 按配置打开业务数据库并返回对应方言。
func OpenDomainDB(env string, cfg config.DBConfig) (*sql.DB, Dialect, error) {
	dialect, err := DialectFromDBType(cfg.Type)
	if err != nil {
		return nil, "", err
	}

	switch dialect {
	case DialectSQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, "", err
		}
		return db, DialectSQLite, nil
	case DialectMySQL:
		db, err := OpenMySQL(env, BuildMySQLDSN(cfg.MySQL, cfg.ConnectTimeoutSeconds))
		if err != nil {
			return nil, "", err
		}
		tunePool(db, cfg.MaxConnections)
		return db, DialectMySQL, nil
	case DialectPostgres:
		db, err := OpenPostgres(env, cfg.Postgres, cfg.ConnectTimeoutSeconds)
		if err != nil {
			return nil, "", err
		}
		tunePool(db, cfg.MaxConnections)
		return db, DialectPostgres, nil
	case DialectMSSQL:
		db, err := OpenMSSQL(cfg.MSSQL, cfg.ConnectTimeoutSeconds)
		if err != nil {
			return nil, "", err
		}
		tunePool(db, cfg.MaxConnections)
		return db, DialectMSSQL, nil
	default:
		return nil, "", fmt.Errorf("不支持的 database.type：%s", cfg.Type)
	}
}

// OpenInternalDB 打开内部数据库（认证、审计、作业、运行时设置）。始终为 SQLite。
func OpenInternalDB(path string) (*sql.DB, error) {
	return OpenSQLite(path)
}

func OpenSQLite(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite_path 不能为空")
	}

	// 允许通过 query 参数传递 driver 选项（例如 ?_busy_timeout=30000），这里需要先确保文件目录存在。
	filePath := path
	if i := strings.IndexByte(filePath, '?'); i >= 0 {
		filePath = filePath[:i]
	}
	if filePath != "" && filePath != ":memory:" && !strings.HasPrefix(filePath, "file::memory:") {
		dir := filepath.Dir(filePath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建 sqlite 数据目录失败: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open(sqlite): %w", err)
	}
	// SQLite 多连接写入容易触发锁竞争；单机默认收敛为单连接更稳。
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping(sqlite): %w", err)
	}

	// WAL 模式是数据库级别持久设置，执行一次即可对后续连接生效。
	_, _ = db.Exec(`PRAGMA journal_mode=WAL`)
	return db, nil
}

func OpenMySQL(env string, dsn string) (*sql.DB, error) {
	db, err := openMySQL(dsn)
	if err != nil {
		return nil, err
	}

	if env == "development" {
		if err := pingMySQLInDev(db, dsn); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	if err := pingOnce(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BuildMySQLDSN 按配置片段拼出 go-sql-driver/mysql 的 DSN。
func BuildMySQLDSN(cfg config.MySQLConfig, timeoutSeconds int) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(portOrDefault(cfg.Port, 3306)))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Collation = "utf8mb4_unicode_ci"
	mc.Params = map[string]string{"charset": "utf8mb4"}
	if timeoutSeconds > 0 {
		mc.Timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return mc.FormatDSN()
}

// OpenPostgres 打开 PostgreSQL（pgx 的 database/sql 驱动）。
// 开发环境沿用 MySQL 的等待策略：目标库不存在则自动建库，认证错误立即失败。
func OpenPostgres(env string, cfg config.PostgresConfig, timeoutSeconds int) (*sql.DB, error) {
	dsn := buildPostgresDSN(cfg, cfg.Database, timeoutSeconds)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open(pgx): %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if env == "development" {
		if err := pingPostgresInDev(db, cfg, timeoutSeconds); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	if err := pingOnce(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMSSQL 打开 SQL Server / Azure SQL。
func OpenMSSQL(cfg config.MSSQLConfig, timeoutSeconds int) (*sql.DB, error) {
	dsn, err := buildMSSQLDSN(cfg, timeoutSeconds)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open(sqlserver): %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if isMSSQLLoginError(err) {
			return nil, fmt.Errorf("MSSQL 登录失败，请检查用户名密码: %w", err)
		}
		return nil, fmt.Errorf("db.Ping(sqlserver): %w", err)
	}
	return db, nil
}

func buildMSSQLDSN(cfg config.MSSQLConfig, timeoutSeconds int) (string, error) {
	server := strings.TrimSpace(cfg.Server)
	if server == "" {
		return "", errors.New("mssql.server 不能为空")
	}

	query := url.Values{}
	query.Set("database", cfg.Database)
	if timeoutSeconds > 0 {
		query.Set("connection timeout", strconv.Itoa(timeoutSeconds))
	}
	// Azure SQL 强制 TLS。
	if strings.Contains(strings.ToLower(server), ".database.windows.net") {
		query.Set("encrypt", "true")
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(server, strconv.Itoa(portOrDefault(cfg.Port, 1433))),
		RawQuery: query.Encode(),
	}
	// trusted_connection 走集成认证，不携带用户名密码。
	if !cfg.TrustedConnection {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String(), nil
}

func buildPostgresDSN(cfg config.PostgresConfig, database string, timeoutSeconds int) string {
	query := url.Values{}
	query.Set("sslmode", "prefer")
	if timeoutSeconds > 0 {
		query.Set("connect_timeout", strconv.Itoa(timeoutSeconds))
	}

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(portOrDefault(cfg.Port, 5432))),
		Path:     "/" + database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func tunePool(db *sql.DB, maxConns int) {
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	idle := maxConns / 2
	if idle < 1 {
		idle = 1
	}
	db.SetMaxIdleConns(idle)
}

func portOrDefault(port int, fallback int) int {
	if port > 0 {
		return port
	}
	return fallback
}

func openMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return db, nil
}

func pingOnce(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db.Ping: %w", err)
	}
	return nil
}

func pingMySQLInDev(db *sql.DB, dsn string) error {
	const (
		maxWait    = 30 * time.Second
		maxBackoff = 2 * time.Second
	)

	deadline := time.Now().Add(maxWait)
	backoff := 200 * time.Millisecond
	waitLogged := false
	var lastErr error

	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		// 数据库不存在：开发环境自动创建一次后继续尝试。
		if isUnknownDatabaseError(err) {
			if err2 := createMySQLDatabaseIfMissing(dsn); err2 != nil {
				return errors.Join(fmt.Errorf("db.Ping: %w", err), err2)
			}
			slog.Info("检测到 MySQL 数据库不存在，已自动创建并重试连接")
			continue
		}

		// 明确的配置错误：别浪费时间重试。
		if isAccessDeniedError(err) {
			return fmt.Errorf("db.Ping: %w", err)
		}

		// 其他连接类错误：容器化 MySQL 常见启动竞态，等待就绪。
		if !waitLogged {
			slog.Info("等待 MySQL 就绪（development）", "timeout", maxWait.String())
			waitLogged = true
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if lastErr == nil {
		lastErr = driver.ErrBadConn
	}
	return fmt.Errorf("db.Ping: %w", lastErr)
}

func pingPostgresInDev(db *sql.DB, cfg config.PostgresConfig, timeoutSeconds int) error {
	const (
		maxWait    = 30 * time.Second
		maxBackoff = 2 * time.Second
	)

	deadline := time.Now().Add(maxWait)
	backoff := 200 * time.Millisecond
	waitLogged := false
	var lastErr error

	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if isUnknownPostgresDatabaseError(err) {
			if err2 := createPostgresDatabaseIfMissing(cfg, timeoutSeconds); err2 != nil {
				return errors.Join(fmt.Errorf("db.Ping: %w", err), err2)
			}
			slog.Info("检测到 PostgreSQL 数据库不存在，已自动创建并重试连接")
			continue
		}

		if isPostgresAuthError(err) {
			return fmt.Errorf("db.Ping: %w", err)
		}

		if !waitLogged {
			slog.Info("等待 PostgreSQL 就绪（development）", "timeout", maxWait.String())
			waitLogged = true
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if lastErr == nil {
		lastErr = driver.ErrBadConn
	}
	return fmt.Errorf("db.Ping: %w", lastErr)
}

func isUnknownDatabaseError(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == 1049
}

func isAccessDeniedError(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	// 1045: ER_ACCESS_DENIED_ERROR
	// 1044: ER_DBACCESS_DENIED_ERROR
	return myErr.Number == 1045 || myErr.Number == 1044
}

func isUnknownPostgresDatabaseError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.InvalidCatalogName
}

func isPostgresAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.InvalidPassword ||
		pgErr.Code == pgerrcode.InvalidAuthorizationSpecification
}

func isMSSQLLoginError(err error) bool {
	var sqlErr mssql.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	// 18456: Login failed for user
	return sqlErr.Number == 18456
}

func createMySQLDatabaseIfMissing(dsn string) error {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("mysql.ParseDSN: %w", err)
	}
	if cfg.DBName == "" {
		return errors.New("dsn 未包含数据库名")
	}

	adminCfg := *cfg
	adminCfg.DBName = ""

	adminDB, err := sql.Open("mysql", adminCfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("sql.Open(admin): %w", err)
	}
	defer adminDB.Close()

	charset := cfg.Params["charset"]
	if !isSafeMySQLWord(charset) {
		charset = ""
	}
	collation := cfg.Collation
	if !isSafeMySQLWord(collation) {
		collation = ""
	}

	escapedDBName := strings.ReplaceAll(cfg.DBName, "`", "``")
	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", escapedDBName)
	if charset != "" {
		stmt += " DEFAULT CHARACTER SET " + charset
	}
	if collation != "" {
		stmt += " DEFAULT COLLATE " + collation
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func createPostgresDatabaseIfMissing(cfg config.PostgresConfig, timeoutSeconds int) error {
	if strings.TrimSpace(cfg.Database) == "" {
		return errors.New("postgresql.database 不能为空")
	}

	// 建库语句必须在已有库上执行，连到 postgres 维护库。
	adminDB, err := sql.Open("pgx", buildPostgresDSN(cfg, "postgres", timeoutSeconds))
	if err != nil {
		return fmt.Errorf("sql.Open(admin): %w", err)
	}
	defer adminDB.Close()

	escaped := strings.ReplaceAll(cfg.Database, `"`, `""`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := adminDB.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE "%s"`, escaped)); err != nil {
		// PostgreSQL 没有 IF NOT EXISTS，重复建库按已存在处理。
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateDatabase {
			return nil
		}
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func isSafeMySQLWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '_' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			continue
		}
		return false
	}
	return true
}
