package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema_internal.sql schema_sqlite.sql
var schemaFS embed.FS

// DomainTableNames 返回业务表的规范顺序（被引用的表在前，供 schema 初始化与数据迁移复用）。
func DomainTableNames() []string {
	return []string{
		"etl_metadata",
		"people",
		"employees",
		"cases",
		"referrals",
		"assistance_requests",
		"assistance_requests_supplemental_responses",
		"resource_lists",
		"resource_list_shares",
		"data_quality_issues",
		"sftp_cache",
	}
}

// DomainSchemaSQL 返回业务库的规范 schema（SQLite 方言）。
// 非 SQLite 后端由 migrate 包把这份 DDL 转换成目标方言后执行。
func DomainSchemaSQL() (string, error) {
	b, err := schemaFS.ReadFile("schema_sqlite.sql")
	if err != nil {
		return "", fmt.Errorf("读取 schema_sqlite.sql 失败: %w", err)
	}
	return string(b), nil
}

// EnsureInternalSchema 初始化内部数据库（sys_* 表）。可重复调用。
func EnsureInternalSchema(db *sql.DB) error {
	return ensureSQLiteSchemaFile(db, "schema_internal.sql", "sys_users")
}

// EnsureSQLiteSchema 初始化 SQLite 业务库 schema。可重复调用。
func EnsureSQLiteSchema(db *sql.DB) error {
	return ensureSQLiteSchemaFile(db, "schema_sqlite.sql", "people")
}

func ensureSQLiteSchemaFile(db *sql.DB, filename string, sentinelTable string) error {
	if db == nil {
		return errors.New("db 为空")
	}
	var v int
	err := db.QueryRow(`SELECT 1 FROM sqlite_master WHERE type='table' AND name=? LIMIT 1`, sentinelTable).Scan(&v)
	if err == nil && v == 1 {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("检查 SQLite schema 状态失败: %w", err)
	}

	b, err := schemaFS.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("读取 %s 失败: %w", filename, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("开始 schema 初始化事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := SplitSQLStatements(string(b))
	for i, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("执行 %s 初始化失败 (stmt %d/%d): %w", filename, i+1, len(stmts), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交 schema 初始化失败: %w", err)
	}
	return nil
}

// SplitSQLStatements 按分号切分语句，跳过空白片段。
// schema 文件里不存在字符串字面量内的分号，简单切分足够。
func SplitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		stmts = append(stmts, p)
	}
	return stmts
}
