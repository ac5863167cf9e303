package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"hhsetl/internal/store"
)

// ErrSourceNotSQLite 表示当前配置的业务库不是 SQLite，迁移无法启动。
var ErrSourceNotSQLite = errors.New("数据迁移仅支持以 SQLite 为源")

// Options 是一次整库迁移的输入。
type Options struct {
	// SourceDialect 为当前配置的业务库方言，必须是 sqlite。
	SourceDialect store.Dialect
	// SourcePath 为源 SQLite 文件路径。
	SourcePath string
	// Destination 为目标库连接，调用方负责打开与关闭。
	Destination *sql.DB
	// DestDialect 为目标库方言。
	DestDialect store.Dialect
	// CreateTables 为 true 时先在目标库执行转换后的建表 DDL。
	CreateTables bool
	Logger       *slog.Logger
}

// TableResult 是单表的迁移结果。
type TableResult struct {
	Records int64  `json:"records"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Result 是整库迁移的汇总，按表保留各自的成败。
type Result struct {
	Tables         map[string]TableResult `json:"results"`
	TotalRecords   int64                  `json:"total_records"`
	TablesMigrated int                    `json:"tables_migrated"`
	TablesFailed   int                    `json:"tables_failed"`
	StartedAt      string                 `json:"started_at"`
	FinishedAt     string                 `json:"finished_at"`
}

// Run 把源 SQLite 库的业务数据整库复制到目标库。
// 前置校验不过直接返回错误；复制阶段单表失败只记录结果，继续下一张表。
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SourceDialect != store.DialectSQLite {
		return nil, fmt.Errorf("%w（当前为 %s）", ErrSourceNotSQLite, opts.SourceDialect)
	}
	if !opts.DestDialect.Valid() {
		return nil, fmt.Errorf("不支持的目标方言：%s", opts.DestDialect)
	}
	if opts.Destination == nil {
		return nil, errors.New("目标库连接为空")
	}
	if _, err := os.Stat(opts.SourcePath); err != nil {
		return nil, fmt.Errorf("源 SQLite 数据库不存在: %s", opts.SourcePath)
	}

	source, err := store.OpenSQLite(opts.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("打开源库失败: %w", err)
	}
	defer source.Close()

	tables := store.DomainTableNames()
	if err := ensureDestinationEmpty(ctx, opts.Destination, opts.DestDialect, tables); err != nil {
		return nil, err
	}

	schemaSQL, err := store.DomainSchemaSQL()
	if err != nil {
		return nil, err
	}
	if opts.CreateTables {
		if err := createDestinationTables(ctx, opts.Destination, opts.DestDialect, schemaSQL); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Tables:    make(map[string]TableResult, len(tables)),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	identity := identityTables(schemaSQL)
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := copyTable(ctx, source, opts.Destination, opts.DestDialect, table, identity[table])
		if err != nil {
			logger.Error("表迁移失败", "table", table, "error", err)
			res.Tables[table] = TableResult{Status: "failed", Error: err.Error()}
			res.TablesFailed++
			continue
		}
		if n == 0 {
			// 空表不出现在结果里，与迁移前后的行数核对口径一致。
			continue
		}
		logger.Info("表迁移完成", "table", table, "records", n)
		res.Tables[table] = TableResult{Records: n, Status: "success"}
		res.TotalRecords += n
		res.TablesMigrated++
	}
	res.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	logger.Info("数据迁移结束",
		"total_records", res.TotalRecords,
		"tables_migrated", res.TablesMigrated,
		"tables_failed", res.TablesFailed)
	return res, nil
}

// ensureDestinationEmpty 逐表检查目标库：任意一张预期表里有数据就拒绝迁移。
// 表不存在视为空（稍后由建表步骤补齐）。
func ensureDestinationEmpty(ctx context.Context, dest *sql.DB, d store.Dialect, tables []string) error {
	for _, table := range tables {
		var n int64
		q := "SELECT COUNT(*) FROM " + store.QuoteIdent(d, table)
		if err := dest.QueryRowContext(ctx, q).Scan(&n); err != nil {
			continue
		}
		if n > 0 {
			return fmt.Errorf("目标数据库已有数据（表 %s 有 %d 行），仅允许迁移到空库", table, n)
		}
	}
	return nil
}

func createDestinationTables(ctx context.Context, dest *sql.DB, d store.Dialect, schemaSQL string) error {
	stmts, err := ConvertSchema(d, schemaSQL)
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := dest.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("目标库建表失败 (stmt %d/%d): %w", i+1, len(stmts), err)
		}
	}
	return nil
}

// copyTable 把单表全部行复制到目标库，整表一个事务。返回复制的行数。
// 空表完全不碰目标库，目标侧的事务与语句在读到第一行时才建立。
func copyTable(ctx context.Context, source *sql.DB, dest *sql.DB, d store.Dialect, table string, hasIdentity bool) (int64, error) {
	rows, err := source.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("读取源表失败: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("读取源表列失败: %w", err)
	}

	var (
		tx   *sql.Tx
		stmt *sql.Stmt
	)
	defer func() {
		if stmt != nil {
			_ = stmt.Close()
		}
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	var count int64
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("读取源表行失败: %w", err)
		}
		if tx == nil {
			tx, err = dest.BeginTx(ctx, nil)
			if err != nil {
				return 0, fmt.Errorf("开始目标库事务失败: %w", err)
			}
			// 带自增主键的表在 MSSQL 下要显式允许写入主键值。
			if hasIdentity && d == store.DialectMSSQL {
				if _, err := tx.ExecContext(ctx, "SET IDENTITY_INSERT "+store.QuoteIdent(d, table)+" ON"); err != nil {
					return 0, fmt.Errorf("开启 IDENTITY_INSERT 失败: %w", err)
				}
			}
			stmt, err = tx.PrepareContext(ctx, buildInsertSQL(d, table, columns))
			if err != nil {
				return 0, fmt.Errorf("准备插入语句失败: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("写入第 %d 行失败: %w", count+1, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("遍历源表失败: %w", err)
	}
	if tx == nil {
		return 0, nil
	}

	if hasIdentity && d == store.DialectMSSQL {
		if _, err := tx.ExecContext(ctx, "SET IDENTITY_INSERT "+store.QuoteIdent(d, table)+" OFF"); err != nil {
			return 0, fmt.Errorf("关闭 IDENTITY_INSERT 失败: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("提交目标库事务失败: %w", err)
	}
	tx = nil
	return count, nil
}

func buildInsertSQL(d store.Dialect, table string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = store.QuoteIdent(d, c)
		marks[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		store.QuoteIdent(d, table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return store.Rebind(d, q)
}
