package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnknownTable 表示请求的表不在业务表清单里。
	ErrUnknownTable = errors.New("未知的数据表")

	// ErrNotSelect 表示自助查询里出现了只读之外的语句。
	ErrNotSelect = errors.New("仅允许 SELECT 查询")

	// ErrBackupUnsupported 表示当前业务库后端不支持文件级备份。
	ErrBackupUnsupported = errors.New("仅 SQLite 业务库支持在线备份")
)

// IsDomainTable 判断表名是否属于业务表（防止浏览接口拼接任意标识符）。
func IsDomainTable(table string) bool {
	for _, t := range DomainTableNames() {
		if t == table {
			return true
		}
	}
	return false
}

// TableRows 分页读取一张业务表，返回列名与行数据，供表浏览与 CSV 导出使用。
func (s *Store) TableRows(ctx context.Context, table string, limit int, offset int) ([]string, [][]any, error) {
	if !IsDomainTable(table) {
		return nil, nil, ErrUnknownTable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var query string
	var args []any
	if s.dialect == DialectMSSQL {
		// MSSQL 的 OFFSET/FETCH 必须挂在 ORDER BY 上。
		query = fmt.Sprintf("SELECT * FROM %s ORDER BY (SELECT NULL) OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY", quoteIdent(s.dialect, table))
		args = []any{offset, limit}
	} else {
		query = rebind(s.dialect, fmt.Sprintf("SELECT * FROM %s LIMIT ? OFFSET ?", quoteIdent(s.dialect, table)))
		args = []any{limit, offset}
	}

	return s.queryRaw(ctx, query, args)
}

// RunSelect 执行一条只读查询，最多返回 maxRows 行。
// 只做语句级校验：单条语句、以 SELECT/WITH 开头、不含写操作关键字。
func (s *Store) RunSelect(ctx context.Context, query string, maxRows int) ([]string, [][]any, error) {
	if err := validateSelectOnly(query); err != nil {
		return nil, nil, err
	}
	if maxRows <= 0 || maxRows > 5000 {
		maxRows = 1000
	}

	cols, rows, err := s.queryRaw(ctx, strings.TrimRight(strings.TrimSpace(query), ";"), nil)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	return cols, rows, nil
}

func (s *Store) queryRaw(ctx context.Context, query string, args []any) ([]string, [][]any, error) {
	rows, err := s.domain.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("执行查询失败: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("读取列名失败: %w", err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("扫描查询结果失败: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("遍历查询结果失败: %w", err)
	}
	return cols, out, nil
}

// forbiddenQueryWords 覆盖四种后端的写入/DDL/逃逸入口。
var forbiddenQueryWords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE",
	"REPLACE", "MERGE", "GRANT", "REVOKE", "ATTACH", "DETACH", "PRAGMA",
	"EXEC", "EXECUTE", "VACUUM",
}

func validateSelectOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimRight(q, ";")
	if q == "" {
		return ErrNotSelect
	}
	if strings.Contains(q, ";") {
		return ErrNotSelect
	}
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotSelect
	}
	for _, w := range forbiddenQueryWords {
		for idx := strings.Index(upper, w); idx >= 0; {
			before := idx == 0 || !isWordChar(upper[idx-1])
			afterIdx := idx + len(w)
			after := afterIdx >= len(upper) || !isWordChar(upper[afterIdx])
			if before && after {
				return ErrNotSelect
			}
			next := strings.Index(upper[idx+1:], w)
			if next < 0 {
				break
			}
			idx = idx + 1 + next
		}
	}
	return nil
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// BackupDomainSQLite 用 VACUUM INTO 做一致性备份，返回备份文件路径。
// 目标文件已存在时 SQLite 会报错，文件名里带时间戳由调用方保证。
func (s *Store) BackupDomainSQLite(ctx context.Context, destPath string) error {
	if s.dialect != DialectSQLite {
		return ErrBackupUnsupported
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("创建备份目录失败: %w", err)
	}
	if _, err := s.domain.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("备份数据库失败: %w", err)
	}
	return nil
}

// ResetDomainData 清空所有业务表（含 etl_metadata），倒序删除避开外键。
// 返回删除的总行数。
func (s *Store) ResetDomainData(ctx context.Context) (int64, error) {
	tables := DomainTableNames()
	var total int64
	for i := len(tables) - 1; i >= 0; i-- {
		res, err := s.domain.ExecContext(ctx, "DELETE FROM "+quoteIdent(s.dialect, tables[i]))
		if err != nil {
			return total, fmt.Errorf("清空 %s 失败: %w", tables[i], err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}
