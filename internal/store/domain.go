package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

var (
	domainColumnsOnce sync.Once
	domainColumnsMap  map[string][]string
	domainColumnsErr  error
)

// DomainTableColumns 返回业务表的列名（按 DDL 顺序），表不存在时第二个返回值为 false。
func DomainTableColumns(table string) ([]string, bool) {
	domainColumnsOnce.Do(func() {
		schema, err := DomainSchemaSQL()
		if err != nil {
			domainColumnsErr = err
			return
		}
		domainColumnsMap = parseCreateTableColumns(schema)
	})
	if domainColumnsErr != nil {
		return nil, false
	}
	cols, ok := domainColumnsMap[table]
	return cols, ok
}

// UpsertDomainRows 把一批行按主键写入业务表：已存在则更新，否则插入，返回精确的插入/更新数。
// rows 的每行与 columns 一一对应。整批在一个事务内，任一行失败整批回滚。
func (s *Store) UpsertDomainRows(ctx context.Context, table string, columns []string, pkCol string, rows [][]any) (inserted int64, updated int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	tableCols, ok := DomainTableColumns(table)
	if !ok {
		return 0, 0, fmt.Errorf("未知的业务表：%s", table)
	}
	known := make(map[string]bool, len(tableCols))
	for _, c := range tableCols {
		known[c] = true
	}
	pkIdx := -1
	for i, c := range columns {
		if !known[c] {
			return 0, 0, fmt.Errorf("表 %s 不存在列：%s", table, c)
		}
		if c == pkCol {
			pkIdx = i
		}
	}
	if pkIdx < 0 {
		return 0, 0, fmt.Errorf("列集合缺少主键列：%s", pkCol)
	}

	updateSQL, insertSQL := buildUpsertSQL(s.dialect, table, columns, pkCol)

	tx, err := s.domain.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("开始写入事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updateStmt, err := tx.PrepareContext(ctx, updateSQL)
	if err != nil {
		return 0, 0, fmt.Errorf("准备更新语句失败: %w", err)
	}
	defer updateStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, 0, fmt.Errorf("准备插入语句失败: %w", err)
	}
	defer insertStmt.Close()

	for _, row := range rows {
		if len(row) != len(columns) {
			return 0, 0, fmt.Errorf("行宽 %d 与列数 %d 不一致", len(row), len(columns))
		}

		updateArgs := make([]any, 0, len(columns))
		for i, v := range row {
			if i == pkIdx {
				continue
			}
			updateArgs = append(updateArgs, v)
		}
		updateArgs = append(updateArgs, row[pkIdx])

		res, err := updateStmt.ExecContext(ctx, updateArgs...)
		if err != nil {
			return 0, 0, fmt.Errorf("更新 %s 行失败: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated += n
			continue
		}

		if _, err := insertStmt.ExecContext(ctx, row...); err != nil {
			return 0, 0, fmt.Errorf("插入 %s 行失败: %w", table, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("提交写入事务失败: %w", err)
	}
	return inserted, updated, nil
}

func buildUpsertSQL(d Dialect, table string, columns []string, pkCol string) (updateSQL string, insertSQL string) {
	qTable := quoteIdent(d, table)

	var set strings.Builder
	for _, c := range columns {
		if c == pkCol {
			continue
		}
		if set.Len() > 0 {
			set.WriteString(", ")
		}
		set.WriteString(quoteIdent(d, c))
		set.WriteString("=?")
	}
	// 行被触达即刷新 etl_updated_at，插入走 DDL 默认值。
	if set.Len() > 0 {
		set.WriteString(", ")
	}
	set.WriteString(quoteIdent(d, "etl_updated_at"))
	set.WriteString("=CURRENT_TIMESTAMP")
	updateSQL = rebind(d, fmt.Sprintf("UPDATE %s SET %s WHERE %s=?", qTable, set.String(), quoteIdent(d, pkCol)))

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(d, c)
		marks[i] = "?"
	}
	insertSQL = rebind(d, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qTable, strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	return updateSQL, insertSQL
}

// CountDomainRows 返回单个业务表的行数。
func (s *Store) CountDomainRows(ctx context.Context, table string) (int64, error) {
	if _, ok := DomainTableColumns(table); !ok {
		return 0, fmt.Errorf("未知的业务表：%s", table)
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s", quoteIdent(s.dialect, table))
	if err := s.domain.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计 %s 行数失败: %w", table, err)
	}
	return n, nil
}

// DomainRowCounts 返回全部业务表的行数（供健康检查与迁移校验使用）。
func (s *Store) DomainRowCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(DomainTableNames()))
	for _, table := range DomainTableNames() {
		n, err := s.CountDomainRows(ctx, table)
		if err != nil {
			return nil, err
		}
		out[table] = n
	}
	return out, nil
}

// parseCreateTableColumns 从 DDL 里提取每张表的列名。
// 约束行（PRIMARY KEY/FOREIGN KEY/UNIQUE/CHECK/CONSTRAINT 开头）不是列。
func parseCreateTableColumns(schema string) map[string][]string {
	out := make(map[string][]string)
	for _, stmt := range SplitSQLStatements(stripLineComments(schema)) {
		upper := strings.ToUpper(stmt)
		if !strings.HasPrefix(upper, "CREATE TABLE") {
			continue
		}
		open := strings.IndexByte(stmt, '(')
		if open < 0 {
			continue
		}
		head := strings.Fields(stmt[:open])
		if len(head) == 0 {
			continue
		}
		name := head[len(head)-1]

		body := stmt[open+1:]
		if end := strings.LastIndexByte(body, ')'); end >= 0 {
			body = body[:end]
		}

		var cols []string
		depth := 0
		start := 0
		flush := func(end int) {
			part := strings.TrimSpace(body[start:end])
			if part == "" {
				return
			}
			first := strings.Fields(part)[0]
			switch strings.ToUpper(first) {
			case "PRIMARY", "FOREIGN", "UNIQUE", "CHECK", "CONSTRAINT":
				return
			}
			cols = append(cols, first)
		}
		for i := 0; i < len(body); i++ {
			switch body[i] {
			case '(':
				depth++
			case ')':
				depth--
			case ',':
				if depth == 0 {
					flush(i)
					start = i + 1
				}
			}
		}
		flush(len(body))
		out[name] = cols
	}
	return out
}

// stripLineComments 去掉 `-- 注释` 到行尾的内容。
func stripLineComments(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "--"); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}
