package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"hhsetl/internal/store"
)

// Validator 对照规范 schema 检查线上业务库的表结构。
// 列信息按表缓存，同一次导入里多个文件命中同一张表时不重复查询。
type Validator struct {
	db      *sql.DB
	dialect store.Dialect

	mu   sync.Mutex
	cols map[string][]string
}

func NewValidator(db *sql.DB, d store.Dialect) *Validator {
	return &Validator{db: db, dialect: d, cols: make(map[string][]string)}
}

// TableExists 按引擎各自的元数据表判断表是否存在。
func (v *Validator) TableExists(ctx context.Context, table string) (bool, error) {
	var q string
	if v.dialect == store.DialectSQLite {
		q = `SELECT 1 FROM sqlite_master WHERE type='table' AND name=? LIMIT 1`
	} else {
		q = store.Rebind(v.dialect, `SELECT 1 FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = ?`)
	}
	var one int
	err := v.db.QueryRowContext(ctx, q, table).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("检查表 %s 是否存在失败: %w", table, err)
	}
	return true, nil
}

// TableColumns 返回线上表的列名（小写，按定义顺序）。
func (v *Validator) TableColumns(ctx context.Context, table string) ([]string, error) {
	v.mu.Lock()
	if cols, ok := v.cols[table]; ok {
		v.mu.Unlock()
		return cols, nil
	}
	v.mu.Unlock()

	var (
		rows *sql.Rows
		err  error
	)
	if v.dialect == store.DialectSQLite {
		// PRAGMA 不接受绑定参数，表名来自固定白名单。
		rows, err = v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	} else {
		q := store.Rebind(v.dialect,
			`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = ? ORDER BY ORDINAL_POSITION`)
		rows, err = v.db.QueryContext(ctx, q, table)
	}
	if err != nil {
		return nil, fmt.Errorf("读取表 %s 列信息失败: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if v.dialect == store.DialectSQLite {
			var cid int
			var ctype string
			var notNull int
			var dflt sql.NullString
			var pk int
			if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
				return nil, fmt.Errorf("解析 table_info 失败: %w", err)
			}
		} else {
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("解析列名失败: %w", err)
			}
		}
		cols = append(cols, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历列信息失败: %w", err)
	}

	v.mu.Lock()
	v.cols[table] = cols
	v.mu.Unlock()
	return cols, nil
}

// Invalidate 清掉单表的列缓存，表结构被修复后调用。
func (v *Validator) Invalidate(table string) {
	v.mu.Lock()
	delete(v.cols, table)
	v.mu.Unlock()
}

// CheckFile 比较导入文件的表头与线上表结构，返回待落库的结构问题。
// 表缺失为 critical 并附建表语句；文件多出的列为 critical 并附加列语句；
// 表里有而文件里没有的列只作 warning 提示。
func (v *Validator) CheckFile(ctx context.Context, table string, fileName string, fileColumns []string) ([]store.SchemaError, error) {
	exists, err := v.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	tbl := table
	if !exists {
		e := store.SchemaError{
			ErrorType:    "missing_table",
			TableName:    &tbl,
			FileName:     fileName,
			ErrorMessage: fmt.Sprintf("表 %s 不存在，文件无法导入", table),
			Severity:     "critical",
		}
		if stmt, ok := CanonicalCreateTable(table); ok {
			if converted, keep := ConvertStatement(v.dialect, stmt); keep {
				e.SuggestedSQL = &converted
			}
		}
		return []store.SchemaError{e}, nil
	}

	tableCols, err := v.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(tableCols))
	for _, c := range tableCols {
		have[c] = true
	}
	inFile := make(map[string]bool, len(fileColumns))

	var findings []store.SchemaError
	for _, raw := range fileColumns {
		c := strings.ToLower(strings.TrimSpace(raw))
		if c == "" {
			continue
		}
		inFile[c] = true
		if have[c] {
			continue
		}
		suggested := suggestAddColumn(v.dialect, table, c)
		details := mustJSON(map[string]string{"column": c, "inferred_type": inferColumnType(c)})
		findings = append(findings, store.SchemaError{
			ErrorType:    "missing_column",
			TableName:    &tbl,
			FileName:     fileName,
			ErrorMessage: fmt.Sprintf("文件含有表 %s 不存在的列：%s", table, c),
			ErrorDetails: &details,
			SuggestedSQL: &suggested,
			Severity:     "critical",
		})
	}
	for _, c := range tableCols {
		if inFile[c] || isHousekeepingColumn(c) {
			continue
		}
		findings = append(findings, store.SchemaError{
			ErrorType:    "extra_column",
			TableName:    &tbl,
			FileName:     fileName,
			ErrorMessage: fmt.Sprintf("表 %s 的列 %s 未出现在文件中，导入后将为 NULL", table, c),
			Severity:     "warning",
		})
	}
	return findings, nil
}

// ValidateCanonical 对照规范 schema 检查全部业务表，用于体检页面。
func (v *Validator) ValidateCanonical(ctx context.Context) ([]store.SchemaError, error) {
	var findings []store.SchemaError
	for _, table := range store.DomainTableNames() {
		cols, ok := store.DomainTableColumns(table)
		if !ok {
			continue
		}
		fs, err := v.CheckFile(ctx, table, "schema", cols)
		if err != nil {
			return nil, err
		}
		// 对照规范时表里的额外列无需告警（线上允许自行加列）。
		for _, f := range fs {
			if f.ErrorType == "extra_column" {
				continue
			}
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// inferColumnType 按列名猜类型，给修复建议用（规范里没有这列时的兜底）。
func inferColumnType(column string) string {
	c := strings.ToLower(column)
	switch {
	case strings.Contains(c, "date") || strings.Contains(c, "timestamp") || strings.HasSuffix(c, "_at"):
		return "TIMESTAMP"
	case strings.Contains(c, "count") || strings.Contains(c, "size") || strings.Contains(c, "number"):
		return "INTEGER"
	case strings.Contains(c, "amount") || strings.Contains(c, "price") || strings.Contains(c, "income"):
		return "REAL"
	default:
		return "TEXT"
	}
}

func suggestAddColumn(d store.Dialect, table string, column string) string {
	typ := dialectColumnType(d, inferColumnType(column))
	if d == store.DialectMSSQL {
		return fmt.Sprintf("ALTER TABLE %s ADD %s %s", table, column, typ)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ)
}

func dialectColumnType(d store.Dialect, canonical string) string {
	switch d {
	case store.DialectMSSQL:
		switch canonical {
		case "TIMESTAMP":
			return "DATETIME2"
		case "INTEGER":
			return "INT"
		case "REAL":
			return "FLOAT"
		default:
			return "NVARCHAR(MAX)"
		}
	case store.DialectPostgres:
		switch canonical {
		case "TIMESTAMP":
			return "TIMESTAMP"
		case "INTEGER":
			return "INT"
		case "REAL":
			return "DOUBLE PRECISION"
		default:
			return "VARCHAR"
		}
	case store.DialectMySQL:
		switch canonical {
		case "TIMESTAMP":
			return "DATETIME"
		case "INTEGER":
			return "INT"
		case "REAL":
			return "DOUBLE"
		default:
			return "TEXT"
		}
	default:
		return canonical
	}
}

// isHousekeepingColumn 过滤 ETL 自己维护的列，文件里本来就不会带。
func isHousekeepingColumn(c string) bool {
	switch c {
	case "etl_loaded_at", "etl_updated_at", "id":
		return true
	}
	return false
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
