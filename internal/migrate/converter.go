// Package migrate 负责业务库的跨引擎搬迁：把规范的 SQLite schema 转换成
// 目标方言的 DDL，整库复制数据，并校验线上表结构与规范的偏差。
package migrate

import (
	"fmt"
	"regexp"
	"strings"

	"hhsetl/internal/store"
)

// 语句里的表名/索引名只含字母数字下划线，不考虑带引号的标识符。
var (
	reCreateTable = regexp.MustCompile(`(?i)CREATE TABLE\s+(?:IF NOT EXISTS\s+)?([A-Za-z_]\w*)`)
	reCreateIndex = regexp.MustCompile(`(?i)CREATE\s+(?:UNIQUE\s+)?INDEX\s+(?:IF NOT EXISTS\s+)?([A-Za-z_]\w*)\s+ON\s+([A-Za-z_]\w*)`)
	reCreateView  = regexp.MustCompile(`(?i)CREATE VIEW\s+(?:IF NOT EXISTS\s+)?([A-Za-z_]\w*)`)

	reTableIfNotExists = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS`)
	reIndexIfNotExists = regexp.MustCompile(`(?i)CREATE (UNIQUE )?INDEX IF NOT EXISTS`)
	reViewIfNotExists  = regexp.MustCompile(`(?i)CREATE VIEW IF NOT EXISTS`)

	// 复合形式必须先于单个关键字替换，否则 INTEGER 先变成 INT 后复合规则再也匹配不上。
	reIntegerPKAutoinc  = regexp.MustCompile(`(?i)INTEGER PRIMARY KEY AUTOINCREMENT`)
	reCurrentTimestamp  = regexp.MustCompile(`(?i)\bCURRENT_TIMESTAMP\b`)
	reWordInteger       = regexp.MustCompile(`(?i)\bINTEGER\b`)
	reWordText          = regexp.MustCompile(`(?i)\bTEXT\b`)
	reWordReal          = regexp.MustCompile(`(?i)\bREAL\b`)
	reWordBlob          = regexp.MustCompile(`(?i)\bBLOB\b`)
	reWordTimestamp     = regexp.MustCompile(`(?i)\bTIMESTAMP\b`)
	reWordAutoincrement = regexp.MustCompile(`(?i)\bAUTOINCREMENT\b`)

	// 视图表达式改写：拼接、date('now') 及 julianday 差值。
	reConcatTriple = regexp.MustCompile(`(\w+(?:\.\w+)?)\s*\|\|\s*('[^']*')\s*\|\|\s*(\w+(?:\.\w+)?)`)
	reConcatLeft   = regexp.MustCompile(`(\w+(?:\.\w+)?)\s*\|\|\s*('[^']*')`)
	reConcatRight  = regexp.MustCompile(`('[^']*')\s*\|\|\s*(\w+(?:\.\w+)?)`)
	reDateNowDelta = regexp.MustCompile(`(?i)date\('now',\s*'([+-]?\d+)\s+days?'\)`)
	reDateNow      = regexp.MustCompile(`(?i)date\('now'\)`)
	reJulianSince  = regexp.MustCompile(`(?i)julianday\('now'\)\s*-\s*julianday\((\w+(?:\.\w+)?)\)`)
	reViewOrderBy  = regexp.MustCompile(`(?i)\s+ORDER BY\s+[^;)]*$`)
)

// ConvertSchema 把 SQLite 方言的 schema SQL 逐条转换成目标方言，按输入顺序返回。
// SQLite 目标原样透传；PRAGMA/BEGIN/COMMIT 与纯注释片段被丢弃。
func ConvertSchema(d store.Dialect, schemaSQL string) ([]string, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("不支持的目标方言：%s", d)
	}
	stmts := store.SplitSQLStatements(schemaSQL)
	out := make([]string, 0, len(stmts))
	for _, stmt := range stmts {
		converted, keep := ConvertStatement(d, stmt)
		if keep {
			out = append(out, converted)
		}
	}
	return out, nil
}

// ConvertStatement 转换单条语句，第二个返回值为 false 表示该语句在目标方言下应跳过。
func ConvertStatement(d store.Dialect, stmt string) (string, bool) {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return "", false
	}
	upper := strings.ToUpper(stmt)
	if strings.HasPrefix(stmt, "--") && !strings.Contains(upper, "CREATE") {
		return "", false
	}
	for _, kw := range []string{"PRAGMA", "BEGIN", "COMMIT"} {
		if strings.HasPrefix(upper, kw) {
			return "", false
		}
	}
	if d == store.DialectSQLite {
		return stmt, true
	}
	switch {
	case strings.Contains(upper, "CREATE TABLE"):
		return convertCreateTable(d, stmt), true
	case strings.Contains(upper, "CREATE VIEW"):
		return convertCreateView(d, stmt), true
	case strings.Contains(upper, "CREATE") && strings.Contains(upper, "INDEX"):
		return convertCreateIndex(d, stmt), true
	default:
		return stmt, true
	}
}

func convertCreateTable(d store.Dialect, stmt string) string {
	table := ""
	if m := reCreateTable.FindStringSubmatch(stmt); m != nil {
		table = m[1]
	}

	switch d {
	case store.DialectMSSQL:
		stmt = reTableIfNotExists.ReplaceAllString(stmt, "CREATE TABLE")
		stmt = reIntegerPKAutoinc.ReplaceAllString(stmt, "INT IDENTITY(1,1) PRIMARY KEY")
		stmt = reCurrentTimestamp.ReplaceAllString(stmt, "GETDATE()")
		stmt = reWordInteger.ReplaceAllString(stmt, "INT")
		stmt = reWordText.ReplaceAllString(stmt, "NVARCHAR(MAX)")
		stmt = reWordReal.ReplaceAllString(stmt, "FLOAT")
		stmt = reWordBlob.ReplaceAllString(stmt, "VARBINARY(MAX)")
		stmt = reWordTimestamp.ReplaceAllString(stmt, "DATETIME2")
		stmt = reWordAutoincrement.ReplaceAllString(stmt, "IDENTITY(1,1)")
		// MSSQL 的 CREATE TABLE 没有 IF NOT EXISTS，用 OBJECT_ID 守卫保持可重复执行。
		if table != "" {
			return fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NULL\nBEGIN\n%s\nEND", table, stmt)
		}
		return stmt
	case store.DialectPostgres:
		stmt = reIntegerPKAutoinc.ReplaceAllString(stmt, "SERIAL PRIMARY KEY")
		stmt = reWordAutoincrement.ReplaceAllString(stmt, "")
		stmt = reWordInteger.ReplaceAllString(stmt, "INT")
		stmt = reWordText.ReplaceAllString(stmt, "VARCHAR")
		stmt = reWordReal.ReplaceAllString(stmt, "DOUBLE PRECISION")
		stmt = reWordBlob.ReplaceAllString(stmt, "BYTEA")
		return stmt
	case store.DialectMySQL:
		stmt = reIntegerPKAutoinc.ReplaceAllString(stmt, "INT AUTO_INCREMENT PRIMARY KEY")
		stmt = reWordAutoincrement.ReplaceAllString(stmt, "AUTO_INCREMENT")
		stmt = reWordInteger.ReplaceAllString(stmt, "INT")
		stmt = reWordReal.ReplaceAllString(stmt, "DOUBLE")
		stmt = reWordTimestamp.ReplaceAllString(stmt, "DATETIME")
		return stmt
	}
	return stmt
}

func convertCreateIndex(d store.Dialect, stmt string) string {
	if d != store.DialectMSSQL {
		return stmt
	}
	index, table := "", ""
	if m := reCreateIndex.FindStringSubmatch(stmt); m != nil {
		index, table = m[1], m[2]
	}
	stmt = reIndexIfNotExists.ReplaceAllString(stmt, "CREATE ${1}INDEX")
	if index == "" || table == "" {
		return stmt
	}
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = '%s' AND object_id = OBJECT_ID('%s'))\nBEGIN\n%s\nEND",
		index, table, stmt)
}

func convertCreateView(d store.Dialect, stmt string) string {
	switch d {
	case store.DialectMSSQL:
		stmt = reViewIfNotExists.ReplaceAllString(stmt, "CREATE OR ALTER VIEW")
		stmt = reConcatTriple.ReplaceAllString(stmt, "$1 + $2 + $3")
		stmt = reConcatLeft.ReplaceAllString(stmt, "$1 + $2")
		stmt = reConcatRight.ReplaceAllString(stmt, "$1 + $2")
		stmt = reDateNowDelta.ReplaceAllString(stmt, "DATEADD(day, $1, CAST(GETDATE() AS DATE))")
		stmt = reDateNow.ReplaceAllString(stmt, "CAST(GETDATE() AS DATE)")
		stmt = reJulianSince.ReplaceAllString(stmt, "DATEDIFF(day, $1, GETDATE())")
		// MSSQL 视图定义里不允许裸 ORDER BY。
		stmt = reViewOrderBy.ReplaceAllString(stmt, "")
		return stmt
	case store.DialectPostgres:
		stmt = reViewIfNotExists.ReplaceAllString(stmt, "CREATE OR REPLACE VIEW")
		stmt = reDateNowDelta.ReplaceAllString(stmt, "(CURRENT_DATE + INTERVAL '$1 days')")
		stmt = reDateNow.ReplaceAllString(stmt, "CURRENT_DATE")
		stmt = reJulianSince.ReplaceAllString(stmt, "EXTRACT(EPOCH FROM (NOW() - $1)) / 86400.0")
		return stmt
	case store.DialectMySQL:
		stmt = reViewIfNotExists.ReplaceAllString(stmt, "CREATE OR REPLACE VIEW")
		stmt = reConcatTriple.ReplaceAllString(stmt, "CONCAT($1, $2, $3)")
		stmt = reConcatLeft.ReplaceAllString(stmt, "CONCAT($1, $2)")
		stmt = reConcatRight.ReplaceAllString(stmt, "CONCAT($1, $2)")
		stmt = reDateNowDelta.ReplaceAllString(stmt, "(CURDATE() + INTERVAL $1 DAY)")
		stmt = reDateNow.ReplaceAllString(stmt, "CURDATE()")
		stmt = reJulianSince.ReplaceAllString(stmt, "DATEDIFF(NOW(), $1)")
		return stmt
	}
	return stmt
}

// CanonicalCreateTable 从规范 schema 里取出指定表的 CREATE TABLE 语句（SQLite 方言）。
func CanonicalCreateTable(table string) (string, bool) {
	schema, err := store.DomainSchemaSQL()
	if err != nil {
		return "", false
	}
	for _, stmt := range store.SplitSQLStatements(schema) {
		m := reCreateTable.FindStringSubmatch(stmt)
		if m != nil && strings.EqualFold(m[1], table) {
			return stmt, true
		}
	}
	return "", false
}

// identityTables 返回规范 schema 里带自增主键的表，目标为 MSSQL 时
// 迁移数据前需要对这些表开 IDENTITY_INSERT。
func identityTables(schemaSQL string) map[string]bool {
	tables := make(map[string]bool)
	for _, stmt := range store.SplitSQLStatements(schemaSQL) {
		if !reWordAutoincrement.MatchString(stmt) {
			continue
		}
		if m := reCreateTable.FindStringSubmatch(stmt); m != nil {
			tables[m[1]] = true
		}
	}
	return tables
}
