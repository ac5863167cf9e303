package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect 表示数据库方言，用于处理 SQLite/MSSQL/PostgreSQL/MySQL 的 SQL 语法差异。
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMSSQL    Dialect = "mssql"
	DialectPostgres Dialect = "postgresql"
	DialectMySQL    Dialect = "mysql"
)

// DialectFromDBType 把配置里的 database.type 映射到方言（azuresql 视为 mssql）。
func DialectFromDBType(dbType string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "sqlite":
		return DialectSQLite, nil
	case "mssql", "azuresql", "sqlserver":
		return DialectMSSQL, nil
	case "postgresql", "postgres":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("不支持的 database.type：%s", dbType)
	}
}

// Valid 判断方言是否受支持。
func (d Dialect) Valid() bool {
	switch d {
	case DialectSQLite, DialectMSSQL, DialectPostgres, DialectMySQL:
		return true
	}
	return false
}

// Rebind 把 `?` 占位符改写成目标方言的形式，migrate 包向目标库写数据时复用。
func Rebind(d Dialect, query string) string {
	return rebind(d, query)
}

// QuoteIdent 按方言引用标识符，migrate 包拼装目标库 SQL 时复用。
func QuoteIdent(d Dialect, name string) string {
	return quoteIdent(d, name)
}

// rebind 把 `?` 占位符改写成目标方言的形式（MSSQL @pN、PostgreSQL $N）。
// 所有 SQL 统一按 `?` 书写，执行前经此转换，避免每条语句写四份。
func rebind(d Dialect, query string) string {
	switch d {
	case DialectMSSQL, DialectPostgres:
	default:
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inSingle := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inSingle = !inSingle
			b.WriteByte(c)
		case c == '?' && !inSingle:
			n++
			if d == DialectMSSQL {
				b.WriteString("@p")
			} else {
				b.WriteByte('$')
			}
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// quoteIdent 按方言引用标识符（表名/列名均来自固定白名单，引用只为兼容保留字）。
func quoteIdent(d Dialect, name string) string {
	switch d {
	case DialectMySQL:
		return "`" + name + "`"
	case DialectMSSQL:
		return "[" + name + "]"
	default:
		return `"` + name + `"`
	}
}

// limitClause 返回带一个占位符的行数限制子句。
// MSSQL 的 FETCH 语法要求语句带 ORDER BY，调用处均满足。
func limitClause(d Dialect) string {
	if d == DialectMSSQL {
		return "OFFSET 0 ROWS FETCH NEXT ? ROWS ONLY"
	}
	return "LIMIT ?"
}

// exprNow 返回当前时间表达式。
func exprNow(d Dialect) string {
	switch d {
	case DialectMSSQL:
		return "GETDATE()"
	case DialectPostgres, DialectMySQL:
		return "NOW()"
	default:
		return "datetime('now')"
	}
}

// exprDaysBetween 返回 end 与 start 的天数差（SQLite/PostgreSQL 为小数天）。
func exprDaysBetween(d Dialect, end string, start string) string {
	switch d {
	case DialectMSSQL:
		return fmt.Sprintf("DATEDIFF(day, %s, %s)", start, end)
	case DialectPostgres:
		return fmt.Sprintf("EXTRACT(EPOCH FROM (CAST(%s AS timestamp) - CAST(%s AS timestamp))) / 86400.0", end, start)
	case DialectMySQL:
		return fmt.Sprintf("DATEDIFF(%s, %s)", end, start)
	default:
		return fmt.Sprintf("julianday(%s) - julianday(%s)", end, start)
	}
}

// exprDaysSince 返回从 col 到当前时间的天数差。
func exprDaysSince(d Dialect, col string) string {
	switch d {
	case DialectMSSQL:
		return fmt.Sprintf("DATEDIFF(day, %s, GETDATE())", col)
	case DialectPostgres:
		return fmt.Sprintf("EXTRACT(EPOCH FROM (NOW() - CAST(%s AS timestamp))) / 86400.0", col)
	case DialectMySQL:
		return fmt.Sprintf("DATEDIFF(NOW(), %s)", col)
	default:
		return fmt.Sprintf("julianday('now') - julianday(%s)", col)
	}
}

// exprAgeYears 返回按出生日期推算的整数年龄。
func exprAgeYears(d Dialect, col string) string {
	switch d {
	case DialectMSSQL:
		return fmt.Sprintf("CAST(DATEDIFF(day, %s, GETDATE()) / 365.25 AS INT)", col)
	case DialectPostgres:
		return fmt.Sprintf("CAST(EXTRACT(EPOCH FROM (NOW() - CAST(%s AS timestamp))) / 31557600 AS INTEGER)", col)
	case DialectMySQL:
		return fmt.Sprintf("CAST(DATEDIFF(NOW(), %s) / 365.25 AS SIGNED)", col)
	default:
		return fmt.Sprintf("CAST((julianday('now') - julianday(%s)) / 365.25 AS INTEGER)", col)
	}
}

// exprPeriod 返回时间列按 day/week/month 分组的期间标签
// （day=2006-01-02、week=2006-W02、month=2006-01）。
func exprPeriod(d Dialect, grouping string, col string) string {
	switch d {
	case DialectMSSQL:
		switch grouping {
		case "day":
			return fmt.Sprintf("FORMAT(%s, 'yyyy-MM-dd')", col)
		case "week":
			return fmt.Sprintf("CONCAT(YEAR(%s), '-W', RIGHT('0' + CAST(DATEPART(week, %s) AS VARCHAR(2)), 2))", col, col)
		default:
			return fmt.Sprintf("FORMAT(%s, 'yyyy-MM')", col)
		}
	case DialectPostgres:
		switch grouping {
		case "day":
			return fmt.Sprintf("to_char(CAST(%s AS timestamp), 'YYYY-MM-DD')", col)
		case "week":
			return fmt.Sprintf("to_char(CAST(%s AS timestamp), 'IYYY-\"W\"IW')", col)
		default:
			return fmt.Sprintf("to_char(CAST(%s AS timestamp), 'YYYY-MM')", col)
		}
	case DialectMySQL:
		switch grouping {
		case "day":
			return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", col)
		case "week":
			return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-W%%v')", col)
		default:
			return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m')", col)
		}
	default:
		switch grouping {
		case "day":
			return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", col)
		case "week":
			return fmt.Sprintf("strftime('%%Y-W%%W', %s)", col)
		default:
			return fmt.Sprintf("strftime('%%Y-%%m', %s)", col)
		}
	}
}
