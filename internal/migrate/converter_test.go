package migrate

import (
	"strings"
	"testing"

	"hhsetl/internal/store"
)

func canonicalSchema(t *testing.T) string {
	t.Helper()
	schema, err := store.DomainSchemaSQL()
	if err != nil {
		t.Fatalf("DomainSchemaSQL: %v", err)
	}
	return schema
}

func countCreateTables(stmts []string) int {
	n := 0
	for _, s := range stmts {
		if strings.Contains(strings.ToUpper(s), "CREATE TABLE") {
			n++
		}
	}
	return n
}

// findIndex 返回第一条包含 needle 的语句下标，找不到为 -1。
func findIndex(stmts []string, needle string) int {
	for i, s := range stmts {
		if strings.Contains(s, needle) {
			return i
		}
	}
	return -1
}

func TestConvertSchemaMSSQL(t *testing.T) {
	t.Parallel()

	stmts, err := ConvertSchema(store.DialectMSSQL, canonicalSchema(t))
	if err != nil {
		t.Fatalf("ConvertSchema(mssql): %v", err)
	}
	if n := countCreateTables(stmts); n < 9 {
		t.Fatalf("mssql 建表语句只有 %d 条，至少应有 9 条", n)
	}

	joined := strings.Join(stmts, ";\n")
	for _, want := range []string{
		"NVARCHAR(MAX)",
		"DATETIME2",
		"IDENTITY(1,1)",
		"IF OBJECT_ID('people', 'U') IS NULL",
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_people_name'",
		"GETDATE()",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("mssql 输出缺少 %q", want)
		}
	}
	for _, banned := range []string{"CREATE TABLE IF NOT EXISTS", "AUTOINCREMENT", " TEXT", "TIMESTAMP,"} {
		if strings.Contains(joined, banned) {
			t.Fatalf("mssql 输出不应包含 %q", banned)
		}
	}

	// 自增主键应折叠成 IDENTITY 形式。
	if !strings.Contains(joined, "INT IDENTITY(1,1) PRIMARY KEY") {
		t.Fatalf("mssql 输出缺少 INT IDENTITY(1,1) PRIMARY KEY")
	}

	// 表必须先于自己的索引。
	tableIdx := findIndex(stmts, "CREATE TABLE etl_metadata")
	indexIdx := findIndex(stmts, "idx_etl_metadata_table")
	if tableIdx < 0 || indexIdx < 0 {
		t.Fatalf("未找到 etl_metadata 的建表/建索引语句: table=%d index=%d", tableIdx, indexIdx)
	}
	if tableIdx > indexIdx {
		t.Fatalf("etl_metadata 的索引(%d)出现在建表(%d)之前", indexIdx, tableIdx)
	}
}

func TestConvertSchemaMSSQLViews(t *testing.T) {
	t.Parallel()

	stmts, err := ConvertSchema(store.DialectMSSQL, canonicalSchema(t))
	if err != nil {
		t.Fatalf("ConvertSchema(mssql): %v", err)
	}

	di := findIndex(stmts, "v_service_demand")
	ai := findIndex(stmts, "v_active_cases")
	if di < 0 || ai < 0 {
		t.Fatalf("视图语句缺失: demand=%d active=%d", di, ai)
	}
	demand := stmts[di]
	if strings.Contains(demand, "ORDER BY") {
		t.Fatalf("mssql 视图不应保留 ORDER BY: %q", demand)
	}
	if !strings.Contains(demand, "DATEDIFF(day, case_created_at, GETDATE())") {
		t.Fatalf("julianday 差值未改写: %q", demand)
	}
	if !strings.Contains(demand, "DATEADD(day, -90, CAST(GETDATE() AS DATE))") {
		t.Fatalf("date('now','-90 days') 未改写: %q", demand)
	}

	active := stmts[ai]
	if strings.Contains(active, "||") {
		t.Fatalf("mssql 视图残留 || 拼接: %q", active)
	}
	if !strings.Contains(active, "p.first_name + ' ' + p.last_name") {
		t.Fatalf("拼接未改写成 +: %q", active)
	}
	if !strings.Contains(active, "CREATE OR ALTER VIEW") {
		t.Fatalf("mssql 视图应使用 CREATE OR ALTER: %q", active[:60])
	}
}

func TestConvertSchemaPostgres(t *testing.T) {
	t.Parallel()

	stmts, err := ConvertSchema(store.DialectPostgres, canonicalSchema(t))
	if err != nil {
		t.Fatalf("ConvertSchema(postgresql): %v", err)
	}
	if n := countCreateTables(stmts); n < 9 {
		t.Fatalf("postgresql 建表语句只有 %d 条", n)
	}

	joined := strings.Join(stmts, ";\n")
	if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS") {
		t.Fatalf("postgresql 应保留 IF NOT EXISTS")
	}
	if !strings.Contains(joined, "SERIAL PRIMARY KEY") {
		t.Fatalf("postgresql 自增主键应转换为 SERIAL PRIMARY KEY")
	}
	if strings.Contains(joined, "AUTOINCREMENT") {
		t.Fatalf("postgresql 输出残留 AUTOINCREMENT")
	}
	if !strings.Contains(joined, "VARCHAR") {
		t.Fatalf("postgresql TEXT 应转换为 VARCHAR")
	}
	if !strings.Contains(joined, "TIMESTAMP") {
		t.Fatalf("postgresql 应保留 TIMESTAMP 类型")
	}
	if !strings.Contains(joined, "CREATE OR REPLACE VIEW") {
		t.Fatalf("postgresql 视图应使用 CREATE OR REPLACE")
	}
	if !strings.Contains(joined, "INTERVAL '-90 days'") {
		t.Fatalf("postgresql 日期偏移应使用 INTERVAL")
	}
	// 拼接运算符 PostgreSQL 原生支持，不应被改写。
	if !strings.Contains(joined, "p.first_name || ' ' || p.last_name") {
		t.Fatalf("postgresql 视图的 || 拼接不应被改写")
	}
}

func TestConvertSchemaMySQL(t *testing.T) {
	t.Parallel()

	stmts, err := ConvertSchema(store.DialectMySQL, canonicalSchema(t))
	if err != nil {
		t.Fatalf("ConvertSchema(mysql): %v", err)
	}
	if n := countCreateTables(stmts); n < 9 {
		t.Fatalf("mysql 建表语句只有 %d 条", n)
	}

	joined := strings.Join(stmts, ";\n")
	if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS") {
		t.Fatalf("mysql 应保留 IF NOT EXISTS")
	}
	if !strings.Contains(joined, "INT AUTO_INCREMENT PRIMARY KEY") {
		t.Fatalf("mysql 自增主键应转换为 INT AUTO_INCREMENT PRIMARY KEY")
	}
	if !strings.Contains(joined, "DATETIME") {
		t.Fatalf("mysql TIMESTAMP 应转换为 DATETIME")
	}
	if !strings.Contains(joined, "TEXT") {
		t.Fatalf("mysql 应保留 TEXT 类型")
	}
	if !strings.Contains(joined, "CONCAT(p.first_name, ' ', p.last_name)") {
		t.Fatalf("mysql 视图拼接应改写成 CONCAT")
	}
	if !strings.Contains(joined, "DATEDIFF(NOW(), case_created_at)") {
		t.Fatalf("mysql julianday 差值应改写成 DATEDIFF")
	}
}

func TestConvertSchemaSQLitePassThrough(t *testing.T) {
	t.Parallel()

	schema := canonicalSchema(t)
	want := store.SplitSQLStatements(schema)
	got, err := ConvertSchema(store.DialectSQLite, schema)
	if err != nil {
		t.Fatalf("ConvertSchema(sqlite): %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("sqlite 透传语句数 = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("sqlite 第 %d 条语句被改写:\n%s", i, got[i])
		}
	}
}

func TestConvertStatementSkipsSQLiteOnly(t *testing.T) {
	t.Parallel()

	for _, stmt := range []string{
		"PRAGMA foreign_keys = ON",
		"BEGIN TRANSACTION",
		"COMMIT",
		"-- 只是一行注释",
		"",
	} {
		if out, keep := ConvertStatement(store.DialectMSSQL, stmt); keep {
			t.Fatalf("语句 %q 应被跳过，实际输出 %q", stmt, out)
		}
	}

	// 带前导注释的建表语句不能丢。
	stmt := "-- 人员主表\nCREATE TABLE IF NOT EXISTS people (person_id TEXT PRIMARY KEY)"
	out, keep := ConvertStatement(store.DialectMSSQL, stmt)
	if !keep {
		t.Fatalf("带注释的建表语句被误跳过")
	}
	if !strings.Contains(out, "NVARCHAR(MAX)") {
		t.Fatalf("类型未转换: %q", out)
	}
}

func TestCanonicalCreateTable(t *testing.T) {
	t.Parallel()

	stmt, ok := CanonicalCreateTable("people")
	if !ok {
		t.Fatalf("未找到 people 的建表语句")
	}
	if !strings.Contains(stmt, "person_id") {
		t.Fatalf("people 建表语句缺少 person_id: %q", stmt)
	}
	if _, ok := CanonicalCreateTable("no_such_table"); ok {
		t.Fatalf("不存在的表不应返回语句")
	}
}

func TestIdentityTables(t *testing.T) {
	t.Parallel()

	tables := identityTables(canonicalSchema(t))
	for _, want := range []string{"etl_metadata", "data_quality_issues", "sftp_cache"} {
		if !tables[want] {
			t.Fatalf("identityTables 缺少 %s", want)
		}
	}
	if tables["people"] {
		t.Fatalf("people 没有自增主键，不应出现")
	}
}
