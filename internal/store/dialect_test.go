package store

import (
	"strings"
	"testing"
)

func TestDialectFromDBType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Dialect
	}{
		{"sqlite", DialectSQLite},
		{"SQLite", DialectSQLite},
		{" mssql ", DialectMSSQL},
		{"azuresql", DialectMSSQL},
		{"sqlserver", DialectMSSQL},
		{"postgresql", DialectPostgres},
		{"postgres", DialectPostgres},
		{"mysql", DialectMySQL},
	}
	for _, tc := range cases {
		got, err := DialectFromDBType(tc.in)
		if err != nil {
			t.Fatalf("DialectFromDBType(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("DialectFromDBType(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	if _, err := DialectFromDBType("oracle"); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	query := "SELECT a FROM t WHERE x=? AND y=?"
	if got := rebind(DialectSQLite, query); got != query {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	if got := rebind(DialectMySQL, query); got != query {
		t.Fatalf("mysql rebind changed query: %q", got)
	}
	if got := rebind(DialectMSSQL, query); got != "SELECT a FROM t WHERE x=@p1 AND y=@p2" {
		t.Fatalf("mssql rebind = %q", got)
	}
	if got := rebind(DialectPostgres, query); got != "SELECT a FROM t WHERE x=$1 AND y=$2" {
		t.Fatalf("postgres rebind = %q", got)
	}

	// 字符串字面量里的问号不是占位符。
	literal := "SELECT '?' FROM t WHERE x=?"
	if got := rebind(DialectPostgres, literal); got != "SELECT '?' FROM t WHERE x=$1" {
		t.Fatalf("postgres rebind(literal) = %q", got)
	}
}

func TestLimitClauseAndQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := limitClause(DialectSQLite); got != "LIMIT ?" {
		t.Fatalf("sqlite limit = %q", got)
	}
	if got := limitClause(DialectMSSQL); got != "OFFSET 0 ROWS FETCH NEXT ? ROWS ONLY" {
		t.Fatalf("mssql limit = %q", got)
	}

	if got := quoteIdent(DialectMySQL, "cases"); got != "`cases`" {
		t.Fatalf("mysql quote = %q", got)
	}
	if got := quoteIdent(DialectMSSQL, "cases"); got != "[cases]" {
		t.Fatalf("mssql quote = %q", got)
	}
	if got := quoteIdent(DialectPostgres, "cases"); got != `"cases"` {
		t.Fatalf("postgres quote = %q", got)
	}
}

func TestExprPeriod(t *testing.T) {
	t.Parallel()

	if got := exprPeriod(DialectSQLite, "day", "created_at"); got != "strftime('%Y-%m-%d', created_at)" {
		t.Fatalf("sqlite day = %q", got)
	}
	if got := exprPeriod(DialectSQLite, "week", "created_at"); got != "strftime('%Y-W%W', created_at)" {
		t.Fatalf("sqlite week = %q", got)
	}
	if got := exprPeriod(DialectSQLite, "month", "created_at"); got != "strftime('%Y-%m', created_at)" {
		t.Fatalf("sqlite month = %q", got)
	}
	if got := exprPeriod(DialectMySQL, "day", "created_at"); got != "DATE_FORMAT(created_at, '%Y-%m-%d')" {
		t.Fatalf("mysql day = %q", got)
	}
	if got := exprPeriod(DialectPostgres, "month", "created_at"); got != "to_char(CAST(created_at AS timestamp), 'YYYY-MM')" {
		t.Fatalf("postgres month = %q", got)
	}
	if got := exprPeriod(DialectMSSQL, "month", "created_at"); got != "FORMAT(created_at, 'yyyy-MM')" {
		t.Fatalf("mssql month = %q", got)
	}
	// 未知粒度回落到按月。
	if got := exprPeriod(DialectSQLite, "decade", "created_at"); got != "strftime('%Y-%m', created_at)" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestBuildUpsertSQL(t *testing.T) {
	t.Parallel()

	update, insert := buildUpsertSQL(DialectSQLite, "people", []string{"person_id", "first_name", "gender"}, "person_id")
	wantUpdate := `UPDATE "people" SET "first_name"=?, "gender"=?, "etl_updated_at"=CURRENT_TIMESTAMP WHERE "person_id"=?`
	if update != wantUpdate {
		t.Fatalf("update sql = %q, want %q", update, wantUpdate)
	}
	wantInsert := `INSERT INTO "people" ("person_id", "first_name", "gender") VALUES (?, ?, ?)`
	if insert != wantInsert {
		t.Fatalf("insert sql = %q, want %q", insert, wantInsert)
	}

	update, _ = buildUpsertSQL(DialectPostgres, "people", []string{"person_id", "gender"}, "person_id")
	if !strings.Contains(update, "$1") || !strings.Contains(update, "$2") {
		t.Fatalf("postgres update not rebound: %q", update)
	}
}

func TestParseCreateTableColumns(t *testing.T) {
	t.Parallel()

	schema := `
-- 示例表
CREATE TABLE IF NOT EXISTS widgets (
    widget_id TEXT PRIMARY KEY,
    name TEXT NOT NULL, -- 展示名
    score REAL DEFAULT 0,
    FOREIGN KEY (name) REFERENCES other(name)
);

CREATE INDEX IF NOT EXISTS idx_widgets_name ON widgets(name);

CREATE TABLE parts (
    part_id INTEGER PRIMARY KEY AUTOINCREMENT,
    widget_id TEXT,
    UNIQUE (widget_id)
);
`
	tables := parseCreateTableColumns(schema)
	widgets, ok := tables["widgets"]
	if !ok {
		t.Fatalf("widgets missing: %v", tables)
	}
	want := []string{"widget_id", "name", "score"}
	if len(widgets) != len(want) {
		t.Fatalf("widgets columns = %v, want %v", widgets, want)
	}
	for i := range want {
		if widgets[i] != want[i] {
			t.Fatalf("widgets[%d] = %s, want %s", i, widgets[i], want[i])
		}
	}

	parts, ok := tables["parts"]
	if !ok || len(parts) != 2 || parts[0] != "part_id" || parts[1] != "widget_id" {
		t.Fatalf("parts columns = %v", parts)
	}
}
