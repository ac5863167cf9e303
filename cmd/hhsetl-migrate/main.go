// hhsetl-migrate 把 SQLite 业务库整库迁移到配置的目标数据库，
// 供不便通过管理界面操作的环境使用（如一次性上线 MSSQL）。
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"hhsetl/internal/config"
	"hhsetl/internal/migrate"
	"hhsetl/internal/obs"
	"hhsetl/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", "", "配置文件路径（默认 .config.json）")
		target      = flag.String("target", "", "目标数据库类型（mssql/postgresql/mysql/sqlite，默认取配置文件）")
		previewOnly = flag.Bool("preview", false, "只打印转换后的建表 DDL，不执行迁移")
		skipDDL     = flag.Bool("skip-create", false, "跳过建表，直接搬数据（目标表已存在时使用）")
		timeout     = flag.Duration("timeout", 30*time.Minute, "整库迁移超时")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	destCfg := cfg.DB
	if *target != "" {
		destCfg.Type = *target
	}
	destDialect, err := store.DialectFromDBType(destCfg.Type)
	if err != nil {
		slog.Error("目标数据库类型不支持", "type", destCfg.Type, "err", err)
		os.Exit(1)
	}

	if *previewOnly {
		schema, err := store.DomainSchemaSQL()
		if err != nil {
			slog.Error("读取业务库 schema 失败", "err", err)
			os.Exit(1)
		}
		stmts, err := migrate.ConvertSchema(destDialect, schema)
		if err != nil {
			slog.Error("转换 DDL 失败", "dialect", string(destDialect), "err", err)
			os.Exit(1)
		}
		for _, s := range stmts {
			fmt.Println(s + ";")
			fmt.Println()
		}
		return
	}

	destDB, _, err := store.OpenDomainDB(cfg.Env, destCfg)
	if err != nil {
		slog.Error("连接目标数据库失败", "type", destCfg.Type, "err", err)
		os.Exit(1)
	}
	defer destDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	t0 := time.Now()
	result, err := migrate.Run(ctx, migrate.Options{
		SourceDialect: store.DialectSQLite,
		SourcePath:    cfg.DB.SQLitePath,
		Destination:   destDB,
		DestDialect:   destDialect,
		CreateTables:  !*skipDDL,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("迁移失败", "err", err)
		os.Exit(1)
	}

	tables := make([]string, 0, len(result.Tables))
	for name := range result.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	for _, name := range tables {
		tr := result.Tables[name]
		if tr.Status == "failed" {
			slog.Error("表迁移失败", "table", name, "error", tr.Error)
		} else {
			slog.Info("表迁移完成", "table", name, "records", tr.Records)
		}
	}
	slog.Info("迁移结束",
		"target", string(destDialect),
		"tables_migrated", result.TablesMigrated,
		"tables_failed", result.TablesFailed,
		"total_records", result.TotalRecords,
		"elapsed", time.Since(t0).Round(time.Millisecond).String())
	if result.TablesFailed > 0 {
		os.Exit(1)
	}
}
