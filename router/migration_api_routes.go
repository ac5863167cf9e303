package router

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/migrate"
	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

// migrationState 保存最近一次迁移的结果，服务重启即清空。
// 同一时间只允许一次迁移在跑。
type migrationState struct {
	mu      sync.Mutex
	running bool
	last    *migrate.Result
	lastErr string
	ranAt   string
}

var migState migrationState

func setMigrationAPIRoutes(r gin.IRoutes, opts Options) {
	admin := requireRole(opts, store.RoleAdmin)

	r.POST("/migration/test-connection", admin, testConnectionHandler(opts))
	r.GET("/migration/schema-preview", admin, schemaPreviewHandler(opts))
	r.POST("/migration/run", admin, runMigrationHandler(opts))
	r.GET("/migration/status", admin, migrationStatusHandler())
	r.GET("/migration/check-data", admin, checkDataHandler(opts))
}

// targetDBConfig 把落库的连接设置合并到文件配置上，得到迁移目标的连接参数。
func targetDBConfig(ctx context.Context, opts Options) (store.DatabaseSettings, store.Dialect, error) {
	ds, err := opts.Store.GetDatabaseSettings(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.DatabaseSettings{}, "", errors.New("尚未配置目标数据库")
		}
		return store.DatabaseSettings{}, "", err
	}
	dialect, err := store.DialectFromDBType(ds.DBType)
	if err != nil {
		return store.DatabaseSettings{}, "", err
	}
	return ds, dialect, nil
}

func testConnectionHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		ds, dialect, err := targetDBConfig(c.Request.Context(), opts)
		if err != nil {
			fail(c, err.Error())
			return
		}

		start := time.Now()
		db, _, err := store.OpenDomainDB(opts.Cfg.Env, ds.DBConfig(opts.Cfg.DB))
		elapsed := time.Since(start)
		if err != nil {
			auditFromContext(c, opts, store.AuditEvent{
				Category:     store.AuditCategoryConfiguration,
				Action:       "db_connection_test",
				Details:      strPtr("目标库类型：" + ds.DBType),
				ErrorMessage: strPtr(err.Error()),
				Success:      false,
			})
			fail(c, "连接失败："+err.Error())
			return
		}
		_ = db.Close()

		auditFromContext(c, opts, store.AuditEvent{
			Category: store.AuditCategoryConfiguration,
			Action:   "db_connection_test",
			Details:  strPtr("目标库类型：" + ds.DBType),
			Success:  true,
		})
		okData(c, gin.H{
			"dialect":    string(dialect),
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}
}

// schemaPreviewHandler 返回业务库 DDL 在目标方言下的转换结果，不触碰任何数据库。
func schemaPreviewHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbType := c.Query("db_type")
		if dbType == "" {
			if ds, err := opts.Store.GetDatabaseSettings(c.Request.Context()); err == nil {
				dbType = ds.DBType
			}
		}
		dialect, err := store.DialectFromDBType(dbType)
		if err != nil {
			fail(c, err.Error())
			return
		}

		schemaSQL, err := store.DomainSchemaSQL()
		if err != nil {
			fail(c, "读取内置 DDL 失败")
			return
		}
		stmts, err := migrate.ConvertSchema(dialect, schemaSQL)
		if err != nil {
			fail(c, "转换 DDL 失败："+err.Error())
			return
		}
		okData(c, gin.H{
			"dialect":         string(dialect),
			"statement_count": len(stmts),
			"statements":      stmts,
		})
	}
}

func runMigrationHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Store.Dialect() != store.DialectSQLite {
			fail(c, migrate.ErrSourceNotSQLite.Error())
			return
		}

		migState.mu.Lock()
		if migState.running {
			migState.mu.Unlock()
			fail(c, "已有迁移在进行中")
			return
		}
		migState.running = true
		migState.mu.Unlock()
		defer func() {
			migState.mu.Lock()
			migState.running = false
			migState.mu.Unlock()
		}()

		ds, destDialect, err := targetDBConfig(c.Request.Context(), opts)
		if err != nil {
			fail(c, err.Error())
			return
		}

		dest, _, err := store.OpenDomainDB(opts.Cfg.Env, ds.DBConfig(opts.Cfg.DB))
		if err != nil {
			fail(c, "连接目标库失败："+err.Error())
			return
		}
		defer dest.Close()

		res, err := migrate.Run(c.Request.Context(), migrate.Options{
			SourceDialect: opts.Store.Dialect(),
			SourcePath:    opts.Cfg.DB.SQLitePath,
			Destination:   dest,
			DestDialect:   destDialect,
			CreateTables:  true,
		})

		migState.mu.Lock()
		migState.ranAt = time.Now().UTC().Format(time.RFC3339)
		migState.last = res
		if err != nil {
			migState.lastErr = err.Error()
		} else {
			migState.lastErr = ""
		}
		migState.mu.Unlock()

		if err != nil {
			auditFromContext(c, opts, store.AuditEvent{
				Category:     store.AuditCategorySystem,
				Action:       "database_migration",
				Details:      strPtr("目标库类型：" + ds.DBType),
				ErrorMessage: strPtr(err.Error()),
				Success:      false,
			})
			fail(c, "迁移失败："+err.Error())
			return
		}

		auditFromContext(c, opts, store.AuditEvent{
			Category:    store.AuditCategorySystem,
			Action:      "database_migration",
			Details:     strPtr("目标库类型：" + ds.DBType),
			RecordCount: int64Ptr(res.TotalRecords),
			Success:     res.TablesFailed == 0,
		})
		siemNotify(c, opts, siem.Event{
			Category: siem.CategorySystemEvent,
			Action:   "database_migration",
			Severity: siem.SeverityNotice,
			Message:  "业务数据已迁移到 " + ds.DBType,
			Success:  res.TablesFailed == 0,
		})
		okData(c, res)
	}
}

func migrationStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		migState.mu.Lock()
		defer migState.mu.Unlock()
		okData(c, gin.H{
			"running":    migState.running,
			"ran_at":     migState.ranAt,
			"last_error": migState.lastErr,
			"result":     migState.last,
		})
	}
}

// checkDataHandler 返回当前业务库各表行数，迁移前后各查一次即可人工核对。
func checkDataHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := opts.Store.DomainRowCounts(c.Request.Context())
		if err != nil {
			fail(c, "统计行数失败："+err.Error())
			return
		}
		var total int64
		for _, n := range counts {
			total += n
		}
		okData(c, gin.H{
			"dialect":       string(opts.Store.Dialect()),
			"row_counts":    counts,
			"total_records": total,
		})
	}
}
