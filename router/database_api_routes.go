package router

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

func setDatabaseAPIRoutes(r gin.IRoutes, opts Options) {
	viewer := requireRole(opts, store.RoleViewer)
	operator := requireRole(opts, store.RoleOperator)
	admin := requireRole(opts, store.RoleAdmin)

	r.GET("/database/tables", viewer, listTablesHandler(opts))
	r.GET("/database/tables/:table", viewer, tableRowsHandler(opts))
	r.POST("/database/query", viewer, adhocQueryHandler(opts))
	r.GET("/database/export/:table", operator, exportTableCSVHandler(opts))
	r.POST("/database/backup", admin, backupDatabaseHandler(opts))
	r.POST("/database/reset", admin, resetDatabaseHandler(opts))
}

func listTablesHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := opts.Store.DomainRowCounts(c.Request.Context())
		if err != nil {
			fail(c, "统计表行数失败")
			return
		}
		tables := make([]gin.H, 0, len(counts))
		for _, name := range store.DomainTableNames() {
			tables = append(tables, gin.H{"name": name, "row_count": counts[name]})
		}
		okData(c, gin.H{"tables": tables})
	}
}

func tableRowsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		table := c.Param("table")
		limit := intParam(c, "limit", 100)
		offset := intParam(c, "offset", 0)

		cols, rows, err := opts.Store.TableRows(c.Request.Context(), table, limit, offset)
		if err != nil {
			if errors.Is(err, store.ErrUnknownTable) {
				fail(c, store.ErrUnknownTable.Error())
				return
			}
			fail(c, "读取数据表失败")
			return
		}
		total, err := opts.Store.CountDomainRows(c.Request.Context(), table)
		if err != nil {
			fail(c, "统计数据表行数失败")
			return
		}
		okData(c, gin.H{
			"table":   table,
			"columns": cols,
			"rows":    rowsJSON(rows),
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

func adhocQueryHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Query   string `json:"query"`
		MaxRows int    `json:"max_rows"`
	}
	return func(c *gin.Context) {
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}

		cols, rows, err := opts.Store.RunSelect(c.Request.Context(), in.Query, in.MaxRows)
		if err != nil {
			if errors.Is(err, store.ErrNotSelect) {
				auditFromContext(c, opts, store.AuditEvent{
					Category:     store.AuditCategorySecurity,
					Action:       "query_rejected",
					Details:      strPtr("自助查询被拒绝：含只读之外的语句"),
					ErrorMessage: strPtr(store.ErrNotSelect.Error()),
					Success:      false,
				})
				siemNotify(c, opts, siem.Event{
					Category: siem.CategorySecurityEvent,
					Action:   "query_rejected",
					Severity: siem.SeverityWarning,
					Message:  "自助查询被拒绝",
					Success:  false,
				})
				fail(c, store.ErrNotSelect.Error())
				return
			}
			fail(c, "查询执行失败："+err.Error())
			return
		}

		auditFromContext(c, opts, store.AuditEvent{
			Category:    store.AuditCategoryDataAccess,
			Action:      "adhoc_query",
			RecordCount: int64Ptr(int64(len(rows))),
			Success:     true,
		})
		okData(c, gin.H{"columns": cols, "rows": rowsJSON(rows), "row_count": len(rows)})
	}
}

func exportTableCSVHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		table := c.Param("table")
		cols, rows, err := opts.Store.TableRows(c.Request.Context(), table, intParam(c, "limit", 1000), intParam(c, "offset", 0))
		if err != nil {
			if errors.Is(err, store.ErrUnknownTable) {
				fail(c, store.ErrUnknownTable.Error())
				return
			}
			fail(c, "导出数据表失败")
			return
		}

		filename := table + "_" + time.Now().UTC().Format("20060102_150405") + ".csv"
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Status(http.StatusOK)

		w := csv.NewWriter(c.Writer)
		_ = w.Write(cols)
		for _, row := range rows {
			record := make([]string, len(row))
			for i, v := range row {
				record[i] = cellString(v)
			}
			_ = w.Write(record)
		}
		w.Flush()

		auditFromContext(c, opts, store.AuditEvent{
			Category:       store.AuditCategoryDataAccess,
			Action:         "table_exported",
			TargetResource: strPtr("table:" + table),
			RecordCount:    int64Ptr(int64(len(rows))),
			Success:        true,
		})
	}
}

func backupDatabaseHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		dest := filepath.Join(opts.Cfg.Dirs.BackupDir, "hhs_data_"+time.Now().UTC().Format("20060102_150405")+".db")
		if err := opts.Store.BackupDomainSQLite(c.Request.Context(), dest); err != nil {
			if errors.Is(err, store.ErrBackupUnsupported) {
				fail(c, store.ErrBackupUnsupported.Error())
				return
			}
			auditFromContext(c, opts, store.AuditEvent{
				Category:     store.AuditCategorySystem,
				Action:       "database_backup",
				ErrorMessage: strPtr(err.Error()),
				Success:      false,
			})
			fail(c, "备份失败："+err.Error())
			return
		}
		auditFromContext(c, opts, store.AuditEvent{
			Category:       store.AuditCategorySystem,
			Action:         "database_backup",
			TargetResource: strPtr(dest),
			Success:        true,
		})
		okData(c, gin.H{"backup_path": dest})
	}
}

func resetDatabaseHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Confirm string `json:"confirm"`
	}
	return func(c *gin.Context) {
		var in req
		if err := c.ShouldBindJSON(&in); err != nil || in.Confirm != "RESET" {
			fail(c, `重置业务数据需要 confirm 字段为 "RESET"`)
			return
		}

		deleted, err := opts.Store.ResetDomainData(c.Request.Context())
		if err != nil {
			auditFromContext(c, opts, store.AuditEvent{
				Category:     store.AuditCategoryDataModification,
				Action:       "database_reset",
				ErrorMessage: strPtr(err.Error()),
				Success:      false,
			})
			fail(c, "重置失败："+err.Error())
			return
		}
		auditFromContext(c, opts, store.AuditEvent{
			Category:    store.AuditCategoryDataModification,
			Action:      "database_reset",
			Details:     strPtr("清空全部业务表"),
			RecordCount: &deleted,
			Success:     true,
		})
		siemNotify(c, opts, siem.Event{
			Category: siem.CategorySystemEvent,
			Action:   "database_reset",
			Severity: siem.SeverityWarning,
			Message:  "业务数据已被管理员重置",
			Success:  true,
		})
		okData(c, gin.H{"rows_deleted": deleted})
	}
}

// rowsJSON 把扫描出的裸行转成 JSON 友好的值（[]byte 已在 store 层转成 string）。
func rowsJSON(rows [][]any) [][]any {
	if rows == nil {
		return [][]any{}
	}
	return rows
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func int64Ptr(n int64) *int64 {
	return &n
}
