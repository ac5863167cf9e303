package router

import (
	"database/sql"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/etl"
	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

func setETLAPIRoutes(r gin.IRoutes, opts Options) {
	operator := requireRole(opts, store.RoleOperator)

	r.POST("/etl/jobs", operator, startETLJobHandler(opts))
	r.GET("/etl/jobs", operator, listETLJobsHandler(opts))
	r.GET("/etl/jobs/:job_id", operator, getETLJobHandler(opts))
	r.POST("/etl/jobs/:job_id/cancel", operator, cancelETLJobHandler(opts))
	r.GET("/etl/files", operator, listETLFilesHandler(opts))
	r.GET("/etl/quality", operator, dataQualityHandler(opts))
}

func startETLJobHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Force      bool     `json:"force"`
		LatestOnly bool     `json:"latest_only"`
		Files      []string `json:"files"`
	}
	return func(c *gin.Context) {
		var in req
		// 空请求体等同于默认参数。
		_ = c.ShouldBindJSON(&in)

		sess, _ := currentSession(c)
		jobID, err := opts.Runner.StartJob(c.Request.Context(), etl.JobOptions{
			Trigger:    "manual",
			Username:   sess.Username,
			Force:      in.Force,
			LatestOnly: in.LatestOnly,
			Files:      in.Files,
		})
		if err != nil {
			if errors.Is(err, etl.ErrJobAlreadyRunning) {
				fail(c, etl.ErrJobAlreadyRunning.Error())
				return
			}
			fail(c, "启动导入作业失败："+err.Error())
			return
		}

		auditFromContext(c, opts, store.AuditEvent{
			Category:       store.AuditCategoryETL,
			Action:         "etl_job_started",
			TargetResource: strPtr("etl_job:" + jobID),
			Details:        strPtr("手动触发导入作业"),
			Success:        true,
		})
		siemNotify(c, opts, siem.Event{
			Category: siem.CategoryETLOperation,
			Action:   "etl_job_started",
			Severity: siem.SeverityInfo,
			Message:  "导入作业已启动",
			Success:  true,
		})
		okData(c, gin.H{"job_id": jobID, "status": store.ETLJobRunning})
	}
}

func listETLJobsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := opts.Store.ListETLJobs(c.Request.Context(), intParam(c, "limit", 20))
		if err != nil {
			fail(c, "查询作业列表失败")
			return
		}
		okData(c, gin.H{"jobs": jobs})
	}
}

func getETLJobHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, files, err := opts.Store.GetETLJob(c.Request.Context(), c.Param("job_id"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusOK, gin.H{"success": false, "message": "作业不存在"})
				return
			}
			fail(c, "查询作业失败")
			return
		}
		okData(c, gin.H{"job": job, "files": files})
	}
}

func cancelETLJobHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("job_id")
		if !opts.Runner.Cancel(jobID) {
			fail(c, "作业不存在或已结束")
			return
		}
		auditFromContext(c, opts, store.AuditEvent{
			Category:       store.AuditCategoryETL,
			Action:         "etl_job_cancelled",
			TargetResource: strPtr("etl_job:" + jobID),
			Success:        true,
		})
		ok(c, "已请求取消作业")
	}
}

// listETLFilesHandler 同时给出输入目录的待处理文件和历史处理记录。
func listETLFilesHandler(opts Options) gin.HandlerFunc {
	type pendingFile struct {
		FileName  string `json:"file_name"`
		TableName string `json:"table_name"`
		FileDate  string `json:"file_date"`
		SizeBytes int64  `json:"size_bytes"`
	}
	return func(c *gin.Context) {
		discovered, err := etl.DiscoverFiles(opts.Cfg.Dirs.InputDir, opts.Cfg.ETL)
		if err != nil {
			fail(c, "扫描输入目录失败："+err.Error())
			return
		}
		tables := etl.ImportableTables(opts.Cfg.Quality)

		pending := make([]pendingFile, 0, len(discovered))
		for _, path := range discovered {
			table, _ := etl.TableForFile(path, tables)
			var size int64
			if info, statErr := os.Stat(path); statErr == nil {
				size = info.Size()
			}
			pending = append(pending, pendingFile{
				FileName:  filepath.Base(path),
				TableName: table,
				FileDate:  etl.FileDate(path),
				SizeBytes: size,
			})
		}

		records, err := opts.Store.ListETLFileRecords(c.Request.Context(), intParam(c, "limit", 50))
		if err != nil {
			fail(c, "查询处理记录失败")
			return
		}
		okData(c, gin.H{"pending": pending, "processed": records})
	}
}

func dataQualityHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := opts.Store.DataQualitySummary(c.Request.Context())
		if err != nil {
			fail(c, "统计质量问题失败")
			return
		}
		issues, err := opts.Store.ListDataQualityIssues(c.Request.Context(), c.Query("table"), intParam(c, "limit", 100))
		if err != nil {
			fail(c, "查询质量问题失败")
			return
		}
		okData(c, gin.H{"summary": summary, "issues": issues})
	}
}
