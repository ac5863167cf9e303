package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

func setAuditAPIRoutes(r gin.IRoutes, opts Options) {
	admin := requireRole(opts, store.RoleAdmin)

	r.GET("/audit/logs", admin, auditLogsHandler(opts))
	r.GET("/audit/statistics", admin, auditStatisticsHandler(opts))
	r.GET("/audit/user-activity", admin, auditUserActivityHandler(opts))
	r.POST("/audit/cleanup", admin, auditCleanupHandler(opts))
}

type auditEventAPI struct {
	ID             int64   `json:"id"`
	Timestamp      string  `json:"timestamp"`
	Username       string  `json:"username"`
	Action         string  `json:"action"`
	Category       string  `json:"category"`
	Success        bool    `json:"success"`
	Details        *string `json:"details"`
	IPAddress      *string `json:"ip_address"`
	UserAgent      *string `json:"user_agent"`
	SessionID      *string `json:"session_id"`
	TargetUser     *string `json:"target_user"`
	TargetResource *string `json:"target_resource"`
	ErrorMessage   *string `json:"error_message"`
	DurationMS     *int64  `json:"duration_ms"`
	RecordCount    *int64  `json:"record_count"`
	FileSize       *int64  `json:"file_size"`
}

func auditEventView(ev store.AuditEvent) auditEventAPI {
	return auditEventAPI{
		ID:             ev.ID,
		Timestamp:      ev.Timestamp,
		Username:       ev.Username,
		Action:         ev.Action,
		Category:       ev.Category,
		Success:        ev.Success,
		Details:        ev.Details,
		IPAddress:      ev.IPAddress,
		UserAgent:      ev.UserAgent,
		SessionID:      ev.SessionID,
		TargetUser:     ev.TargetUser,
		TargetResource: ev.TargetResource,
		ErrorMessage:   ev.ErrorMessage,
		DurationMS:     ev.DurationMS,
		RecordCount:    ev.RecordCount,
		FileSize:       ev.FileSize,
	}
}

// auditFilterFromQuery 组装查询条件。start_date/end_date 是日期，
// 转成当天零点与次日零点的 RFC3339 边界。
func auditFilterFromQuery(c *gin.Context) store.AuditFilter {
	f := store.AuditFilter{
		Username: c.Query("username"),
		Category: c.Query("category"),
		Action:   c.Query("action"),
		Search:   c.Query("search"),
		Limit:    intParam(c, "limit", 100),
		Offset:   intParam(c, "offset", 0),
	}
	if v := c.Query("success"); v == "true" || v == "false" {
		b := v == "true"
		f.Success = &b
	}
	if d := dateParam(c, "start_date"); d != "" {
		f.Since = d + "T00:00:00Z"
	}
	if d := dateParam(c, "end_date"); d != "" {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			f.Until = t.AddDate(0, 0, 1).Format(time.RFC3339)
		}
	}
	return f
}

func auditLogsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := auditFilterFromQuery(c)
		events, err := opts.Store.QueryAuditEvents(c.Request.Context(), f)
		if err != nil {
			fail(c, "查询审计记录失败")
			return
		}
		total, err := opts.Store.CountAuditEvents(c.Request.Context(), f)
		if err != nil {
			fail(c, "统计审计记录失败")
			return
		}
		out := make([]auditEventAPI, 0, len(events))
		for _, ev := range events {
			out = append(out, auditEventView(ev))
		}
		okData(c, gin.H{"events": out, "total": total, "limit": f.Limit, "offset": f.Offset})
	}
}

func auditStatisticsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := intParam(c, "days", 30)
		if days <= 0 {
			days = 30
		}
		since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
		ctx := c.Request.Context()

		total, err := opts.Store.CountAuditEvents(ctx, store.AuditFilter{Since: since})
		if err != nil {
			fail(c, "统计审计记录失败")
			return
		}
		byCategory, err := opts.Store.AuditCategorySummary(ctx, since)
		if err != nil {
			fail(c, "统计审计类别失败")
			return
		}
		byUser, err := opts.Store.AuditUserSummary(ctx, since, 10)
		if err != nil {
			fail(c, "统计活跃用户失败")
			return
		}
		succeeded := true
		successCount, err := opts.Store.CountAuditEvents(ctx, store.AuditFilter{Since: since, Success: &succeeded})
		if err != nil {
			fail(c, "统计成功记录失败")
			return
		}
		failedLogins, err := opts.Store.FailedLoginSummary(ctx, since, 5)
		if err != nil {
			fail(c, "统计登录失败用户失败")
			return
		}

		users := make([]gin.H, 0, len(byUser))
		for _, u := range byUser {
			users = append(users, gin.H{"username": u.Username, "count": u.Count})
		}
		logins := make([]gin.H, 0, len(failedLogins))
		for _, l := range failedLogins {
			logins = append(logins, gin.H{"username": l.Username, "count": l.Count, "last_attempt": l.LastAttempt})
		}
		okData(c, gin.H{
			"days":          days,
			"total":         total,
			"by_category":   byCategory,
			"by_user":       users,
			"success":       successCount,
			"failure":       total - successCount,
			"failed_logins": logins,
		})
	}
}

func auditUserActivityHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Query("username")
		if username == "" {
			fail(c, "username 不能为空")
			return
		}
		events, err := opts.Store.QueryAuditEvents(c.Request.Context(), store.AuditFilter{
			Username: username,
			Limit:    intParam(c, "limit", 100),
			Offset:   intParam(c, "offset", 0),
		})
		if err != nil {
			fail(c, "查询用户活动失败")
			return
		}
		out := make([]auditEventAPI, 0, len(events))
		for _, ev := range events {
			out = append(out, auditEventView(ev))
		}
		okData(c, gin.H{"username": username, "events": out})
	}
}

func auditCleanupHandler(opts Options) gin.HandlerFunc {
	type req struct {
		RetentionDays int `json:"retention_days"`
	}
	return func(c *gin.Context) {
		var in req
		_ = c.ShouldBindJSON(&in)
		days := in.RetentionDays
		if days <= 0 {
			days = opts.Cfg.Audit.RetentionDays
		}
		if days <= 0 {
			fail(c, "retention_days 必须大于 0")
			return
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
		deleted, err := opts.Store.DeleteAuditEventsBefore(c.Request.Context(), cutoff)
		if err != nil {
			fail(c, "清理审计记录失败")
			return
		}
		auditFromContext(c, opts, store.AuditEvent{
			Category:    store.AuditCategorySystem,
			Action:      "audit_cleanup",
			Details:     strPtr("清理 " + cutoff + " 之前的审计记录"),
			RecordCount: &deleted,
			Success:     true,
		})
		siemNotify(c, opts, siem.Event{
			Category: siem.CategorySystemEvent,
			Action:   "audit_cleanup",
			Severity: siem.SeverityNotice,
			Message:  "审计记录已按保留期清理",
			Success:  true,
		})
		okData(c, gin.H{"deleted": deleted, "cutoff": cutoff})
	}
}
