package router

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

func wrapHTTP(h http.Handler) gin.HandlerFunc {
	if h == nil {
		return func(c *gin.Context) {
			c.Status(http.StatusNotFound)
		}
	}

	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func wrapHTTPFunc(f http.HandlerFunc) gin.HandlerFunc {
	return wrapHTTP(f)
}

// ok / okData / fail 是管理面统一的响应包：HTTP 一律 200，结果看 success。
func ok(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func okData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "", "data": data})
}

func fail(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"success": false, "message": message})
}

// chartJSON 把分组计数转成前端图表的 {labels, values}，NULL 标签归为 Unknown。
func chartJSON(items []store.LabelCount) gin.H {
	labels := make([]string, 0, len(items))
	values := make([]int64, 0, len(items))
	for _, it := range items {
		label := "Unknown"
		if it.Label != nil && strings.TrimSpace(*it.Label) != "" {
			label = *it.Label
		}
		labels = append(labels, label)
		values = append(values, it.Count)
	}
	return gin.H{"labels": labels, "values": values}
}

func emptyChart() gin.H {
	return gin.H{"labels": []string{}, "values": []int64{}}
}

// reportFilter 从 query 里取 start_date/end_date（YYYY-MM-DD，非法值按空处理）。
func reportFilter(c *gin.Context) store.ReportFilter {
	return store.ReportFilter{
		StartDate: dateParam(c, "start_date"),
		EndDate:   dateParam(c, "end_date"),
	}
}

func dateParam(c *gin.Context, key string) string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return ""
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return ""
	}
	return v
}

// pathID 解析路径参数里的数字 id。
func pathID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

func intParam(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// auditFromContext 写一条带会话上下文的审计记录，失败只记日志不冒泡。
func auditFromContext(c *gin.Context, opts Options, ev store.AuditEvent) {
	if opts.Store == nil {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if sess, ok := currentSession(c); ok {
		if ev.Username == "" {
			ev.Username = sess.Username
		}
		sid := sess.SessionID
		ev.SessionID = &sid
	}
	if ev.IPAddress == nil {
		ip := c.ClientIP()
		ev.IPAddress = &ip
	}
	if ev.UserAgent == nil {
		ua := c.Request.UserAgent()
		ev.UserAgent = &ua
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = opts.Store.InsertAuditEvent(ctx, ev)
}

// siemNotify 把安全相关动作转给 SIEM 转发器（未启用时为空操作）。
func siemNotify(c *gin.Context, opts Options, ev siem.Event) {
	if opts.SIEM == nil {
		return
	}
	if ev.SourceIP == "" && c != nil {
		ev.SourceIP = c.ClientIP()
	}
	if ev.Username == "" && c != nil {
		if sess, okSess := currentSession(c); okSess {
			ev.Username = sess.Username
		}
	}
	opts.SIEM.Log(ev)
}

func strPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
