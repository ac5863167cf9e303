package router

import (
	"strings"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/auth"
)

// 防 CSRF：要求 HHSETL-User header 与会话用户一致（跨站请求难以伪造自定义 header）。
const userHeader = "HHSETL-User"

// requireRole 校验会话并要求角色不低于 required。
// 每次请求都回库重验会话：用户被停用/改角色后旧 cookie 立即失效。
func requireRole(opts Options, required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Auth == nil || opts.Store == nil {
			fail(c, "服务未初始化")
			c.Abort()
			return
		}

		if !opts.Auth.AllowIP(c.ClientIP()) {
			fail(c, "来源 IP 不在允许范围内")
			c.Abort()
			return
		}

		sid, okSID := sessionID(c)
		if !okSID {
			fail(c, "未登录")
			c.Abort()
			return
		}

		sess, err := opts.Auth.ValidateSession(c.Request.Context(), sid)
		if err != nil {
			clearSession(c)
			fail(c, "未登录")
			c.Abort()
			return
		}

		headerUser := strings.TrimSpace(c.GetHeader(userHeader))
		if headerUser == "" || !strings.EqualFold(headerUser, sess.Username) {
			fail(c, "无权进行此操作，HHSETL-User 无效")
			c.Abort()
			return
		}

		if !auth.HasPermission(sess.Role, required) {
			fail(c, "权限不足")
			c.Abort()
			return
		}

		c.Set("hhs_session", sess)
		c.Next()
	}
}
