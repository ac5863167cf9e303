package router

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/auth"
	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

type sessionAPI struct {
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	LoginTime    string `json:"login_time"`
	LastActivity string `json:"last_activity"`
}

func sessionAPIView(sess store.SysSession) sessionAPI {
	return sessionAPI{
		Username:     sess.Username,
		DisplayName:  sess.DisplayName,
		Role:         sess.Role,
		LoginTime:    sess.LoginTime,
		LastActivity: sess.LastActivity,
	}
}

func setAuthAPIRoutes(r gin.IRoutes, opts Options) {
	r.POST("/auth/login", loginHandler(opts))
	r.POST("/auth/logout", logoutHandler(opts))
	r.GET("/auth/session", requireRole(opts, store.RoleNewUser), currentSessionHandler())
	r.POST("/auth/change-password", requireRole(opts, store.RoleNewUser), changePasswordHandler(opts))
}

func loginHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	return func(c *gin.Context) {
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		in.Username = strings.TrimSpace(in.Username)
		if in.Username == "" || in.Password == "" {
			fail(c, "用户名与密码不能为空")
			return
		}

		sess, err := opts.Auth.Login(c.Request.Context(), in.Username, in.Password, c.ClientIP(), c.Request.UserAgent())
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrAccountLocked):
				fail(c, auth.ErrAccountLocked.Error())
			case errors.Is(err, auth.ErrIPNotAllowed):
				fail(c, auth.ErrIPNotAllowed.Error())
			default:
				fail(c, auth.ErrInvalidCredentials.Error())
			}
			return
		}

		if err := setSessionID(c, sess.SessionID); err != nil {
			fail(c, "写入会话失败")
			return
		}

		mustChange := sess.Username == auth.DefaultAdminUsername && opts.Auth.DefaultCredentialsActive(c.Request.Context())
		okData(c, gin.H{
			"session":              sessionAPIView(sess),
			"must_change_password": mustChange,
		})
	}
}

func logoutHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sid, okSID := sessionID(c); okSID && opts.Auth != nil {
			_ = opts.Auth.Logout(c.Request.Context(), sid, "logout")
		}
		clearSession(c)
		ok(c, "已退出登录")
	}
}

func currentSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, okSess := currentSession(c)
		if !okSess {
			fail(c, "未登录")
			return
		}
		okData(c, sessionAPIView(sess))
	}
}

func changePasswordHandler(opts Options) gin.HandlerFunc {
	type req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	return func(c *gin.Context) {
		sess, okSess := currentSession(c)
		if !okSess {
			fail(c, "未登录")
			return
		}
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		if len(in.NewPassword) < 8 {
			fail(c, "新密码至少 8 个字符")
			return
		}

		if err := opts.Auth.ChangePassword(c.Request.Context(), sess.Username, in.OldPassword, in.NewPassword); err != nil {
			fail(c, "修改密码失败："+err.Error())
			return
		}
		siemNotify(c, opts, siem.Event{
			Category: siem.CategoryAuthentication,
			Action:   "password_change",
			Severity: siem.SeverityNotice,
			Message:  "用户修改密码",
			Success:  true,
		})
		// 修改密码后其它会话全部踢掉，当前 cookie 也要求重新登录。
		clearSession(c)
		ok(c, "密码已修改，请重新登录")
	}
}
