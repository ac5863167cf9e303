package router

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/auth"
	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

func setUserAdminAPIRoutes(r gin.IRoutes, opts Options) {
	admin := requireRole(opts, store.RoleAdmin)

	r.GET("/users", admin, listUsersHandler(opts))
	r.POST("/users", admin, createUserHandler(opts))
	r.PUT("/users/:username/role", admin, setUserRoleHandler(opts))
	r.PUT("/users/:username/active", admin, setUserActiveHandler(opts))
	r.POST("/users/:username/reset-password", admin, resetPasswordHandler(opts))
	r.DELETE("/users/:username", admin, deleteUserHandler(opts))
}

type userAPI struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	Role        string  `json:"role"`
	AuthMethod  string  `json:"auth_method"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at"`
	LastLogin   *string `json:"last_login"`
	Locked      bool    `json:"locked"`
}

func userView(u store.SysUser) userAPI {
	return userAPI{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Role:        u.Role,
		AuthMethod:  u.AuthMethod,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		LastLogin:   u.LastLogin,
		Locked:      u.LockedUntil != nil && *u.LockedUntil != "",
	}
}

func validRole(role string) bool {
	switch role {
	case store.RoleNewUser, store.RoleViewer, store.RoleOperator, store.RoleAdmin:
		return true
	}
	return false
}

func auditUserAdmin(c *gin.Context, opts Options, action string, targetUser string, success bool, errMsg string) {
	ev := store.AuditEvent{
		Category:   store.AuditCategoryAuthorization,
		Action:     action,
		TargetUser: strPtr(targetUser),
		Success:    success,
	}
	if errMsg != "" {
		ev.ErrorMessage = strPtr(errMsg)
	}
	auditFromContext(c, opts, ev)
	siemNotify(c, opts, siem.Event{
		Category: siem.CategoryAuthorization,
		Action:   action,
		Severity: siem.SeverityNotice,
		Message:  "用户账号管理操作",
		Resource: "user:" + targetUser,
		Success:  success,
	})
}

func listUsersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := opts.Store.ListUsers(c.Request.Context())
		if err != nil {
			fail(c, "查询用户列表失败")
			return
		}
		out := make([]userAPI, 0, len(users))
		for _, u := range users {
			out = append(out, userView(u))
		}
		okData(c, gin.H{"users": out})
	}
}

func createUserHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
		Role        string `json:"role"`
	}
	return func(c *gin.Context) {
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		in.Username = strings.TrimSpace(in.Username)
		if in.Username == "" {
			fail(c, "用户名不能为空")
			return
		}
		if len(in.Password) < 8 {
			fail(c, "密码至少 8 个字符")
			return
		}
		if in.Role == "" {
			in.Role = store.RoleViewer
		}
		if !validRole(in.Role) {
			fail(c, "未知角色："+in.Role)
			return
		}

		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			fail(c, "密码处理失败")
			return
		}
		sess, _ := currentSession(c)
		u := store.SysUser{
			Username:     in.Username,
			PasswordHash: hash,
			DisplayName:  strPtr(in.DisplayName),
			Email:        strPtr(in.Email),
			Role:         in.Role,
			IsActive:     true,
			CreatedBy:    strPtr(sess.Username),
		}
		id, err := opts.Store.CreateUser(c.Request.Context(), u)
		if err != nil {
			if errors.Is(err, store.ErrUsernameTaken) {
				fail(c, "用户名已存在")
				return
			}
			auditUserAdmin(c, opts, "user_created", in.Username, false, err.Error())
			fail(c, "创建用户失败")
			return
		}
		auditUserAdmin(c, opts, "user_created", in.Username, true, "")
		okData(c, gin.H{"id": id, "username": in.Username})
	}
}

func setUserRoleHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Role string `json:"role"`
	}
	return func(c *gin.Context) {
		username := c.Param("username")
		var in req
		if err := c.ShouldBindJSON(&in); err != nil || !validRole(in.Role) {
			fail(c, "未知角色")
			return
		}

		// 不允许把最后一个活跃管理员降级。
		sess, _ := currentSession(c)
		if username == sess.Username && in.Role != store.RoleAdmin {
			if n, err := opts.Store.CountActiveAdmins(c.Request.Context()); err == nil && n <= 1 {
				fail(c, "不能降级最后一个管理员")
				return
			}
		}

		if err := opts.Store.UpdateUserRole(c.Request.Context(), username, in.Role); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "用户不存在")
				return
			}
			fail(c, "更新角色失败")
			return
		}
		// 角色变更立即生效：旧会话携带旧角色，一并作废。
		_ = opts.Auth.InvalidateUserSessions(c.Request.Context(), username)
		auditUserAdmin(c, opts, "user_role_changed", username, true, "")
		ok(c, "角色已更新")
	}
}

func setUserActiveHandler(opts Options) gin.HandlerFunc {
	type req struct {
		IsActive bool `json:"is_active"`
	}
	return func(c *gin.Context) {
		username := c.Param("username")
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}

		sess, _ := currentSession(c)
		if username == sess.Username && !in.IsActive {
			fail(c, "不能停用当前登录账号")
			return
		}

		if err := opts.Store.SetUserActive(c.Request.Context(), username, in.IsActive); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "用户不存在")
				return
			}
			fail(c, "更新用户状态失败")
			return
		}
		if !in.IsActive {
			_ = opts.Auth.InvalidateUserSessions(c.Request.Context(), username)
		}
		action := "user_enabled"
		if !in.IsActive {
			action = "user_disabled"
		}
		auditUserAdmin(c, opts, action, username, true, "")
		ok(c, "用户状态已更新")
	}
}

func resetPasswordHandler(opts Options) gin.HandlerFunc {
	type req struct {
		NewPassword string `json:"new_password"`
	}
	return func(c *gin.Context) {
		username := c.Param("username")
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		if len(in.NewPassword) < 8 {
			fail(c, "新密码至少 8 个字符")
			return
		}

		hash, err := auth.HashPassword(in.NewPassword)
		if err != nil {
			fail(c, "密码处理失败")
			return
		}
		if err := opts.Store.UpdateUserPassword(c.Request.Context(), username, hash); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "用户不存在")
				return
			}
			fail(c, "重置密码失败")
			return
		}
		_ = opts.Auth.InvalidateUserSessions(c.Request.Context(), username)
		auditUserAdmin(c, opts, "user_password_reset", username, true, "")
		ok(c, "密码已重置，该用户需要重新登录")
	}
}

func deleteUserHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		sess, _ := currentSession(c)
		if username == sess.Username {
			fail(c, "不能删除当前登录账号")
			return
		}

		target, err := opts.Store.GetUserByUsername(c.Request.Context(), username)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "用户不存在")
				return
			}
			fail(c, "查询用户失败")
			return
		}
		if target.Role == store.RoleAdmin {
			if n, err := opts.Store.CountActiveAdmins(c.Request.Context()); err == nil && n <= 1 {
				fail(c, "不能删除最后一个管理员")
				return
			}
		}

		if err := opts.Store.DeleteUser(c.Request.Context(), username); err != nil {
			fail(c, "删除用户失败")
			return
		}
		_ = opts.Auth.InvalidateUserSessions(c.Request.Context(), username)
		auditUserAdmin(c, opts, "user_deleted", username, true, "")
		ok(c, "用户已删除")
	}
}
