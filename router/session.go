package router

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"hhsetl/internal/store"
)

// Cookie 里只放内部会话号，有效性每次都回 sys_sessions 校验。
const sessionIDKey = "sid"

func sessionID(c *gin.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	v := sessions.Default(c).Get(sessionIDKey)
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func setSessionID(c *gin.Context, id string) error {
	sess := sessions.Default(c)
	sess.Set(sessionIDKey, id)
	return sess.Save()
}

func clearSession(c *gin.Context) {
	if c == nil {
		return
	}
	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()
}

func currentSession(c *gin.Context) (store.SysSession, bool) {
	if c == nil {
		return store.SysSession{}, false
	}
	v, ok := c.Get("hhs_session")
	if !ok {
		return store.SysSession{}, false
	}
	sess, ok := v.(store.SysSession)
	return sess, ok
}
