package router

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/sftp"
	"hhsetl/internal/store"
)

func setSFTPAPIRoutes(r gin.IRoutes, opts Options) {
	operator := requireRole(opts, store.RoleOperator)

	r.POST("/sftp/test", operator, sftpTestHandler(opts))
	r.GET("/sftp/files", operator, sftpFilesHandler(opts))
	r.POST("/sftp/download", operator, sftpDownloadHandler(opts))
}

func sftpTestHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _ := currentSession(c)
		okConn, message := opts.SFTP.TestConnection(c.Request.Context(), sess.Username)
		if !okConn {
			fail(c, message)
			return
		}
		ok(c, message)
	}
}

// sftpFilesHandler 列出远端文件并把快照写入缓存；远端不可达时退回最近一次快照。
func sftpFilesHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _ := currentSession(c)

		files, err := opts.SFTP.DiscoverFiles(c.Request.Context())
		if err != nil {
			if errors.Is(err, sftp.ErrDisabled) {
				fail(c, sftp.ErrDisabled.Error())
				return
			}
			if entry, cacheErr := opts.Store.LatestSFTPCache(c.Request.Context()); cacheErr == nil {
				var cached []sftp.FileInfo
				if json.Unmarshal([]byte(entry.FileList), &cached) == nil {
					okData(c, gin.H{
						"files":     cached,
						"cached":    true,
						"sync_time": entry.SyncTime,
						"error":     err.Error(),
					})
					return
				}
			} else if !errors.Is(cacheErr, sql.ErrNoRows) {
				fail(c, "读取文件列表缓存失败")
				return
			}
			fail(c, "列出远端文件失败："+err.Error())
			return
		}

		if raw, marshalErr := json.Marshal(files); marshalErr == nil {
			_ = opts.Store.InsertSFTPCache(c.Request.Context(), string(raw), len(files), strPtr(sess.Username))
		}
		okData(c, gin.H{"files": files, "cached": false})
	}
}

func sftpDownloadHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Files []string `json:"files"`
	}
	return func(c *gin.Context) {
		var in req
		// 空请求体表示下载全部匹配文件。
		_ = c.ShouldBindJSON(&in)

		sess, _ := currentSession(c)
		summary, err := opts.SFTP.DownloadAll(c.Request.Context(), sess.Username, in.Files)
		if err != nil {
			if errors.Is(err, sftp.ErrDisabled) {
				fail(c, sftp.ErrDisabled.Error())
				return
			}
			fail(c, "下载失败："+err.Error())
			return
		}
		okData(c, summary)
	}
}
