//go:build !embed_web

package hhsetl

import "embed"

// WebDistFS 在未开启 embed_web 时为空，服务端回退到磁盘 dist 目录或占位页。
var WebDistFS embed.FS
