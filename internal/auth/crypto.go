// Package auth 提供本地账号认证、登录锁定与持久化会话管理。
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// 密码派生参数与存量散列绑定，调整迭代次数会导致旧密码全部失效。
const (
	passwordIterations = 100000
	passwordSaltBytes  = 16
)

// HashPassword 生成 "盐:散列" 形式的 PBKDF2-SHA256 密码散列。
// 盐是 16 字节随机数的十六进制文本，参与派生的是文本本身而非原始字节。
func HashPassword(password string) (string, error) {
	raw := make([]byte, passwordSaltBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("生成密码盐失败: %w", err)
	}
	salt := hex.EncodeToString(raw)
	sum := pbkdf2.Key([]byte(password), []byte(salt), passwordIterations, sha256.Size, sha256.New)
	return salt + ":" + hex.EncodeToString(sum), nil
}

// VerifyPassword 校验明文密码与存储散列是否匹配，散列格式非法时按不匹配处理。
func VerifyPassword(password, stored string) bool {
	salt, want, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || want == "" {
		return false
	}
	sum := pbkdf2.Key([]byte(password), []byte(salt), passwordIterations, sha256.Size, sha256.New)
	return hmac.Equal([]byte(hex.EncodeToString(sum)), []byte(strings.ToLower(want)))
}

// NewSessionID 生成 32 字节随机数的 URL 安全 base64 会话标识。
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("生成会话标识失败: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
