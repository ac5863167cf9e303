// Package crypto 集中 PHI 匿名化与哈希细节，业务层不直接接触原始标识。
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PHIHash 对受保护字段做不可逆哈希：sha256(salt + value + salt) 的 hex。
// 空值与源系统常见的占位（nan/none/null）原样跳过，返回空串表示“不存储”。
func PHIHash(salt string, value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	switch strings.ToLower(v) {
	case "nan", "none", "null":
		return ""
	}
	sum := sha256.Sum256([]byte(salt + v + salt))
	return hex.EncodeToString(sum[:])
}

func TokenHash(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}
