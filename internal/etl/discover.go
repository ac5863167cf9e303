// Package etl 实现导入流水线：发现竖线分隔的导出文件，按表清洗转换后
// 批量写入业务库，并在 etl_metadata 与 sys_etl_jobs 里留痕。
package etl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"hhsetl/internal/config"
)

var (
	reDateCompact = regexp.MustCompile(`(20\d{2})(\d{2})(\d{2})`)
	reDateDashed  = regexp.MustCompile(`(20\d{2})-(\d{2})-(\d{2})`)
)

// DiscoverFiles 扫描 inputDir 下匹配 file_patterns 的文件，
// 跳过忽略前缀（大小写不敏感），按文件名排序返回绝对路径。
func DiscoverFiles(inputDir string, cfg config.ETLConfig) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range cfg.FilePatterns {
		matches, err := filepath.Glob(filepath.Join(inputDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("匹配文件模式 %q 失败: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if hasIgnoredPrefix(filepath.Base(m), cfg.IgnoredFilenamePrefixes) {
				continue
			}
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func hasIgnoredPrefix(name string, prefixes []string) bool {
	lower := strings.ToLower(name)
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// TableForFile 从文件名推断业务表：去掉扩展名后按最长的表名前缀匹配，
// 容忍日期后缀与大小写（People_20250104.txt → people）。
// tables 为可导入的表集合，通常取 quality.expected_tables 的键。
func TableForFile(fileName string, tables []string) (string, bool) {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)))

	sorted := append([]string(nil), tables...)
	// 长表名在前，避免 assistance_requests 抢走 supplemental 文件。
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, t := range sorted {
		if base == t || strings.HasPrefix(base, t+"_") {
			return t, true
		}
	}
	return "", false
}

// ImportableTables 返回质量配置里声明的可导入表名，带稳定顺序。
func ImportableTables(q config.QualityConfig) []string {
	tables := make([]string, 0, len(q.ExpectedTables))
	for t := range q.ExpectedTables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// FileDate 从文件名里抽取日期（YYYYMMDD 或 YYYY-MM-DD），取不到则退回文件修改时间。
func FileDate(path string) string {
	name := filepath.Base(path)
	if m := reDateDashed.FindStringSubmatch(name); m != nil {
		if d, ok := validDate(m[1], m[2], m[3]); ok {
			return d
		}
	}
	if m := reDateCompact.FindStringSubmatch(name); m != nil {
		if d, ok := validDate(m[1], m[2], m[3]); ok {
			return d
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().UTC().Format("2006-01-02")
	}
	return time.Now().UTC().Format("2006-01-02")
}

func validDate(y, m, d string) (string, bool) {
	s := y + "-" + m + "-" + d
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", false
	}
	return s, true
}

// FileSHA256 返回文件内容的十六进制摘要，作为重复导入判断的指纹。
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
