package etl

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hhsetl/internal/config"
	"hhsetl/internal/crypto"
	"hhsetl/internal/store"
)

// 源系统导出的日期写法不统一，按常见程度依次尝试。
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"2006/01/02",
}

// NormalizeDate 把任意支持的日期写法规整为 RFC 3339（UTC）。
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}

// NormalizeBool 把布尔写法规整为 "1"/"0"。
func NormalizeBool(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return "1", true
	case "false", "f", "no", "n", "0":
		return "0", true
	}
	return "", false
}

// NormalizeMoney 把金额文本清洗成十进制数串：去掉货币符号与千分位，
// 括号记账负数转成负号。
func NormalizeMoney(s string) (string, bool) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", false
	}
	if negative {
		d = d.Neg()
	}
	return d.String(), true
}

// IsNullish 判断是否为“无值”：空串与源系统的 nan/none/null 占位。
func IsNullish(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

func isMoneyField(name string) bool {
	n := strings.ToLower(name)
	for _, kw := range []string{"income", "amount", "price", "cost", "fee", "salary", "wage"} {
		if strings.Contains(n, kw) {
			return true
		}
	}
	return false
}

// Transformer 按质量配置清洗单行数据，并收集数据质量问题。
type Transformer struct {
	quality config.QualityConfig
	phi     config.PHIConfig
}

func NewTransformer(quality config.QualityConfig, phi config.PHIConfig) *Transformer {
	return &Transformer{quality: quality, phi: phi}
}

// Row 清洗一行：返回与 columns 等长的值切片（NULL 为 nil）与质量问题。
// 第三个返回值为 false 表示必填字段缺失，该行应整体跳过。
func (tr *Transformer) Row(table string, columns []string, record []string, fileName string) ([]any, []store.DataQualityIssue, bool) {
	values := make([]any, len(columns))
	var issues []store.DataQualityIssue

	recordID := ""
	pk := tr.quality.PrimaryKey(table)
	for i, col := range columns {
		if col == pk && i < len(record) {
			recordID = strings.TrimSpace(record[i])
		}
	}

	addIssue := func(issueType, field, original, description string) {
		f, o, fn := field, original, fileName
		issue := store.DataQualityIssue{
			TableName:        table,
			IssueType:        issueType,
			IssueDescription: description,
			FieldName:        &f,
			OriginalValue:    &o,
			FileName:         &fn,
		}
		if recordID != "" {
			id := recordID
			issue.RecordID = &id
		}
		issues = append(issues, issue)
	}

	for i, col := range columns {
		raw := ""
		if i < len(record) {
			raw = strings.TrimSpace(record[i])
		}

		if IsNullish(raw) {
			if tr.quality.IsRequiredField(table, col) {
				addIssue("missing_required", col, raw, fmt.Sprintf("必填字段 %s 为空，整行跳过", col))
				return nil, issues, false
			}
			values[i] = nil
			continue
		}

		if tr.phi.ShouldHashField(table, col) {
			if h := crypto.PHIHash(tr.phi.Salt, raw); h != "" {
				values[i] = h
			} else {
				values[i] = nil
			}
			continue
		}

		switch {
		case tr.quality.IsDateField(table, col):
			if normalized, ok := NormalizeDate(raw); ok {
				values[i] = normalized
			} else {
				addIssue("invalid_date", col, raw, fmt.Sprintf("无法解析的日期：%q", raw))
				values[i] = nil
			}
		case tr.quality.IsBooleanField(table, col):
			if normalized, ok := NormalizeBool(raw); ok {
				values[i] = normalized
			} else {
				addIssue("invalid_boolean", col, raw, fmt.Sprintf("无法识别的布尔值：%q", raw))
				values[i] = nil
			}
		case isMoneyField(col):
			if normalized, ok := NormalizeMoney(raw); ok {
				values[i] = normalized
			} else {
				addIssue("invalid_amount", col, raw, fmt.Sprintf("无法解析的金额：%q", raw))
				values[i] = nil
			}
		default:
			values[i] = raw
		}
	}
	return values, issues, true
}
