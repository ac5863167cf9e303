// Package security 提供安全配置体检（HIPAA 合规视角的加权评分）。
package security

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"hhsetl/internal/config"
	"hhsetl/internal/store"
)

// 检查状态取值。
const (
	StatusPass    = "pass"
	StatusWarning = "warning"
	StatusFail    = "fail"
)

// CheckResult 是单项安全检查的结论，Action 为空时前端不展示跳转入口。
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// Score 是加权总分：pass 计满分权重，warning 计一半，fail 不计分。
type Score struct {
	Score    int    `json:"score"`
	Rating   string `json:"rating"`
	Passed   int    `json:"passed"`
	Warnings int    `json:"warnings"`
	Failed   int    `json:"failed"`
	Total    int    `json:"total"`
}

// ComplianceItem 对应 HIPAA Security Rule 的一条要求。
type ComplianceItem struct {
	Requirement string `json:"requirement"`
	Description string `json:"description"`
	Compliant   bool   `json:"compliant"`
}

// Recommendation 是按优先级排序的整改建议。
type Recommendation struct {
	Priority    string `json:"priority"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Impact      string `json:"impact"`
}

// Report 是一次完整体检的输出。
type Report struct {
	Checks          map[string]CheckResult `json:"checks"`
	Score           Score                  `json:"score"`
	HIPAACompliance []ComplianceItem       `json:"hipaa_compliance"`
	Recommendations []Recommendation       `json:"recommendations"`
	LastChecked     string                 `json:"last_checked"`
}

// CredentialProber 探测默认管理员凭据（admin/admin123）是否仍然有效。
type CredentialProber interface {
	DefaultCredentialsActive(ctx context.Context) bool
}

// HealthChecker 汇总运行配置、账号状态与审计活跃度，给出体检报告。
type HealthChecker struct {
	cfg    config.Config
	st     *store.Store
	prober CredentialProber
}

func NewHealthChecker(cfg config.Config, st *store.Store, prober CredentialProber) *HealthChecker {
	return &HealthChecker{cfg: cfg, st: st, prober: prober}
}

// Run 执行全部八项检查并汇总评分、HIPAA 对照与整改建议。
func (h *HealthChecker) Run(ctx context.Context) Report {
	checks := map[string]CheckResult{
		"https_enabled":    h.checkHTTPS(),
		"default_password": h.checkDefaultPassword(ctx),
		"phi_hash_salt":    h.checkPHIHashSalt(),
		"csrf_protection":  h.checkCSRFProtection(),
		"session_security": h.checkSessionSecurity(),
		"audit_logging":    h.checkAuditLogging(ctx),
		"password_policy":  h.checkPasswordPolicy(),
		"ip_restrictions":  h.checkIPRestrictions(),
	}
	return Report{
		Checks:          checks,
		Score:           scoreChecks(checks),
		HIPAACompliance: hipaaCompliance(checks),
		Recommendations: recommendations(checks),
		LastChecked:     time.Now().UTC().Format(time.RFC3339),
	}
}

func (h *HealthChecker) checkHTTPS() CheckResult {
	if !h.cfg.Server.UseHTTPS {
		return CheckResult{
			Status:  StatusFail,
			Message: "未启用 HTTPS，会话与 PHI 数据明文传输",
			Action:  "/admin/config",
		}
	}
	if fileExists(h.cfg.Server.CertFile) && fileExists(h.cfg.Server.KeyFile) {
		return CheckResult{Status: StatusPass, Message: "已启用 HTTPS，证书文件就绪"}
	}
	return CheckResult{Status: StatusWarning, Message: "已启用 HTTPS，但找不到证书文件"}
}

func (h *HealthChecker) checkDefaultPassword(ctx context.Context) CheckResult {
	if h.prober == nil {
		return CheckResult{Status: StatusWarning, Message: "无法校验默认管理员凭据"}
	}
	if h.prober.DefaultCredentialsActive(ctx) {
		return CheckResult{
			Status:  StatusFail,
			Message: "默认管理员密码仍然有效，存在严重风险",
			Action:  "/settings",
		}
	}
	return CheckResult{Status: StatusPass, Message: "默认管理员密码已修改"}
}

func (h *HealthChecker) checkPHIHashSalt() CheckResult {
	salt := strings.TrimSpace(h.cfg.PHI.Salt)
	if salt == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "未配置 PHI 哈希盐",
			Action:  "设置 PHI_HASH_SALT 环境变量（64 位十六进制）",
		}
	}
	if len(salt) != 64 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("PHI 哈希盐长度无效（%d 位，需要 64 位）", len(salt)),
		}
	}
	if _, err := hex.DecodeString(salt); err != nil {
		return CheckResult{Status: StatusFail, Message: "PHI 哈希盐不是有效的十六进制串"}
	}
	// 盐只应来自环境变量；启动时随机生成的盐重启后就换了，历史哈希无法对齐
	if os.Getenv("PHI_HASH_SALT") == "" {
		return CheckResult{
			Status:  StatusWarning,
			Message: "PHI 哈希盐为本次启动随机生成，重启后历史哈希将无法对齐",
			Action:  "设置 PHI_HASH_SALT 环境变量固定盐值",
		}
	}
	return CheckResult{Status: StatusPass, Message: "PHI 哈希盐配置正确（64 位十六进制）"}
}

func (h *HealthChecker) checkCSRFProtection() CheckResult {
	// TODO: 表单接入 CSRF token 后改为检查开关
	return CheckResult{
		Status:  StatusFail,
		Message: "CSRF 防护尚未实现",
		Action:  "为修改类接口接入 CSRF token",
	}
}

func (h *HealthChecker) checkSessionSecurity() CheckResult {
	var issues []string
	timeout := h.cfg.Auth.SessionTimeoutMinutes
	if timeout > 120 {
		issues = append(issues, fmt.Sprintf("会话超时过长（%d 分钟）", timeout))
	}
	if !h.cfg.Server.UseHTTPS {
		issues = append(issues, "未启用 HTTPS，Cookie 缺少 Secure 标记")
	}
	if len(issues) > 0 {
		return CheckResult{Status: StatusWarning, Message: strings.Join(issues, "；")}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("会话超时 %d 分钟，Secure Cookie 已启用", timeout),
	}
}

func (h *HealthChecker) checkAuditLogging(ctx context.Context) CheckResult {
	total, err := h.st.CountAuditEvents(ctx, store.AuditFilter{})
	if err != nil {
		return CheckResult{Status: StatusFail, Message: "审计记录检查失败: " + err.Error()}
	}
	if total == 0 {
		return CheckResult{Status: StatusWarning, Message: "未发现审计记录，日志链路可能未生效"}
	}
	since := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	recent, err := h.st.CountAuditEvents(ctx, store.AuditFilter{Since: since})
	if err != nil {
		return CheckResult{Status: StatusFail, Message: "审计记录检查失败: " + err.Error()}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("审计记录正常（共 %d 条，近 24 小时 %d 条）", total, recent),
	}
}

func (h *HealthChecker) checkPasswordPolicy() CheckResult {
	return CheckResult{
		Status:  StatusWarning,
		Message: "密码策略较弱（仅要求最少 8 位）",
		Action:  "引入长度与字符种类复杂度要求",
	}
}

func (h *HealthChecker) checkIPRestrictions() CheckResult {
	prefixes := h.cfg.Auth.AllowedIPPrefixes
	if len(prefixes) == 0 || (len(prefixes) == 1 && prefixes[0] == "*") {
		return CheckResult{Status: StatusWarning, Message: "未配置 IP 限制，任意来源均可访问"}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("IP 限制已启用（%d 个网段）", len(prefixes)),
	}
}

// checkWeights 按风险等级给各项检查配权。
var checkWeights = map[string]int{
	"https_enabled":    20,
	"default_password": 20,
	"phi_hash_salt":    20,
	"csrf_protection":  15,
	"session_security": 10,
	"audit_logging":    5,
	"password_policy":  5,
	"ip_restrictions":  5,
}

func scoreChecks(checks map[string]CheckResult) Score {
	totalWeight := 0
	for _, w := range checkWeights {
		totalWeight += w
	}

	var earned float64
	s := Score{Total: len(checks)}
	for name, result := range checks {
		weight := float64(checkWeights[name])
		switch result.Status {
		case StatusPass:
			earned += weight
			s.Passed++
		case StatusWarning:
			earned += weight / 2
			s.Warnings++
		default:
			s.Failed++
		}
	}
	s.Score = int(earned / float64(totalWeight) * 100)

	switch {
	case s.Score >= 90:
		s.Rating = "Excellent"
	case s.Score >= 70:
		s.Rating = "Good"
	case s.Score >= 50:
		s.Rating = "Fair"
	default:
		s.Rating = "Poor - Immediate Action Required"
	}
	return s
}

func hipaaCompliance(checks map[string]CheckResult) []ComplianceItem {
	return []ComplianceItem{
		{
			Requirement: "164.312(a)(1)",
			Description: "Access Control - Unique User Identification",
			Compliant: checks["default_password"].Status == StatusPass &&
				checks["password_policy"].Status != StatusFail,
		},
		{
			Requirement: "164.312(e)(1)",
			Description: "Transmission Security - Encryption in Transit",
			Compliant:   checks["https_enabled"].Status == StatusPass,
		},
		{
			Requirement: "164.308(a)(5)",
			Description: "Security Awareness - Protection from Malicious Software",
			Compliant:   checks["csrf_protection"].Status == StatusPass,
		},
		{
			Requirement: "164.312(c)(1)",
			Description: "Integrity - Protect ePHI from Alteration/Destruction",
			Compliant:   checks["audit_logging"].Status == StatusPass,
		},
		{
			Requirement: "164.312(b)",
			Description: "Audit Controls - Record and Examine Activity",
			Compliant:   checks["audit_logging"].Status == StatusPass,
		},
	}
}

func recommendations(checks map[string]CheckResult) []Recommendation {
	var recs []Recommendation

	if checks["default_password"].Status == StatusFail {
		recs = append(recs, Recommendation{
			Priority:    "critical",
			Title:       "修改默认管理员密码",
			Description: "默认管理员凭据（admin/admin123）仍然有效。",
			Action:      "立即在设置页修改管理员密码",
			Impact:      "未授权访问、数据泄露、违反 HIPAA",
		})
	}
	if checks["https_enabled"].Status == StatusFail {
		recs = append(recs, Recommendation{
			Priority:    "critical",
			Title:       "启用 HTTPS",
			Description: "系统运行在 HTTP 上，会话令牌与 PHI 数据明文传输。",
			Action:      "配置 SSL/TLS 证书并启用 HTTPS（可用内置证书生成）",
			Impact:      "会话劫持、中间人攻击、违反 HIPAA",
		})
	}
	if checks["phi_hash_salt"].Status == StatusFail {
		recs = append(recs, Recommendation{
			Priority:    "critical",
			Title:       "配置 PHI 哈希盐",
			Description: "PHI 哈希盐未正确配置，去标识化结果不可靠。",
			Action:      "设置 PHI_HASH_SALT 环境变量为 64 位十六进制串",
			Impact:      "哈希不一致、数据可比性受损",
		})
	}
	if checks["csrf_protection"].Status == StatusFail {
		recs = append(recs, Recommendation{
			Priority:    "high",
			Title:       "实现 CSRF 防护",
			Description: "修改类接口缺少 CSRF token 校验。",
			Action:      "为表单与修改类接口接入 CSRF token",
			Impact:      "跨站请求伪造、未授权数据修改",
		})
	}
	if checks["password_policy"].Status != StatusPass {
		recs = append(recs, Recommendation{
			Priority:    "high",
			Title:       "强化密码策略",
			Description: "当前密码策略仅要求最少 8 位。",
			Action:      "引入 12 位以上并包含大小写、数字与符号的复杂度要求",
			Impact:      "暴力破解、凭据被猜解",
		})
	}
	if checks["session_security"].Status == StatusWarning {
		recs = append(recs, Recommendation{
			Priority:    "medium",
			Title:       "复查会话安全配置",
			Description: checks["session_security"].Message,
			Action:      "调整会话超时与 Cookie 安全属性",
			Impact:      "会话劫持风险",
		})
	}
	if checks["ip_restrictions"].Status == StatusWarning {
		recs = append(recs, Recommendation{
			Priority:    "medium",
			Title:       "配置 IP 访问限制",
			Description: "未限制可访问系统的来源网段。",
			Action:      "仅放行授权网段的客户端 IP",
			Impact:      "内网之外的未授权访问",
		})
	}
	return recs
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
