// Package siem 把安全事件转发给企业 SIEM（syslog），并在本地日志里留一份脱敏镜像。
package siem

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"hhsetl/internal/store"
)

// Severity 采用 syslog 级别，数值越小越严重。
type Severity int

const (
	SeverityEmergency Severity = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
)

var severityNames = [...]string{"EMERGENCY", "ALERT", "CRITICAL", "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "INFO"
	}
	return severityNames[s]
}

// ParseSeverity 解析级别名称（不区分大小写），未知值按 INFO 处理。
func ParseSeverity(name string) Severity {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "EMERGENCY":
		return SeverityEmergency
	case "ALERT":
		return SeverityAlert
	case "CRITICAL":
		return SeverityCritical
	case "ERROR":
		return SeverityError
	case "WARNING":
		return SeverityWarning
	case "NOTICE":
		return SeverityNotice
	case "DEBUG":
		return SeverityDebug
	default:
		return SeverityInfo
	}
}

func (s Severity) slogLevel() slog.Level {
	switch {
	case s <= SeverityError:
		return slog.LevelError
	case s == SeverityWarning:
		return slog.LevelWarn
	case s == SeverityDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// 事件类别，与审计类别对齐但面向 SIEM 侧的命名。
const (
	CategoryAuthentication      = "authentication"
	CategoryAuthorization       = "authorization"
	CategoryETLOperation        = "etl_operation"
	CategoryDataAccess          = "data_access"
	CategorySystemEvent         = "system_event"
	CategorySecurityEvent       = "security_event"
	CategoryConfigurationChange = "configuration_change"
	CategoryError               = "error"
)

// Event 是一条待转发的安全事件。Data 里的敏感键在出程序前会被脱敏。
type Event struct {
	Category string
	Action   string
	Severity Severity
	Message  string
	Username string
	SourceIP string
	Resource string
	Success  bool
	Data     map[string]any
}

// 键名包含这些子串的值一律脱敏，覆盖 PHI 标识与各类凭据。
var sensitiveKeyParts = []string{
	"password", "token", "secret", "api_key", "ssn", "social_security",
	"credit_card", "medicaid_id", "medicare_id", "person_id",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// RedactSensitive 返回脱敏副本：敏感键的值替换为 [REDACTED]，嵌套 map 递归处理。
// 原 map 不会被修改。
func RedactSensitive(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactSensitive(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Logger 按 sys_siem_config 的开关决定是否转发，配置可热更新。
type Logger struct {
	logger *slog.Logger

	mu  sync.RWMutex
	cfg store.SIEMConfig
	fwd *Forwarder
}

func New(cfg store.SIEMConfig, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{logger: logger}
	l.Reload(cfg)
	return l
}

// Reload 应用新配置并重建 syslog 连接，设置保存与定时刷新都走这里。
func (l *Logger) Reload(cfg store.SIEMConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fwd != nil {
		_ = l.fwd.Close()
		l.fwd = nil
	}
	l.cfg = cfg
	if !cfg.Enabled || !cfg.SyslogEnabled || strings.TrimSpace(cfg.SyslogHost) == "" {
		return
	}
	fwd, err := NewForwarder(cfg.SyslogHost, cfg.SyslogPort, cfg.SyslogProtocol)
	if err != nil {
		// 连不上 SIEM 不能拖垮主服务，降级为只写本地日志。
		l.logger.Error("初始化 syslog 转发失败", "host", cfg.SyslogHost, "port", cfg.SyslogPort, "err", err)
		return
	}
	l.fwd = fwd
}

func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Enabled
}

// Log 记录一条安全事件：本地日志始终镜像（数据脱敏后），
// syslog 仅在事件级别达到配置阈值时转发（数值 <= 阈值）。
func (l *Logger) Log(ev Event) {
	l.mu.RLock()
	cfg := l.cfg
	fwd := l.fwd
	l.mu.RUnlock()

	if !cfg.Enabled {
		return
	}

	data := ev.Data
	if !cfg.IncludeSensitiveData {
		data = RedactSensitive(data)
	}

	outcome := "success"
	if !ev.Success {
		outcome = "failure"
	}
	attrs := []any{
		"category", ev.Category,
		"severity", ev.Severity.String(),
		"outcome", outcome,
	}
	if ev.Action != "" {
		attrs = append(attrs, "action", ev.Action)
	}
	if ev.Username != "" {
		attrs = append(attrs, "username", ev.Username)
	}
	if ev.SourceIP != "" {
		attrs = append(attrs, "source_ip", ev.SourceIP)
	}
	if ev.Resource != "" {
		attrs = append(attrs, "resource", ev.Resource)
	}
	if len(data) > 0 {
		attrs = append(attrs, "data", data)
	}
	l.logger.Log(context.Background(), ev.Severity.slogLevel(), ev.Message, attrs...)

	if fwd == nil || !cfg.SyslogEnabled {
		return
	}
	if int(ev.Severity) > int(ParseSeverity(cfg.SyslogMinSeverity)) {
		return
	}
	if err := fwd.Send(ev.Severity, formatPayload(ev)); err != nil {
		l.logger.Warn("转发 SIEM 事件失败", "err", err)
	}
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fwd != nil {
		err := l.fwd.Close()
		l.fwd = nil
		return err
	}
	return nil
}

// formatPayload 生成 key=value 负载，字段顺序固定便于 SIEM 侧解析。
func formatPayload(ev Event) string {
	parts := []string{
		"event_type=" + ev.Category,
		"severity=" + ev.Severity.String(),
		"msg=" + ev.Message,
	}
	if ev.Username != "" {
		parts = append(parts, "user="+ev.Username)
	}
	if ev.SourceIP != "" {
		parts = append(parts, "src="+ev.SourceIP)
	}
	if ev.Resource != "" {
		parts = append(parts, "resource="+ev.Resource)
	}
	if ev.Action != "" {
		parts = append(parts, "action="+ev.Action)
	}
	if ev.Success {
		parts = append(parts, "outcome=success")
	} else {
		parts = append(parts, "outcome=failure")
	}
	return strings.Join(parts, " ")
}
