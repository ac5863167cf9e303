package siem_test

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// udpListener 在回环地址上开一个 UDP 收包端，返回连接与端口。
func udpListener(t *testing.T) (net.PacketConn, int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func readPacket(t *testing.T, conn net.PacketConn, timeout time.Duration) (string, bool) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return "", false
	}
	return string(buf[:n]), true
}

func syslogConfig(port int, minSeverity string) store.SIEMConfig {
	return store.SIEMConfig{
		Enabled:           true,
		SyslogEnabled:     true,
		SyslogHost:        "127.0.0.1",
		SyslogPort:        port,
		SyslogProtocol:    "UDP",
		SyslogMinSeverity: minSeverity,
	}
}

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in   string
		want siem.Severity
	}{
		{"EMERGENCY", siem.SeverityEmergency},
		{"alert", siem.SeverityAlert},
		{"Critical", siem.SeverityCritical},
		{"error", siem.SeverityError},
		{"WARNING", siem.SeverityWarning},
		{"notice", siem.SeverityNotice},
		{"INFO", siem.SeverityInfo},
		{"debug", siem.SeverityDebug},
		{"bogus", siem.SeverityInfo},
		{"", siem.SeverityInfo},
	}
	for _, tc := range cases {
		if got := siem.ParseSeverity(tc.in); got != tc.want {
			t.Errorf("ParseSeverity(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSeverityString(t *testing.T) {
	if got := siem.SeverityEmergency.String(); got != "EMERGENCY" {
		t.Fatalf("String() = %s", got)
	}
	if got := siem.SeverityDebug.String(); got != "DEBUG" {
		t.Fatalf("String() = %s", got)
	}
	if got := siem.Severity(99).String(); got != "INFO" {
		t.Fatalf("越界级别 String() = %s", got)
	}
}

func TestRedactSensitive(t *testing.T) {
	in := map[string]any{
		"password":   "hunter2",
		"API_Key":    "abc123",
		"person_id":  "P0001",
		"table_name": "people",
		"rows":       42,
		"context": map[string]any{
			"auth_token": "tok-1",
			"batch":      3,
		},
	}
	out := siem.RedactSensitive(in)

	if out["password"] != "[REDACTED]" || out["API_Key"] != "[REDACTED]" || out["person_id"] != "[REDACTED]" {
		t.Fatalf("敏感键未脱敏: %v", out)
	}
	if out["table_name"] != "people" || out["rows"] != 42 {
		t.Fatalf("普通键被误改: %v", out)
	}
	nested, ok := out["context"].(map[string]any)
	if !ok {
		t.Fatalf("嵌套 map 类型丢失: %T", out["context"])
	}
	if nested["auth_token"] != "[REDACTED]" || nested["batch"] != 3 {
		t.Fatalf("嵌套脱敏结果不对: %v", nested)
	}

	// 原 map 不能被修改。
	if in["password"] != "hunter2" {
		t.Fatalf("原始数据被修改: %v", in)
	}
	if in["context"].(map[string]any)["auth_token"] != "tok-1" {
		t.Fatalf("原始嵌套数据被修改: %v", in)
	}

	if siem.RedactSensitive(nil) != nil {
		t.Fatal("nil 输入应返回 nil")
	}
}

func TestLoggerForwardsOverUDP(t *testing.T) {
	conn, port := udpListener(t)
	l := siem.New(syslogConfig(port, "DEBUG"), quietLogger())
	defer l.Close()

	l.Log(siem.Event{
		Category: siem.CategoryAuthentication,
		Action:   "login",
		Severity: siem.SeverityInfo,
		Message:  "User logged in",
		Username: "admin",
		SourceIP: "192.168.1.100",
		Success:  true,
	})

	msg, ok := readPacket(t, conn, 2*time.Second)
	if !ok {
		t.Fatal("未收到 syslog 报文")
	}
	// local0(16)*8 + INFO(6) = 134
	header := regexp.MustCompile(`^<134>[A-Z][a-z]{2} \d{2} \d{2}:\d{2}:\d{2} \S+ HHSETL: `)
	if !header.MatchString(msg) {
		t.Fatalf("RFC3164 头不匹配: %q", msg)
	}
	wantPayload := "event_type=authentication severity=INFO msg=User logged in user=admin src=192.168.1.100 action=login outcome=success\n"
	if !strings.HasSuffix(msg, wantPayload) {
		t.Fatalf("负载不匹配:\n got %q\nwant 后缀 %q", msg, wantPayload)
	}
}

func TestLoggerSeverityGate(t *testing.T) {
	conn, port := udpListener(t)
	l := siem.New(syslogConfig(port, "ERROR"), quietLogger())
	defer l.Close()

	l.Log(siem.Event{Category: siem.CategorySystemEvent, Severity: siem.SeverityInfo, Message: "routine", Success: true})
	if msg, ok := readPacket(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("INFO 不应转发，收到: %q", msg)
	}
	l.Log(siem.Event{Category: siem.CategorySystemEvent, Severity: siem.SeverityWarning, Message: "warn", Success: true})
	if msg, ok := readPacket(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("WARNING 不应转发，收到: %q", msg)
	}

	l.Log(siem.Event{Category: siem.CategorySecurityEvent, Severity: siem.SeverityError, Message: "boom", Success: false})
	msg, ok := readPacket(t, conn, 2*time.Second)
	if !ok {
		t.Fatal("ERROR 应转发")
	}
	if !strings.HasPrefix(msg, "<131>") {
		t.Fatalf("优先级 = %q, want <131> 前缀", msg)
	}
	if !strings.Contains(msg, "outcome=failure") {
		t.Fatalf("失败事件缺少 outcome=failure: %q", msg)
	}

	l.Log(siem.Event{Category: siem.CategorySecurityEvent, Severity: siem.SeverityCritical, Message: "worse", Success: false})
	msg, ok = readPacket(t, conn, 2*time.Second)
	if !ok {
		t.Fatal("CRITICAL 应转发")
	}
	if !strings.HasPrefix(msg, "<130>") {
		t.Fatalf("优先级 = %q, want <130> 前缀", msg)
	}
}

func TestLoggerDisabledDoesNotForward(t *testing.T) {
	conn, port := udpListener(t)
	cfg := syslogConfig(port, "DEBUG")
	cfg.Enabled = false
	l := siem.New(cfg, quietLogger())
	defer l.Close()

	if l.Enabled() {
		t.Fatal("Enabled() 应为 false")
	}
	l.Log(siem.Event{Category: siem.CategorySystemEvent, Severity: siem.SeverityError, Message: "ignored", Success: true})
	if msg, ok := readPacket(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("禁用状态不应转发，收到: %q", msg)
	}
}

func TestLoggerRedactsMirroredData(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := store.SIEMConfig{Enabled: true} // 只写本地镜像，不配 syslog
	l := siem.New(cfg, logger)
	defer l.Close()

	l.Log(siem.Event{
		Category: siem.CategoryDataAccess,
		Severity: siem.SeverityInfo,
		Message:  "table queried",
		Success:  true,
		Data:     map[string]any{"password": "hunter2", "table": "people"},
	})
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("敏感值泄漏到日志: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") || !strings.Contains(out, "people") {
		t.Fatalf("镜像日志内容不对: %s", out)
	}

	// 显式允许敏感数据时原样输出。
	buf.Reset()
	cfg.IncludeSensitiveData = true
	l.Reload(cfg)
	l.Log(siem.Event{
		Category: siem.CategoryDataAccess,
		Severity: siem.SeverityInfo,
		Message:  "table queried",
		Success:  true,
		Data:     map[string]any{"password": "hunter2"},
	})
	if !strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("include_sensitive_data 未生效: %s", buf.String())
	}
}

func TestLoggerForwardsOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	lines := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		lines <- line
	}()

	cfg := syslogConfig(ln.Addr().(*net.TCPAddr).Port, "DEBUG")
	cfg.SyslogProtocol = "TCP"
	l := siem.New(cfg, quietLogger())
	defer l.Close()

	l.Log(siem.Event{
		Category: siem.CategorySecurityEvent,
		Severity: siem.SeverityError,
		Message:  "lockout",
		Username: "alice",
		Success:  false,
	})

	select {
	case line := <-lines:
		if !strings.HasPrefix(line, "<131>") {
			t.Fatalf("优先级 = %q", line)
		}
		if !strings.Contains(line, "HHSETL: event_type=security_event severity=ERROR msg=lockout user=alice outcome=failure") {
			t.Fatalf("负载不匹配: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TCP 报文超时未到")
	}
}

func TestLoggerReload(t *testing.T) {
	conn, port := udpListener(t)
	l := siem.New(store.SIEMConfig{}, quietLogger())
	defer l.Close()

	l.Log(siem.Event{Category: siem.CategorySystemEvent, Severity: siem.SeverityError, Message: "before", Success: true})
	if msg, ok := readPacket(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("未启用时不应转发，收到: %q", msg)
	}

	l.Reload(syslogConfig(port, "DEBUG"))
	l.Log(siem.Event{Category: siem.CategorySystemEvent, Severity: siem.SeverityError, Message: "after", Success: true})
	if _, ok := readPacket(t, conn, 2*time.Second); !ok {
		t.Fatal("启用后应转发")
	}

	l.Reload(store.SIEMConfig{})
	l.Log(siem.Event{Category: siem.CategorySystemEvent, Severity: siem.SeverityError, Message: "off", Success: true})
	if msg, ok := readPacket(t, conn, 300*time.Millisecond); ok {
		t.Fatalf("关闭后不应转发，收到: %q", msg)
	}
}
