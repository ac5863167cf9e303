package siem

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// local0，交给 SIEM 侧按设施路由。
	facilityLocal0 = 16
	syslogTag      = "HHSETL"

	tcpDialTimeout = 5 * time.Second
)

// Forwarder 以 RFC 3164 行格式把消息发往远端 syslog 服务器。
// UDP 无连接直发；TCP 在构造时建立连接，断开后由 Reload 重建。
type Forwarder struct {
	protocol string
	addr     string
	hostname string

	mu   sync.Mutex
	conn net.Conn
}

func NewForwarder(host string, port int, protocol string) (*Forwarder, error) {
	if strings.TrimSpace(host) == "" {
		return nil, errors.New("syslog 主机不能为空")
	}
	if port <= 0 {
		port = 514
	}
	p := strings.ToUpper(strings.TrimSpace(protocol))
	if p == "" {
		p = "UDP"
	}

	f := &Forwarder{
		protocol: p,
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		hostname: localHostname(),
	}
	switch p {
	case "TCP":
		conn, err := net.DialTimeout("tcp", f.addr, tcpDialTimeout)
		if err != nil {
			return nil, fmt.Errorf("连接 syslog 服务器失败: %w", err)
		}
		f.conn = conn
	case "UDP":
		conn, err := net.Dial("udp", f.addr)
		if err != nil {
			return nil, fmt.Errorf("解析 syslog 地址失败: %w", err)
		}
		f.conn = conn
	default:
		return nil, fmt.Errorf("不支持的 syslog 协议: %s", protocol)
	}
	return f, nil
}

// Send 发送一条消息，优先级 = 设施 * 8 + 级别。
func (f *Forwarder) Send(sev Severity, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return errors.New("syslog 连接已关闭")
	}
	priority := facilityLocal0*8 + int(sev)
	timestamp := time.Now().Format("Jan 02 15:04:05")
	msg := fmt.Sprintf("<%d>%s %s %s: %s\n", priority, timestamp, f.hostname, syslogTag, payload)
	if _, err := f.conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("发送 syslog 消息失败: %w", err)
	}
	return nil
}

func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}

func localHostname() string {
	if hn, err := os.Hostname(); err == nil && hn != "" {
		return hn
	}
	return "localhost"
}
