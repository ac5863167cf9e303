// Package netinfo 收集本机网络信息，供自签证书与网络诊断接口使用。
package netinfo

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
)

// Interface 描述一块网卡及其地址列表。
type Interface struct {
	Name      string   `json:"name"`
	MAC       string   `json:"mac"`
	Up        bool     `json:"up"`
	Loopback  bool     `json:"loopback"`
	Addresses []string `json:"addresses"`
}

// Summary 是网络概况接口返回的汇总结构。
type Summary struct {
	Hostname     string      `json:"hostname"`
	FQDN         string      `json:"fqdn"`
	PrimaryIP    string      `json:"primary_ip"`
	Domain       string      `json:"domain,omitempty"`
	DomainJoined bool        `json:"domain_joined"`
	Interfaces   []Interface `json:"interfaces"`
}

// Hostname 返回本机主机名，取不到时退回 localhost。
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return "localhost"
	}
	return name
}

// FQDN 对主机名做正向加反向解析，取首个带点的名字；
// 主机名本身带点或解析不出来时原样返回。
func FQDN(ctx context.Context, hostname string) string {
	if hostname == "" {
		hostname = Hostname()
	}
	if strings.Contains(hostname, ".") {
		return hostname
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, hostname)
	if err != nil {
		return hostname
	}
	for _, addr := range addrs {
		names, err := net.DefaultResolver.LookupAddr(ctx, addr)
		if err != nil {
			continue
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, ".")
			if strings.Contains(name, ".") {
				return name
			}
		}
	}
	return hostname
}

// PrimaryIP 返回本机对外通信使用的地址。UDP 连外部地址不会真的发包，
// 只是让内核选一条路由；失败时退回主机名解析，再退回环回地址。
func PrimaryIP(ctx context.Context) string {
	var d net.Dialer
	if conn, err := d.DialContext(ctx, "udp4", "8.8.8.8:80"); err == nil {
		addr, ok := conn.LocalAddr().(*net.UDPAddr)
		conn.Close()
		if ok && addr.IP != nil && !addr.IP.IsUnspecified() {
			return addr.IP.String()
		}
	}
	if addrs, err := net.DefaultResolver.LookupHost(ctx, Hostname()); err == nil {
		for _, a := range addrs {
			if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
				return a
			}
		}
		if len(addrs) > 0 {
			return addrs[0]
		}
	}
	return "127.0.0.1"
}

// Interfaces 枚举全部网卡。单块网卡取地址失败不影响其余网卡。
func Interfaces() ([]Interface, error) {
	list, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("枚举网卡失败: %w", err)
	}
	out := make([]Interface, 0, len(list))
	for _, ifc := range list {
		info := Interface{
			Name:     ifc.Name,
			MAC:      ifc.HardwareAddr.String(),
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := ifc.Addrs(); err == nil {
			for _, addr := range addrs {
				info.Addresses = append(info.Addresses, addr.String())
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// SplitDomain 按 FQDN 推断域名：FQDN 与主机名不同且带点时视为已入域，
// 域名为去掉第一段后的剩余部分。
func SplitDomain(hostname, fqdn string) (string, bool) {
	if fqdn == hostname || !strings.Contains(fqdn, ".") {
		return "", false
	}
	return fqdn[strings.Index(fqdn, ".")+1:], true
}

// Collect 汇总主机名、FQDN、主地址、域信息与网卡列表。
func Collect(ctx context.Context) Summary {
	hostname := Hostname()
	fqdn := FQDN(ctx, hostname)
	s := Summary{
		Hostname:  hostname,
		FQDN:      fqdn,
		PrimaryIP: PrimaryIP(ctx),
	}
	s.Domain, s.DomainJoined = SplitDomain(hostname, fqdn)
	if ifaces, err := Interfaces(); err == nil {
		s.Interfaces = ifaces
	}
	return s
}
