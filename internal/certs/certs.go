// Package certs 生成仪表盘 HTTPS 使用的自签名证书。
package certs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hhsetl/internal/netinfo"
)

// DefaultCertFile 与 DefaultKeyFile 是未显式配置时的落盘位置。
const (
	DefaultCertFile = "data/ssl/server.crt"
	DefaultKeyFile  = "data/ssl/server.key"
)

const (
	keyBits      = 2048
	validityDays = 3650
)

// Options 控制证书生成。Hostname、FQDN、LocalIP 为空时自动探测。
type Options struct {
	CertFile string
	KeyFile  string
	Hostname string
	FQDN     string
	LocalIP  string
}

// Result 汇报生成结果，供启动器与安全接口展示。
type Result struct {
	CertFile string    `json:"cert_file"`
	KeyFile  string    `json:"key_file"`
	Hostname string    `json:"hostname"`
	FQDN     string    `json:"fqdn"`
	DNSNames []string  `json:"dns_names"`
	IPs      []string  `json:"ips"`
	NotAfter time.Time `json:"not_after"`
	BackedUp bool      `json:"backed_up"`
}

// Generate 生成自签名证书并落盘。已有证书先转存为 *.backup，
// 主机名换了之后出问题时还能回滚到上一份。
func Generate(ctx context.Context, opts Options) (*Result, error) {
	certFile := strings.TrimSpace(opts.CertFile)
	if certFile == "" {
		certFile = DefaultCertFile
	}
	keyFile := strings.TrimSpace(opts.KeyFile)
	if keyFile == "" {
		keyFile = DefaultKeyFile
	}
	hostname := strings.TrimSpace(opts.Hostname)
	if hostname == "" {
		hostname = netinfo.Hostname()
	}
	fqdn := strings.TrimSpace(opts.FQDN)
	if fqdn == "" {
		fqdn = netinfo.FQDN(ctx, hostname)
	}
	localIP := strings.TrimSpace(opts.LocalIP)
	if localIP == "" {
		localIP = netinfo.PrimaryIP(ctx)
	}

	backedUp, err := backupExisting(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{filepath.Dir(certFile), filepath.Dir(keyFile)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建证书目录失败: %w", err)
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("生成私钥失败: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("生成证书序列号失败: %w", err)
	}

	dnsNames, ips := subjectAltNames(hostname, fqdn, localIP)
	now := time.Now().UTC()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Country:      []string{"US"},
			Province:     []string{"California"},
			Locality:     []string{"Calaveras County"},
			Organization: []string{"Calaveras County HHS"},
			CommonName:   hostname,
		},
		NotBefore:             now,
		NotAfter:              now.Add(validityDays * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("签发证书失败: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("写入证书失败: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("写入私钥失败: %w", err)
	}

	res := &Result{
		CertFile: certFile,
		KeyFile:  keyFile,
		Hostname: hostname,
		FQDN:     fqdn,
		DNSNames: dnsNames,
		NotAfter: template.NotAfter,
		BackedUp: backedUp,
	}
	for _, ip := range ips {
		res.IPs = append(res.IPs, ip.String())
	}
	return res, nil
}

// backupExisting 把现有证书与私钥改名为 *.backup，只保留最近一份。
func backupExisting(certFile, keyFile string) (bool, error) {
	if _, err := os.Stat(certFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("检查旧证书失败: %w", err)
	}
	for _, stale := range []string{certFile + ".backup", keyFile + ".backup"} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("清理旧备份失败: %w", err)
		}
	}
	if err := os.Rename(certFile, certFile+".backup"); err != nil {
		return false, fmt.Errorf("备份旧证书失败: %w", err)
	}
	if _, err := os.Stat(keyFile); err == nil {
		if err := os.Rename(keyFile, keyFile+".backup"); err != nil {
			return false, fmt.Errorf("备份旧私钥失败: %w", err)
		}
	}
	return true, nil
}

// subjectAltNames 组装 SAN 列表。127.0.0.1 同时作为 DNS 条目写入，
// 兼容按地址当域名校验的老客户端；重复项只保留一个。
func subjectAltNames(hostname, fqdn, localIP string) ([]string, []net.IP) {
	seen := make(map[string]bool)
	var dnsNames []string
	addDNS := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		dnsNames = append(dnsNames, name)
	}
	addDNS("localhost")
	addDNS("127.0.0.1")
	addDNS(hostname)
	addDNS(strings.ToLower(hostname))
	if fqdn != hostname && strings.Contains(fqdn, ".") {
		addDNS(fqdn)
		addDNS(strings.ToLower(fqdn))
	}

	ips := []net.IP{net.ParseIP("127.0.0.1")}
	if ip := net.ParseIP(localIP); ip != nil && !ip.Equal(ips[0]) {
		ips = append(ips, ip)
	}
	return dnsNames, ips
}
