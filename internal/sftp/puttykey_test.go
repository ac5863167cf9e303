package sftp

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testRSAKey 生成测试用 RSA 私钥，位数取小值让用例保持毫秒级。
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func writeSSHString(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

// writeSSHMPInt 按 SSH mpint 规则写大整数：最高位为 1 时补一个前导零字节。
func writeSSHMPInt(buf *bytes.Buffer, v *big.Int) {
	b := v.Bytes()
	if len(b) > 0 && b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	writeSSHString(buf, b)
}

func wrapBase64(b []byte) []string {
	s := base64.StdEncoding.EncodeToString(b)
	var lines []string
	for len(s) > 64 {
		lines = append(lines, s[:64])
		s = s[64:]
	}
	return append(lines, s)
}

// buildPPK 用真实 RSA 密钥拼一个未加密的 PPK 文本（v2 或 v3 头）。
func buildPPK(t *testing.T, key *rsa.PrivateKey, version int) string {
	t.Helper()
	var public bytes.Buffer
	writeSSHString(&public, []byte("ssh-rsa"))
	writeSSHMPInt(&public, big.NewInt(int64(key.E)))
	writeSSHMPInt(&public, key.N)

	var private bytes.Buffer
	writeSSHMPInt(&private, key.D)
	writeSSHMPInt(&private, key.Primes[0])
	writeSSHMPInt(&private, key.Primes[1])
	writeSSHMPInt(&private, key.Precomputed.Qinv)

	pubLines := wrapBase64(public.Bytes())
	privLines := wrapBase64(private.Bytes())

	var sb strings.Builder
	fmt.Fprintf(&sb, "PuTTY-User-Key-File-%d: ssh-rsa\n", version)
	sb.WriteString("Encryption: none\n")
	sb.WriteString("Comment: test-key\n")
	fmt.Fprintf(&sb, "Public-Lines: %d\n", len(pubLines))
	sb.WriteString(strings.Join(pubLines, "\n") + "\n")
	fmt.Fprintf(&sb, "Private-Lines: %d\n", len(privLines))
	sb.WriteString(strings.Join(privLines, "\n") + "\n")
	sb.WriteString("Private-MAC: 0000000000000000000000000000000000000000\n")
	return sb.String()
}

func writePPKFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestIsPuTTYKey(t *testing.T) {
	dir := t.TempDir()
	key := testRSAKey(t)
	ppkPath := writePPKFile(t, dir, "id_rsa.ppk", buildPPK(t, key, 2))
	pemPath := writePPKFile(t, dir, "id_rsa.pem", string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})))

	if !IsPuTTYKey(ppkPath) {
		t.Fatalf("IsPuTTYKey(%s) = false, want true", ppkPath)
	}
	if IsPuTTYKey(pemPath) {
		t.Fatalf("IsPuTTYKey(%s) = true, want false", pemPath)
	}
	if IsPuTTYKey(filepath.Join(dir, "missing.ppk")) {
		t.Fatal("IsPuTTYKey 对不存在的文件应返回 false")
	}
}

func TestConvertPPKRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := testRSAKey(t)
	ppkPath := writePPKFile(t, dir, "sftp_key.ppk", buildPPK(t, key, 2))

	out, err := ConvertPPK(ppkPath)
	if err != nil {
		t.Fatalf("ConvertPPK: %v", err)
	}
	if want := filepath.Join(dir, "sftp_key"); out != want {
		t.Fatalf("输出路径 = %s, want %s", out, want)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		t.Fatalf("输出不是 RSA PRIVATE KEY PEM: %v", block)
	}
	got, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		t.Fatalf("ParsePKCS1PrivateKey: %v", err)
	}
	if got.N.Cmp(key.N) != 0 || got.D.Cmp(key.D) != 0 || got.E != key.E {
		t.Fatal("转换后的密钥参数与原始密钥不一致")
	}

	// 转换结果必须能直接用于 SSH 认证
	if _, err := ssh.ParsePrivateKey(raw); err != nil {
		t.Fatalf("ssh.ParsePrivateKey: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(out)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("输出文件权限 = %o, want 600", perm)
		}
	}
}

func TestConvertPPKVersion3Header(t *testing.T) {
	dir := t.TempDir()
	key := testRSAKey(t)
	ppkPath := writePPKFile(t, dir, "v3_key.ppk", buildPPK(t, key, 3))

	out, err := ConvertPPK(ppkPath)
	if err != nil {
		t.Fatalf("ConvertPPK: %v", err)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if _, err := ssh.ParsePrivateKey(raw); err != nil {
		t.Fatalf("ssh.ParsePrivateKey: %v", err)
	}
}

func TestConvertPPKReusesExistingConversion(t *testing.T) {
	dir := t.TempDir()
	key := testRSAKey(t)
	ppkPath := writePPKFile(t, dir, "cached.ppk", buildPPK(t, key, 2))

	out, err := ConvertPPK(ppkPath)
	if err != nil {
		t.Fatalf("ConvertPPK: %v", err)
	}

	// 把缓存换成另一把有效密钥，再次转换应复用而不是覆盖
	other := testRSAKey(t)
	otherPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(other),
	})
	if err := os.WriteFile(out, otherPEM, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	again, err := ConvertPPK(ppkPath)
	if err != nil {
		t.Fatalf("ConvertPPK 第二次: %v", err)
	}
	if again != out {
		t.Fatalf("第二次输出路径 = %s, want %s", again, out)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(raw, otherPEM) {
		t.Fatal("已有的有效转换结果被覆盖了")
	}
}

func TestConvertPPKRejectsEncrypted(t *testing.T) {
	dir := t.TempDir()
	key := testRSAKey(t)
	content := strings.Replace(buildPPK(t, key, 2), "Encryption: none", "Encryption: aes256-cbc", 1)
	ppkPath := writePPKFile(t, dir, "enc.ppk", content)

	if _, err := ConvertPPK(ppkPath); err == nil {
		t.Fatal("加密的 PPK 应转换失败")
	}
}

func TestConvertPPKRejectsNonPuTTYFile(t *testing.T) {
	dir := t.TempDir()
	path := writePPKFile(t, dir, "plain.ppk", "this is not a key\n")

	if _, err := ConvertPPK(path); err == nil {
		t.Fatal("普通文本文件应转换失败")
	}
}

func TestConvertedKeyPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"keys/sftp_key.ppk", "keys/sftp_key"},
		{"keys/SFTP_KEY.PPK", "keys/SFTP_KEY"},
		{"keys/id_rsa", "keys/id_rsa_converted"},
		{"keys/id_rsa.key", "keys/id_rsa_converted"},
	}
	for _, tt := range tests {
		if got := convertedKeyPath(tt.in); got != tt.want {
			t.Errorf("convertedKeyPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadStringAndMPInt(t *testing.T) {
	var buf bytes.Buffer
	writeSSHString(&buf, []byte("ssh-rsa"))
	writeSSHMPInt(&buf, big.NewInt(65537))

	data := buf.Bytes()
	s, off, err := readString(data, 0)
	if err != nil {
		t.Fatalf("readString: %v", err)
	}
	if string(s) != "ssh-rsa" {
		t.Fatalf("readString = %q, want ssh-rsa", s)
	}
	v, _, err := readMPInt(data, off)
	if err != nil {
		t.Fatalf("readMPInt: %v", err)
	}
	if v.Int64() != 65537 {
		t.Fatalf("readMPInt = %d, want 65537", v.Int64())
	}

	if _, _, err := readString(data, len(data)); err == nil {
		t.Fatal("越界读取应报错")
	}
	if _, _, err := readString([]byte{0, 0, 0, 9, 1}, 0); err == nil {
		t.Fatal("长度超出剩余数据应报错")
	}
}
