package launcher

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hhsetl.pid")

	if err := WritePIDFile(path, 12345); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 12345 {
		t.Fatalf("pid = %d，期望 12345", pid)
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hhsetl.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("非法 pidfile 应当报错")
	}
}

func TestPortProbes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if !PortInUse("127.0.0.1", port) {
		t.Fatal("被监听的端口应判定为占用")
	}
	if !PortListening("127.0.0.1", port, time.Second) {
		t.Fatal("被监听的端口应判定为在监听")
	}

	ln.Close()
	if PortListening("127.0.0.1", port, 200*time.Millisecond) {
		t.Fatal("释放后的端口不应再判定为在监听")
	}
}

func TestSetPortAndHTTPS(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".config.json")
	if err := os.WriteFile(path, []byte(`{"web":{"port":8000}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	l := New(Options{ConfigPath: path})
	if err := l.SetPort(9443); err != nil {
		t.Fatalf("SetPort: %v", err)
	}
	if err := l.SetHTTPS(true, "data/ssl/server.crt", "data/ssl/server.key"); err != nil {
		t.Fatalf("SetHTTPS: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(data, "web.port").Int(); got != 9443 {
		t.Fatalf("web.port = %d，期望 9443", got)
	}
	if !gjson.GetBytes(data, "web.use_https").Bool() {
		t.Fatal("web.use_https 应为 true")
	}
	if got := gjson.GetBytes(data, "web.cert_file").String(); got != "data/ssl/server.crt" {
		t.Fatalf("web.cert_file = %q", got)
	}
}

func TestSetPort_Invalid(t *testing.T) {
	l := New(Options{ConfigPath: filepath.Join(t.TempDir(), ".config.json")})
	if err := l.SetPort(0); err == nil {
		t.Fatal("端口 0 应当报错")
	}
	if err := l.SetPort(70000); err == nil {
		t.Fatal("端口 70000 应当报错")
	}
}
