package serverrun

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/spqs/internal/config"
)

func localConfig(t *testing.T) *cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Fsync = "never"
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Log.Level = "error"
	return &cfg
}

func TestLoadConfigOverrides(t *testing.T) {
	tests := []struct {
		name  string
		over  Overrides
		check func(t *testing.T, c cfgpkg.Config)
	}{
		{
			name: "no overrides keeps config",
			check: func(t *testing.T, c cfgpkg.Config) {
				if c.Server.HTTPAddr != "127.0.0.1:0" {
					t.Fatalf("http addr = %q", c.Server.HTTPAddr)
				}
			},
		},
		{
			name: "overrides win",
			over: Overrides{HTTPAddr: ":9999", LogFormat: "json", Queue: "jobs"},
			check: func(t *testing.T, c cfgpkg.Config) {
				if c.Server.HTTPAddr != ":9999" || c.Log.Format != "json" || c.Transport.Queue != "jobs" {
					t.Fatalf("overrides not applied: %+v", c)
				}
			},
		},
		{
			name: "redis index override",
			over: Overrides{IndexBackend: cfgpkg.BackendRedis, RedisAddr: "10.0.0.1:6380"},
			check: func(t *testing.T, c cfgpkg.Config) {
				if c.Index.Backend != cfgpkg.BackendRedis || c.Index.Redis.Addr != "10.0.0.1:6380" {
					t.Fatalf("index = %+v", c.Index)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadConfig(Options{Config: localConfig(t), Overrides: tt.over})
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.check(t, c)
		})
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spqs.yaml")
	body := "priorityLevels: 5\nserver:\n  httpAddr: \":7000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPQS_DATA_DIR", dir)
	t.Setenv("SPQS_MAX_MESSAGES", "4")
	c, err := LoadConfig(Options{ConfigPath: path, Overrides: Overrides{GRPCAddr: ":7001"}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.PriorityLevels != 5 || c.MaxMessages != 4 {
		t.Fatalf("levels=%d max=%d", c.PriorityLevels, c.MaxMessages)
	}
	if c.Server.HTTPAddr != ":7000" || c.Server.GRPCAddr != ":7001" {
		t.Fatalf("server = %+v", c.Server)
	}
	if c.Storage.DataDir != dir {
		t.Fatalf("data dir = %q", c.Storage.DataDir)
	}
}

func TestLoadConfigDefaultDataDir(t *testing.T) {
	cfg := localConfig(t)
	cfg.Storage.DataDir = ""
	c, err := LoadConfig(Options{Config: cfg})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if filepath.Base(c.Storage.DataDir) != "store" {
		t.Fatalf("data dir = %q", c.Storage.DataDir)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	cfg := localConfig(t)
	cfg.PriorityLevels = 0
	if _, err := LoadConfig(Options{Config: cfg}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := LoadConfig(Options{ConfigPath: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestNewLoggerFallback(t *testing.T) {
	if NewLogger(cfgpkg.LogConfig{}) == nil {
		t.Fatal("nil logger")
	}
	if NewLogger(cfgpkg.LogConfig{Level: "debug", Format: "xml"}) == nil {
		t.Fatal("nil logger for unknown format")
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			Config: localConfig(t),
			Ready:  func(h, _ net.Addr) { ready <- h },
		})
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}

	resp, err := http.Get("http://" + addr.String() + "/v1/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunFailsOnBadAddress(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	cfg := localConfig(t)
	cfg.Server.HTTPAddr = busy.Addr().String()
	if err := Run(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestRunFailsWithoutRedis(t *testing.T) {
	cfg := localConfig(t)
	cfg.Index.Backend = cfgpkg.BackendRedis
	cfg.Index.Redis.Addr = "127.0.0.1:1"
	cfg.Index.Redis.DialTimeoutMs = 200
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Run(ctx, Options{Config: cfg})
	if err == nil {
		t.Fatal("expected redis error")
	}
	if strings.Contains(err.Error(), "context deadline") {
		t.Fatalf("run blocked until deadline: %v", err)
	}
}
