package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "eda2.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func Test_Default_Values(t *testing.T) {
	cfg := Default()

	if cfg.Server.Listen != ":19999" {
		t.Errorf("default listen = %q, want :19999", cfg.Server.Listen)
	}
	if cfg.Server.AuthToken != "" {
		t.Errorf("default auth token = %q, want empty", cfg.Server.AuthToken)
	}
	if cfg.Hardware.Simulate {
		t.Error("default hardware.simulate = true, want false")
	}
	if cfg.Telemetry.Interval() != 30*time.Second {
		t.Errorf("default telemetry interval = %v, want 30s", cfg.Telemetry.Interval())
	}
	if cfg.Telemetry.Retention() != 14*24*time.Hour {
		t.Errorf("default telemetry retention = %v, want 336h", cfg.Telemetry.Retention())
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default logging level = %q, want info", cfg.Logging.Level)
	}
}

func Test_Default_ReturnsDistinctInstances(t *testing.T) {
	a := Default()
	b := Default()
	a.Server.Listen = ":8080"
	if b.Server.Listen == ":8080" {
		t.Error("Default() instances share state")
	}
}

func Test_Load_ValidFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  listen: "127.0.0.1:19999"
  auth_token: "secret123"
hardware:
  simulate: true
outputs:
  switchable: ["A*", "B*"]
  locked: ["D8"]
telemetry:
  path: /tmp/telemetry.db
  interval_seconds: 10
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Listen != "127.0.0.1:19999" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.AuthToken != "secret123" {
		t.Errorf("auth token = %q", cfg.Server.AuthToken)
	}
	if !cfg.Hardware.Simulate {
		t.Error("hardware.simulate = false, want true")
	}
	if len(cfg.Outputs.Switchable) != 2 || cfg.Outputs.Switchable[0] != "A*" {
		t.Errorf("switchable = %v", cfg.Outputs.Switchable)
	}
	if len(cfg.Outputs.Locked) != 1 || cfg.Outputs.Locked[0] != "D8" {
		t.Errorf("locked = %v", cfg.Outputs.Locked)
	}
	if cfg.Telemetry.Interval() != 10*time.Second {
		t.Errorf("interval = %v", cfg.Telemetry.Interval())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func Test_Load_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  auth_token: "tok"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("listen = %q, want default %q", cfg.Server.Listen, DefaultListen)
	}
	if cfg.Telemetry.IntervalSeconds != 30 {
		t.Errorf("interval_seconds = %d, want default 30", cfg.Telemetry.IntervalSeconds)
	}
	if cfg.Hardware.SPIDev == "" {
		t.Error("spi_dev default lost on partial load")
	}
}

func Test_Load_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of missing file returned nil error")
	}
}

func Test_Load_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("Load of invalid YAML returned nil error")
	}
}

func Test_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("EDA2_AUTH_TOKEN", "env-token")
	t.Setenv("EDA2_LISTEN", ":20000")

	cfg := Default()
	cfg.Server.AuthToken = "file-token"
	ApplyEnvOverrides(cfg)

	if cfg.Server.AuthToken != "env-token" {
		t.Errorf("auth token = %q, want env-token", cfg.Server.AuthToken)
	}
	if cfg.Server.Listen != ":20000" {
		t.Errorf("listen = %q, want :20000", cfg.Server.Listen)
	}
}

func Test_ApplyEnvOverrides_EmptyEnvIgnored(t *testing.T) {
	t.Setenv("EDA2_AUTH_TOKEN", "")
	t.Setenv("EDA2_LISTEN", "")

	cfg := Default()
	cfg.Server.AuthToken = "file-token"
	ApplyEnvOverrides(cfg)

	if cfg.Server.AuthToken != "file-token" {
		t.Errorf("auth token = %q, want file-token", cfg.Server.AuthToken)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("listen = %q, want default", cfg.Server.Listen)
	}
}

func Test_EnsureAuthToken(t *testing.T) {
	cfg := Default()
	cfg.Server.AuthToken = "existing"
	token, err := EnsureAuthToken(cfg)
	if err != nil {
		t.Fatalf("EnsureAuthToken: %v", err)
	}
	if token != "existing" {
		t.Errorf("token = %q, want existing", token)
	}

	cfg = Default()
	token, err = EnsureAuthToken(cfg)
	if err != nil {
		t.Fatalf("EnsureAuthToken: %v", err)
	}
	if len(token) != 32 {
		t.Errorf("generated token length = %d, want 32", len(token))
	}
	if cfg.Server.AuthToken != token {
		t.Error("generated token not stored back into config")
	}
}

func Test_GenerateRandomToken_Distinct(t *testing.T) {
	a, err := GenerateRandomToken()
	if err != nil {
		t.Fatalf("GenerateRandomToken: %v", err)
	}
	b, err := GenerateRandomToken()
	if err != nil {
		t.Fatalf("GenerateRandomToken: %v", err)
	}
	if a == b {
		t.Error("two generated tokens are identical")
	}
}

func Test_Watch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  listen: \":19999\"\n")

	reloaded := make(chan *Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.NewNop(), func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before the write.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "server:\n  listen: \":20001\"\n")

	select {
	case cfg := <-reloaded:
		if cfg.Server.Listen != ":20001" {
			t.Errorf("reloaded listen = %q, want :20001", cfg.Server.Listen)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed within 5s")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func Test_Watch_BadReloadKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  listen: \":19999\"\n")

	reloaded := make(chan *Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, path, zap.NewNop(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "server: [broken")

	select {
	case <-reloaded:
		t.Fatal("apply called for an unparseable config")
	case <-time.After(time.Second):
	}

	writeConfig(t, dir, "server:\n  listen: \":20002\"\n")
	select {
	case cfg := <-reloaded:
		if cfg.Server.Listen != ":20002" {
			t.Errorf("reloaded listen = %q, want :20002", cfg.Server.Listen)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not recover after a bad reload")
	}
}
