package launcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yaml")
		content := "host: 0.0.0.0\nport: 9090\nclaude_path: /opt/claude\nmax_concurrent: 4\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Host != "0.0.0.0" || cfg.Port != 9090 || cfg.CLIPath != "/opt/claude" || cfg.MaxConcurrent != 4 {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("missing_file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Error("expected error for a missing file")
		}
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("port: [not a port"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Error("expected error for malformed YAML")
		}
	})

	t.Run("invalid_port", func(t *testing.T) {
		path := filepath.Join(dir, "port.yaml")
		if err := os.WriteFile(path, []byte("port: 70000\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := LoadConfig(path)
		if err == nil || !strings.Contains(err.Error(), "port") {
			t.Errorf("err = %v, want a port validation error", err)
		}
	})

	t.Run("zero_port_is_unset", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(path, []byte("host: localhost\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err != nil {
			t.Errorf("a config without a port must validate, got %v", err)
		}
	})
}

func TestPidfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cc-proxy.pid")

	want := pidInfo{PID: 4242, Addr: "127.0.0.1:8080"}
	if err := writePidfile(path, want); err != nil {
		t.Fatalf("writePidfile failed: %v", err)
	}

	got, err := readPidfile(path)
	if err != nil {
		t.Fatalf("readPidfile failed: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}

	removePidfile(path)
	if _, err := readPidfile(path); err == nil {
		t.Error("pidfile still readable after removal")
	}
	removePidfile(path) // removing twice is a no-op
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("our own pid must be alive")
	}
	// PIDs wrap far below this on every supported platform.
	if processAlive(1 << 22) {
		t.Error("an absurd pid reported alive")
	}
}

func TestFindCLI(t *testing.T) {
	t.Run("bare_name_on_path", func(t *testing.T) {
		if _, err := findCLI("sh"); err != nil {
			t.Skipf("sh not on PATH: %v", err)
		}
	})

	t.Run("explicit_path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "claude")
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		got, err := findCLI(path)
		if err != nil {
			t.Fatalf("findCLI failed: %v", err)
		}
		if got != path {
			t.Errorf("findCLI = %q, want %q", got, path)
		}
	})

	t.Run("missing_path", func(t *testing.T) {
		if _, err := findCLI("/nonexistent/claude"); err == nil {
			t.Error("expected error for a missing path")
		}
	})

	t.Run("directory", func(t *testing.T) {
		if _, err := findCLI(t.TempDir()); err == nil {
			t.Error("expected error for a directory")
		}
	})
}

func TestCheckAuthAlwaysSucceeds(t *testing.T) {
	// Credentials are keychain-held and exercised at call time; the probe
	// must not fail ahead of the first request.
	if err := checkAuth(); err != nil {
		t.Errorf("checkAuth() = %v, want nil", err)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	if code := Execute(context.Background(), []string{"frobnicate"}); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestExecuteStartInvalidPort(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "non_numeric_positional", args: []string{"start", "eighty"}},
		{name: "out_of_range_flag", args: []string{"start", "-port", "70000"}},
		{name: "negative_positional", args: []string{"start", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := Execute(context.Background(), tt.args); code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
		})
	}
}
