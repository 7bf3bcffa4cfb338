package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveDir(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "default", env: map[string]string{}, want: "/home/u/.config/inboxd"},
		{name: "override", env: map[string]string{EnvDir: "/tmp/inboxd/"}, want: "/tmp/inboxd"},
		{name: "blank override", env: map[string]string{EnvDir: "  "}, want: "/home/u/.config/inboxd"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveDir(func(k string) string { return tc.env[k] }, "/home/u")
			if got != tc.want {
				t.Fatalf("ResolveDir = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAnalyticsDisabled(t *testing.T) {
	if AnalyticsDisabled(func(string) string { return "" }) {
		t.Fatal("expected analytics enabled by default")
	}
	if !AnalyticsDisabled(func(string) string { return "1" }) {
		t.Fatal("expected analytics disabled")
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	got, err := LoadSettings(t.TempDir())
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != DefaultSettings() {
		t.Fatalf("unexpected settings %+v", got)
	}
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte("notify:\n  throttle: 45s\nretry:\n  max_attempts: 3\n")
	if err := os.WriteFile(filepath.Join(dir, SettingsFile), body, 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	got, err := LoadSettings(dir)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.Notify.Throttle != 45*time.Second {
		t.Fatalf("throttle = %s", got.Notify.Throttle)
	}
	if got.Retry.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d", got.Retry.MaxAttempts)
	}
	if got.Request.Timeout != 30*time.Second {
		t.Fatalf("timeout default lost: %s", got.Request.Timeout)
	}
}
