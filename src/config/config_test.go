package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
name: queue-sync
port: 8765
backend:
  api_base_url: https://api.example.com/v1
  ws_base_url: wss://api.example.com
  business_id: b1
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Reconnect.InitialDelayMs != 1000 || cfg.Reconnect.MaxDelayMs != 30000 || cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("unexpected reconnect defaults: %+v", cfg.Reconnect)
	}
	if cfg.Storage.DBType != "sqlite" || cfg.Storage.DBPath == "" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Cache.Type != "memory" {
		t.Errorf("cache type = %q, want memory", cfg.Cache.Type)
	}
	if cfg.Location().String() != "UTC" {
		t.Errorf("location = %s, want UTC", cfg.Location())
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("QUEUESYNC_BACKEND_TOKEN", "secret-token")
	t.Setenv("QUEUESYNC_RECONNECT_MAX_ATTEMPTS", "9")
	t.Setenv("QUEUESYNC_BACKEND_BUSINESS_ID", "b42")

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Backend.Token != "secret-token" {
		t.Errorf("token = %q, want env value", cfg.Backend.Token)
	}
	if cfg.Reconnect.MaxAttempts != 9 {
		t.Errorf("max attempts = %d, want 9", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Backend.BusinessID != "b42" {
		t.Errorf("business id = %q, want b42", cfg.Backend.BusinessID)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing business",
			yaml:    "backend:\n  api_base_url: https://a\n  ws_base_url: wss://a\n",
			wantErr: "business_id",
		},
		{
			name:    "http websocket url",
			yaml:    "backend:\n  business_id: b\n  api_base_url: https://a\n  ws_base_url: http://a\n",
			wantErr: "ws_base_url",
		},
		{
			name:    "max delay below initial",
			yaml:    minimalYAML + "reconnect:\n  initial_delay_ms: 5000\n  max_delay_ms: 1000\n",
			wantErr: "max delay",
		},
		{
			name:    "redis without address",
			yaml:    minimalYAML + "cache:\n  type: redis\n",
			wantErr: "redis address",
		},
		{
			name:    "postgres without dsn",
			yaml:    minimalYAML + "storage:\n  db_type: postgres\n",
			wantErr: "connection string",
		},
		{
			name:    "bad timezone",
			yaml:    minimalYAML + "timezone: Mars/Olympus\n",
			wantErr: "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("saved file missing: %v", err)
	}

	loaded, err := NewConfig(path)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if loaded.Backend.BusinessID != "b1" || loaded.Port != 8765 {
		t.Fatalf("round trip lost values: %+v", loaded.MConfig)
	}
}
