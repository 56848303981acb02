package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/script-bridge/errors"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Callbacks.MaxSlots != 4096 || cfg.Async.HighWater != 1024 || cfg.FastPath.MaxArity != 6 {
		t.Fatalf("Unexpected defaults %+v", cfg)
	}
	if len(cfg.Script.Libraries) != 5 || !cfg.Script.Console {
		t.Fatalf("Unexpected script defaults %+v", cfg.Script)
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
handles:
  max: 100
async:
  high_water: 8
script:
  libraries: [base, string]
  chunk_name: game
log:
  level: debug
  development: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Handles.Max != 100 || cfg.Async.HighWater != 8 {
		t.Fatalf("Unexpected values %+v", cfg)
	}
	if strings.Join(cfg.Script.Libraries, ",") != "base,string" || cfg.Script.ChunkName != "game" {
		t.Fatalf("Unexpected script section %+v", cfg.Script)
	}
	if cfg.Callbacks.MaxSlots != 4096 {
		t.Fatalf("Untouched sections must keep defaults, got %d", cfg.Callbacks.MaxSlots)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		path string
	}{
		{"arity", "fastpath:\n  max_arity: 7\n", "FastPath.MaxArity"},
		{"slots", "callbacks:\n  max_slots: 0\n", "Callbacks.MaxSlots"},
		{"library", "script:\n  libraries: [base, net]\n", "Script.Libraries[1]"},
		{"level", "log:\n  level: loud\n", "Log.Level"},
		{"negative", "handles:\n  max: -1\n", "Handles.Max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var be *errors.Error
			if !errors.As(err, &be) || be.Kind != errors.KindInvalidData {
				t.Fatalf("Expected invalid data, got %v", err)
			}
			if got := strings.Join(be.Path, "."); got != tt.path {
				t.Fatalf("Expected path %s, got %s", tt.path, got)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte("async: [")); err == nil {
		t.Fatal("Expected parse error")
	}
	if _, err := Parse([]byte("bogus: 1\n")); err == nil {
		t.Fatal("Expected error for unknown key")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte("async:\n  high_water: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil || cfg.Async.HighWater != 3 {
		t.Fatalf("Load = %+v, %v", cfg, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Handles.Max = 12
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of marshaled config failed: %v\n%s", err, data)
	}
	if back.Handles.Max != 12 || back.Script.ChunkName != cfg.Script.ChunkName {
		t.Fatalf("Round trip mismatch: %+v", back)
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"high_water"`, `"max_slots"`, `"libraries"`, `"maximum": 6`} {
		if !strings.Contains(s, want) {
			t.Errorf("Schema missing %s", want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	for _, l := range []Log{{Level: "debug"}, {Level: "warn", Development: true}, {}} {
		logger, err := NewLogger(l)
		if err != nil {
			t.Fatalf("NewLogger(%+v) failed: %v", l, err)
		}
		_ = logger.Sync()
	}
	if _, err := NewLogger(Log{Level: "loud"}); err == nil {
		t.Fatal("Expected error for unknown level")
	}
}
