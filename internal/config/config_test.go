package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigMissingFile(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), config); diff != "" {
		t.Errorf("missing file should yield defaults (-want +got):\n%s", diff)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	config, err := Parse([]byte(`
prediction:
  min_confidence: 0.9
store:
  max_templates_per_subject: 20
  idle_ttl: 30m
extraction:
  transforms: [toFixed(2), toUpperCase]
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if config.Prediction.MinConfidence != 0.9 {
		t.Errorf("min_confidence = %v", config.Prediction.MinConfidence)
	}
	if config.Prediction.MinObservations != 2 {
		t.Errorf("min_observations should keep its default, got %d", config.Prediction.MinObservations)
	}
	if got := config.StoreConfig(); got.MaxTemplatesPerSubject != 20 || got.IdleTTL != 30*time.Minute {
		t.Errorf("store config = %+v", got)
	}
	if got := config.MemoryConfig(); got.MaxMemoryMB != 100 || got.WarningThresholdPct != 75 {
		t.Errorf("memory config = %+v", got)
	}
	if diff := cmp.Diff([]string{"toFixed(2)", "toUpperCase"}, config.ExtractConfig().Transforms); diff != "" {
		t.Errorf("transforms (-want +got):\n%s", diff)
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"confidence above one", "prediction:\n  min_confidence: 1.5\n", "prediction.min_confidence"},
		{"zero observations", "prediction:\n  min_observations: 0\n", "prediction.min_observations"},
		{"unknown transform", "extraction:\n  transforms: [eval]\n", "extraction.transforms[0]"},
		{"critical below warning", "store:\n  warning_pct: 80\n  critical_pct: 60\n", "store.critical_pct"},
		{"zero depth", "limits:\n  max_depth: 0\n", "limits.max_depth"},
		{"missing addr", "server:\n  addr: \"\"\n", "server.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("prediction:\n  min_confidense: 0.5\n"))
	if err == nil || !strings.Contains(err.Error(), "min_confidense") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	config, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if config.Server.Addr != "localhost:8080" {
		t.Errorf("addr = %q", config.Server.Addr)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	config := DefaultConfig()
	config.Store.IdleTTL = 90 * time.Second
	config.Limits.MaxNodes = 500
	if err := SaveConfig(path, config); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "idle_ttl: 1m30s") {
		t.Errorf("durations should be written in Go syntax:\n%s", data)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if diff := cmp.Diff(config, loaded); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}

	config.Prediction.MinConfidence = -1
	if err := SaveConfig(path, config); err == nil {
		t.Error("SaveConfig should refuse an invalid config")
	}
}
