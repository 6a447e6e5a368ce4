package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.NormalizeConcurrency != 50 {
		t.Errorf("NormalizeConcurrency = %d, want 50", cfg.NormalizeConcurrency)
	}
	if cfg.NormalizeBatchSize != 100 {
		t.Errorf("NormalizeBatchSize = %d, want 100", cfg.NormalizeBatchSize)
	}
	if cfg.UnclassifiedPolicy != "exclude" {
		t.Errorf("UnclassifiedPolicy = %q, want exclude", cfg.UnclassifiedPolicy)
	}
	if cfg.SkipUnknownMachines {
		t.Error("SkipUnknownMachines should default to false")
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Timezone)
	}
	if cfg.ClassifierJWTIssuer != "license-analyzer" {
		t.Errorf("ClassifierJWTIssuer = %q, want license-analyzer", cfg.ClassifierJWTIssuer)
	}
	if cfg.ClassifierJWTAudience != "classifier" {
		t.Errorf("ClassifierJWTAudience = %q, want classifier", cfg.ClassifierJWTAudience)
	}
	if cfg.ClassifierModel != "default" {
		t.Errorf("ClassifierModel = %q, want default", cfg.ClassifierModel)
	}
	if cfg.ProgressKafkaTopic != "license-progress" {
		t.Errorf("ProgressKafkaTopic = %q, want license-progress", cfg.ProgressKafkaTopic)
	}
	if cfg.KafkaGroupID != "license-progress-worker" {
		t.Errorf("KafkaGroupID = %q, want license-progress-worker", cfg.KafkaGroupID)
	}
	if cfg.ClassifierCallTimeout() != 30*time.Second {
		t.Errorf("ClassifierCallTimeout = %v, want 30s", cfg.ClassifierCallTimeout())
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("CLASSIFIER_URL", "http://classifier.local/v1/classify")
	t.Setenv("NORMALIZE_CONCURRENCY", "8")
	t.Setenv("NORMALIZE_BATCH_SIZE", "20")
	t.Setenv("UNCLASSIFIED_POLICY", "RAW")
	t.Setenv("SKIP_UNKNOWN_MACHINES", "true")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("CLASSIFIER_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClassifierURL != "http://classifier.local/v1/classify" {
		t.Errorf("ClassifierURL = %q", cfg.ClassifierURL)
	}
	if cfg.NormalizeConcurrency != 8 || cfg.NormalizeBatchSize != 20 {
		t.Errorf("concurrency/batch = %d/%d, want 8/20", cfg.NormalizeConcurrency, cfg.NormalizeBatchSize)
	}
	if cfg.UnclassifiedPolicy != "raw" {
		t.Errorf("UnclassifiedPolicy = %q, want raw", cfg.UnclassifiedPolicy)
	}
	if !cfg.SkipUnknownMachines {
		t.Error("SkipUnknownMachines = false, want true")
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("Location = %v, want Europe/Berlin", cfg.Location())
	}
	if cfg.ClassifierCallTimeout() != 5*time.Second {
		t.Errorf("ClassifierCallTimeout = %v, want 5s", cfg.ClassifierCallTimeout())
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{"zero concurrency", "NORMALIZE_CONCURRENCY", "0"},
		{"negative concurrency", "NORMALIZE_CONCURRENCY", "-3"},
		{"zero batch size", "NORMALIZE_BATCH_SIZE", "0"},
		{"unknown policy", "UNCLASSIFIED_POLICY", "keep"},
		{"bad timezone", "TIMEZONE", "Mars/Olympus_Mons"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load with %s=%q should fail", tc.key, tc.value)
			}
		})
	}
}

func TestClassifierCallTimeout_Invalid(t *testing.T) {
	for _, v := range []string{"", "soon", "-1s", "0s"} {
		c := &Config{ClassifierTimeout: v}
		if got := c.ClassifierCallTimeout(); got != 30*time.Second {
			t.Errorf("ClassifierCallTimeout(%q) = %v, want 30s", v, got)
		}
	}
}

func TestKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "localhost:9092", []string{"localhost:9092"}},
		{"multiple with spaces", " a:9092 , b:9092,,c:9092 ", []string{"a:9092", "b:9092", "c:9092"}},
		{"only commas", ",,", []string{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{KafkaBrokers: tc.in}
			got := c.KafkaBrokersList()
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("KafkaBrokersList(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}

	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil list")
	}
}
