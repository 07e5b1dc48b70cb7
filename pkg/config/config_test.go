package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Forecast.WindowDays != 90 || cfg.Forecast.MinHistoryDays != 14 {
		t.Errorf("forecast defaults = %+v", cfg.Forecast)
	}
	if cfg.Reconciliation.Tolerance != "0.01" {
		t.Errorf("Tolerance = %q", cfg.Reconciliation.Tolerance)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
service_name = "unionfinance-test"

[http]
port = 8181

[database]
driver = "postgres"
dsn = "host=localhost user=union dbname=union sslmode=disable"

[forecast]
window_days = 60
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_HTTP_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "unionfinance-test" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("HTTP.Port = %d, want env override 9191", cfg.HTTP.Port)
	}
	if cfg.Database.Driver != "postgres" || cfg.Forecast.WindowDays != 60 {
		t.Errorf("file values not applied: %+v %+v", cfg.Database, cfg.Forecast)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
driver = "mysql"
dsn = ""
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for mysql without dsn")
	}
}

func TestLoadRejectsInvertedAlertThresholds(t *testing.T) {
	t.Setenv("APP_FORECAST_WARNING_DAYS", "10")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when warning_days <= critical_days")
	}
}
