package config

import (
	"testing"
)

func TestLoadDatabasePoolSizes(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "40")
	t.Setenv("DB_MIN_CONNS", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.MaxConns != 40 || cfg.Database.MinConns != 10 {
		t.Fatalf("Pool sizes not taken from env: max=%d min=%d",
			cfg.Database.MaxConns, cfg.Database.MinConns)
	}
}

func TestLoadDatabasePoolDefaults(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "")
	t.Setenv("DB_MIN_CONNS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.MaxConns != 25 || cfg.Database.MinConns != 5 {
		t.Fatalf("Unexpected default pool sizes: max=%d min=%d",
			cfg.Database.MaxConns, cfg.Database.MinConns)
	}
}

func TestValidateRejectsInvertedPoolSizes(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "2")
	t.Setenv("DB_MIN_CONNS", "8")

	if _, err := Load(); err == nil {
		t.Fatal("Expected an error when DB_MAX_CONNS < DB_MIN_CONNS")
	}
}
