package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pool.MaxSeats != 4 || cfg.Pool.MinParticipants != 2 {
		t.Errorf("pool seats = %d/%d, want 4/2", cfg.Pool.MaxSeats, cfg.Pool.MinParticipants)
	}
	if cfg.Pool.Discount != 0.30 || cfg.Pool.DriverBonus != 0.20 {
		t.Errorf("pool discount/bonus = %v/%v", cfg.Pool.Discount, cfg.Pool.DriverBonus)
	}
	if cfg.Pool.Expiry().Minutes() != 30 {
		t.Errorf("pool expiry = %v, want 30m", cfg.Pool.Expiry())
	}
	if cfg.Fare.Base != 25 || cfg.Fare.PerKm != 10 || cfg.Fare.Minimum != 40 {
		t.Errorf("fare = %+v", cfg.Fare)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("store backend = %q, want %q", cfg.Store.Backend, BackendPostgres)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("POOL_MAX_SEATS", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("store backend = %q, want memory", cfg.Store.Backend)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("kafka brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Pool.MaxSeats != 6 {
		t.Errorf("max seats = %d, want 6", cfg.Pool.MaxSeats)
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted an unknown backend")
	}
}

func TestDSN(t *testing.T) {
	p := PostgresConfig{User: "u", Password: "p", Host: "h", Port: 5432, DBName: "d", SSLMode: "disable"}
	if got, want := p.DSN(), "postgres://u:p@h:5432/d?sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
