package db

import (
	"testing"

	"edgetrader/conf"
)

func TestDSN(t *testing.T) {
	cfg := NewConfig(conf.Db{DbName: "edgetrader", Host: "127.0.0.1", Port: "3306", Username: "u", Password: "p"})
	want := "u:p@tcp(127.0.0.1:3306)/edgetrader?charset=utf8mb4&parseTime=true&loc=Local"
	if got := cfg.DSN(); got != want {
		t.Fatalf("dsn = %s, want %s", got, want)
	}
	if !cfg.Enabled() {
		t.Fatalf("expected enabled")
	}
	if NewConfig(conf.Db{}).Enabled() {
		t.Fatalf("empty config should be disabled")
	}
}
