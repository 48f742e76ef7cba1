package database

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "db", Port: "5433", User: "u", Password: "p", DBName: "slots", SSLMode: "disable"}
	want := "host=db port=5433 user=u password=p dbname=slots sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}

	cfg.URL = "postgres://u:p@db/slots"
	if got := cfg.DSN(); got != cfg.URL {
		t.Fatalf("dsn = %q, want url %q", got, cfg.URL)
	}
}

func TestNewPoolRejectsInvalidDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPool(context.Background(), Config{URL: "postgres://%zz", ConnectAttempts: 1, RetryDelay: time.Millisecond}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse db config") {
		t.Fatalf("unexpected error: %v", err)
	}
}
