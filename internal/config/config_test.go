package config

import (
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("slots", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.DatabaseType != "postgres" || cfg.MailMode != "log" {
		t.Fatalf("db type = %q, mail mode = %q", cfg.DatabaseType, cfg.MailMode)
	}
	if cfg.ExpirySweepInterval != time.Hour || cfg.ReminderSweepInterval != 6*time.Hour {
		t.Fatalf("intervals = %v/%v, want 1h/6h", cfg.ExpirySweepInterval, cfg.ReminderSweepInterval)
	}

	p := cfg.Policy()
	if p.MaxApprovedRegistrations != 1 {
		t.Fatalf("max approved = %d, want 1", p.MaxApprovedRegistrations)
	}
	if p.PendingCap(model.DegreePhD) != 1 || p.PendingCap(model.DegreeMSc) != 2 {
		t.Fatalf("pending caps = %v", p.MaxPendingByDegree)
	}
	if p.RegistrationTokenTTL != 14*24*time.Hour {
		t.Fatalf("registration ttl = %v, want 336h", p.RegistrationTokenTTL)
	}
	if p.PromotionTokenTTL != 24*time.Hour {
		t.Fatalf("promotion ttl = %v, want 24h", p.PromotionTokenTTL)
	}
	if p.ReminderInterval != 48*time.Hour {
		t.Fatalf("reminder interval = %v, want 48h", p.ReminderInterval)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("slots", flag.ContinueOnError)
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_PENDING_BY_DEGREE", "phd:2,msc:3,bsc:1")
	t.Setenv("WAITING_LIST_APPROVAL_WINDOW_HOURS", "12")
	t.Setenv("REMINDER_TIMEZONE", "Asia/Jerusalem")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := ParseConfig(fs, []string{"-db-type", "sqlite", "-mail-mode", "smtp", "-port", "7070"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 7070 {
		t.Fatalf("port = %d, want 7070 (flag wins)", cfg.Port)
	}
	if cfg.DatabaseType != "sqlite" || cfg.MailMode != "smtp" {
		t.Fatalf("db type = %q, mail mode = %q", cfg.DatabaseType, cfg.MailMode)
	}
	if cfg.Database.Host != "db.internal" {
		t.Fatalf("db host = %q, want db.internal", cfg.Database.Host)
	}
	p := cfg.Policy()
	if p.PendingCap(model.DegreePhD) != 2 || p.PendingCap("BSC") != 1 {
		t.Fatalf("pending caps = %v", p.MaxPendingByDegree)
	}
	if p.PromotionTokenTTL != 12*time.Hour {
		t.Fatalf("promotion ttl = %v, want 12h", p.PromotionTokenTTL)
	}
	if cfg.Location().String() != "Asia/Jerusalem" {
		t.Fatalf("location = %s", cfg.Location())
	}
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"DATABASE_TYPE":              "mysql",
		"MAIL_MODE":                  "pigeon",
		"MAX_APPROVED_REGISTRATIONS": "0",
		"REMINDER_TIMEZONE":          "Mars/Olympus",
		"LOG_LEVEL":                  "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := ParseConfig(flag.NewFlagSet("slots", flag.ContinueOnError), nil)
			if err == nil {
				t.Fatalf("%s=%s: expected error", key, value)
			}
		})
	}
}

func TestParseConfigEnvError(t *testing.T) {
	t.Setenv("PORT", "not-an-int")

	_, err := ParseConfig(flag.NewFlagSet("slots", flag.ContinueOnError), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
