// Package config loads service configuration from the environment, with
// command-line flag overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/database"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/notify"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/policy"
)

// Config holds everything the service reads at startup.
type Config struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// DatabaseType selects the store: "postgres" or "sqlite".
	DatabaseType string `env:"DATABASE_TYPE" envDefault:"postgres"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"data/slots.db"`
	Database     database.Config

	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	MaxApprovedRegistrations       int            `env:"MAX_APPROVED_REGISTRATIONS" envDefault:"1"`
	MaxPendingByDegree             map[string]int `env:"MAX_PENDING_BY_DEGREE" envDefault:"PHD:1,MSC:2" envSeparator:"," envKeyValSeparator:":"`
	DefaultMaxPending              int            `env:"DEFAULT_MAX_PENDING" envDefault:"1"`
	ApprovalTokenExpiryDays        int            `env:"APPROVAL_TOKEN_EXPIRY_DAYS" envDefault:"14"`
	WaitingListApprovalWindowHours int            `env:"WAITING_LIST_APPROVAL_WINDOW_HOURS" envDefault:"24"`
	ApprovalReminderIntervalDays   int            `env:"APPROVAL_REMINDER_INTERVAL_DAYS" envDefault:"2"`

	ExpirySweepInterval   time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"1h"`
	ReminderSweepInterval time.Duration `env:"REMINDER_SWEEP_INTERVAL" envDefault:"6h"`
	ReminderTimezone      string        `env:"REMINDER_TIMEZONE" envDefault:"UTC"`
	// SchedulerEnabled turns the periodic sweeps off for extra API replicas.
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	// MailMode selects the notification gateway: "log" or "smtp".
	MailMode string `env:"MAIL_MODE" envDefault:"log"`
	SMTP     notify.SMTPConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.DatabaseType, "db-type", cfg.DatabaseType, "Store backend: postgres or sqlite")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.PublicBaseURL, "public-url", cfg.PublicBaseURL, "Base URL used in approval links")
	fs.StringVar(&cfg.MailMode, "mail-mode", cfg.MailMode, "Notification delivery: log or smtp")
	fs.DurationVar(&cfg.ExpirySweepInterval, "expiry-interval", cfg.ExpirySweepInterval, "Expiry sweep interval")
	fs.DurationVar(&cfg.ReminderSweepInterval, "reminder-interval", cfg.ReminderSweepInterval, "Reminder sweep interval")
	fs.BoolVar(&cfg.SchedulerEnabled, "scheduler", cfg.SchedulerEnabled, "Run the periodic sweeps in this process")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.DatabaseType {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_TYPE must be postgres or sqlite, got %q", c.DatabaseType))
	}
	switch c.MailMode {
	case "log", "smtp":
	default:
		errs = append(errs, fmt.Errorf("MAIL_MODE must be log or smtp, got %q", c.MailMode))
	}
	if c.MaxApprovedRegistrations <= 0 {
		errs = append(errs, errors.New("MAX_APPROVED_REGISTRATIONS must be positive"))
	}
	if c.ApprovalTokenExpiryDays <= 0 || c.WaitingListApprovalWindowHours <= 0 || c.ApprovalReminderIntervalDays <= 0 {
		errs = append(errs, errors.New("approval windows and reminder interval must be positive"))
	}
	if c.ExpirySweepInterval <= 0 || c.ReminderSweepInterval <= 0 {
		errs = append(errs, errors.New("sweep intervals must be positive"))
	}
	if _, err := time.LoadLocation(c.ReminderTimezone); err != nil {
		errs = append(errs, fmt.Errorf("REMINDER_TIMEZONE: %w", err))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Policy converts the registration settings.
func (c Config) Policy() policy.Policy {
	pending := make(map[model.Degree]int, len(c.MaxPendingByDegree))
	for degree, n := range c.MaxPendingByDegree {
		pending[model.NormalizeDegree(degree)] = n
	}
	return policy.Policy{
		MaxApprovedRegistrations: c.MaxApprovedRegistrations,
		MaxPendingByDegree:       pending,
		DefaultMaxPending:        c.DefaultMaxPending,
		RegistrationTokenTTL:     time.Duration(c.ApprovalTokenExpiryDays) * 24 * time.Hour,
		PromotionTokenTTL:        time.Duration(c.WaitingListApprovalWindowHours) * time.Hour,
		ReminderInterval:         time.Duration(c.ApprovalReminderIntervalDays) * 24 * time.Hour,
	}
}

// Location returns the reminder calendar's time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
