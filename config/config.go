package config

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/joy095/gobus/logger"
	"golang.org/x/crypto/blake2b"
)

var envOnce sync.Once

// LoadEnv reads .env once. A missing file is fine in containers where the
// environment is injected directly.
func LoadEnv() {
	envOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			logger.WarnLogger.Warnf("No .env file loaded: %v", err)
		}
	})
}

// Settings holds every tunable the booking service reads at startup.
type Settings struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	HoldTTL            time.Duration
	MaxSeatsPerBooking int
	PaymentRetryLimit  int
	HoldTimeout        time.Duration
	LedgerTimeout      time.Duration
	PaymentTimeout     time.Duration
	SweepInterval      time.Duration
	RecoveryGrace      time.Duration
	TicketLookback     time.Duration
	Currency           string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayMockMode      bool
	GatewayRatePerSecond  float64

	TicketSigningSecret string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string

	BookingRateLimit string
	AllowedOrigins   []string
	SeedDemoTrip     bool
}

const (
	DefaultHoldTTL            = 10 * time.Minute
	DefaultMaxSeatsPerBooking = 6
	DefaultPaymentRetryLimit  = 3
	DefaultCurrency           = "INR"
)

// LoadSettings builds Settings from the environment, falling back to defaults
// for anything unset or malformed.
func LoadSettings() Settings {
	LoadEnv()

	s := Settings{
		Port:        getString("PORT", "8081"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   getString("JWT_SECRET", "default-insecure-secret-only-for-development"),

		HoldTTL:            time.Duration(getInt("HOLD_TTL_MINUTES", int(DefaultHoldTTL/time.Minute))) * time.Minute,
		MaxSeatsPerBooking: getInt("MAX_SEATS_PER_BOOKING", DefaultMaxSeatsPerBooking),
		PaymentRetryLimit:  getInt("PAYMENT_RETRY_LIMIT", DefaultPaymentRetryLimit),
		HoldTimeout:        getDuration("HOLD_TIMEOUT", 3*time.Second),
		LedgerTimeout:      getDuration("LEDGER_TIMEOUT", 3*time.Second),
		PaymentTimeout:     getDuration("PAYMENT_TIMEOUT", 10*time.Second),
		SweepInterval:      getDuration("SWEEP_INTERVAL", 30*time.Second),
		RecoveryGrace:      getDuration("RECOVERY_GRACE", 2*time.Minute),
		TicketLookback:     getDuration("TICKET_LOOKBACK", 24*time.Hour),
		Currency:           getString("PAYMENT_CURRENCY", DefaultCurrency),

		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		RazorpayMockMode:      getBool("RAZORPAY_MOCK_MODE", false),
		GatewayRatePerSecond:  getFloat("GATEWAY_RATE_PER_SECOND", 20),

		TicketSigningSecret: os.Getenv("TICKET_SIGNING_SECRET"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		FromEmail:    os.Getenv("FROM_EMAIL"),

		BookingRateLimit: getString("RATE_LIMIT_BOOKINGS", "10-1m"),
		AllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		SeedDemoTrip:     getBool("SEED_DEMO_TRIP", false),
	}

	// No credentials means there is nothing to talk to.
	if s.RazorpayKeyID == "" || s.RazorpayKeySecret == "" {
		s.RazorpayMockMode = true
	}
	if s.TicketSigningSecret == "" {
		s.TicketSigningSecret = deriveKey(s.JWTSecret, "gobus-ticket-signing")
	}
	if s.HoldTTL <= 0 {
		s.HoldTTL = DefaultHoldTTL
	}
	if s.MaxSeatsPerBooking <= 0 {
		s.MaxSeatsPerBooking = DefaultMaxSeatsPerBooking
	}
	if s.PaymentRetryLimit < 1 {
		s.PaymentRetryLimit = 1
	}
	return s
}

// deriveKey turns secret into an independent key for purpose, so a token
// signed with one never verifies under the other.
func deriveKey(secret, purpose string) string {
	sum := blake2b.Sum256([]byte(purpose + "\x00" + secret))
	return hex.EncodeToString(sum[:])
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.WarnLogger.Warnf("Invalid integer for %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.WarnLogger.Warnf("Invalid number for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.WarnLogger.Warnf("Invalid boolean for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.WarnLogger.Warnf("Invalid duration for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
