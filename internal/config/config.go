package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ServerPort string

	// Database configuration
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	// Redis configuration
	RedisURL string

	// Daraja API credentials
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaPasskey        string
	MpesaShortCode      string
	MpesaAuthURL        string
	MpesaSTKPushURL     string
	MpesaCallbackURL    string

	// Security settings
	InternalSecret string
	GatewayIPs     []string

	// Request limits
	MaxRequestSize int64

	// Worker settings
	WorkerConcurrency int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server
		ServerPort: getEnv("PAYMENTS_SERVER_PORT", "8080"),

		// Database
		DatabaseURL: getEnv("PAYMENTS_DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("PAYMENTS_DB_MAX_CONNS", 25),
		DBMinConns:  getEnvInt("PAYMENTS_DB_MIN_CONNS", 5),

		// Redis
		RedisURL: getEnv("PAYMENTS_REDIS_URL", ""),

		// Daraja
		MpesaConsumerKey:    getEnv("PAYMENTS_MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret: getEnv("PAYMENTS_MPESA_CONSUMER_SECRET", ""),
		MpesaPasskey:        getEnv("PAYMENTS_MPESA_PASSKEY", ""),
		MpesaShortCode:      getEnv("PAYMENTS_MPESA_SHORT_CODE", ""),
		MpesaAuthURL:        getEnv("PAYMENTS_MPESA_AUTH_URL", "https://sandbox.safaricom.co.ke/oauth/v1/generate?grant_type=client_credentials"),
		MpesaSTKPushURL:     getEnv("PAYMENTS_MPESA_STK_PUSH_URL", "https://sandbox.safaricom.co.ke/mpesa/stkpush/v1/processrequest"),
		MpesaCallbackURL:    getEnv("PAYMENTS_MPESA_CALLBACK_URL", ""),

		// Security
		InternalSecret: getEnv("PAYMENTS_INTERNAL_SECRET", ""),
		MaxRequestSize: getEnvInt64("PAYMENTS_MAX_REQUEST_SIZE", 1<<20), // 1MB

		// Worker
		WorkerConcurrency: getEnvInt("PAYMENTS_WORKER_CONCURRENCY", 10),
	}

	// Parse IP allowlist for the callback endpoint
	ipList := getEnv("PAYMENTS_GATEWAY_IPS", "")
	if ipList != "" {
		cfg.GatewayIPs = strings.Split(ipList, ",")
		for i := range cfg.GatewayIPs {
			cfg.GatewayIPs[i] = strings.TrimSpace(cfg.GatewayIPs[i])
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("PAYMENTS_DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("PAYMENTS_REDIS_URL is required")
	}
	if c.InternalSecret == "" {
		return fmt.Errorf("PAYMENTS_INTERNAL_SECRET is required")
	}
	if c.MpesaConsumerKey == "" {
		return fmt.Errorf("PAYMENTS_MPESA_CONSUMER_KEY is required")
	}
	if c.MpesaConsumerSecret == "" {
		return fmt.Errorf("PAYMENTS_MPESA_CONSUMER_SECRET is required")
	}
	if c.MpesaPasskey == "" {
		return fmt.Errorf("PAYMENTS_MPESA_PASSKEY is required")
	}
	if c.MpesaShortCode == "" {
		return fmt.Errorf("PAYMENTS_MPESA_SHORT_CODE is required")
	}
	if c.MpesaCallbackURL == "" {
		return fmt.Errorf("PAYMENTS_MPESA_CALLBACK_URL is required (public URL for callbacks)")
	}

	return nil
}

// LogSafeConfig logs configuration without secrets.
func (c *Config) LogSafeConfig() {
	fmt.Printf("Configuration loaded:\n")
	fmt.Printf("  Server Port: %s\n", c.ServerPort)
	fmt.Printf("  Database URL: %s\n", maskConnectionString(c.DatabaseURL))
	fmt.Printf("  Redis URL: %s\n", maskConnectionString(c.RedisURL))
	fmt.Printf("  DB Pool: %d min, %d max\n", c.DBMinConns, c.DBMaxConns)
	fmt.Printf("  Worker Concurrency: %d\n", c.WorkerConcurrency)
	fmt.Printf("  M-Pesa Short Code: %s\n", c.MpesaShortCode)
	fmt.Printf("  Gateway IP Allowlist: %v\n", c.GatewayIPs)
	fmt.Printf("  Max Request Size: %d bytes\n", c.MaxRequestSize)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func maskConnectionString(connStr string) string {
	if strings.Contains(connStr, "@") {
		parts := strings.Split(connStr, "@")
		if len(parts) == 2 {
			return "***@" + parts[1]
		}
	}
	return "***"
}
