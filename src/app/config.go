package app

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Database configuration (required)
	DSN *string
	// Redis configuration (required)
	RedisAddr *string
	// Private key for signing sponsorships (required)
	SignerPrivateKey *string
	// API secret guarding signer administration (required)
	APISecret *string
	// Paymaster identity on chain (required)
	PaymasterAddress *string
	// Initial sponsorship signers, comma-separated (required)
	InitialSigners *[]string

	// =========================== OPTIONAL ===========================

	// Logging configuration
	LogLevel *string

	// Environment: dev, staging, prod
	Environment *string

	// HTTP server configuration
	Port *string
	Host *string

	// CORS configuration
	AllowOrigins *[]string

	// Migration configuration
	MigrationPath *string

	// Chain configuration
	ChainID           *int64
	RPCURL            *string
	BundlerURL        *string
	EntryPointAddress *string

	// Sponsorship policy
	WithdrawalDelaySeconds *int
	MinSponsorDepositWei   *string
	UnaccountedGas         *uint64
	PriceMarkup            *uint32
	SponsorshipTTLSeconds  *int

	// Sweeper configuration
	SweepIntervalSeconds *int
}

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	// Load required configuration
	loadRequiredConfig(config)

	// Load optional configuration with defaults
	loadOptionalConfig(config)

	return config
}

// loadRequiredConfig loads all required configuration values and fails fast if any are missing
func loadRequiredConfig(config *AppConfig) {
	// Database URL (required)
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatalf("REQUIRED: DB_URL not set in environment")
	}
	config.DSN = &dsn

	// Redis URL (required)
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		log.Fatalf("REQUIRED: REDIS_URL not set in environment")
	}
	config.RedisAddr = &redisAddr

	// Private key for signing sponsorships (required)
	privateKey := os.Getenv("SIGNER_PRIVATE_KEY")
	if privateKey == "" {
		log.Fatalf("REQUIRED: SIGNER_PRIVATE_KEY not set in environment")
	}
	// Remove 0x prefix if it exists
	privateKey = strings.TrimPrefix(privateKey, "0x")
	config.SignerPrivateKey = &privateKey

	// API secret guarding signer administration (required)
	apiSecret := os.Getenv("API_SECRET")
	if apiSecret == "" {
		log.Fatalf("REQUIRED: API_SECRET not set in environment")
	}
	config.APISecret = &apiSecret

	// Paymaster address (required)
	paymasterAddress := os.Getenv("PAYMASTER_ADDRESS")
	if paymasterAddress == "" {
		log.Fatalf("REQUIRED: PAYMASTER_ADDRESS not set in environment")
	}
	config.PaymasterAddress = &paymasterAddress

	// Initial signer set; the signing key's address is always included,
	// so this may stay empty.
	config.InitialSigners = parseAddressList(os.Getenv("INITIAL_SIGNERS"))

	// CORS origins (required in production, optional in development)
	loadCORSConfig(config)
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	host := getEnvWithDefault("HOST", "localhost:"+port)
	config.Host = &host

	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	environment := getEnvWithDefault("ENVIRONMENT", "dev")
	config.Environment = &environment

	// Migration path (default: file://migrations)
	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	// Chain configuration (default: Sepolia)
	chainID := getEnvInt64WithDefault("CHAIN_ID", 11155111)
	config.ChainID = &chainID

	rpcURL := getEnvWithDefault("RPC_URL", "https://ethereum-sepolia-rpc.publicnode.com")
	config.RPCURL = &rpcURL

	// Bundler RPC; empty disables receipt reconciliation
	bundlerURL := os.Getenv("BUNDLER_URL")
	config.BundlerURL = &bundlerURL

	entryPoint := getEnvWithDefault("ENTRYPOINT_ADDRESS", "0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	config.EntryPointAddress = &entryPoint

	// Withdrawal delay in seconds (default: 1 hour)
	withdrawalDelay := getEnvIntWithDefault("WITHDRAWAL_DELAY_SECONDS", 3600)
	config.WithdrawalDelaySeconds = &withdrawalDelay

	// Minimum deposit for sponsorability in wei (default: 0)
	minDeposit := getEnvWithDefault("MIN_SPONSOR_DEPOSIT_WEI", "0")
	config.MinSponsorDepositWei = &minDeposit

	// Settlement gas allowance (default: 11000)
	unaccountedGas := uint64(getEnvIntWithDefault("UNACCOUNTED_GAS", 11000))
	config.UnaccountedGas = &unaccountedGas

	// Default price markup, scaled by 1e6 (default: no markup)
	priceMarkup := uint32(getEnvIntWithDefault("PRICE_MARKUP", 1_000_000))
	config.PriceMarkup = &priceMarkup

	// Sponsorship validity window in seconds (default: 5 minutes)
	sponsorshipTTL := getEnvIntWithDefault("SPONSORSHIP_TTL_SECONDS", 300)
	config.SponsorshipTTLSeconds = &sponsorshipTTL

	// Sweep interval in seconds (default: 60)
	sweepInterval := getEnvIntWithDefault("SWEEP_INTERVAL_SECONDS", 60)
	config.SweepIntervalSeconds = &sweepInterval
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	allowOrigins := parseAddressList(os.Getenv("ALLOW_ORIGINS"))

	if len(*allowOrigins) == 0 {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "development" || environment == "dev" || environment == "" {
			// Default to localhost in development
			allowOrigins = &[]string{"http://localhost:5173"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}

	config.AllowOrigins = allowOrigins
}

// parseAddressList splits a comma-separated environment value
func parseAddressList(raw string) *[]string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return &out
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntWithDefault parses an integer environment value with default fallback
func getEnvIntWithDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		return parsed
	}
	log.Printf("Warning: Invalid %s value '%s', using default %d", key, raw, defaultValue)
	return defaultValue
}

// getEnvInt64WithDefault parses an int64 environment value with default fallback
func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return parsed
	}
	log.Printf("Warning: Invalid %s value '%s', using default %d", key, raw, defaultValue)
	return defaultValue
}
