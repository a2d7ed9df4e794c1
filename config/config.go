package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port      string
	JWTSecret string
	DBPath    string

	RPCURL                 string
	ChainID                int64
	PayrollContractAddress string
	USDCAddress            string
	USDTAddress            string
	WalletPrivateKey       string

	LedgerAPIURL  string
	LedgerTimeout time.Duration

	ConfirmationTimeout time.Duration
	ReceiptPollInterval time.Duration
	TaxRate             decimal.Decimal
}

var (
	AppConfig Config
)

// DefaultTaxRate is the payroll tax withheld on top of the salary sum.
var DefaultTaxRate = decimal.RequireFromString("0.03")

func LoadConfig() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	AppConfig = Config{
		Port:      getEnvOrDefault("PORT", "3000"),
		JWTSecret: mustGetEnv("JWT_SECRET"),
		DBPath:    getEnvOrDefault("DB_PATH", "payroll.db"),

		RPCURL:                 getEnvOrDefault("RPC_URL", "https://sepolia.base.org"),
		ChainID:                getEnvInt64("CHAIN_ID", 84532),
		PayrollContractAddress: os.Getenv("PAYROLL_CONTRACT_ADDRESS"),
		USDCAddress:            getEnvOrDefault("USDC_ADDRESS", "0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		USDTAddress:            os.Getenv("USDT_ADDRESS"),
		WalletPrivateKey:       os.Getenv("WALLET_PRIVATE_KEY"),

		LedgerAPIURL:  getEnvOrDefault("LEDGER_API_URL", "http://localhost:8000/api/"),
		LedgerTimeout: getEnvDuration("LEDGER_TIMEOUT", 10*time.Second),

		ConfirmationTimeout: getEnvDuration("CONFIRMATION_TIMEOUT", 3*time.Minute),
		ReceiptPollInterval: getEnvDuration("RECEIPT_POLL_INTERVAL", 2*time.Second),
		TaxRate:             getEnvDecimal("TAX_RATE", DefaultTaxRate),
	}
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Environment variable %s is required", key)
	}
	return value
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil || d.IsNegative() {
		log.Printf("Warning: invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
