package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"arbitrage/pkg/crypto"
)

// Config содержит всю конфигурацию движка
type Config struct {
	Simulation   SimulationConfig
	Risk         RiskConfig
	Fees         FeesConfig
	Cache        CacheConfig
	Execution    ExecutionConfig
	Orchestrator OrchestratorConfig
	Logging      LoggingConfig
	Database     DatabaseConfig
	Credentials  CredentialsConfig
}

// SimulationConfig переключает paper/live режим поверх одного и того же
// решающего конвейера.
type SimulationConfig struct {
	Enabled bool
}

// RiskConfig - доли от bankroll
type RiskConfig struct {
	MaxRiskPerTrade   float64
	MaxDailyLoss      float64
	MaxNetExposure    float64
	BalanceSyncPeriod time.Duration
}

// FeesConfig - комиссионные модели площадок: Kalshi плоская за единицу,
// Polymarket пропорциональная от номинала.
type FeesConfig struct {
	KalshiPerUnit  float64
	PolymarketRate float64
	MinProfit      float64
	EpsFee         float64
}

// CacheConfig - TTL кэша стаканов и памоизационного кэша детектора
type CacheConfig struct {
	OrderbookTTL time.Duration
	ArbCacheTTL  time.Duration
}

// ExecutionConfig - бюджеты и расписание мониторинга заполнения
type ExecutionConfig struct {
	BookFetchTimeout    time.Duration
	BalanceMaxAge       time.Duration
	FillMonitorSchedule []time.Duration
}

// OrchestratorConfig - политика sticky-pair/cooldown/фильтров
type OrchestratorConfig struct {
	MinTimeToResolution time.Duration
	PriceBandLo         float64
	PriceBandHi         float64
	DedupeWindow        time.Duration
	Cooldown            time.Duration
	TradeSize           float64
	KalshiSeriesPrefix  string
	PolySeriesPrefix    string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig - настройки подключения к БД (аппенд-лог пар/сделок/риска)
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// CredentialsConfig - учётные данные площадок, читаемые из окружения процесса.
// KalshiPrivateKey и PolyAPISecret хранятся в окружении как AES-256-GCM
// ciphertext (см. pkg/crypto.EncryptWithKeyString) и расшифровываются один
// раз в Load с помощью EncryptionKey — в памяти процесса они уже plaintext.
type CredentialsConfig struct {
	EncryptionKey    string
	KalshiAPIKeyID   string
	KalshiPrivateKey string
	PolyAPIKey       string
	PolyAPISecret    string
	PolyPassphrase   string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Simulation: SimulationConfig{
			Enabled: getEnvAsBool("SIMULATION_MODE", true),
		},
		Risk: RiskConfig{
			MaxRiskPerTrade:   getEnvAsFloat("MAX_RISK_PER_TRADE", 0.10),
			MaxDailyLoss:      getEnvAsFloat("MAX_DAILY_LOSS", 0.05),
			MaxNetExposure:    getEnvAsFloat("MAX_NET_EXPOSURE", 0.50),
			BalanceSyncPeriod: getEnvAsDuration("BALANCE_SYNC_PERIOD", 30*time.Second),
		},
		Fees: FeesConfig{
			KalshiPerUnit:  getEnvAsFloat("FEE_KALSHI_PER_UNIT", 0.001),
			PolymarketRate: getEnvAsFloat("FEE_POLY_RATE", 0.01),
			MinProfit:      getEnvAsFloat("MIN_PROFIT", 0.005),
			EpsFee:         getEnvAsFloat("EPS_FEE", 0.02),
		},
		Cache: CacheConfig{
			OrderbookTTL: getEnvAsDuration("ORDERBOOK_TTL", 500*time.Millisecond),
			ArbCacheTTL:  getEnvAsDuration("ARB_CACHE_TTL", 100*time.Millisecond),
		},
		Execution: ExecutionConfig{
			BookFetchTimeout: getEnvAsDuration("BOOK_FETCH_TIMEOUT", 5*time.Second),
			BalanceMaxAge:    getEnvAsDuration("BALANCE_MAX_AGE", 10*time.Second),
			FillMonitorSchedule: getEnvAsDurationList("FILL_MONITOR_SCHEDULE_MS",
				"100,200,300,500,1000,1000,2000,2000,3000,3000"),
		},
		Orchestrator: OrchestratorConfig{
			MinTimeToResolution: getEnvAsDuration("TIME_TO_CLOSE_MIN", 60*time.Second),
			PriceBandLo:         getEnvAsFloat("PRICE_BAND_LO", 0.10),
			PriceBandHi:         getEnvAsFloat("PRICE_BAND_HI", 0.90),
			DedupeWindow:        getEnvAsDuration("DEDUPE_WINDOW", 15*time.Second),
			Cooldown:            getEnvAsDuration("TRADE_COOLDOWN", 60*time.Second),
			TradeSize:           getEnvAsFloat("TRADE_SIZE", 1),
			KalshiSeriesPrefix:  getEnv("KALSHI_SERIES_PREFIX", "KXBTC15M"),
			PolySeriesPrefix:    getEnv("POLY_SERIES_PREFIX", "btc-15m"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "arbitrage"),
			User:     getEnv("DB_USER", "arbiter"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Credentials: CredentialsConfig{
			EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
			KalshiAPIKeyID:   getEnv("KALSHI_API_KEY", ""),
			KalshiPrivateKey: getEnv("KALSHI_PRIVATE_KEY", ""),
			PolyAPIKey:       getEnv("POLY_API_KEY", ""),
			PolyAPISecret:    getEnv("POLY_PRIVATE_KEY", ""),
			PolyPassphrase:   getEnv("POLY_PASSPHRASE", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.decryptCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decryptCredentials расшифровывает хранимые-как-ciphertext секреты площадок.
// В симуляции секреты не заданы (площадки не вызываются вживую) — пропускаем.
func (c *Config) decryptCredentials() error {
	if c.Simulation.Enabled {
		return nil
	}
	if c.Credentials.KalshiPrivateKey != "" {
		plain, err := crypto.DecryptWithKeyString(c.Credentials.KalshiPrivateKey, c.Credentials.EncryptionKey)
		if err != nil {
			return fmt.Errorf("decrypt KALSHI_PRIVATE_KEY: %w", err)
		}
		c.Credentials.KalshiPrivateKey = plain
	}
	if c.Credentials.PolyAPISecret != "" {
		plain, err := crypto.DecryptWithKeyString(c.Credentials.PolyAPISecret, c.Credentials.EncryptionKey)
		if err != nil {
			return fmt.Errorf("decrypt POLY_PRIVATE_KEY: %w", err)
		}
		c.Credentials.PolyAPISecret = plain
	}
	return nil
}

// validate проверяет критичные параметры перед стартом
func (c *Config) validate() error {
	if c.Credentials.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting venue credentials at rest")
	}
	if len(c.Credentials.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if !c.Simulation.Enabled {
		if c.Credentials.KalshiAPIKeyID == "" || c.Credentials.KalshiPrivateKey == "" {
			return fmt.Errorf("KALSHI_API_KEY/KALSHI_PRIVATE_KEY required outside simulation mode")
		}
		if c.Credentials.PolyAPIKey == "" || c.Credentials.PolyAPISecret == "" {
			return fmt.Errorf("POLY_API_KEY/POLY_PRIVATE_KEY required outside simulation mode")
		}
	}
	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade > 1 {
		return fmt.Errorf("MAX_RISK_PER_TRADE must be in (0,1]")
	}
	return nil
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurationList парсит список миллисекунд через запятую (расписание
// backoff мониторинга заполнения); defaultCSV используется, если переменная
// не задана или не парсится целиком.
func getEnvAsDurationList(key, defaultCSV string) []time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultCSV
	}
	out, err := parseDurationListMs(valueStr)
	if err != nil {
		out, _ = parseDurationListMs(defaultCSV)
	}
	return out
}

func parseDurationListMs(csv string) ([]time.Duration, error) {
	parts := strings.Split(csv, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		ms, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out, nil
}
