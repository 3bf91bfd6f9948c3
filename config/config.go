package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"focalcrm/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type Config struct {
	Environment   string `json:"environment"`
	ServerPort    string `json:"server_port"`
	EncryptionKey string `json:"-"`
	JWTSecret     string `json:"-"`
	SentryDSN     string `json:"-"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	Redis RedisConfig `json:"redis"`

	// Engine tick intervals. Automations run frequently, drip delivery
	// and campaign housekeeping less so.
	AutomationInterval time.Duration `json:"automation_interval"`
	DripInterval       time.Duration `json:"drip_interval"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		ServerPort:    getEnv("SERVER_PORT", "5000"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		SentryDSN:     getEnv("SENTRY_DSN", ""),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "focalcrm"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		AutomationInterval: getEnvAsDuration("AUTOMATION_INTERVAL", time.Minute),
		DripInterval:       getEnvAsDuration("DRIP_INTERVAL", 5*time.Minute),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// MigrateDB creates or updates the schema for every engine entity. The
// delivery tables carry the unique dedup indexes, so idempotency is
// enforced at the storage layer and not just in application logic.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Business{},
		&models.User{},
		&models.PipelineStage{},
		&models.Client{},
		&models.Project{},
		&models.Template{},
		&models.Automation{},
		&models.AutomationStep{},
		&models.DeliveryLog{},
		&models.DripCampaign{},
		&models.DripCampaignEmail{},
		&models.DripSubscription{},
		&models.DripDelivery{},
		&models.CampaignVersionLog{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("⚠️ Invalid duration for %s: %q, using default %s", key, valueStr, fallback)
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Automation interval: %s, drip interval: %s",
		AppConfig.AutomationInterval,
		AppConfig.DripInterval)
	log.Printf("Redis lock: %t", AppConfig.Redis.Enabled)
}
