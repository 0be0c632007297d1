package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	ION     IONConfig     `mapstructure:"ion"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	JobRetention   time.Duration `mapstructure:"job_retention"`
}

type IONConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	TenantID        string        `mapstructure:"tenant_id"`
	CredentialsPath string        `mapstructure:"credentials_path"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	PollInitial     time.Duration `mapstructure:"poll_initial"`
	PollMax         time.Duration `mapstructure:"poll_max"`
	PollDeadline    time.Duration `mapstructure:"poll_deadline"`
}

type SyncConfig struct {
	DefaultBatchSize     int64         `mapstructure:"default_batch_size"`
	DefaultRecordCeiling int64         `mapstructure:"default_record_ceiling"`
	PageDelay            time.Duration `mapstructure:"page_delay"`
	PausePollInterval    time.Duration `mapstructure:"pause_poll_interval"`
}

type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "wms")
	v.SetDefault("mongo.max_pool_size", 20)
	v.SetDefault("mongo.connect_timeout", 10*time.Second)
	v.SetDefault("mongo.job_retention", 7*24*time.Hour)
	v.SetDefault("ion.base_url", "")
	v.SetDefault("ion.tenant_id", "")
	v.SetDefault("ion.credentials_path", "./credentials.ionapi")
	v.SetDefault("ion.request_timeout", 60*time.Second)
	v.SetDefault("ion.poll_initial", 500*time.Millisecond)
	v.SetDefault("ion.poll_max", 10*time.Second)
	v.SetDefault("ion.poll_deadline", 5*time.Minute)
	v.SetDefault("sync.default_batch_size", 500)
	v.SetDefault("sync.default_record_ceiling", 10000)
	v.SetDefault("sync.page_delay", 0)
	v.SetDefault("sync.pause_poll_interval", 2*time.Second)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.use_ssl", true)
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.bucket", "ionbridge-archive")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("mongo.database", "MONGO_DATABASE")
	v.BindEnv("ion.base_url", "ION_BASE_URL")
	v.BindEnv("ion.tenant_id", "ION_TENANT_ID")
	v.BindEnv("ion.credentials_path", "ION_CREDENTIALS_PATH")
	v.BindEnv("archive.endpoint", "ARCHIVE_ENDPOINT")
	v.BindEnv("archive.access_key", "ARCHIVE_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "ARCHIVE_SECRET_KEY")
	v.BindEnv("archive.bucket", "ARCHIVE_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
