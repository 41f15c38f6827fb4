package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	SQLite   SQLiteConfig   `mapstructure:"SQLite"`
	Redis    RedisConfig    `mapstructure:"Redis"`
	S3       S3Config       `mapstructure:"S3"`
	Drive    DriveConfig    `mapstructure:"Drive"`
	Minio    MinioConfig    `mapstructure:"Minio"`
	Security SecurityConfig `mapstructure:"Security"`
	Metadata MetadataConfig `mapstructure:"Metadata"`
	Telegram TelegramConfig `mapstructure:"Telegram"`
}

type ServerConfig struct {
	Port    string `mapstructure:"Port"`
	BaseURL string `mapstructure:"BaseURL"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"Path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"Addr"`
	Password string `mapstructure:"Password"`
	DB       int    `mapstructure:"DB"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"Endpoint"`
	Region    string `mapstructure:"Region"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	Bucket    string `mapstructure:"Bucket"`
}

type DriveConfig struct {
	ClientID     string `mapstructure:"ClientID"`
	ClientSecret string `mapstructure:"ClientSecret"`
	RefreshToken string `mapstructure:"RefreshToken"`
	FolderID     string `mapstructure:"FolderID"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"Endpoint"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	Bucket    string `mapstructure:"Bucket"`
	PublicURL string `mapstructure:"PublicURL"`
	UseSSL    bool   `mapstructure:"UseSSL"`
}

type SecurityConfig struct {
	JWTSecret       string        `mapstructure:"JWTSecret"`
	AdminToken      string        `mapstructure:"AdminToken"`
	RatePoints      int           `mapstructure:"RatePoints"`
	RateWindow      time.Duration `mapstructure:"RateWindow"`
	BlockDuration   time.Duration `mapstructure:"BlockDuration"`
	StaticBlacklist []string      `mapstructure:"StaticBlacklist"`
}

type MetadataConfig struct {
	Quorum    int           `mapstructure:"Quorum"`
	OpTimeout time.Duration `mapstructure:"OpTimeout"`
	CacheTTL  time.Duration `mapstructure:"CacheTTL"`
}

type TelegramConfig struct {
	BotToken    string `mapstructure:"BotToken"`
	ChannelID   string `mapstructure:"ChannelID"`
	OwnerChatID string `mapstructure:"OwnerChatID"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.BaseURL", "BASE_URL")
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("SQLite.Path", "SQLITE_PATH")
	v.BindEnv("Redis.Addr", "REDIS_ADDR")
	v.BindEnv("Redis.Password", "REDIS_PASSWORD")
	v.BindEnv("S3.Endpoint", "S3_ENDPOINT")
	v.BindEnv("S3.Region", "S3_REGION")
	v.BindEnv("S3.AccessKey", "S3_ACCESS_KEY")
	v.BindEnv("S3.SecretKey", "S3_SECRET_KEY")
	v.BindEnv("S3.Bucket", "S3_BUCKET")
	v.BindEnv("Drive.ClientID", "DRIVE_CLIENT_ID")
	v.BindEnv("Drive.ClientSecret", "DRIVE_CLIENT_SECRET")
	v.BindEnv("Drive.RefreshToken", "DRIVE_REFRESH_TOKEN")
	v.BindEnv("Drive.FolderID", "DRIVE_FOLDER_ID")
	v.BindEnv("Minio.Endpoint", "MINIO_ENDPOINT")
	v.BindEnv("Minio.AccessKey", "MINIO_ACCESS_KEY")
	v.BindEnv("Minio.SecretKey", "MINIO_SECRET_KEY")
	v.BindEnv("Minio.Bucket", "MINIO_BUCKET")
	v.BindEnv("Minio.PublicURL", "MINIO_PUBLIC_URL")
	v.BindEnv("Security.JWTSecret", "JWT_SECRET")
	v.BindEnv("Telegram.BotToken", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("Telegram.ChannelID", "TELEGRAM_CHANNEL_ID")
	v.BindEnv("Telegram.OwnerChatID", "TELEGRAM_OWNER_CHAT_ID")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = "3000"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:" + cfg.Server.Port
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "kabox.db"
	}
	if cfg.Security.RatePoints <= 0 {
		cfg.Security.RatePoints = 10
	}
	if cfg.Security.RateWindow <= 0 {
		cfg.Security.RateWindow = time.Second
	}
	if cfg.Security.BlockDuration <= 0 {
		cfg.Security.BlockDuration = time.Hour
	}
	if cfg.Metadata.Quorum <= 0 {
		cfg.Metadata.Quorum = 1
	}
	if cfg.Metadata.OpTimeout <= 0 {
		cfg.Metadata.OpTimeout = 5 * time.Second
	}
	if cfg.Metadata.CacheTTL <= 0 {
		cfg.Metadata.CacheTTL = 5 * time.Minute
	}

	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}

	if cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("security configuration is incomplete: JWT secret is required")
	}

	return &cfg, nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
