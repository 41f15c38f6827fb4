package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"kabox/internal/config"
	"kabox/internal/handler"
	"kabox/internal/metadata"
	"kabox/internal/notify"
	"kabox/internal/repository"
	"kabox/internal/security"
	"kabox/internal/service"
	"kabox/internal/storage"
	"kabox/internal/validator"
)

func connectWithRetry(dsn string, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}
		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", cfg.Database.GetURL())
		if err == nil {
			break
		}
		log.Printf("Failed to create migrate instance (attempt %d/5): %v", i+1, err)
		time.Sleep(time.Second * 5)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		log.Printf("Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.NewConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pgDB, err := connectWithRetry(cfg.Database.GetDSN(), 5, time.Second*5)
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer pgDB.Close()

	if err := runMigrations(cfg); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(5 * time.Minute)

	liteDB, err := sqlx.Connect("sqlite3", cfg.SQLite.Path)
	if err != nil {
		log.Fatalf("Failed to open sqlite database: %v", err)
	}
	defer liteDB.Close()
	// SQLite serializes writes; one connection avoids lock contention.
	liteDB.SetMaxOpenConns(1)

	// Metadata backends: Postgres is the designated primary, SQLite the
	// local replica.
	pgRepo := repository.NewSQLRepository(pgDB, "postgres")
	liteRepo := repository.NewSQLRepository(liteDB, "sqlite")
	if err := liteRepo.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to prepare sqlite schema: %v", err)
	}

	var rdb *redis.Client
	var cache metadata.Cache
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		cache = metadata.NewRedisCache(rdb, cfg.Metadata.CacheTTL)
	}

	store, err := metadata.NewStore(
		[]repository.FileRepository{pgRepo, liteRepo},
		metadata.StoreOptions{
			Cache:     cache,
			Quorum:    cfg.Metadata.Quorum,
			OpTimeout: cfg.Metadata.OpTimeout,
		},
	)
	if err != nil {
		log.Fatalf("Failed to build metadata store: %v", err)
	}

	// Storage providers. S3 is required as the default; the media CDNs
	// are optional and skipped when unconfigured.
	s3Provider, err := storage.NewS3Provider(cfg.S3)
	if err != nil {
		log.Fatalf("Failed to create S3 provider: %v", err)
	}
	providers := []storage.Provider{s3Provider}

	if cfg.Drive.ClientID != "" {
		driveProvider, err := storage.NewDriveProvider(context.Background(), cfg.Drive)
		if err != nil {
			log.Fatalf("Failed to create Drive provider: %v", err)
		}
		providers = append(providers, driveProvider)
	} else {
		log.Println("Drive provider not configured, skipping")
	}

	if cfg.Minio.Endpoint != "" {
		minioProvider, err := storage.NewMinioProvider(cfg.Minio)
		if err != nil {
			log.Fatalf("Failed to create MinIO provider: %v", err)
		}
		providers = append(providers, minioProvider)
	} else {
		log.Println("MinIO provider not configured, skipping")
	}

	pgBlob, err := storage.NewSQLBlobProvider(pgDB, "postgres", 3)
	if err != nil {
		log.Fatalf("Failed to create postgres blob provider: %v", err)
	}
	liteBlob, err := storage.NewSQLBlobProvider(liteDB, "sqlite", 4)
	if err != nil {
		log.Fatalf("Failed to create sqlite blob provider: %v", err)
	}
	providers = append(providers, pgBlob, liteBlob)

	gate := security.NewGate(security.Options{
		RatePoints:      cfg.Security.RatePoints,
		RateWindow:      cfg.Security.RateWindow,
		BlockDuration:   cfg.Security.BlockDuration,
		StaticBlacklist: cfg.Security.StaticBlacklist,
		Redis:           rdb,
	})
	tokens := security.NewTokenManager(cfg.Security.JWTSecret, 7*24*time.Hour)
	notifier := notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChannelID, cfg.Telegram.OwnerChatID)

	svc, err := service.NewFileService(validator.New(), providers, store, notifier, cfg.Server.BaseURL)
	if err != nil {
		log.Fatalf("Failed to create file service: %v", err)
	}

	fileHandler := handler.NewFileHandler(svc, gate, tokens, notifier, cfg.Server.BaseURL)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: fileHandler.Routes(),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Hourly expiry sweep alongside the admin endpoint.
	cleanupTicker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-cleanupTicker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				if _, err := svc.CleanupExpired(ctx); err != nil {
					log.Printf("Error during expired file cleanup: %v", err)
				}
				cancel()
			case <-quit:
				cleanupTicker.Stop()
				return
			}
		}
	}()

	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Printf("Error closing redis connection: %v", err)
		}
	}

	log.Println("Server exited properly")
}
