package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wa_guard/internal/config"
	"wa_guard/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database owns the gorm handle and the settings it was opened with.
type Database struct {
	cfg config.DatabaseConfig
	log *zap.Logger
	db  *gorm.DB
}

// Open connects to the database selected by cfg.Type and migrates the schema.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*Database, error) {
	d := &Database{cfg: cfg, log: log}
	if err := d.connect(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) connect() error {
	var (
		db  *gorm.DB
		err error
	)

	switch d.cfg.Type {
	case "mysql":
		db, err = connectMySQL(d.cfg)
	case "postgres", "postgresql":
		db, err = connectPostgreSQL(d.cfg)
	case "sqlite", "":
		db, err = connectSQLite(d.cfg)
	default:
		return fmt.Errorf("unsupported database type: %s", d.cfg.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", d.cfg.Type, err)
	}

	if err := Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	d.db = db
	d.log.Info("database connected and migrated", zap.String("type", d.cfg.Type))
	return nil
}

func gormConfig(cfg config.DatabaseConfig) *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
	}
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// connectMySQL connects to MySQL database
func connectMySQL(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=30s&writeTimeout=30s",
		orDefault(cfg.User, "root"), cfg.Password, orDefault(cfg.Host, "127.0.0.1"), orDefault(cfg.Port, "3306"), cfg.Name)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, err
	}
	return db, configurePool(db)
}

// connectPostgreSQL connects to PostgreSQL database
func connectPostgreSQL(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		orDefault(cfg.Host, "localhost"), orDefault(cfg.Port, "5432"), orDefault(cfg.User, "postgres"), cfg.Password, cfg.Name)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, err
	}
	return db, configurePool(db)
}

// connectSQLite connects to a SQLite file (the development default)
func connectSQLite(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(orDefault(cfg.Path, "wa_guard.db")), gormConfig(cfg))
}

func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

// Migrate creates/updates the tables this process owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.BlacklistEntry{},
		&models.GroupBinding{},
		&models.ActorState{},
		&models.AuditEvent{},
	); err != nil {
		return err
	}
	return nil
}

// GetDB returns the gorm handle.
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// Ping reports whether the pool can still reach the server. Stores share this
// handle, and database/sql re-dials broken connections on the next query.
func (d *Database) Ping(ctx context.Context) error {
	if d.db == nil {
		return errors.New("database not initialized")
	}

	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		d.log.Warn("database unreachable", zap.Error(err))
		return fmt.Errorf("ping %s database: %w", d.cfg.Type, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
