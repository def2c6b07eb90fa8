package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/config"
	"crowdtask-api/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LogLevel maps a config string onto a GORM logger level.
func LogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
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

// Open opens the SQLite database and runs migrations.
// Using glebarez/sqlite which is a pure Go implementation (no CGO required)
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := cfg.Path
	if !strings.Contains(dsn, "?") {
		// busy_timeout lets concurrent writers wait for the lock instead of failing
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(LogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// SeedUsers creates the configured users that do not exist yet. Existing users
// are left untouched so password changes are not overwritten on restart.
func SeedUsers(ctx context.Context, db *gorm.DB, hasher *auth.PasswordHasher, seeds []config.SeedUser, log *slog.Logger) error {
	for _, s := range seeds {
		if s.Username == "" || s.Password == "" {
			return fmt.Errorf("seed user needs username and password")
		}
		roles, err := auth.ParseRoles(s.Roles)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", s.Username, err)
		}

		var existing models.User
		err = db.WithContext(ctx).Where("username = ?", s.Username).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up user %s: %w", s.Username, err)
		}

		hash, err := hasher.Hash(s.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password for %s: %w", s.Username, err)
		}
		user := models.User{
			ID:       uuid.NewString(),
			Username: s.Username,
			Password: hash,
			Roles:    int(roles),
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create user %s: %w", s.Username, err)
		}
		log.Info("seeded user", "username", user.Username, "roles", roles.String())
	}
	return nil
}
