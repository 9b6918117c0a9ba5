package main

import (
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fintrack/models"
)

var db *gorm.DB

func initDB() {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		logger.Fatal().Msg("DB_DSN is not set; this project requires a Postgres DSN in DB_DSN")
	}
	var err error
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres database")
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true).
	shouldMigrate := true
	if v := strings.ToLower(os.Getenv("DB_AUTO_MIGRATE")); v == "false" || v == "0" || v == "no" {
		shouldMigrate = false
	}
	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others.
		if err := db.AutoMigrate(&models.User{}); err != nil {
			logger.Warn().Err(err).Msg("migration warning (users)")
		}
		if err := db.AutoMigrate(&models.Transaction{}); err != nil {
			logger.Warn().Err(err).Msg("migration warning (transactions)")
		}
		if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
			logger.Warn().Err(err).Msg("migration warning (refresh_tokens)")
		}
	}
	seedDB()
}

// seedDB ensures an admin account exists so role management is reachable on a
// fresh database. Override the credentials with SEED_ADMIN_EMAIL and
// SEED_ADMIN_PASSWORD.
func seedDB() {
	email := os.Getenv("SEED_ADMIN_EMAIL")
	if email == "" {
		email = "admin@example.com"
	}
	var count int64
	db.Model(&models.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to hash seed admin password")
		return
	}
	admin := models.User{Name: "Administrator", Email: email, PasswordHash: hashed, Role: models.RoleAdmin}
	if err := db.Create(&admin).Error; err != nil {
		logger.Warn().Err(err).Msg("failed to seed admin user")
		return
	}
	logger.Info().Str("email", email).Msg("seeded admin user")
}
