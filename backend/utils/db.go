package utils

import (
	"fmt"

	"academix_backend/backend/config"
	"academix_backend/backend/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitDB opens the Postgres connection and migrates the schema.
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.LoginHistory{},
		&models.UserActivity{},
		&models.Course{},
		&models.Lesson{},
		&models.Enrollment{},
		&models.Test{},
		&models.TestQuestion{},
		&models.TestSection{},
		&models.TestComment{},
		&models.TestCommentReply{},
		&models.TestSession{},
		&models.SessionAnswer{},
		&models.RetakeGrant{},
		&models.TestResult{},
		&models.TestAnalytics{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
