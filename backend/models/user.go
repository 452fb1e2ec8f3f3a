package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
)

type User struct {
	gorm.Model
	Username     string `gorm:"unique;not null"`
	Email        string `gorm:"unique;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"default:student"` // student, faculty
	Group        string
	University   string
}

type LoginHistory struct {
	gorm.Model
	UserID    uint
	LoginTime time.Time
}

type UserActivity struct {
	gorm.Model
	UserID      uint
	ActionType  string // "test_start", "test_resume", "test_submit"
	TargetID    uint   // test id
	TargetTitle string
	Duration    float64 // minutes, for completed actions
}
