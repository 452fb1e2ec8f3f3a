package models

import "gorm.io/gorm"

type Course struct {
	gorm.Model
	Title       string
	ShortDesc   string
	Description string
	Difficulty  string // beginner, intermediate, advanced
	University  string
	Topic       string
	AuthorID    uint
	Syllabus    []Lesson
	Tests       []Test
}

type Lesson struct {
	gorm.Model
	CourseID      uint
	Title         string
	Description   string
	Content       string
	SequenceOrder int
}

// Enrollment links a student to a course. The eligibility gate checks it
// before a test session may start.
type Enrollment struct {
	gorm.Model
	UserID   uint `gorm:"index:idx_enrollment_pair,unique"`
	CourseID uint `gorm:"index:idx_enrollment_pair,unique"`
	Status   string `gorm:"default:active"` // active, dropped
}
