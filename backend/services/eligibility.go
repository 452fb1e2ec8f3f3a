package services

import (
	"errors"

	"academix_backend/backend/models"

	"gorm.io/gorm"
)

// EligibilityGate decides whether a student may start a test. The engine only
// consumes the verdict; enrollment bookkeeping lives with the course surface.
type EligibilityGate interface {
	IsEligible(testID, studentID uint) (bool, error)
}

// EnrollmentGate approves students with an active enrollment in the course
// that owns the test. Tests without a course are open to any student.
type EnrollmentGate struct {
	DB *gorm.DB
}

func NewEnrollmentGate(db *gorm.DB) *EnrollmentGate {
	return &EnrollmentGate{DB: db}
}

func (g *EnrollmentGate) IsEligible(testID, studentID uint) (bool, error) {
	var test models.Test
	if err := g.DB.Select("id", "course_id").First(&test, testID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	if test.CourseID == 0 {
		return true, nil
	}

	var count int64
	err := g.DB.Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", studentID, test.CourseID, "active").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
