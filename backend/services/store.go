package services

import (
	"academix_backend/backend/models"

	"github.com/google/uuid"
)

// SessionStore is the persistence boundary of the session engine. Lookup
// methods return (nil, nil) when no row matches; the engine maps that to its
// own sentinel errors.
type SessionStore interface {
	TestByID(id uint) (*models.Test, error)
	UserByID(id uint) (*models.User, error)

	SessionByID(id uuid.UUID) (*models.TestSession, error)
	// ActiveSession returns the student's non-terminal session for a test,
	// if any. The engine guarantees there is at most one.
	ActiveSession(testID, studentID uint) (*models.TestSession, error)
	// AttemptsUsed counts every session the student has opened for the test,
	// terminal or not.
	AttemptsUsed(testID, studentID uint) (int, error)
	CreateSession(sess *models.TestSession) error
	SaveSession(sess *models.TestSession) error
	// OpenSessions lists every non-terminal session, for the reaper sweep.
	OpenSessions() ([]models.TestSession, error)

	UpsertAnswer(ans *models.SessionAnswer) error
	AnswersBySession(id uuid.UUID) ([]models.SessionAnswer, error)

	CreateResult(res *models.TestResult) error
	ResultBySession(id uuid.UUID) (*models.TestResult, error)

	ExtraAttempts(testID, studentID uint) (int, error)
	AddExtraAttempt(testID, studentID, grantedBy uint) error

	CreateAnalytics(row *models.TestAnalytics) error
}
