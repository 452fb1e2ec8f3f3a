package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionStatus string

const (
	SessionStarted      SessionStatus = "started"
	SessionInProgress   SessionStatus = "in-progress"
	SessionDisconnected SessionStatus = "disconnected"
	SessionSubmitted    SessionStatus = "submitted"
	SessionGraded       SessionStatus = "graded"
)

// Terminal reports whether the status allows no further mutation.
func (s SessionStatus) Terminal() bool {
	return s == SessionSubmitted || s == SessionGraded
}

// End reasons recorded when a session reaches a terminal state.
const (
	EndReasonSubmit        = "submit"
	EndReasonTimeout       = "timeout"
	EndReasonResumeExpired = "resume-expired"
	EndReasonForcedExit    = "forced-exit"
)

// TestSession is one attempt of a student at a test. At most one session per
// (test, student) may be in a non-terminal state at any time.
type TestSession struct {
	ID                    uuid.UUID     `gorm:"type:uuid;primaryKey"`
	TestID                uint          `gorm:"not null;index"`
	StudentID             uint          `gorm:"not null;index"`
	AttemptNumber         int           `gorm:"not null"`
	Status                SessionStatus `gorm:"default:started;index"`
	LastQuestionAttempted int
	TimeRemaining         int // seconds; server-authoritative
	LastSeenAt            time.Time
	SessionTerminatedAt   *time.Time // stamped on detected disconnect
	CanResume             bool       // faculty override; resumes regardless of window
	TabSwitchCount        int
	FlaggedForReview      bool
	Warnings              datatypes.JSON // ordered []IntegrityEvent
	EndReason             string
	Answers               []SessionAnswer `gorm:"foreignKey:SessionID"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SessionAnswer holds the latest answer per question number (last-write-wins).
type SessionAnswer struct {
	gorm.Model
	SessionID      uuid.UUID `gorm:"type:uuid;index:idx_session_answer,unique"`
	QuestionNumber int       `gorm:"index:idx_session_answer,unique"` // 1-based
	SelectedKey    string    // option key, or free text
	TimeSpent      int       // seconds
	Section        string    // copied from the question at answer time
}

// IntegrityEvent is a non-blocking signal recorded for faculty review.
type IntegrityEvent struct {
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

const (
	IntegrityTabSwitch  = "tab-switch"
	IntegrityCopy       = "copy-attempt"
	IntegrityDevtools   = "devtools-attempt"
	IntegrityRightClick = "right-click-attempt"
	IntegrityForcedExit = "forced-exit"
)

// RetakeGrant raises the attempt ceiling for one (test, student) pair.
// Each faculty grant adds exactly one extra attempt.
type RetakeGrant struct {
	gorm.Model
	TestID        uint `gorm:"index:idx_retake_pair,unique"`
	StudentID     uint `gorm:"index:idx_retake_pair,unique"`
	ExtraAttempts int  `gorm:"default:0"`
	GrantedBy     uint
}

// SectionScore is derived at grading time and stored on the result as JSON.
type SectionScore struct {
	Name       string  `json:"name"`
	Correct    int     `json:"correct"`
	Answered   int     `json:"answered"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// TestResult is written exactly once when a session is graded and is
// immutable thereafter.
type TestResult struct {
	gorm.Model
	SessionID     uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	TestID        uint      `gorm:"index"`
	StudentID     uint      `gorm:"index"`
	AttemptNumber int
	TotalScore    float64
	MaxScore      float64
	Percentage    float64
	Passed        bool
	Grade         string
	SectionScores datatypes.JSON // []SectionScore when section-based
}
