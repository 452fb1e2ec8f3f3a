package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Test struct {
	gorm.Model
	CourseID        uint   `gorm:"index"`
	Title           string `gorm:"not null"`
	Description     string
	Difficulty      string // beginner, intermediate, advanced
	AuthorID        uint
	DurationMinutes int     `gorm:"not null;default:60"`
	PassingScore    float64 `gorm:"default:50"`
	SectionBased    bool
	StartTime       *time.Time // scheduling window; nil means open-ended
	EndTime         *time.Time
	Published       bool       `gorm:"default:false;index"`
	Policy          TestPolicy `gorm:"embedded;embeddedPrefix:policy_"`
	Questions       []TestQuestion
	Sections        []TestSection
	Comments        []TestComment
}

// TestPolicy collects the per-test behaviour flags. It is loaded once with the
// definition and treated as immutable while any session references the test.
type TestPolicy struct {
	AllowRetake            bool
	MaxAttempts            int `gorm:"default:1"`
	ShuffleQuestions       bool
	AllowResume            bool
	ResumeTimeLimitMinutes int  `gorm:"default:10"`
	ShowResults            bool `gorm:"default:true"`
	ProctoringEnabled      bool
	PreventCopy            bool
	TimeWarningMinutes     int `gorm:"default:5"`
	NegativeMarking        bool
	NegativeMarks          float64
}

type TestQuestion struct {
	gorm.Model
	TestID          uint `gorm:"index:idx_test_question_number,unique"`
	Number          int  `gorm:"index:idx_test_question_number,unique"` // 1-based position
	Section         string
	Difficulty      string
	Question        string
	Options         datatypes.JSON // array of {key, text}; empty for free-text questions
	CorrectAnswer   string         // option key, or expected text for free-text
	Points          float64        `gorm:"default:1"`
	NegativeMarking bool
	NegativeMarks   float64
	FreeText        bool
}

// QuestionOption is the element shape stored in TestQuestion.Options.
type QuestionOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type TestSection struct {
	gorm.Model
	TestID        uint `gorm:"index"`
	Name          string
	Position      int // display order within the test
	QuestionCount int
	Difficulty    string
}
