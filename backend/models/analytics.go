package models

import "gorm.io/gorm"

// TestAnalytics is one row per graded attempt, written when a session is
// scored. Faculty dashboards read it; the engine only appends.
type TestAnalytics struct {
	gorm.Model
	TestID            uint `gorm:"index"`
	UserID            uint
	UserName          string
	AttemptNumber     int
	QuestionsAnswered int
	CorrectAnswers    int
	WrongAnswers      int
	Score             float64
	Percentage        float64
	Passed            bool
	TimeSpent         float64 // minutes
	TabSwitches       int
	Flagged           bool
}
