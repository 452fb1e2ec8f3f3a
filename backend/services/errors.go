package services

import "errors"

var (
	ErrTestNotFound         = errors.New("test not found")
	ErrTestNotPublished     = errors.New("test is not published")
	ErrTestClosed           = errors.New("test is outside its scheduling window")
	ErrNotEligible          = errors.New("student is not eligible for this test")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionFinished      = errors.New("session is already submitted")
	ErrSessionDisconnected  = errors.New("session is disconnected; start again to resume")
	ErrUnknownQuestion      = errors.New("question is not part of this test")
	ErrMissingAnswerKey     = errors.New("question has no correct answer key")
	ErrNoPriorAttempt       = errors.New("student has no prior attempt for this test")
	ErrResultNotReady       = errors.New("result is not available yet")
	ErrResultWithheld       = errors.New("results are withheld for this test")
)
