package services

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"academix_backend/backend/models"

	"github.com/google/uuid"
)

// SessionService is the state machine that drives a test attempt from start
// to graded submission. Every mutating call serializes on a per-session lock,
// so answer submission, disconnect detection and the two submit paths can
// race without losing updates, and the terminal transition happens exactly
// once.
type SessionService struct {
	store  SessionStore
	gate   EligibilityGate
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSessionService(store SessionStore, gate EligibilityGate, logger *log.Logger) *SessionService {
	return &SessionService{
		store:  store,
		gate:   gate,
		logger: logger,
		now:    time.Now,
		locks:  map[string]*sync.Mutex{},
	}
}

// lock acquires the named serialization lock and returns its release func.
// Start locks the (test, student) pair before the session, never the other
// way around, so the two lock levels cannot deadlock.
func (s *SessionService) lock(key string) func() {
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func startKey(testID, studentID uint) string {
	return fmt.Sprintf("start:%d:%d", testID, studentID)
}

// StartResult is what the client needs to render the attempt: the session,
// any previously persisted answers (on resume), and the presentation order.
type StartResult struct {
	Session       *models.TestSession
	Answers       []models.SessionAnswer
	Resumed       bool
	QuestionOrder []int
	TimeWarningAt int // seconds remaining at which the client shows its warning
}

// AnswerAck carries the server-authoritative remaining time back to the
// client, which re-syncs its display from it.
type AnswerAck struct {
	TimeRemaining         int
	LastQuestionAttempted int
}

// Start creates a new session for the student, or resumes an existing
// disconnected one when the resume policy (or a faculty override) allows it.
func (s *SessionService) Start(testID, studentID uint) (*StartResult, error) {
	unlock := s.lock(startKey(testID, studentID))
	defer unlock()

	test, err := s.store.TestByID(testID)
	if err != nil {
		return nil, err
	}
	if test == nil {
		return nil, ErrTestNotFound
	}
	if !test.Published {
		return nil, ErrTestNotPublished
	}

	now := s.now()
	if test.StartTime != nil && now.Before(*test.StartTime) {
		return nil, ErrTestClosed
	}
	if test.EndTime != nil && now.After(*test.EndTime) {
		return nil, ErrTestClosed
	}

	eligible, err := s.gate.IsEligible(testID, studentID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	existing, err := s.store.ActiveSession(testID, studentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		unlockSess := s.lock(existing.ID.String())
		defer unlockSess()

		sess, err := s.store.SessionByID(existing.ID)
		if err != nil {
			return nil, err
		}
		if sess != nil && !sess.Status.Terminal() {
			if sess.Status == models.SessionDisconnected && !s.resumable(sess, test, now) {
				// Resume window elapsed with no override: close the session
				// with its frozen state, then fall through to a fresh attempt
				// if the ceiling allows one.
				if _, err := s.finalizeLocked(sess, test, models.EndReasonResumeExpired); err != nil {
					return nil, err
				}
			} else {
				return s.resumeLocked(sess, test, now)
			}
		}
	}

	used, err := s.store.AttemptsUsed(testID, studentID)
	if err != nil {
		return nil, err
	}
	extra, err := s.store.ExtraAttempts(testID, studentID)
	if err != nil {
		return nil, err
	}
	if used >= test.Policy.MaxAttempts+extra {
		return nil, ErrAttemptLimitExceeded
	}

	sess := &models.TestSession{
		ID:            uuid.New(),
		TestID:        testID,
		StudentID:     studentID,
		AttemptNumber: used + 1,
		Status:        models.SessionStarted,
		TimeRemaining: test.DurationMinutes * 60,
		LastSeenAt:    now,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, err
	}

	s.logger.Printf("session %s started: test=%d student=%d attempt=%d", sess.ID, testID, studentID, sess.AttemptNumber)

	return &StartResult{
		Session:       sess,
		QuestionOrder: questionOrder(test, sess.ID),
		TimeWarningAt: test.Policy.TimeWarningMinutes * 60,
	}, nil
}

// resumable applies the resume policy. An explicit faculty grant is
// authoritative regardless of how much time has elapsed.
func (s *SessionService) resumable(sess *models.TestSession, test *models.Test, now time.Time) bool {
	if sess.CanResume {
		return true
	}
	if !test.Policy.AllowResume || sess.SessionTerminatedAt == nil {
		return false
	}
	window := time.Duration(test.Policy.ResumeTimeLimitMinutes) * time.Minute
	return now.Sub(*sess.SessionTerminatedAt) <= window
}

// resumeLocked re-enters an existing session, restoring persisted answers and
// the question cursor. A disconnected session's timer was frozen at
// disconnect and continues from that value; a still-open session just elapses
// normally.
func (s *SessionService) resumeLocked(sess *models.TestSession, test *models.Test, now time.Time) (*StartResult, error) {
	if sess.Status != models.SessionDisconnected {
		sess.TimeRemaining = remainingAfter(sess.TimeRemaining, sess.LastSeenAt, now)
	}
	if sess.TimeRemaining == 0 {
		if _, err := s.finalizeLocked(sess, test, models.EndReasonTimeout); err != nil {
			return nil, err
		}
		return nil, ErrSessionFinished
	}

	sess.Status = models.SessionInProgress
	sess.LastSeenAt = now
	sess.SessionTerminatedAt = nil
	if err := s.store.SaveSession(sess); err != nil {
		return nil, err
	}

	answers, err := s.store.AnswersBySession(sess.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Printf("session %s resumed: student=%d cursor=%d remaining=%ds",
		sess.ID, sess.StudentID, sess.LastQuestionAttempted, sess.TimeRemaining)

	return &StartResult{
		Session:       sess,
		Answers:       answers,
		Resumed:       true,
		QuestionOrder: questionOrder(test, sess.ID),
		TimeWarningAt: test.Policy.TimeWarningMinutes * 60,
	}, nil
}

// Heartbeat advances the authoritative clock while the client is visible.
// When the countdown hits zero the session is auto-submitted in place.
func (s *SessionService) Heartbeat(id uuid.UUID) (int, error) {
	unlock := s.lock(id.String())
	defer unlock()

	sess, err := s.store.SessionByID(id)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return 0, ErrSessionFinished
	}
	if sess.Status == models.SessionDisconnected {
		return 0, ErrSessionDisconnected
	}

	now := s.now()
	sess.TimeRemaining = remainingAfter(sess.TimeRemaining, sess.LastSeenAt, now)
	sess.LastSeenAt = now
	if sess.Status == models.SessionStarted {
		sess.Status = models.SessionInProgress
	}

	if sess.TimeRemaining == 0 {
		test, err := s.store.TestByID(sess.TestID)
		if err != nil {
			return 0, err
		}
		if _, err := s.finalizeLocked(sess, test, models.EndReasonTimeout); err != nil {
			return 0, err
		}
		return 0, nil
	}

	return sess.TimeRemaining, s.store.SaveSession(sess)
}

// UpsertAnswer records the latest answer for a question (last-write-wins) and
// moves the question cursor. It is accepted while the session is started,
// in-progress or disconnected -- the disconnect race may flush one final
// answer -- but never after submit.
func (s *SessionService) UpsertAnswer(id uuid.UUID, questionNumber int, selectedKey string, timeSpent, clientRemaining int) (*AnswerAck, error) {
	unlock := s.lock(id.String())
	defer unlock()

	sess, err := s.store.SessionByID(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionFinished
	}

	test, err := s.store.TestByID(sess.TestID)
	if err != nil {
		return nil, err
	}
	if test == nil {
		return nil, ErrTestNotFound
	}

	var question *models.TestQuestion
	for i := range test.Questions {
		if test.Questions[i].Number == questionNumber {
			question = &test.Questions[i]
			break
		}
	}
	if question == nil {
		return nil, ErrUnknownQuestion
	}

	now := s.now()
	if sess.Status != models.SessionDisconnected {
		sess.TimeRemaining = remainingAfter(sess.TimeRemaining, sess.LastSeenAt, now)
		sess.LastSeenAt = now
	}
	sess.TimeRemaining = reconcileRemaining(sess.TimeRemaining, clientRemaining)

	ans := &models.SessionAnswer{
		SessionID:      sess.ID,
		QuestionNumber: questionNumber,
		SelectedKey:    selectedKey,
		TimeSpent:      timeSpent,
		Section:        question.Section,
	}
	if err := s.store.UpsertAnswer(ans); err != nil {
		return nil, err
	}

	sess.LastQuestionAttempted = questionNumber
	if sess.Status == models.SessionStarted {
		sess.Status = models.SessionInProgress
	}

	if sess.TimeRemaining == 0 && sess.Status != models.SessionDisconnected {
		if _, err := s.finalizeLocked(sess, test, models.EndReasonTimeout); err != nil {
			return nil, err
		}
		return &AnswerAck{TimeRemaining: 0, LastQuestionAttempted: questionNumber}, nil
	}

	if err := s.store.SaveSession(sess); err != nil {
		return nil, err
	}
	return &AnswerAck{TimeRemaining: sess.TimeRemaining, LastQuestionAttempted: questionNumber}, nil
}

// RecordDisconnect freezes a session when the client vanishes before an
// explicit submit. It never scores; the reaper or a resume decides what
// happens next. Calling it on an already-terminal session is a no-op.
func (s *SessionService) RecordDisconnect(id uuid.UUID) error {
	unlock := s.lock(id.String())
	defer unlock()

	sess, err := s.store.SessionByID(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.Status.Terminal() || sess.Status == models.SessionDisconnected {
		return nil
	}

	now := s.now()
	sess.TimeRemaining = remainingAfter(sess.TimeRemaining, sess.LastSeenAt, now)
	sess.LastSeenAt = now
	sess.Status = models.SessionDisconnected
	terminated := now
	sess.SessionTerminatedAt = &terminated

	s.logger.Printf("session %s disconnected: student=%d remaining=%ds", sess.ID, sess.StudentID, sess.TimeRemaining)

	return s.store.SaveSession(sess)
}

// RecordIntegrityEvents appends proctoring signals reported mid-session.
// Signals never block the student; at worst the session is flagged for
// faculty review. Terminal sessions accept no further events.
func (s *SessionService) RecordIntegrityEvents(id uuid.UUID, events []models.IntegrityEvent) error {
	unlock := s.lock(id.String())
	defer unlock()

	sess, err := s.store.SessionByID(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return ErrSessionFinished
	}

	test, err := s.store.TestByID(sess.TestID)
	if err != nil {
		return err
	}
	if test == nil {
		return ErrTestNotFound
	}

	if err := appendWarnings(sess, events, s.now(), test.Policy.ProctoringEnabled); err != nil {
		return err
	}
	return s.store.SaveSession(sess)
}

// GrantResume is the faculty escape hatch: the session may re-enter even
// outside the default resume window.
func (s *SessionService) GrantResume(id uuid.UUID, facultyID uint) error {
	unlock := s.lock(id.String())
	defer unlock()

	sess, err := s.store.SessionByID(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return ErrSessionFinished
	}

	sess.CanResume = true
	s.logger.Printf("session %s resume granted by faculty %d", sess.ID, facultyID)
	return s.store.SaveSession(sess)
}

// GrantRetake raises the student's attempt ceiling for the test by exactly
// one. It requires at least one prior attempt.
func (s *SessionService) GrantRetake(testID, studentID, facultyID uint) error {
	unlock := s.lock(startKey(testID, studentID))
	defer unlock()

	used, err := s.store.AttemptsUsed(testID, studentID)
	if err != nil {
		return err
	}
	if used == 0 {
		return ErrNoPriorAttempt
	}

	if err := s.store.AddExtraAttempt(testID, studentID, facultyID); err != nil {
		return err
	}
	s.logger.Printf("retake granted: test=%d student=%d by faculty %d", testID, studentID, facultyID)
	return nil
}

// Submit performs the terminal transition and grades the session. A repeated
// or racing submit is not an error: whoever loses the lock race observes the
// terminal state and gets the already-persisted result back.
func (s *SessionService) Submit(id uuid.UUID, events []models.IntegrityEvent) (*models.TestResult, error) {
	unlock := s.lock(id.String())
	defer unlock()

	sess, err := s.store.SessionByID(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return s.existingResult(id)
	}

	test, err := s.store.TestByID(sess.TestID)
	if err != nil {
		return nil, err
	}
	if test == nil {
		return nil, ErrTestNotFound
	}

	now := s.now()
	if sess.Status != models.SessionDisconnected {
		sess.TimeRemaining = remainingAfter(sess.TimeRemaining, sess.LastSeenAt, now)
		sess.LastSeenAt = now
	}

	if err := appendWarnings(sess, events, now, test.Policy.ProctoringEnabled); err != nil {
		return nil, err
	}

	reason := models.EndReasonSubmit
	for _, ev := range events {
		if ev.Kind == models.IntegrityForcedExit {
			reason = models.EndReasonForcedExit
			break
		}
	}

	return s.finalizeLocked(sess, test, reason)
}

// AutoSubmit is the server-driven submit: timer expiry or an expired resume
// window. Safe to call while a manual submit races; the loser is a no-op.
func (s *SessionService) AutoSubmit(id uuid.UUID, reason string) (*models.TestResult, error) {
	unlock := s.lock(id.String())
	defer unlock()

	sess, err := s.store.SessionByID(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return s.existingResult(id)
	}

	test, err := s.store.TestByID(sess.TestID)
	if err != nil {
		return nil, err
	}
	if test == nil {
		return nil, ErrTestNotFound
	}

	now := s.now()
	if sess.Status != models.SessionDisconnected {
		sess.TimeRemaining = remainingAfter(sess.TimeRemaining, sess.LastSeenAt, now)
		sess.LastSeenAt = now
	}

	return s.finalizeLocked(sess, test, reason)
}

func (s *SessionService) existingResult(id uuid.UUID) (*models.TestResult, error) {
	res, err := s.store.ResultBySession(id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrResultNotReady
	}
	return res, nil
}

// finalizeLocked is the single terminal transition. The caller must hold the
// session lock. The session is marked submitted before scoring so a scoring
// failure (a definition misconfiguration) cannot be retried into a second
// grade; the result row is written exactly once.
func (s *SessionService) finalizeLocked(sess *models.TestSession, test *models.Test, reason string) (*models.TestResult, error) {
	sess.Status = models.SessionSubmitted
	sess.EndReason = reason
	if sess.SessionTerminatedAt == nil {
		terminated := s.now()
		sess.SessionTerminatedAt = &terminated
	}
	if err := s.store.SaveSession(sess); err != nil {
		return nil, err
	}

	answers, err := s.store.AnswersBySession(sess.ID)
	if err != nil {
		return nil, err
	}

	card, err := ScoreSession(test, answers)
	if err != nil {
		s.logger.Printf("session %s: scoring failed on test %d: %v", sess.ID, test.ID, err)
		return nil, err
	}

	result := &models.TestResult{
		SessionID:     sess.ID,
		TestID:        sess.TestID,
		StudentID:     sess.StudentID,
		AttemptNumber: sess.AttemptNumber,
		TotalScore:    card.TotalScore,
		MaxScore:      card.MaxScore,
		Percentage:    card.Percentage,
		Passed:        card.Passed,
		Grade:         card.Grade,
	}
	if test.SectionBased {
		raw, err := json.Marshal(card.Sections)
		if err != nil {
			return nil, err
		}
		result.SectionScores = raw
	}
	if err := s.store.CreateResult(result); err != nil {
		return nil, err
	}

	sess.Status = models.SessionGraded
	if err := s.store.SaveSession(sess); err != nil {
		return nil, err
	}

	s.recordAnalytics(test, sess, answers, card)

	s.logger.Printf("session %s graded: reason=%s score=%.2f/%.2f passed=%t",
		sess.ID, reason, card.TotalScore, card.MaxScore, card.Passed)

	return result, nil
}

// recordAnalytics appends the per-attempt analytics row. Best-effort: a
// failure here must not fail the submit.
func (s *SessionService) recordAnalytics(test *models.Test, sess *models.TestSession, answers []models.SessionAnswer, card *ScoreCard) {
	userName := ""
	if user, err := s.store.UserByID(sess.StudentID); err == nil && user != nil {
		userName = user.Username
	}

	timeSpent := 0
	for _, ans := range answers {
		timeSpent += ans.TimeSpent
	}

	row := &models.TestAnalytics{
		TestID:            test.ID,
		UserID:            sess.StudentID,
		UserName:          userName,
		AttemptNumber:     sess.AttemptNumber,
		QuestionsAnswered: card.AnsweredCount,
		CorrectAnswers:    card.CorrectCount,
		WrongAnswers:      card.WrongCount,
		Score:             card.TotalScore,
		Percentage:        card.Percentage,
		Passed:            card.Passed,
		TimeSpent:         float64(timeSpent) / 60,
		TabSwitches:       sess.TabSwitchCount,
		Flagged:           sess.FlaggedForReview,
	}
	if err := s.store.CreateAnalytics(row); err != nil {
		s.logger.Printf("session %s: analytics write failed: %v", sess.ID, err)
	}
}

// Result is the student/faculty read path for a graded session. Students see
// only their own sessions, and only when the test's policy shows results.
func (s *SessionService) Result(id uuid.UUID, requesterID uint, faculty bool) (*models.TestResult, error) {
	sess, err := s.store.SessionByID(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if !faculty && sess.StudentID != requesterID {
		return nil, ErrSessionNotFound
	}

	res, err := s.store.ResultBySession(id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrResultNotReady
	}

	if !faculty {
		test, err := s.store.TestByID(sess.TestID)
		if err != nil {
			return nil, err
		}
		if test != nil && !test.Policy.ShowResults {
			return nil, ErrResultWithheld
		}
	}

	return res, nil
}

// questionOrder returns the presentation order of question numbers. Shuffles
// are seeded from the session id so a resumed client sees the same order it
// started with.
func questionOrder(test *models.Test, sessionID uuid.UUID) []int {
	order := make([]int, len(test.Questions))
	for i, q := range test.Questions {
		order[i] = q.Number
	}
	if !test.Policy.ShuffleQuestions {
		return order
	}
	seed := int64(binary.BigEndian.Uint64(sessionID[:8]))
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}
