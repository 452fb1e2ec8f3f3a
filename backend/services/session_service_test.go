package services

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"academix_backend/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGate struct{ eligible bool }

func (g stubGate) IsEligible(testID, studentID uint) (bool, error) { return g.eligible, nil }

// testClock lets the suite move time forward deterministically.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEngine(eligible bool) (*SessionService, *MemoryStore, *testClock) {
	store := NewMemoryStore()
	clock := newTestClock()
	svc := NewSessionService(store, stubGate{eligible: eligible}, log.New(io.Discard, "", 0))
	svc.now = clock.Now
	return svc, store, clock
}

func fixtureTest(policy models.TestPolicy) *models.Test {
	test := &models.Test{
		Title:           "Midterm",
		DurationMinutes: 30,
		PassingScore:    50,
		Published:       true,
		Policy:          policy,
		Questions: []models.TestQuestion{
			choiceQuestion(1, "", "a", 1),
			choiceQuestion(2, "", "b", 1),
		},
	}
	return test
}

func TestStartCreatesSession(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1, TimeWarningMinutes: 5})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, models.SessionStarted, res.Session.Status)
	assert.Equal(t, 1, res.Session.AttemptNumber)
	assert.Equal(t, 1800, res.Session.TimeRemaining)
	assert.Equal(t, []int{1, 2}, res.QuestionOrder)
	assert.Equal(t, 300, res.TimeWarningAt)
}

func TestStartRejectsUnpublishedAndClosedTests(t *testing.T) {
	svc, store, clock := newEngine(true)

	unpublished := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	unpublished.Published = false
	store.PutTest(unpublished)

	_, err := svc.Start(unpublished.ID, 7)
	assert.ErrorIs(t, err, ErrTestNotPublished)

	opensLater := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	opens := clock.Now().Add(time.Hour)
	opensLater.StartTime = &opens
	store.PutTest(opensLater)

	_, err = svc.Start(opensLater.ID, 7)
	assert.ErrorIs(t, err, ErrTestClosed)

	closed := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	ended := clock.Now().Add(-time.Hour)
	closed.EndTime = &ended
	store.PutTest(closed)

	_, err = svc.Start(closed.ID, 7)
	assert.ErrorIs(t, err, ErrTestClosed)
}

func TestStartRequiresEligibility(t *testing.T) {
	svc, store, _ := newEngine(false)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	_, err := svc.Start(test.ID, 7)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestAttemptCeilingAndRetakeGrant(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 2})
	store.PutTest(test)

	for attempt := 1; attempt <= 2; attempt++ {
		res, err := svc.Start(test.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, attempt, res.Session.AttemptNumber)
		_, err = svc.Submit(res.Session.ID, nil)
		require.NoError(t, err)
	}

	_, err := svc.Start(test.ID, 7)
	assert.ErrorIs(t, err, ErrAttemptLimitExceeded)

	require.NoError(t, svc.GrantRetake(test.ID, 7, 99))

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Session.AttemptNumber)
}

func TestRetakeRequiresPriorAttempt(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	err := svc.GrantRetake(test.ID, 7, 99)
	assert.ErrorIs(t, err, ErrNoPriorAttempt)
}

func TestStartReentersOpenSession(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	first, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(first.Session.ID, 1, "a", 20, -1)
	require.NoError(t, err)

	again, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	require.Len(t, again.Answers, 1)
	assert.Equal(t, "a", again.Answers[0].SelectedKey)
	assert.Equal(t, 1, again.Session.LastQuestionAttempted)
}

func TestUpsertAnswerLastWriteWins(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	id := res.Session.ID

	_, err = svc.UpsertAnswer(id, 1, "b", 10, -1)
	require.NoError(t, err)
	ack, err := svc.UpsertAnswer(id, 1, "a", 25, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, ack.LastQuestionAttempted)

	answers, err := store.AnswersBySession(id)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "a", answers[0].SelectedKey)
	assert.Equal(t, 25, answers[0].TimeSpent)
}

func TestUpsertAnswerUnknownQuestion(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)

	_, err = svc.UpsertAnswer(res.Session.ID, 42, "a", 5, -1)
	assert.ErrorIs(t, err, ErrUnknownQuestion)
}

func TestAnswerRejectedAfterSubmit(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.Submit(res.Session.ID, nil)
	require.NoError(t, err)

	_, err = svc.UpsertAnswer(res.Session.ID, 1, "a", 5, -1)
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestSubmitIsIdempotent(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(res.Session.ID, 1, "a", 5, -1)
	require.NoError(t, err)

	first, err := svc.Submit(res.Session.ID, nil)
	require.NoError(t, err)

	second, err := svc.Submit(res.Session.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.TotalScore, second.TotalScore)

	third, err := svc.AutoSubmit(res.Session.ID, models.EndReasonTimeout)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, third.SessionID)

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionGraded, sess.Status)
	assert.Equal(t, models.EndReasonSubmit, sess.EndReason)
}

func TestHeartbeatAdvancesAuthoritativeClock(t *testing.T) {
	svc, store, clock := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	remaining, err := svc.Heartbeat(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1680, remaining)

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, sess.Status)
}

func TestClientCannotExtendCountdown(t *testing.T) {
	svc, store, clock := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	ack, err := svc.UpsertAnswer(res.Session.ID, 1, "a", 10, 999999)
	require.NoError(t, err)
	assert.Equal(t, 1740, ack.TimeRemaining)

	// but a smaller client value clamps the countdown down
	ack, err = svc.UpsertAnswer(res.Session.ID, 2, "b", 10, 600)
	require.NoError(t, err)
	assert.Equal(t, 600, ack.TimeRemaining)
}

func TestHeartbeatTimeoutAutoSubmits(t *testing.T) {
	svc, store, clock := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(res.Session.ID, 1, "a", 5, -1)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	remaining, err := svc.Heartbeat(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionGraded, sess.Status)
	assert.Equal(t, models.EndReasonTimeout, sess.EndReason)

	result, err := store.ResultBySession(res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1.0, result.TotalScore)
}

func TestDisconnectFreezesAndResumeRestores(t *testing.T) {
	svc, store, clock := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1, AllowResume: true, ResumeTimeLimitMinutes: 10})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(res.Session.ID, 1, "a", 30, -1)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	require.NoError(t, svc.RecordDisconnect(res.Session.ID))

	frozen, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionDisconnected, frozen.Status)
	assert.Equal(t, 1500, frozen.TimeRemaining)

	// time passes while disconnected but the countdown does not
	clock.Advance(8 * time.Minute)
	resumed, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, res.Session.ID, resumed.Session.ID)
	assert.Equal(t, 1500, resumed.Session.TimeRemaining)
	assert.Equal(t, models.SessionInProgress, resumed.Session.Status)
	require.Len(t, resumed.Answers, 1)
	assert.Equal(t, 1, resumed.Session.LastQuestionAttempted)
}

func TestResumeWindowExpiryGradesFrozenState(t *testing.T) {
	svc, store, clock := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1, AllowResume: true, ResumeTimeLimitMinutes: 10})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(res.Session.ID, 1, "a", 30, -1)
	require.NoError(t, err)
	require.NoError(t, svc.RecordDisconnect(res.Session.ID))

	clock.Advance(11 * time.Minute)
	_, err = svc.Start(test.ID, 7)
	assert.ErrorIs(t, err, ErrAttemptLimitExceeded)

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionGraded, sess.Status)
	assert.Equal(t, models.EndReasonResumeExpired, sess.EndReason)

	result, err := store.ResultBySession(res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1.0, result.TotalScore)
}

func TestGrantResumeOverridesWindow(t *testing.T) {
	svc, store, clock := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1, AllowResume: true, ResumeTimeLimitMinutes: 10})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	require.NoError(t, svc.RecordDisconnect(res.Session.ID))

	clock.Advance(2 * time.Hour)
	require.NoError(t, svc.GrantResume(res.Session.ID, 99))

	resumed, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, res.Session.ID, resumed.Session.ID)
}

func TestGrantResumeRejectsFinishedSession(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.Submit(res.Session.ID, nil)
	require.NoError(t, err)

	err = svc.GrantResume(res.Session.ID, 99)
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestShuffleOrderStableAcrossResume(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := &models.Test{
		Title:           "Shuffled",
		DurationMinutes: 30,
		PassingScore:    50,
		Published:       true,
		Policy:          models.TestPolicy{MaxAttempts: 1, ShuffleQuestions: true, AllowResume: true, ResumeTimeLimitMinutes: 10},
	}
	for i := 1; i <= 10; i++ {
		test.Questions = append(test.Questions, choiceQuestion(i, "", "a", 1))
	}
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	require.Len(t, res.QuestionOrder, 10)

	require.NoError(t, svc.RecordDisconnect(res.Session.ID))
	resumed, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, res.QuestionOrder, resumed.QuestionOrder)
}

func TestConcurrentSubmitProducesOneResult(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(res.Session.ID, 1, "a", 5, -1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		auto := i%2 == 0
		go func() {
			defer wg.Done()
			if auto {
				_, err := svc.AutoSubmit(res.Session.ID, models.EndReasonTimeout)
				assert.NoError(t, err)
			} else {
				_, err := svc.Submit(res.Session.ID, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	result, err := store.ResultBySession(res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1.0, result.TotalScore)
	assert.Len(t, store.Analytics(), 1)
}

func TestSubmitRecordsForcedExit(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)

	_, err = svc.Submit(res.Session.ID, []models.IntegrityEvent{{Kind: models.IntegrityForcedExit}})
	require.NoError(t, err)

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EndReasonForcedExit, sess.EndReason)

	warnings, err := SessionWarnings(sess)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.IntegrityForcedExit, warnings[0].Kind)
}

func TestRecordIntegrityEventsMidSession(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1, ProctoringEnabled: true})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)

	events := []models.IntegrityEvent{
		{Kind: models.IntegrityTabSwitch},
		{Kind: models.IntegrityTabSwitch},
		{Kind: models.IntegrityTabSwitch},
	}
	require.NoError(t, svc.RecordIntegrityEvents(res.Session.ID, events))

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.TabSwitchCount)
	assert.True(t, sess.FlaggedForReview)
	assert.False(t, sess.Status.Terminal())
}

func TestResultVisibility(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1, ShowResults: false})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)
	_, err = svc.Submit(res.Session.ID, nil)
	require.NoError(t, err)

	_, err = svc.Result(res.Session.ID, 7, false)
	assert.ErrorIs(t, err, ErrResultWithheld)

	_, err = svc.Result(res.Session.ID, 8, false)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	result, err := svc.Result(res.Session.ID, 99, true)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, result.SessionID)
}

func TestScoringFailureLeavesSessionSubmitted(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	test.Questions[1].CorrectAnswer = ""
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)

	_, err = svc.Submit(res.Session.ID, nil)
	assert.ErrorIs(t, err, ErrMissingAnswerKey)

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSubmitted, sess.Status)
}

func TestAnalyticsRowRecorded(t *testing.T) {
	svc, store, _ := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)
	student := &models.User{Username: "ada"}
	store.PutUser(student)

	res, err := svc.Start(test.ID, student.ID)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(res.Session.ID, 1, "a", 40, -1)
	require.NoError(t, err)
	_, err = svc.UpsertAnswer(res.Session.ID, 2, "x", 20, -1)
	require.NoError(t, err)
	_, err = svc.Submit(res.Session.ID, nil)
	require.NoError(t, err)

	rows := store.Analytics()
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0].UserName)
	assert.Equal(t, 2, rows[0].QuestionsAnswered)
	assert.Equal(t, 1, rows[0].CorrectAnswers)
	assert.Equal(t, 1, rows[0].WrongAnswers)
	assert.InDelta(t, 1.0, rows[0].TimeSpent, 0.001)
}

func TestResumeOfExpiredOpenSessionGrades(t *testing.T) {
	svc, store, clock := newEngine(true)
	test := fixtureTest(models.TestPolicy{MaxAttempts: 1})
	store.PutTest(test)

	res, err := svc.Start(test.ID, 7)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	_, err = svc.Start(test.ID, 7)
	assert.ErrorIs(t, err, ErrSessionFinished)

	sess, err := store.SessionByID(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionGraded, sess.Status)
	assert.Equal(t, models.EndReasonTimeout, sess.EndReason)
}
