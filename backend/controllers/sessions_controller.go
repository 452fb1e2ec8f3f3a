package controllers

import (
	"encoding/json"
	"errors"
	"time"

	"academix_backend/backend/config"
	"academix_backend/backend/middleware"
	"academix_backend/backend/models"
	"academix_backend/backend/services"
	"academix_backend/backend/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionsController is the HTTP surface of the session engine. It stays
// thin: parse, authorize, delegate to the service, map errors.
type SessionsController struct {
	Svc      *services.SessionService
	Store    services.SessionStore
	DB       *gorm.DB // activity trail only; nil when backed by the in-memory store
	Cfg      *config.Config
	Validate *validator.Validate
}

func NewSessionsController(svc *services.SessionService, store services.SessionStore, db *gorm.DB, cfg *config.Config, validate *validator.Validate) *SessionsController {
	return &SessionsController{Svc: svc, Store: store, DB: db, Cfg: cfg, Validate: validate}
}

// recordActivity appends to the user activity trail. Best-effort, never
// blocks the session flow.
func (sc *SessionsController) recordActivity(userID uint, action string, testID uint) {
	if sc.DB == nil {
		return
	}
	var test models.Test
	sc.DB.Select("id", "title").First(&test, testID)
	sc.DB.Create(&models.UserActivity{
		UserID:      userID,
		ActionType:  action,
		TargetID:    testID,
		TargetTitle: test.Title,
	})
}

// StartSession creates or resumes the caller's session for a test.
func (sc *SessionsController) StartSession(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	studentID := middleware.CallerID(c)
	res, err := sc.Svc.Start(uint(testID), studentID)
	if err != nil {
		return sessionError(c, err)
	}

	if res.Resumed {
		sc.recordActivity(studentID, "test_resume", uint(testID))
	} else {
		sc.recordActivity(studentID, "test_start", uint(testID))
	}

	answers := make([]fiber.Map, 0, len(res.Answers))
	for _, ans := range res.Answers {
		answers = append(answers, fiber.Map{
			"question_number": ans.QuestionNumber,
			"selected_key":    ans.SelectedKey,
			"time_spent":      ans.TimeSpent,
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"session_id":              res.Session.ID,
		"status":                  res.Session.Status,
		"attempt_number":          res.Session.AttemptNumber,
		"time_remaining":          res.Session.TimeRemaining,
		"last_question_attempted": res.Session.LastQuestionAttempted,
		"resumed":                 res.Resumed,
		"question_order":          res.QuestionOrder,
		"time_warning_at":         res.TimeWarningAt,
		"answers":                 answers,
	})
}

type AnswerInput struct {
	QuestionNumber int    `json:"question_number" validate:"required,min=1"`
	SelectedKey    string `json:"selected_key"`
	TimeSpent      int    `json:"time_spent" validate:"min=0"`
	TimeRemaining  *int   `json:"time_remaining"`
}

// SubmitAnswer upserts one answer and returns the authoritative remaining
// time for the client to re-sync its display.
func (sc *SessionsController) SubmitAnswer(c *fiber.Ctx) error {
	sess, err := sc.ownedSession(c)
	if err != nil {
		return sessionError(c, err)
	}

	var input AnswerInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := sc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	clientRemaining := -1
	if input.TimeRemaining != nil {
		clientRemaining = *input.TimeRemaining
	}

	ack, err := sc.Svc.UpsertAnswer(sess.ID, input.QuestionNumber, input.SelectedKey, input.TimeSpent, clientRemaining)
	if err != nil {
		return sessionError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"time_remaining":          ack.TimeRemaining,
		"last_question_attempted": ack.LastQuestionAttempted,
	})
}

// Heartbeat keeps the session alive and reports the server countdown.
func (sc *SessionsController) Heartbeat(c *fiber.Ctx) error {
	sess, err := sc.ownedSession(c)
	if err != nil {
		return sessionError(c, err)
	}

	remaining, err := sc.Svc.Heartbeat(sess.ID)
	if err != nil {
		return sessionError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"time_remaining": remaining,
		"finished":       remaining == 0,
	})
}

// ReportDisconnect is the page-unload beacon. Missing heartbeats trigger the
// same transition server-side, so this is best-effort.
func (sc *SessionsController) ReportDisconnect(c *fiber.Ctx) error {
	sess, err := sc.ownedSession(c)
	if err != nil {
		return sessionError(c, err)
	}

	if err := sc.Svc.RecordDisconnect(sess.ID); err != nil {
		return sessionError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"status": models.SessionDisconnected})
}

type EventsInput struct {
	Events []IntegrityEventInput `json:"events" validate:"required,min=1"`
}

// ReportEvents receives mid-session proctoring signals.
func (sc *SessionsController) ReportEvents(c *fiber.Ctx) error {
	sess, err := sc.ownedSession(c)
	if err != nil {
		return sessionError(c, err)
	}

	var input EventsInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := sc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	events := make([]models.IntegrityEvent, 0, len(input.Events))
	for _, ev := range input.Events {
		events = append(events, models.IntegrityEvent{Kind: ev.Kind, At: ev.At, Detail: ev.Detail})
	}

	if err := sc.Svc.RecordIntegrityEvents(sess.ID, events); err != nil {
		return sessionError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"recorded": len(events)})
}

type SubmitInput struct {
	Events []IntegrityEventInput `json:"events"`
}

type IntegrityEventInput struct {
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail"`
}

// SubmitSession performs the terminal transition, flushing any trailing
// integrity events. Duplicate submits return the already-computed result.
func (sc *SessionsController) SubmitSession(c *fiber.Ctx) error {
	sess, err := sc.ownedSession(c)
	if err != nil {
		return sessionError(c, err)
	}

	var input SubmitInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Cannot parse JSON",
			})
		}
	}

	events := make([]models.IntegrityEvent, 0, len(input.Events))
	for _, ev := range input.Events {
		events = append(events, models.IntegrityEvent{Kind: ev.Kind, At: ev.At, Detail: ev.Detail})
	}

	result, err := sc.Svc.Submit(sess.ID, events)
	if err != nil {
		return sessionError(c, err)
	}

	sc.recordActivity(sess.StudentID, "test_submit", sess.TestID)

	// Respect the test policy on the student-facing submit response as well.
	if middleware.CallerRole(c) != models.RoleFaculty {
		test, err := sc.Store.TestByID(sess.TestID)
		if err == nil && test != nil && !test.Policy.ShowResults {
			return utils.Success(c, fiber.StatusOK, fiber.Map{
				"status": models.SessionGraded,
			})
		}
	}

	return utils.Success(c, fiber.StatusOK, resultPayload(result))
}

// GetResult returns the graded outcome, subject to the show-results policy.
func (sc *SessionsController) GetResult(c *fiber.Ctx) error {
	sessionID, err := uuid.Parse(c.Params("sid"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid session ID",
		})
	}

	faculty := middleware.CallerRole(c) == models.RoleFaculty
	result, err := sc.Svc.Result(sessionID, middleware.CallerID(c), faculty)
	if err != nil {
		return sessionError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, resultPayload(result))
}

// GrantResume is the faculty override that reopens a disconnected session
// regardless of the resume window.
func (sc *SessionsController) GrantResume(c *fiber.Ctx) error {
	sessionID, err := uuid.Parse(c.Params("sid"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid session ID",
		})
	}

	if err := sc.Svc.GrantResume(sessionID, middleware.CallerID(c)); err != nil {
		return sessionError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"can_resume": true})
}

type RetakeInput struct {
	StudentID uint `json:"student_id" validate:"required"`
}

// GrantRetake raises a student's attempt ceiling for a test by one.
func (sc *SessionsController) GrantRetake(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var input RetakeInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := sc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	if err := sc.Svc.GrantRetake(uint(testID), input.StudentID, middleware.CallerID(c)); err != nil {
		return sessionError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"granted": true})
}

// ownedSession loads the session from the path and checks the caller owns it.
// Faculty may act on any session.
func (sc *SessionsController) ownedSession(c *fiber.Ctx) (*models.TestSession, error) {
	sessionID, err := uuid.Parse(c.Params("sid"))
	if err != nil {
		return nil, services.ErrSessionNotFound
	}

	sess, err := sc.Store.SessionByID(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, services.ErrSessionNotFound
	}
	if middleware.CallerRole(c) != models.RoleFaculty && sess.StudentID != middleware.CallerID(c) {
		return nil, services.ErrSessionNotFound
	}
	return sess, nil
}

func resultPayload(result *models.TestResult) fiber.Map {
	payload := fiber.Map{
		"session_id":     result.SessionID,
		"test_id":        result.TestID,
		"attempt_number": result.AttemptNumber,
		"total_score":    result.TotalScore,
		"max_score":      result.MaxScore,
		"percentage":     result.Percentage,
		"passed":         result.Passed,
		"grade":          result.Grade,
	}
	if len(result.SectionScores) > 0 {
		var sections []models.SectionScore
		if err := json.Unmarshal(result.SectionScores, &sections); err == nil {
			payload["sections"] = sections
		}
	}
	return payload
}

// sessionError maps engine sentinels onto HTTP statuses.
func sessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrTestNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrResultNotReady):
		return utils.Error(c, fiber.StatusNotFound, err)
	case errors.Is(err, services.ErrNotEligible),
		errors.Is(err, services.ErrTestNotPublished),
		errors.Is(err, services.ErrTestClosed),
		errors.Is(err, services.ErrAttemptLimitExceeded),
		errors.Is(err, services.ErrResultWithheld):
		return utils.Error(c, fiber.StatusForbidden, err)
	case errors.Is(err, services.ErrSessionFinished),
		errors.Is(err, services.ErrSessionDisconnected):
		return utils.Error(c, fiber.StatusConflict, err)
	case errors.Is(err, services.ErrUnknownQuestion),
		errors.Is(err, services.ErrNoPriorAttempt):
		return utils.Error(c, fiber.StatusBadRequest, err)
	default:
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
}
