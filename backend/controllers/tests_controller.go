package controllers

import (
	"encoding/json"
	"time"

	"academix_backend/backend/config"
	"academix_backend/backend/middleware"
	"academix_backend/backend/models"
	"academix_backend/backend/services"
	"academix_backend/backend/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type TestsController struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Validate *validator.Validate
}

func NewTestsController(db *gorm.DB, cfg *config.Config, validate *validator.Validate) *TestsController {
	return &TestsController{DB: db, Cfg: cfg, Validate: validate}
}

type QuestionInput struct {
	Number          int                     `json:"number" validate:"required,min=1"`
	Section         string                  `json:"section"`
	Question        string                  `json:"question" validate:"required"`
	Options         []models.QuestionOption `json:"options"`
	CorrectAnswer   string                  `json:"correct_answer"`
	Points          float64                 `json:"points" validate:"min=0"`
	FreeText        bool                    `json:"free_text"`
	NegativeMarking *bool                   `json:"negative_marking"`
	NegativeMarks   *float64                `json:"negative_marks"`
}

type TestInput struct {
	CourseID        uint              `json:"course_id"`
	Title           string            `json:"title" validate:"required,min=3,max=255"`
	Description     string            `json:"description"`
	DurationMinutes int               `json:"duration_minutes" validate:"required,min=1"`
	PassingScore    float64           `json:"passing_score" validate:"min=0,max=100"`
	SectionBased    bool              `json:"section_based"`
	StartTime       *time.Time        `json:"start_time"`
	EndTime         *time.Time        `json:"end_time"`
	Policy          models.TestPolicy `json:"policy"`
	Questions       []QuestionInput   `json:"questions" validate:"dive"`
	Sections        []string          `json:"sections"`
}

// CreateTest builds a test with its questions and sections in one call.
func (tc *TestsController) CreateTest(c *fiber.Ctx) error {
	var input TestInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := tc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	test := models.Test{
		CourseID:        input.CourseID,
		Title:           input.Title,
		Description:     input.Description,
		DurationMinutes: input.DurationMinutes,
		PassingScore:    input.PassingScore,
		SectionBased:    input.SectionBased,
		StartTime:       input.StartTime,
		EndTime:         input.EndTime,
		Policy:          input.Policy,
		AuthorID:        middleware.CallerID(c),
	}
	if test.PassingScore == 0 {
		test.PassingScore = 50
	}

	for _, q := range input.Questions {
		question, err := questionFromInput(test.Policy, q)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, err)
		}
		test.Questions = append(test.Questions, question)
	}
	for i, name := range input.Sections {
		test.Sections = append(test.Sections, models.TestSection{Name: name, Position: i + 1})
	}

	if err := tc.DB.Create(&test).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"id": test.ID})
}

// UpdateTest replaces test metadata and questions. Edits are locked once any
// student session exists, so in-flight attempts always grade against the
// definition they started with.
func (tc *TestsController) UpdateTest(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var test models.Test
	if err := tc.DB.First(&test, testID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, services.ErrTestNotFound)
	}

	var sessionCount int64
	tc.DB.Model(&models.TestSession{}).Where("test_id = ?", testID).Count(&sessionCount)
	if sessionCount > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Test has existing sessions and can no longer be edited",
		})
	}

	var input TestInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := tc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	test.CourseID = input.CourseID
	test.Title = input.Title
	test.Description = input.Description
	test.DurationMinutes = input.DurationMinutes
	test.PassingScore = input.PassingScore
	test.SectionBased = input.SectionBased
	test.StartTime = input.StartTime
	test.EndTime = input.EndTime
	test.Policy = input.Policy

	err = tc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("test_id = ?", test.ID).Delete(&models.TestQuestion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("test_id = ?", test.ID).Delete(&models.TestSection{}).Error; err != nil {
			return err
		}
		for _, q := range input.Questions {
			question, qErr := questionFromInput(test.Policy, q)
			if qErr != nil {
				return qErr
			}
			question.TestID = test.ID
			if err := tx.Create(&question).Error; err != nil {
				return err
			}
		}
		for i, name := range input.Sections {
			section := models.TestSection{TestID: test.ID, Name: name, Position: i + 1}
			if err := tx.Create(&section).Error; err != nil {
				return err
			}
		}
		return tx.Save(&test).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": test.ID})
}

type PublishInput struct {
	Published bool `json:"published"`
}

// SetPublished toggles student visibility of a test.
func (tc *TestsController) SetPublished(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var input PublishInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	res := tc.DB.Model(&models.Test{}).Where("id = ?", testID).Update("published", input.Published)
	if res.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, services.ErrTestNotFound)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"published": input.Published})
}

// GetAvailableTests lists published tests a student may attempt.
func (tc *TestsController) GetAvailableTests(c *fiber.Ctx) error {
	studentID := middleware.CallerID(c)

	var tests []models.Test
	tc.DB.Preload("Questions").Where("published = ?", true).Find(&tests)

	result := make([]fiber.Map, 0, len(tests))
	for _, test := range tests {
		var usedAttempts int64
		tc.DB.Model(&models.TestSession{}).
			Where("test_id = ? AND student_id = ?", test.ID, studentID).
			Count(&usedAttempts)

		result = append(result, fiber.Map{
			"id":               test.ID,
			"title":            test.Title,
			"description":      test.Description,
			"duration_minutes": test.DurationMinutes,
			"questions":        len(test.Questions),
			"section_based":    test.SectionBased,
			"start_time":       test.StartTime,
			"end_time":         test.EndTime,
			"max_attempts":     test.Policy.MaxAttempts,
			"attempts_used":    usedAttempts,
		})
	}

	return c.JSON(result)
}

// GetTestDetails returns one test. Students never receive answer keys;
// faculty get the full definition.
func (tc *TestsController) GetTestDetails(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var test models.Test
	if err := tc.DB.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("number ASC")
	}).Preload("Sections", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&test, testID).Error; err != nil {
		return utils.Error(c, fiber.StatusNotFound, services.ErrTestNotFound)
	}

	faculty := middleware.CallerRole(c) == models.RoleFaculty
	if !test.Published && !faculty {
		return utils.Error(c, fiber.StatusForbidden, services.ErrTestNotPublished)
	}

	questions := make([]fiber.Map, 0, len(test.Questions))
	for _, q := range test.Questions {
		var options []models.QuestionOption
		if len(q.Options) > 0 {
			json.Unmarshal(q.Options, &options)
		}
		entry := fiber.Map{
			"number":    q.Number,
			"section":   q.Section,
			"question":  q.Question,
			"options":   options,
			"points":    q.Points,
			"free_text": q.FreeText,
		}
		if faculty {
			entry["correct_answer"] = q.CorrectAnswer
			entry["negative_marking"] = q.NegativeMarking
			entry["negative_marks"] = q.NegativeMarks
		}
		questions = append(questions, entry)
	}

	sections := make([]fiber.Map, 0, len(test.Sections))
	for _, s := range test.Sections {
		sections = append(sections, fiber.Map{"name": s.Name, "position": s.Position})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"id":               test.ID,
		"title":            test.Title,
		"description":      test.Description,
		"duration_minutes": test.DurationMinutes,
		"passing_score":    test.PassingScore,
		"section_based":    test.SectionBased,
		"published":        test.Published,
		"start_time":       test.StartTime,
		"end_time":         test.EndTime,
		"policy":           test.Policy,
		"questions":        questions,
		"sections":         sections,
	})
}

// GetTestSessions is the faculty review view: every attempt with its
// integrity trail.
func (tc *TestsController) GetTestSessions(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var sessions []models.TestSession
	tc.DB.Where("test_id = ?", testID).Order("created_at DESC").Find(&sessions)

	result := make([]fiber.Map, 0, len(sessions))
	for _, sess := range sessions {
		warnings, _ := services.SessionWarnings(&sess)
		entry := fiber.Map{
			"session_id":         sess.ID,
			"student_id":         sess.StudentID,
			"attempt_number":     sess.AttemptNumber,
			"status":             sess.Status,
			"time_remaining":     sess.TimeRemaining,
			"end_reason":         sess.EndReason,
			"tab_switches":       sess.TabSwitchCount,
			"flagged_for_review": sess.FlaggedForReview,
			"warnings":           warnings,
			"started_at":         sess.CreatedAt,
			"terminated_at":      sess.SessionTerminatedAt,
		}

		var res models.TestResult
		if err := tc.DB.Where("session_id = ?", sess.ID).First(&res).Error; err == nil {
			entry["percentage"] = res.Percentage
			entry["grade"] = res.Grade
			entry["passed"] = res.Passed
		}
		result = append(result, entry)
	}

	return c.JSON(result)
}

// GetTestAnalytics aggregates graded attempts for a test.
func (tc *TestsController) GetTestAnalytics(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var rows []models.TestAnalytics
	tc.DB.Where("test_id = ?", testID).Find(&rows)

	var sumPct float64
	var passed, flagged int
	for _, row := range rows {
		sumPct += row.Percentage
		if row.Passed {
			passed++
		}
		if row.Flagged {
			flagged++
		}
	}

	avg := 0.0
	if len(rows) > 0 {
		avg = sumPct / float64(len(rows))
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"attempts":           len(rows),
		"passed":             passed,
		"average_percentage": avg,
		"flagged_attempts":   flagged,
	})
}

func questionFromInput(policy models.TestPolicy, q QuestionInput) (models.TestQuestion, error) {
	optionsJSON, err := json.Marshal(q.Options)
	if err != nil {
		return models.TestQuestion{}, err
	}

	question := models.TestQuestion{
		Number:        q.Number,
		Section:       q.Section,
		Question:      q.Question,
		Options:       optionsJSON,
		CorrectAnswer: q.CorrectAnswer,
		Points:        q.Points,
		FreeText:      q.FreeText,
	}
	if question.Points == 0 {
		question.Points = 1
	}
	question.NegativeMarking = policy.NegativeMarking
	question.NegativeMarks = policy.NegativeMarks
	if q.NegativeMarking != nil {
		question.NegativeMarking = *q.NegativeMarking
	}
	if q.NegativeMarks != nil {
		question.NegativeMarks = *q.NegativeMarks
	}
	return question, nil
}
