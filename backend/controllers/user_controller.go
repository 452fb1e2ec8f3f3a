package controllers

import (
	"academix_backend/backend/config"
	"academix_backend/backend/middleware"
	"academix_backend/backend/models"
	"academix_backend/backend/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type UserController struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Validate *validator.Validate
}

func NewUserController(db *gorm.DB, cfg *config.Config, validate *validator.Validate) *UserController {
	return &UserController{DB: db, Cfg: cfg, Validate: validate}
}

func (uc *UserController) GetProfile(c *fiber.Ctx) error {
	var user models.User
	if err := uc.DB.First(&user, middleware.CallerID(c)).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"role":       user.Role,
		"group":      user.Group,
		"university": user.University,
	})
}

type ProfileInput struct {
	Group      string `json:"group" validate:"max=64"`
	University string `json:"university" validate:"max=255"`
}

func (uc *UserController) UpdateProfile(c *fiber.Ctx) error {
	var input ProfileInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := uc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	err := uc.DB.Model(&models.User{}).
		Where("id = ?", middleware.CallerID(c)).
		Updates(map[string]interface{}{
			"group":      input.Group,
			"university": input.University,
		}).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"updated": true})
}

// GetMySessions lists the caller's attempts across all tests, newest first.
func (uc *UserController) GetMySessions(c *fiber.Ctx) error {
	var sessions []models.TestSession
	uc.DB.Where("student_id = ?", middleware.CallerID(c)).
		Order("created_at DESC").
		Find(&sessions)

	result := make([]fiber.Map, 0, len(sessions))
	for _, sess := range sessions {
		var test models.Test
		uc.DB.Select("id", "title").First(&test, sess.TestID)

		result = append(result, fiber.Map{
			"session_id":     sess.ID,
			"test_id":        sess.TestID,
			"test_title":     test.Title,
			"attempt_number": sess.AttemptNumber,
			"status":         sess.Status,
			"end_reason":     sess.EndReason,
			"started_at":     sess.CreatedAt,
		})
	}
	return c.JSON(result)
}

// GetMyResults lists the caller's graded outcomes, honouring each test's
// show-results policy.
func (uc *UserController) GetMyResults(c *fiber.Ctx) error {
	var results []models.TestResult
	uc.DB.Where("student_id = ?", middleware.CallerID(c)).
		Order("created_at DESC").
		Find(&results)

	payload := make([]fiber.Map, 0, len(results))
	for _, res := range results {
		var test models.Test
		if err := uc.DB.First(&test, res.TestID).Error; err != nil {
			continue
		}
		if !test.Policy.ShowResults {
			payload = append(payload, fiber.Map{
				"session_id": res.SessionID,
				"test_id":    res.TestID,
				"test_title": test.Title,
				"withheld":   true,
			})
			continue
		}
		payload = append(payload, fiber.Map{
			"session_id":     res.SessionID,
			"test_id":        res.TestID,
			"test_title":     test.Title,
			"attempt_number": res.AttemptNumber,
			"percentage":     res.Percentage,
			"passed":         res.Passed,
			"grade":          res.Grade,
		})
	}
	return c.JSON(payload)
}

// GetActivity returns the caller's recent test activity trail.
func (uc *UserController) GetActivity(c *fiber.Ctx) error {
	var activity []models.UserActivity
	uc.DB.Where("user_id = ?", middleware.CallerID(c)).
		Order("created_at DESC").
		Limit(50).
		Find(&activity)

	result := make([]fiber.Map, 0, len(activity))
	for _, entry := range activity {
		result = append(result, fiber.Map{
			"action":       entry.ActionType,
			"target_id":    entry.TargetID,
			"target_title": entry.TargetTitle,
			"duration":     entry.Duration,
			"at":           entry.CreatedAt,
		})
	}
	return c.JSON(result)
}
