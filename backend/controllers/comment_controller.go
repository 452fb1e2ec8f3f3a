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

type CommentsController struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Validate *validator.Validate
}

func NewCommentsController(db *gorm.DB, cfg *config.Config, validate *validator.Validate) *CommentsController {
	return &CommentsController{DB: db, Cfg: cfg, Validate: validate}
}

type CommentInput struct {
	Text   string `json:"text" validate:"required,max=2000"`
	Rating int    `json:"rating" validate:"min=0,max=5"`
}

// AddTestComment posts a comment with rating on a test. Only students who
// finished at least one attempt may comment.
func (cc *CommentsController) AddTestComment(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var input CommentInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := cc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	userID := middleware.CallerID(c)

	var user models.User
	if err := cc.DB.First(&user, userID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	if user.Role != models.RoleFaculty {
		var graded int64
		cc.DB.Model(&models.TestResult{}).
			Where("test_id = ? AND student_id = ?", testID, userID).
			Count(&graded)
		if graded == 0 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Finish the test before commenting",
			})
		}
	}

	comment := models.TestComment{
		TestID:   uint(testID),
		UserID:   userID,
		UserName: user.Username,
		Text:     input.Text,
		Rating:   input.Rating,
	}
	if err := cc.DB.Create(&comment).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(comment)
}

// GetTestComments lists comments with their replies.
func (cc *CommentsController) GetTestComments(c *fiber.Ctx) error {
	testID, err := c.ParamsInt("id")
	if err != nil || testID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test ID",
		})
	}

	var comments []models.TestComment
	cc.DB.Preload("Replies").
		Where("test_id = ?", testID).
		Order("created_at DESC").
		Find(&comments)

	return c.JSON(comments)
}

type ReplyInput struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// AddCommentReply lets faculty answer a comment thread.
func (cc *CommentsController) AddCommentReply(c *fiber.Ctx) error {
	commentID, err := c.ParamsInt("id")
	if err != nil || commentID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid comment ID",
		})
	}

	var input ReplyInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := cc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	var comment models.TestComment
	if err := cc.DB.First(&comment, commentID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Comment not found",
		})
	}

	userID := middleware.CallerID(c)
	var user models.User
	if err := cc.DB.First(&user, userID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	reply := models.TestCommentReply{
		CommentID: uint(commentID),
		UserID:    userID,
		UserName:  user.Username,
		Text:      input.Text,
	}
	if err := cc.DB.Create(&reply).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(reply)
}
