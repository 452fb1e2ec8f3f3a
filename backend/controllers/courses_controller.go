package controllers

import (
	"academix_backend/backend/config"
	"academix_backend/backend/middleware"
	"academix_backend/backend/models"
	"academix_backend/backend/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CoursesController struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Validate *validator.Validate
}

func NewCoursesController(db *gorm.DB, cfg *config.Config, validate *validator.Validate) *CoursesController {
	return &CoursesController{DB: db, Cfg: cfg, Validate: validate}
}

type CourseInput struct {
	Title       string `json:"title" validate:"required,min=3,max=255"`
	ShortDesc   string `json:"short_desc"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	University  string `json:"university"`
	Topic       string `json:"topic"`
}

func (cc *CoursesController) CreateCourse(c *fiber.Ctx) error {
	var input CourseInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if err := cc.Validate.Struct(&input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	course := models.Course{
		Title:       input.Title,
		ShortDesc:   input.ShortDesc,
		Description: input.Description,
		Difficulty:  input.Difficulty,
		University:  input.University,
		Topic:       input.Topic,
		AuthorID:    middleware.CallerID(c),
	}
	if err := cc.DB.Create(&course).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"id": course.ID})
}

func (cc *CoursesController) GetCourses(c *fiber.Ctx) error {
	topic := c.Query("topic")
	university := c.Query("university")

	query := cc.DB.Model(&models.Course{})
	if topic != "" {
		query = query.Where("topic LIKE ?", "%"+topic+"%")
	}
	if university != "" {
		query = query.Where("university LIKE ?", "%"+university+"%")
	}

	var courses []models.Course
	query.Find(&courses)

	result := make([]fiber.Map, 0, len(courses))
	for _, course := range courses {
		result = append(result, fiber.Map{
			"id":          course.ID,
			"title":       course.Title,
			"short_desc":  course.ShortDesc,
			"difficulty":  course.Difficulty,
			"university":  course.University,
			"topic":       course.Topic,
		})
	}
	return c.JSON(result)
}

func (cc *CoursesController) GetCourseDetails(c *fiber.Ctx) error {
	courseID, err := c.ParamsInt("id")
	if err != nil || courseID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var course models.Course
	if err := cc.DB.Preload("Syllabus", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_order ASC")
	}).Preload("Tests", "published = ?", true).First(&course, courseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	lessons := make([]fiber.Map, 0, len(course.Syllabus))
	for _, lesson := range course.Syllabus {
		lessons = append(lessons, fiber.Map{
			"id":             lesson.ID,
			"title":          lesson.Title,
			"description":    lesson.Description,
			"sequence_order": lesson.SequenceOrder,
		})
	}

	tests := make([]fiber.Map, 0, len(course.Tests))
	for _, test := range course.Tests {
		tests = append(tests, fiber.Map{
			"id":               test.ID,
			"title":            test.Title,
			"duration_minutes": test.DurationMinutes,
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"id":          course.ID,
		"title":       course.Title,
		"description": course.Description,
		"difficulty":  course.Difficulty,
		"university":  course.University,
		"topic":       course.Topic,
		"syllabus":    lessons,
		"tests":       tests,
	})
}

// Enroll registers the caller on a course, reactivating a dropped enrollment
// if one exists.
func (cc *CoursesController) Enroll(c *fiber.Ctx) error {
	courseID, err := c.ParamsInt("id")
	if err != nil || courseID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	enrollment := models.Enrollment{
		UserID:   middleware.CallerID(c),
		CourseID: uint(courseID),
		Status:   "active",
	}
	err = cc.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"status": "active"}),
	}).Create(&enrollment).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"enrolled": true})
}

func (cc *CoursesController) Unenroll(c *fiber.Ctx) error {
	courseID, err := c.ParamsInt("id")
	if err != nil || courseID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	cc.DB.Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ?", middleware.CallerID(c), courseID).
		Update("status", "dropped")

	return utils.Success(c, fiber.StatusOK, fiber.Map{"enrolled": false})
}
