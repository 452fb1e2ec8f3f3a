package routes

import (
	"academix_backend/backend/config"
	"academix_backend/backend/controllers"
	"academix_backend/backend/middleware"
	"academix_backend/backend/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, cfg *config.Config, svc *services.SessionService, store services.SessionStore) {
	validate := validator.New()

	// Auth routes
	authController := controllers.NewAuthController(db, cfg, validate)
	app.Post("/api/auth/register", authController.Register)
	app.Post("/api/auth/login", authController.Login)

	// Middleware
	authMiddleware := middleware.AuthMiddleware(cfg)
	facultyMiddleware := middleware.FacultyMiddleware(cfg)

	// User routes
	userController := controllers.NewUserController(db, cfg, validate)
	app.Get("/api/user/profile", authMiddleware, userController.GetProfile)
	app.Put("/api/user/profile", authMiddleware, userController.UpdateProfile)
	app.Get("/api/user/sessions", authMiddleware, userController.GetMySessions)
	app.Get("/api/user/results", authMiddleware, userController.GetMyResults)
	app.Get("/api/user/activity", authMiddleware, userController.GetActivity)

	// Courses routes
	coursesController := controllers.NewCoursesController(db, cfg, validate)
	courses := app.Group("/api/courses", authMiddleware)
	courses.Get("/", coursesController.GetCourses)
	courses.Get("/:id", coursesController.GetCourseDetails)
	courses.Post("/:id/enroll", coursesController.Enroll)
	courses.Delete("/:id/enroll", coursesController.Unenroll)

	// Tests routes
	testsController := controllers.NewTestsController(db, cfg, validate)
	commentsController := controllers.NewCommentsController(db, cfg, validate)
	tests := app.Group("/api/tests", authMiddleware)
	tests.Get("/available", testsController.GetAvailableTests)
	tests.Get("/:id", testsController.GetTestDetails)
	tests.Get("/:id/comments", commentsController.GetTestComments)

	// Session routes
	sessionsController := controllers.NewSessionsController(svc, store, db, cfg, validate)
	tests.Post("/:id/sessions", sessionsController.StartSession)
	sessions := app.Group("/api/sessions", authMiddleware)
	sessions.Post("/:sid/answers", sessionsController.SubmitAnswer)
	sessions.Post("/:sid/heartbeat", sessionsController.Heartbeat)
	sessions.Post("/:sid/events", sessionsController.ReportEvents)
	sessions.Post("/:sid/disconnect", sessionsController.ReportDisconnect)
	sessions.Post("/:sid/submit", sessionsController.SubmitSession)
	sessions.Get("/:sid/result", sessionsController.GetResult)

	// Comment routes
	tests.Post("/:id/comments", commentsController.AddTestComment)
	app.Post("/api/comments/:id/replies", authMiddleware, commentsController.AddCommentReply)

	// Faculty routes
	facultyTests := app.Group("/api/faculty/tests", authMiddleware, facultyMiddleware)
	facultyTests.Post("/", testsController.CreateTest)
	facultyTests.Put("/:id", testsController.UpdateTest)
	facultyTests.Put("/:id/publish", testsController.SetPublished)
	facultyTests.Get("/:id/sessions", testsController.GetTestSessions)
	facultyTests.Get("/:id/analytics", testsController.GetTestAnalytics)
	facultyTests.Post("/:id/retakes", sessionsController.GrantRetake)

	facultySessions := app.Group("/api/faculty/sessions", authMiddleware, facultyMiddleware)
	facultySessions.Post("/:sid/allow-resume", sessionsController.GrantResume)

	facultyCourses := app.Group("/api/faculty/courses", authMiddleware, facultyMiddleware)
	facultyCourses.Post("/", coursesController.CreateCourse)
}
