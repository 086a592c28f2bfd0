// handlers/progression_routes.go
package handlers

import (
	"course-progression/apperr"
	"course-progression/logger"
	"course-progression/middleware"
	"course-progression/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

type completeLessonRequest struct {
	Score     *int `json:"score" validate:"omitempty,min=0,max=100"`
	TimeSpent int  `json:"timeSpent" validate:"min=0"`
}

type revealRequest struct {
	QuestionPoints int `json:"questionPoints" validate:"min=0,max=10000"`
}

type progressionHandler struct {
	svc      *services.ProgressionService
	validate *validator.Validate
	log      *logger.Logger
}

// SetupProgressionRoutes registers the learner API. Every route except
// /healthz runs behind UserContextMiddleware.
func SetupProgressionRoutes(app *fiber.App, svc *services.ProgressionService, auth middleware.AuthConfig, log *logger.Logger) {
	h := &progressionHandler{
		svc:      svc,
		validate: validator.New(),
		log:      log.With("handler", "progression"),
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/", middleware.UserContextMiddleware(auth))

	secured.Post("/lessons/:lessonId/start", middleware.Require(middleware.ActionLessonStart, ""), h.startLesson)
	secured.Post("/lessons/:lessonId/complete", middleware.Require(middleware.ActionLessonComplete, ""), h.completeLesson)
	secured.Get("/level/status", middleware.Require(middleware.ActionLevelRead, ""), h.levelStatus)
	secured.Post("/xp/reveal", middleware.Require(middleware.ActionXPSpend, ""), h.revealAnswer)
	secured.Get("/users/:id/stats", middleware.Require(middleware.ActionStatsRead, "id"), h.userStats)
	secured.Get("/users/:id/daily-xp", middleware.Require(middleware.ActionStatsRead, "id"), h.dailyXP)
	secured.Post("/courses/:courseId/enroll", middleware.Require(middleware.ActionCourseEnroll, ""), h.enroll)
	secured.Get("/courses/:courseId/outline", middleware.Require(middleware.ActionCourseRead, ""), h.outline)
}

func (h *progressionHandler) parseBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(out); err != nil {
			h.log.Debug("unparseable body", "path", c.Path(), "error", err)
			return apperr.Validationf("malformed request body")
		}
	}
	return h.validate.Struct(out)
}

func userID(c *fiber.Ctx) (string, error) {
	s, err := middleware.SubjectFrom(c)
	if err != nil {
		return "", err
	}
	return s.UserID, nil
}

func (h *progressionHandler) startLesson(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	progress, err := h.svc.StartLesson(c.UserContext(), uid, c.Params("lessonId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"progress": progress})
}

func (h *progressionHandler) completeLesson(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req completeLessonRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.svc.CompleteLesson(c.UserContext(), uid, c.Params("lessonId"), services.CompleteLessonInput{
		Score:            req.Score,
		TimeSpentSeconds: req.TimeSpent,
	})
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *progressionHandler) levelStatus(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	status, err := h.svc.LevelStatus(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(status)
}

func (h *progressionHandler) revealAnswer(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req revealRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.svc.RevealAnswer(c.UserContext(), uid, req.QuestionPoints)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *progressionHandler) userStats(c *fiber.Ctx) error {
	stats, err := h.svc.UserStats(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (h *progressionHandler) dailyXP(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	rows, err := h.svc.DailyHistory(c.UserContext(), c.Params("id"), days)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"days": rows})
}

func (h *progressionHandler) enroll(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	enrollment, err := h.svc.Enroll(c.UserContext(), uid, c.Params("courseId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"enrollment": enrollment})
}

func (h *progressionHandler) outline(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	lessons, err := h.svc.CourseOutline(c.UserContext(), uid, c.Params("courseId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"courseId": c.Params("courseId"), "lessons": lessons})
}
