// middleware/permission.go
package middleware

import (
	"course-progression/apperr"

	"github.com/gofiber/fiber/v2"
)

type Action string

const (
	ActionLessonStart    Action = "lesson:start"
	ActionLessonComplete Action = "lesson:complete"
	ActionLevelRead      Action = "level:read"
	ActionStatsRead      Action = "stats:read"
	ActionXPSpend        Action = "xp:spend"
	ActionCourseEnroll   Action = "course:enroll"
	ActionCourseRead     Action = "course:read"
)

const (
	RoleAdmin = "admin"
	// Read-only observers (e.g. parents) may not act on lessons or spend XP.
	RoleViewer = "viewer"
)

var mutatingActions = map[Action]bool{
	ActionLessonStart:    true,
	ActionLessonComplete: true,
	ActionXPSpend:        true,
	ActionCourseEnroll:   true,
}

// Can decides whether subject may perform action on a resource owned by
// ownerID. An empty ownerID means the subject's own data.
func Can(subject *Subject, action Action, ownerID string) error {
	if subject == nil {
		return apperr.New(apperr.KindAuthentication, "not authenticated")
	}
	if subject.HasRole(RoleAdmin) {
		return nil
	}
	if ownerID != "" && ownerID != subject.UserID {
		return apperr.New(apperr.KindAuthorization, "%s is not allowed on another user's data", action)
	}
	if mutatingActions[action] && subject.HasRole(RoleViewer) {
		return apperr.New(apperr.KindAuthorization, "%s is not allowed for read-only users", action)
	}
	return nil
}

// Require checks Can for the current Subject. ownerParam names the route
// parameter holding the owning user id, or "" for the caller's own data.
func Require(action Action, ownerParam string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject, err := SubjectFrom(c)
		if err != nil {
			return err
		}
		owner := ""
		if ownerParam != "" {
			owner = c.Params(ownerParam)
		}
		if err := Can(subject, action, owner); err != nil {
			return err
		}
		return c.Next()
	}
}
