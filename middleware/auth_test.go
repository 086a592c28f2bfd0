package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"course-progression/apperr"
	"course-progression/logger"
	"course-progression/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(cfg middleware.AuthConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := apperr.As(err); ok {
				return c.Status(e.HTTPStatus()).SendString(string(e.Kind))
			}
			return c.SendStatus(fiber.StatusInternalServerError)
		},
	})
	app.Use(middleware.UserContextMiddleware(cfg))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		s, err := middleware.SubjectFrom(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"user": s.UserID, "roles": s.Roles, "via": s.Via})
	})
	return app
}

func TestGatewayHeaders(t *testing.T) {
	app := newAuthApp(middleware.AuthConfig{ServiceToken: "tok", Log: logger.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Service-Token", "tok")
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", " learner, admin ,")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Service-Token", "tok")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "user id is required")
}

func TestSessionToken(t *testing.T) {
	app := newAuthApp(middleware.AuthConfig{SessionJWTSecret: "s3cret", Log: logger.Nop()})

	token, err := middleware.IssueSessionToken("s3cret", "child-1", []string{"learner"}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	expired, err := middleware.IssueSessionToken("s3cret", "child-1", nil, -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := middleware.IssueSessionToken("other", "child-1", nil, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Gateway mode is disabled without a service token.
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionTokenRejectsOtherAlgorithms(t *testing.T) {
	app := newAuthApp(middleware.AuthConfig{SessionJWTSecret: "s3cret", Log: logger.Nop()})

	claims := jwt.RegisteredClaims{Subject: "child-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCan(t *testing.T) {
	learner := &middleware.Subject{UserID: "u1", Roles: []string{"learner"}}
	viewer := &middleware.Subject{UserID: "u1", Roles: []string{"viewer"}}
	admin := &middleware.Subject{UserID: "a1", Roles: []string{"admin"}}

	assert.NoError(t, middleware.Can(learner, middleware.ActionLessonComplete, ""))
	assert.NoError(t, middleware.Can(learner, middleware.ActionStatsRead, "u1"))
	assert.True(t, errors.Is(middleware.Can(learner, middleware.ActionStatsRead, "u2"), apperr.Authorization))

	assert.NoError(t, middleware.Can(viewer, middleware.ActionLevelRead, ""))
	assert.True(t, errors.Is(middleware.Can(viewer, middleware.ActionXPSpend, ""), apperr.Authorization))

	assert.NoError(t, middleware.Can(admin, middleware.ActionStatsRead, "u2"))
	assert.True(t, errors.Is(middleware.Can(nil, middleware.ActionLevelRead, ""), apperr.Authentication))
}
