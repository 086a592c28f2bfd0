// middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"course-progression/apperr"
	"course-progression/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const subjectLocal = "subject"

// Subject is the authenticated caller attached to the request.
type Subject struct {
	UserID string
	Roles  []string
	// "gateway" or "session"
	Via string
}

func (s *Subject) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SessionClaims are carried by learner session tokens (child profiles).
type SessionClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthConfig configures UserContextMiddleware. Either mode may be disabled by
// leaving its secret empty.
type AuthConfig struct {
	ServiceToken     string
	SessionJWTSecret string
	Log              *logger.Logger
}

// UserContextMiddleware resolves the caller from a session bearer token or
// from gateway headers (X-User-ID, X-User-Roles) authenticated by
// X-Service-Token, and stores it as the request Subject.
func UserContextMiddleware(cfg AuthConfig) fiber.Handler {
	log := cfg.Log.With("middleware", "UserContext")
	return func(c *fiber.Ctx) error {
		var (
			subject *Subject
			err     error
		)
		if bearer, ok := bearerToken(c.Get(fiber.HeaderAuthorization)); ok {
			subject, err = sessionSubject(bearer, cfg.SessionJWTSecret)
		} else {
			subject, err = gatewaySubject(c, cfg.ServiceToken)
		}
		if err != nil {
			log.Warn("request rejected", "path", c.Path(), "error", err)
			return err
		}

		c.Locals(subjectLocal, subject)
		log.Debug("user context", "user_id", subject.UserID, "roles", subject.Roles, "via", subject.Via, "path", c.Path())
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func gatewaySubject(c *fiber.Ctx, serviceToken string) (*Subject, error) {
	if serviceToken == "" {
		return nil, apperr.New(apperr.KindAuthentication, "gateway authentication is not enabled")
	}
	got := c.Get("X-Service-Token")
	if got == "" {
		return nil, apperr.New(apperr.KindAuthentication, "gateway authentication token missing")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(serviceToken)) != 1 {
		return nil, apperr.New(apperr.KindAuthentication, "invalid gateway authentication token")
	}
	userID := strings.TrimSpace(c.Get("X-User-ID"))
	if userID == "" {
		return nil, apperr.New(apperr.KindAuthentication, "missing X-User-ID: request must come through gateway with auth context")
	}
	return &Subject{UserID: userID, Roles: splitRoles(c.Get("X-User-Roles")), Via: "gateway"}, nil
}

func splitRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func sessionSubject(raw, secret string) (*Subject, error) {
	if secret == "" {
		return nil, apperr.New(apperr.KindAuthentication, "session tokens are not enabled")
	}
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.New(apperr.KindAuthentication, "session expired")
		}
		return nil, apperr.New(apperr.KindAuthentication, "invalid session token")
	}
	if claims.Subject == "" {
		return nil, apperr.New(apperr.KindAuthentication, "session token has no subject")
	}
	return &Subject{UserID: claims.Subject, Roles: claims.Roles, Via: "session"}, nil
}

// IssueSessionToken signs a learner session for userID valid for ttl.
func IssueSessionToken(secret, userID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SubjectFrom returns the Subject stored by UserContextMiddleware.
func SubjectFrom(c *fiber.Ctx) (*Subject, error) {
	s, ok := c.Locals(subjectLocal).(*Subject)
	if !ok || s == nil {
		return nil, apperr.New(apperr.KindAuthentication, "not authenticated")
	}
	return s, nil
}
