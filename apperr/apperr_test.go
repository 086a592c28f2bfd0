package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("complete lesson: %w", New(KindLessonLocked, "lesson %q is locked", "halves"))

	assert.True(t, errors.Is(err, LessonLocked))
	assert.False(t, errors.Is(err, LessonNotStarted))

	e, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, e.HTTPStatus())
	assert.Equal(t, `LessonLocked: lesson "halves" is locked`, e.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindAuthentication:      http.StatusUnauthorized,
		KindAuthorization:       http.StatusForbidden,
		KindValidation:          http.StatusBadRequest,
		KindLessonNotStarted:    http.StatusBadRequest,
		KindPrerequisitesNotMet: http.StatusBadRequest,
		KindInsufficientXP:      http.StatusBadRequest,
		KindNotFound:            http.StatusNotFound,
		Kind("Unknown"):         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, (&Error{Kind: kind}).HTTPStatus(), string(kind))
	}
}

func TestAsRejectsPlainErrors(t *testing.T) {
	_, ok := As(errors.New("boom"))
	assert.False(t, ok)
}
