package apperror_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
)

func TestError_Is(t *testing.T) {
	type testCase struct {
		name   string
		err    error
		target error
		want   bool
	}

	tests := []testCase{
		{
			name:   "KindSentinelMatches",
			err:    apperror.NotFound("posting.not_found", "posting %s not found", "x"),
			target: apperror.ErrNotFound,
			want:   true,
		},
		{
			name:   "DifferentKind",
			err:    apperror.Conflict("barter_application.duplicate", "duplicate"),
			target: apperror.ErrNotFound,
			want:   false,
		},
		{
			name:   "WrappedError",
			err:    fmt.Errorf("creating application: %w", apperror.Forbidden("application.self_request", "no")),
			target: apperror.ErrForbidden,
			want:   true,
		},
		{
			name:   "SameKeyMatches",
			err:    apperror.InvalidState("barter.transition.invalid", "bad"),
			target: &apperror.Error{Kind: apperror.KindInvalidState, Key: "barter.transition.invalid"},
			want:   true,
		},
		{
			name:   "DifferentKeyDoesNotMatch",
			err:    apperror.InvalidState("barter.transition.invalid", "bad"),
			target: &apperror.Error{Kind: apperror.KindInvalidState, Key: "borrow.transition.invalid"},
			want:   false,
		},
		{
			name:   "PlainError",
			err:    errors.New("boom"),
			target: apperror.ErrValidation,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestField(t *testing.T) {
	err := apperror.Field("borrow_application.window.invalid", "duration_to", "must be after duration_from")

	appErr, ok := apperror.As(fmt.Errorf("wrap: %w", err))
	require.True(t, ok)
	assert.Equal(t, apperror.KindValidation, appErr.Kind)
	assert.Equal(t, []string{"must be after duration_from"}, appErr.Fields["duration_to"])
	assert.Equal(t, "must be after duration_from", appErr.Error())
}
