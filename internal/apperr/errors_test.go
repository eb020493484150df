package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "deadline", err: context.DeadlineExceeded, kind: ErrTimeout},
		{name: "wrapped deadline", err: fmt.Errorf("find: %w", context.DeadlineExceeded), kind: ErrTimeout},
		{name: "backend", err: errors.New("connection refused"), kind: ErrStorageUnavailable},
		{name: "already classified", err: NotFound("get", "chat x"), kind: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Storage("op", tt.err)
			assert.ErrorIs(t, got, tt.kind)
		})
	}
	assert.NoError(t, Storage("op", nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Wrap(ErrTimeout, "op", context.DeadlineExceeded)))
	assert.True(t, IsTransient(Storage("op", errors.New("down"))))
	assert.False(t, IsTransient(InvalidArgument("op", "bad")))
	assert.False(t, IsTransient(NotParticipant("op", "u", "c")))
	assert.False(t, IsTransient(nil))
}

func TestErrorUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrStorageUnavailable, "save", cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, "save: storage unavailable: boom", err.Error())
}

func TestCode(t *testing.T) {
	assert.Equal(t, "invalid_argument", Code(InvalidArgument("op", "x")))
	assert.Equal(t, "not_participant", Code(NotParticipant("op", "u", "c")))
	assert.Equal(t, "not_found", Code(NotFound("op", "x")))
	assert.Equal(t, "timeout", Code(Wrap(ErrTimeout, "op", context.DeadlineExceeded)))
	assert.Equal(t, "internal", Code(errors.New("other")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, HTTPStatus(InvalidArgument("op", "x")))
	assert.Equal(t, 403, HTTPStatus(NotParticipant("op", "u", "c")))
	assert.Equal(t, 404, HTTPStatus(NotFound("op", "x")))
	assert.Equal(t, 503, HTTPStatus(Storage("op", errors.New("down"))))
	assert.Equal(t, 504, HTTPStatus(Storage("op", context.DeadlineExceeded)))
	assert.Equal(t, 500, HTTPStatus(errors.New("other")))
}
