package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrNotFound, "student not found")
	assert.Equal(t, "student not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestWithDetails(t *testing.T) {
	err := WithDetails(ErrWeightLimitExceeded, map[string]interface{}{"resulting_total": 110.0})
	require.NotNil(t, err)
	assert.Equal(t, 110.0, err.Details["resulting_total"])
	assert.Nil(t, ErrWeightLimitExceeded.Details)
	assert.Nil(t, WithDetails(nil, nil))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	wrapped := fmt.Errorf("outer: %w", ErrDuplicateMark)
	assert.Equal(t, ErrDuplicateMark.Code, FromError(wrapped).Code)

	plain := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.Status)
	assert.Contains(t, plain.Error(), "boom")
}
