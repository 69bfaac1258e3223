package util

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	forbidden := NewForbidden("nope")
	wrapped := fmt.Errorf("block user: %w", forbidden)

	got := ToDomainError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeForbidden, got.Code)
	assert.Equal(t, http.StatusForbidden, got.HTTPStatus)

	assert.Equal(t, CodeNotFound, ToDomainError(sql.ErrNoRows).Code)

	internal := ToDomainError(errors.New("socket closed"))
	assert.Equal(t, CodeInternal, internal.Code)
	assert.Equal(t, http.StatusInternalServerError, internal.HTTPStatus)
	assert.Equal(t, "internal server error", internal.Message)
}

func TestMapError_NilStaysNil(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.Nil(t, ToDomainError(nil))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("redeem: %w", NewInvalidRecoveryKey())
	assert.True(t, HasCode(err, CodeInvalidRecoveryKey))
	assert.False(t, HasCode(err, CodeForbidden))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}

func TestRecoveryErrorsAreGeneric(t *testing.T) {
	a := NewInvalidRecoveryKey().(*DomainError)
	b := NewInvalidRecoveryKey().(*DomainError)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, http.StatusUnauthorized, a.HTTPStatus)
	assert.Nil(t, a.Details)
}
