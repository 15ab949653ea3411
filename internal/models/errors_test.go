package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDomainError(t *testing.T) {
	assert.True(t, IsDomainError(ErrNotFound))
	assert.True(t, IsDomainError(fmt.Errorf("accept: %w", ErrConflict)))
	assert.True(t, IsDomainError(fmt.Errorf("list: %w", ErrTimeout)))
	assert.True(t, IsDomainError(NewValidationError("duration")))
	assert.True(t, IsDomainError(&AuthorizationError{Reason: "nope"}))
	assert.True(t, IsDomainError(&InvalidStateError{Op: "cancel", Status: StatusCompleted}))
	assert.True(t, IsDomainError(&DeliveryError{Transport: "sms", Message: "carrier down"}))

	assert.False(t, IsDomainError(nil))
	assert.False(t, IsDomainError(errors.New("connection refused")))
}
