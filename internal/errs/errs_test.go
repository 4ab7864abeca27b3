package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = &InsufficientStockError{SKU: "TSHIRT-M", Requested: 5, Available: 2}
	assert.ErrorIs(t, fmt.Errorf("create: %w", err), ErrInsufficientStock)
	assert.Contains(t, err.Error(), "TSHIRT-M")

	err = &TransitionError{Entity: "order", From: "expediee", To: "en_preparation"}
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NotErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, Invalid("items", "must not be empty"), ErrValidation)
	assert.ErrorIs(t, NotFound("order", "x"), ErrNotFound)
}

func TestInsufficientStockErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("reserve: %w", &InsufficientStockError{SKU: "A", Requested: 3})

	var ise *InsufficientStockError
	assert.True(t, errors.As(wrapped, &ise))
	assert.Equal(t, "A", ise.SKU)
}
