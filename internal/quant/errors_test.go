package quant

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestInvalidParameterIsInvalidRange(t *testing.T) {
	err := errors.Wrap(ErrInvalidParameter, "position size must be positive")

	assert.True(t, errors.Is(err, ErrInvalidParameter))
	assert.True(t, errors.Is(err, ErrInvalidRange))
	assert.False(t, errors.Is(err, ErrInsufficientData))
	assert.False(t, errors.Is(errors.Wrap(ErrInvalidRange, "horizon"), ErrInvalidParameter))
	assert.Contains(t, err.Error(), "invalid parameter")
}

func TestIsCallerError(t *testing.T) {
	assert.True(t, IsCallerError(errors.Wrap(ErrInsufficientData, "3 points")))
	assert.True(t, IsCallerError(errors.Wrap(ErrInvalidRange, "horizon 0")))
	assert.True(t, IsCallerError(errors.Wrapf(ErrInvalidParameter, "allocation %v", 2.0)))
	assert.False(t, IsCallerError(errors.New("provider down")))
	assert.False(t, IsCallerError(nil))
}
