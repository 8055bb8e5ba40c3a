package engine

import (
	"github.com/pkg/errors"

	"github.com/dyike/CortexQuant/internal/quant"
)

// Errors callers can branch on. They are wrapped with context, so test with
// errors.Is.
var (
	ErrInsufficientData = quant.ErrInsufficientData
	ErrInvalidRange     = quant.ErrInvalidRange
	// ErrInvalidParameter also matches ErrInvalidRange.
	ErrInvalidParameter = quant.ErrInvalidParameter

	// ErrNoPriceData means the provider returned nothing for the ticker.
	ErrNoPriceData = errors.New("no price data found")
	// ErrNoSignalData means there are no sentiment signals for the ticker.
	ErrNoSignalData = errors.New("no sentiment data found")
)

// IsNotFound reports whether err means the requested data does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoPriceData) || errors.Is(err, ErrNoSignalData)
}

// IsBadRequest reports whether err was caused by the request itself.
func IsBadRequest(err error) bool {
	return quant.IsCallerError(err)
}
