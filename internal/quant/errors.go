// Package quant holds the error taxonomy shared by the analysis packages.
package quant

import "github.com/pkg/errors"

var (
	// ErrInsufficientData means there are too few price points for the request.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidRange means a horizon, date window or parameter that cannot be
	// evaluated.
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidParameter narrows ErrInvalidRange to a sizing or metric
	// parameter out of its domain. errors.Is matches it against both.
	ErrInvalidParameter = errors.WithMessage(ErrInvalidRange, "invalid parameter")
)

// IsCallerError reports whether err belongs to the caller-visible taxonomy.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrInvalidRange)
}
