package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"os"
)

// statusError matches upstream errors carrying an HTTP status, without this
// package importing the provider package.
type statusError interface {
	HTTPStatus() int
}

// Weight returns the error weight recorded against the window.
//
//   - nil -> 0.0
//   - 4xx except 429 -> 0.0 (caller's fault, not the upstream's)
//   - 429 -> 0.5
//   - 500-504 -> 1.0
//   - network errors -> 1.0
//   - deadline exceeded -> 1.5
func Weight(err error) float64 {
	if err == nil {
		return 0
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}

	var se statusError
	if errors.As(err, &se) {
		return statusWeight(se.HTTPStatus())
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return 1.0
	}

	// Anything else (connection refused, protocol garbage) counts as an
	// upstream fault.
	return 1.0
}

func statusWeight(code int) float64 {
	switch {
	case code == 429:
		return 0.5
	case code >= 500 && code <= 504:
		return 1.0
	default:
		return 0.0
	}
}
