package repository

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrTradeNotFound is returned when no trade or close matches the id.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrRejected means the exchange refused the request.
	ErrRejected = errors.New("exchange rejected request")
)

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
