package usecase

import "errors"

var (
	ErrEventInPast      = errors.New("event scheduled in the past")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrSchedulerClosed  = errors.New("scheduler is shut down")
	ErrInvalidRelation  = errors.New("protective prices do not bracket entry")
	ErrBelowMinNotional = errors.New("quantity below minimum notional")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrInvalidSide      = errors.New("side must be BUY or SELL")
	ErrAlreadyClosed    = errors.New("trade already closed")
)

// Failure reasons attached to ExecError and execution metrics.
const (
	ReasonInvalidRelation  = "invalid_relation"
	ReasonInvalidPrice     = "invalid_price"
	ReasonInvalidSide      = "invalid_side"
	ReasonBelowMinNotional = "below_min_notional"
	ReasonExchangeRejected = "exchange_rejected"
	ReasonExchangeTimeout  = "exchange_timeout"
	ReasonExchangeError    = "exchange_error"
	ReasonPriceUnavailable = "price_unavailable"
)

// ExecError is an execution failure with its category.
type ExecError struct {
	Reason string
	Err    error
}

func (e *ExecError) Error() string {
	return "execution failed (" + e.Reason + "): " + e.Err.Error()
}

func (e *ExecError) Unwrap() error { return e.Err }

// FailureReason extracts the ExecError reason, or "" when err is not one.
func FailureReason(err error) string {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return ""
}
