package notify

import (
	"time"

	applogger "EventArb/pkg/logger"

	"golang.org/x/time/rate"
)

type options struct {
	timeout       time.Duration
	maxLength     int
	ratePerMinute int
	log           *applogger.Logger
}

type Option func(*options)

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxLength caps message length in runes.
func WithMaxLength(n int) Option {
	return func(o *options) { o.maxLength = n }
}

// WithRatePerMinute throttles sends. Messages over the limit wait for a
// token and are dropped only when the send context expires first.
func WithRatePerMinute(n int) Option {
	return func(o *options) { o.ratePerMinute = n }
}

func WithLogger(l *applogger.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{
		timeout:       10 * time.Second,
		maxLength:     4000,
		ratePerMinute: 20,
		log:           applogger.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) limiter() *rate.Limiter {
	if o.ratePerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.ratePerMinute)), o.ratePerMinute)
}
