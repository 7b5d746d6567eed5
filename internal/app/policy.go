package app

import (
	"time"

	"github.com/dkeye/voicelink/internal/domain"
)

type FailureAction int

const (
	Retry FailureAction = iota
	GiveUp
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Policy decides what happens after a failed connection attempt.
// attempt counts the attempts made so far, starting at 1.
type Policy interface {
	OnFailure(attempt int, err error) (FailureAction, time.Duration)
}

// BackoffPolicy retries network failures up to MaxRetries times, waiting
// BaseDelay*2^(attempt-1) before each retry. Auth, protocol and device
// failures are never retried.
type BackoffPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

func (p BackoffPolicy) OnFailure(attempt int, err error) (FailureAction, time.Duration) {
	if !Retryable(err) || attempt > p.MaxRetries {
		return GiveUp, 0
	}
	return Retry, p.BaseDelay << (attempt - 1)
}

// Retryable reports whether err belongs to a transient failure class.
func Retryable(err error) bool {
	return domain.Kind(err) == domain.ErrNetwork
}
