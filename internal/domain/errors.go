package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrNoPrice       = errors.New("no price available")
	ErrInvertedPrice = errors.New("yes price implies inverted tokens")
)
