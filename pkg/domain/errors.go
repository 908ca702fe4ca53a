package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in a store or registry.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned when a signal targets a session that already reached a terminal state.
var ErrSessionClosed = errors.New("session closed")

// ErrUnknownTrigger is returned when a named trigger has no mapping.
var ErrUnknownTrigger = errors.New("unknown trigger")

// ErrInvalidTrigger is returned when an inbound trigger is malformed (e.g. missing session id).
var ErrInvalidTrigger = errors.New("invalid trigger")

// ErrRateLimited is returned when a session exceeds its inbound trigger budget.
var ErrRateLimited = errors.New("rate limited")
