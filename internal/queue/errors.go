package queue

import "errors"

// ErrInvalidArgument is returned when a caller-supplied value violates a
// backend constraint (payload too large, hash the wrong width, a negative
// delay or non-positive timeout). Validation happens before any mutation,
// so an ErrInvalidArgument never leaves partial state behind.
var ErrInvalidArgument = errors.New("queue: invalid argument")

// ErrAlreadyReleased is returned by Message or TopicLock operations once
// the handle has already transitioned out of the held state.
var ErrAlreadyReleased = errors.New("queue: handle already released")

// ErrQueueEmpty is surfaced by blocking get helpers built on top of a
// Backend when no message became available before a deadline. BatchGet
// itself never returns this; an empty slice means the same thing.
var ErrQueueEmpty = errors.New("queue: empty")
