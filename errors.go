package lanebus

import "errors"

var (
	// Configuration errors
	ErrInvalidLaneCount       = errors.New("lane count must be at least 1")
	ErrInvalidQueueCapacity   = errors.New("queue capacity cannot be negative")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout cannot be negative")
	ErrUnsupportedConfigFile  = errors.New("unsupported config file format")

	// Subscription errors
	ErrLaneOutOfRange   = errors.New("lane index out of range")
	ErrReceiverNil      = errors.New("receiver cannot be nil")
	ErrCallbackNil      = errors.New("callback cannot be nil")
	ErrCallbackNotSet   = errors.New("callback must be set before subscribing")
	ErrCallbackBound    = errors.New("callback cannot change after subscribing")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)
