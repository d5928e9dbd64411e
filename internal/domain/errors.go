package domain

import "errors"

var (
	// ErrInvalidURL is returned when a subscription target is not http(s).
	ErrInvalidURL = errors.New("target_url must be an http or https URL")

	// ErrEmptyEventTypes is returned when a subscription has no event-type filter.
	ErrEmptyEventTypes = errors.New("event_types must not be empty")

	// ErrDuplicateSubscription is returned when a tenant already has an active
	// subscription for the same target URL and event-type set.
	ErrDuplicateSubscription = errors.New("an active subscription with this target_url and event_types already exists")

	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("not found")
)
