package services

import "errors"

var (
	// ErrUnknownNotification is returned when an ID is not in the live list.
	ErrUnknownNotification = errors.New("unknown notification")
	// ErrNotDismissible is returned for payment alerts, which only clear
	// when the underlying payment condition resolves.
	ErrNotDismissible = errors.New("notification cannot be dismissed")
	// ErrNoReminder is returned when a notification has no payment data.
	ErrNoReminder = errors.New("notification has no payment reminder")
	// ErrSessionClosed is returned by operations on a destroyed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoIdentity is returned when the store is used before a user is bound.
	ErrNoIdentity = errors.New("no signed-in identity")
)
