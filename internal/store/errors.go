package store

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrVehicleNotFound        = errors.New("vehicle not found")
	ErrItemNotFound           = errors.New("item not found")
	ErrMovementNotFound       = errors.New("movement not found")
	ErrSessionNotFound        = errors.New("session not found")
	ErrAlreadyCaptured        = errors.New("ticket already captured")
	ErrLockedField            = errors.New("field locked after capture")
	ErrMissingWeight          = errors.New("first weight not recorded")
	ErrInvalidWeight          = errors.New("second weight must exceed first weight")
	ErrConfiguration          = errors.New("item configuration incomplete")
	ErrNotPendingConfirmation = errors.New("ticket not awaiting confirmation")
	ErrInvalidState           = errors.New("invalid ticket state")
)
