package internal

import "errors"

// Error taxonomy for the payment core. Handlers match these with errors.Is to
// pick a response status; human-readable text is never used for control flow.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidOrderId        = errors.New("invalid order id")
	ErrKeyDerivation         = errors.New("key derivation failed")
	ErrSignatureMismatch     = errors.New("signature mismatch")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrPersistence           = errors.New("persistence failure")
	ErrConfiguration         = errors.New("configuration error")
)
