package services

import "pedalpay/entity"

// Mailer dispatches customer notifications. Sending is fire-and-forget with
// respect to payment processing: a failed email never rolls back a payment
// transition.
type Mailer interface {
	SendPaymentConfirmation(order *entity.Order) error
	SendPaymentFailed(order *entity.Order) error
}
