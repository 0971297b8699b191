// Package entity defines data models for the PedalPay payment service.
package entity

import (
	"time"
)

// Order lifecycle statuses. An order leaves StatusPending only through a
// verified gateway notification or a verified card webhook event.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Payment statuses recorded on an order.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Order represents a bicycle rental reservation with payment tracking.
// The Order field is the normalized 12-digit gateway order number and is
// unique across the system.
type Order struct {
	Order         string `json:"order" bson:"order"`
	ReservationId string `json:"reservation_id" bson:"reservation_id"`
	CustomerName  string `json:"customer_name" bson:"customer_name"`
	CustomerEmail string `json:"customer_email" bson:"customer_email"`
	Description   string `json:"description" bson:"description"`
	Amount        int    `json:"amount" bson:"amount"`
	Currency      string `json:"currency" bson:"currency"`
	Status        string `json:"status" bson:"status"`
	PaymentStatus string `json:"payment_status" bson:"payment_status"`
	// AuthCode is the gateway authorization code of the approved payment
	AuthCode string `json:"auth_code" bson:"auth_code"`
	// PaymentIntentId links the order to a card-processor payment intent
	PaymentIntentId string           `json:"payment_intent_id,omitempty" bson:"payment_intent_id"`
	RefundAmount    int              `json:"refund_amount" bson:"refund_amount"`
	RefundTime      time.Time        `json:"refund_time" bson:"refund_time"`
	TimeCreated     time.Time        `json:"time_created" bson:"time_created"`
	TimeClosed      time.Time        `json:"time_closed" bson:"time_closed"`
	Attempts        []PaymentAttempt `json:"attempts" bson:"attempts"`
}

// AddAttempt adds a payment attempt to the order if it doesn't already exist.
// Attempts are identified by their AttemptId to prevent duplicates.
func (o *Order) AddAttempt(attempt PaymentAttempt) {
	for _, a := range o.Attempts {
		if a.AttemptId == attempt.AttemptId {
			return
		}
	}
	o.Attempts = append(o.Attempts, attempt)
}

// IsPending reports whether the order still awaits a payment outcome.
func (o *Order) IsPending() bool {
	return o.Status == StatusPending
}
