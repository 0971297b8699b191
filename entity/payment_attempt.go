package entity

import "time"

// PaymentAttempt records one outbound payment request before the customer is
// redirected to the gateway, so that the asynchronous notification arriving
// later has a matching local record to update. An attempt never mutates the
// order's authoritative status by itself.
type PaymentAttempt struct {
	AttemptId   string    `json:"attempt_id" bson:"attempt_id"`
	Order       string    `json:"order" bson:"order"`
	Gateway     string    `json:"gateway" bson:"gateway"`
	Amount      int       `json:"amount" bson:"amount"`
	Currency    string    `json:"currency" bson:"currency"`
	Description string    `json:"description" bson:"description"`
	TimeCreated time.Time `json:"time_created" bson:"time_created"`
}

// Gateways an attempt can target.
const (
	GatewayRedirect = "redsys"
	GatewayCard     = "stripe"
)
