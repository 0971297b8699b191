package services

import (
	"context"
	"pedalpay/entity"
)

type Database interface {
	WriteLogMessage(data Data) error
	// ReadLog returns the most recent log records, newest first, capped by
	// the configured record limit.
	ReadLog(ctx context.Context) ([]entity.LogMessage, error)

	GetOrder(ctx context.Context, order string) (*entity.Order, error)
	// GetOrderByPaymentIntent returns (nil, nil) when no order references
	// the intent; errors are reserved for storage failures.
	GetOrderByPaymentIntent(ctx context.Context, intentId string) (*entity.Order, error)
	SaveOrder(ctx context.Context, order *entity.Order) error

	// ConfirmOrder transitions a pending order to confirmed/completed in a
	// single conditional update. It reports false when the order was not
	// pending anymore, which is how duplicate notifications are detected.
	ConfirmOrder(ctx context.Context, order string, authCode string) (bool, error)
	// CancelOrder transitions a pending order to cancelled with the given
	// payment status, with the same conditional semantics as ConfirmOrder.
	CancelOrder(ctx context.Context, order string, paymentStatus string) (bool, error)
	// MarkRefund records a refunded amount on an order regardless of its
	// lifecycle status.
	MarkRefund(ctx context.Context, order string, amount int) error

	SavePaymentAttempt(ctx context.Context, attempt *entity.PaymentAttempt) error
	SavePaymentResult(ctx context.Context, parameters *entity.PaymentParameters) error
}

type Data interface {
	DataType() string
}
