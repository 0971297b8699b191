package services

import (
	"context"
	"pedalpay/entity"
)

type Payments interface {
	// CreateRedirectRequest composes the signed form fields for a browser
	// redirect to the payment gateway and records a payment attempt.
	CreateRedirectRequest(ctx context.Context, request *entity.RedirectRequest) (*entity.PaymentForm, error)
	// Notify processes the gateway's asynchronous server-to-server
	// notification; it returns an error when the notification is rejected
	// and no order state was changed.
	Notify(ctx context.Context, data []byte) error
	// VerifyReturn checks signed gateway parameters found on a browser
	// landing page URL before any of their content may be displayed.
	VerifyReturn(parameters string, signature string) (*entity.PaymentParameters, bool)
	ReturnByOrder(ctx context.Context, orderId string, amount int) error
}
