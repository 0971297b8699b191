package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"pedalpay/config"
	"pedalpay/entity"
	"pedalpay/services"
	"time"

	"gitee.com/golang-module/dongle"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// CardWebhook consumes events from the card processor. It shares the shape of
// the redirect-gateway notification handler: verify the signature first,
// mutate order state only afterwards. Verification itself is delegated to the
// processor SDK over the configured webhook secret.
type CardWebhook struct {
	conf          *config.Config
	database      services.Database
	logger        services.LogHandler
	mailer        services.Mailer
	metrics       *Metrics
	client        *client.API
	webhookSecret string
	fingerprints  map[string]struct{}
}

func NewCardWebhook(conf *config.Config) *CardWebhook {
	w := &CardWebhook{
		conf:          conf,
		webhookSecret: conf.Stripe.WebhookSecret,
		fingerprints:  make(map[string]struct{}),
	}
	for _, fp := range conf.Stripe.TestFingerprints {
		if fp != "" {
			w.fingerprints[fp] = struct{}{}
		}
	}
	if conf.Stripe.SecretKey != "" {
		w.client = client.New(conf.Stripe.SecretKey, nil)
	}
	return w
}

func (w *CardWebhook) SetDatabase(database services.Database) {
	w.database = database
}

func (w *CardWebhook) SetLogger(logger services.LogHandler) {
	w.logger = logger
}

func (w *CardWebhook) SetMailer(mailer services.Mailer) {
	w.mailer = mailer
}

func (w *CardWebhook) SetMetrics(metrics *Metrics) {
	w.metrics = metrics
}

// HandleEvent verifies and applies one webhook delivery. Unverified events
// are rejected with no state change; the caller responds non-2xx so the
// processor retries.
func (w *CardWebhook) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := webhook.ConstructEvent(payload, signatureHeader, w.webhookSecret)
	if err != nil {
		w.count("unknown", "rejected")
		if w.metrics != nil {
			w.metrics.SignatureFailures.Inc()
		}
		w.logger.Warn("webhook event rejected on signature verification")
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err = json.Unmarshal(event.Data.Raw, &intent); err != nil {
			w.count(string(event.Type), "malformed")
			return fmt.Errorf("%w: parse payment intent: %v", ErrMalformedNotification, err)
		}
		return w.intentSucceeded(ctx, &intent)
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err = json.Unmarshal(event.Data.Raw, &intent); err != nil {
			w.count(string(event.Type), "malformed")
			return fmt.Errorf("%w: parse payment intent: %v", ErrMalformedNotification, err)
		}
		return w.intentFailed(ctx, &intent)
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err = json.Unmarshal(event.Data.Raw, &charge); err != nil {
			w.count(string(event.Type), "malformed")
			return fmt.Errorf("%w: parse charge: %v", ErrMalformedNotification, err)
		}
		return w.chargeRefunded(ctx, &charge)
	default:
		w.count(string(event.Type), "ignored")
		w.logger.Debug(fmt.Sprintf("ignoring event type %s", event.Type))
		return nil
	}
}

func (w *CardWebhook) intentSucceeded(ctx context.Context, intent *stripe.PaymentIntent) error {
	if fp := cardFingerprint(intent); fp != "" {
		if _, known := w.fingerprints[fp]; known && w.conf.Stripe.LiveMode {
			// test credentials leaked into live mode; drop the payment
			// before any order exists for it
			w.count("payment_intent.succeeded", "test_card")
			w.logger.Error(fmt.Sprintf("test card fingerprint %s in live mode, intent %s cancelled",
				hashFingerprint(fp), secret(intent.ID)), nil)
			w.cancelIntent(intent.ID)
			return nil
		}
	}

	order, err := w.database.GetOrderByPaymentIntent(ctx, intent.ID)
	if err != nil {
		w.count("payment_intent.succeeded", "error")
		return fmt.Errorf("%w: get order by intent: %v", ErrPersistence, err)
	}

	if order == nil {
		return w.createOrderFromIntent(ctx, intent)
	}

	confirmed, err := w.database.ConfirmOrder(ctx, order.Order, intent.ID)
	if err != nil {
		w.count("payment_intent.succeeded", "error")
		return fmt.Errorf("%w: confirm order %s: %v", ErrPersistence, order.Order, err)
	}
	if !confirmed {
		w.count("payment_intent.succeeded", "duplicate")
		w.logger.Info(fmt.Sprintf("order %s already closed, event ignored", order.Order))
		return nil
	}

	w.count("payment_intent.succeeded", "confirmed")
	if w.metrics != nil {
		w.metrics.PaymentsConfirmed.Inc()
	}
	w.logger.Info(fmt.Sprintf("order %s confirmed by card payment %s", order.Order, secret(intent.ID)))

	order.Status = entity.StatusConfirmed
	order.PaymentStatus = entity.PaymentCompleted
	w.sendConfirmation(order)
	return nil
}

// createOrderFromIntent builds the order from the event metadata when the
// payment arrived before the storefront persisted its side.
func (w *CardWebhook) createOrderFromIntent(ctx context.Context, intent *stripe.PaymentIntent) error {
	number, err := NormalizeOrder(intent.Metadata["order"])
	if err != nil {
		w.count("payment_intent.succeeded", "malformed")
		return fmt.Errorf("%w: intent %s carries no usable order reference", ErrMalformedNotification, secret(intent.ID))
	}

	order := &entity.Order{
		Order:           number,
		ReservationId:   intent.Metadata["reservation_id"],
		CustomerName:    intent.Metadata["customer_name"],
		CustomerEmail:   intent.Metadata["customer_email"],
		Description:     intent.Metadata["description"],
		Amount:          int(intent.Amount),
		Currency:        string(intent.Currency),
		Status:          entity.StatusConfirmed,
		PaymentStatus:   entity.PaymentCompleted,
		PaymentIntentId: intent.ID,
		TimeCreated:     time.Now(),
		TimeClosed:      time.Now(),
	}
	if err = w.database.SaveOrder(ctx, order); err != nil {
		w.count("payment_intent.succeeded", "error")
		return fmt.Errorf("%w: save order %s: %v", ErrPersistence, number, err)
	}

	w.count("payment_intent.succeeded", "created")
	if w.metrics != nil {
		w.metrics.PaymentsConfirmed.Inc()
	}
	w.logger.Info(fmt.Sprintf("order %s created from card payment %s", number, secret(intent.ID)))
	w.sendConfirmation(order)
	return nil
}

func (w *CardWebhook) intentFailed(ctx context.Context, intent *stripe.PaymentIntent) error {
	order, err := w.database.GetOrderByPaymentIntent(ctx, intent.ID)
	if err != nil {
		w.count("payment_intent.payment_failed", "error")
		return fmt.Errorf("%w: get order by intent: %v", ErrPersistence, err)
	}
	if order == nil {
		w.count("payment_intent.payment_failed", "ignored")
		w.logger.Warn(fmt.Sprintf("failed payment %s has no matching order", secret(intent.ID)))
		return nil
	}

	cancelled, err := w.database.CancelOrder(ctx, order.Order, entity.PaymentFailed)
	if err != nil {
		w.count("payment_intent.payment_failed", "error")
		return fmt.Errorf("%w: cancel order %s: %v", ErrPersistence, order.Order, err)
	}
	if !cancelled {
		w.count("payment_intent.payment_failed", "duplicate")
		return nil
	}
	w.count("payment_intent.payment_failed", "cancelled")
	w.logger.Warn(fmt.Sprintf("order %s cancelled, card payment failed", order.Order))
	return nil
}

func (w *CardWebhook) chargeRefunded(ctx context.Context, charge *stripe.Charge) error {
	intentId := ""
	if charge.PaymentIntent != nil {
		intentId = charge.PaymentIntent.ID
	}
	order, err := w.database.GetOrderByPaymentIntent(ctx, intentId)
	if err != nil {
		w.count("charge.refunded", "error")
		return fmt.Errorf("%w: get order by intent: %v", ErrPersistence, err)
	}
	if order == nil {
		w.count("charge.refunded", "ignored")
		w.logger.Warn(fmt.Sprintf("refunded charge %s has no matching order", secret(charge.ID)))
		return nil
	}
	if err = w.database.MarkRefund(ctx, order.Order, int(charge.AmountRefunded)); err != nil {
		w.count("charge.refunded", "error")
		return fmt.Errorf("%w: mark refund %s: %v", ErrPersistence, order.Order, err)
	}
	w.count("charge.refunded", "refunded")
	w.logger.Info(fmt.Sprintf("order %s refunded %d by card processor", order.Order, charge.AmountRefunded))
	return nil
}

func (w *CardWebhook) cancelIntent(id string) {
	if w.client == nil {
		w.logger.Warn("no api client configured, intent left to expire")
		return
	}
	if _, err := w.client.PaymentIntents.Cancel(id, &stripe.PaymentIntentCancelParams{}); err != nil {
		w.logger.Error(fmt.Sprintf("cancel intent %s", secret(id)), err)
	}
}

func (w *CardWebhook) sendConfirmation(order *entity.Order) {
	if w.mailer == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("panic in mailer", fmt.Errorf("panic: %v", r))
			}
		}()
		if err := w.mailer.SendPaymentConfirmation(order); err != nil {
			w.logger.Error(fmt.Sprintf("send mail for order %s", order.Order), err)
		}
	}()
}

func (w *CardWebhook) count(eventType, result string) {
	if w.metrics != nil {
		w.metrics.WebhookEvents.WithLabelValues(eventType, result).Inc()
	}
}

// cardFingerprint digs the card fingerprint out of the expanded latest
// charge; events without one return "".
func cardFingerprint(intent *stripe.PaymentIntent) string {
	if intent.LatestCharge == nil || intent.LatestCharge.PaymentMethodDetails == nil {
		return ""
	}
	if card := intent.LatestCharge.PaymentMethodDetails.Card; card != nil {
		return card.Fingerprint
	}
	return ""
}

// hashFingerprint makes a fingerprint loggable without exposing the raw
// value: logs carry only its SHA-256.
func hashFingerprint(fingerprint string) string {
	return dongle.Encrypt.FromString(fingerprint).BySha256().ToHexString()
}
