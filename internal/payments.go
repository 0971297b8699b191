package internal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"pedalpay/config"
	"pedalpay/entity"
	"pedalpay/services"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Payments handles payment processing with the redirect gateway.
// It uses fine-grained locking per order to allow concurrent operations
// while preventing race conditions.
type Payments struct {
	conf       *config.Config
	database   services.Database
	logger     services.LogHandler
	mailer     services.Mailer
	metrics    *Metrics
	locks      sync.Map // map[string]*sync.Mutex for per-order locking
	requestUrl string
	formUrl    string
	httpClient *http.Client
}

// NewPayments creates a new payment processing service with configured HTTP client.
// The HTTP client includes timeouts and connection pooling for reliable external API calls.
func NewPayments(config *config.Config) *Payments {
	return &Payments{
		conf:       config,
		requestUrl: config.Merchant.RequestUrl,
		formUrl:    config.Merchant.FormUrl,
		locks:      sync.Map{},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
	}
}

// lockOrder acquires a lock for a specific order to prevent concurrent
// modifications. This allows multiple different orders to be processed in
// parallel while ensuring safety for operations on the same order.
func (p *Payments) lockOrder(order string) *sync.Mutex {
	value, _ := p.locks.LoadOrStore(order, &sync.Mutex{})
	mutex := value.(*sync.Mutex)
	mutex.Lock()
	return mutex
}

// unlockOrder releases the lock for an order and cleans up the mutex
// from the map to prevent memory leaks.
func (p *Payments) unlockOrder(order string, mutex *sync.Mutex) {
	mutex.Unlock()
	p.locks.Delete(order)
}

func (p *Payments) SetDatabase(database services.Database) {
	p.database = database
}

func (p *Payments) SetMailer(mailer services.Mailer) {
	p.mailer = mailer
}

func (p *Payments) SetMetrics(metrics *Metrics) {
	p.metrics = metrics
}

func (p *Payments) SetLogger(logger services.LogHandler) {
	p.logger = logger
	if p.conf.DisablePayment {
		p.logger.Warn("service disabled")
	} else {
		p.logger.Info("service enabled")
	}
}

// CreateRedirectRequest builds and signs the form fields for a browser
// redirect payment. A payment attempt record is written before returning so
// that the notification arriving later has a matching local record; the
// order's authoritative status is not touched here.
func (p *Payments) CreateRedirectRequest(ctx context.Context, request *entity.RedirectRequest) (*entity.PaymentForm, error) {
	if p.conf.DisablePayment {
		return nil, fmt.Errorf("%w: payment service disabled", ErrConfiguration)
	}
	if p.conf.Merchant.Secret == "" || p.conf.Merchant.Code == "" || p.conf.Merchant.Terminal == "" {
		return nil, fmt.Errorf("%w: merchant not configured", ErrConfiguration)
	}

	parameters, err := BuildMerchantParameters(p.conf, request)
	if err != nil {
		return nil, err
	}

	mutex := p.lockOrder(parameters.Order)
	defer p.unlockOrder(parameters.Order, mutex)

	signed, err := p.newRequest(parameters)
	if err != nil {
		return nil, err
	}

	amount, _ := strconv.Atoi(parameters.Amount)
	attempt := &entity.PaymentAttempt{
		AttemptId:   uuid.NewString(),
		Order:       parameters.Order,
		Gateway:     entity.GatewayRedirect,
		Amount:      amount,
		Currency:    parameters.Currency,
		Description: parameters.ProductDescription,
		TimeCreated: time.Now(),
	}
	if err = p.database.SavePaymentAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("%w: save payment attempt: %v", ErrPersistence, err)
	}
	p.recordAttempt(ctx, attempt)
	p.logger.Info(fmt.Sprintf("redirect request: order %s; amount %s", parameters.Order, parameters.Amount))

	return &entity.PaymentForm{
		Url:              p.formUrl,
		Parameters:       signed.Parameters,
		Signature:        signed.Signature,
		SignatureVersion: signed.SignatureVersion,
	}, nil
}

// Notify processes a payment notification from the gateway. This is the trust
// boundary of the whole service: nothing in the payload is believed before
// the signature is recomputed from the order number the payload itself
// carries. The order update commits before this method returns, so the
// HTTP handler answers 2xx only for applied notifications.
func (p *Payments) Notify(ctx context.Context, data []byte) error {

	params, err := url.ParseQuery(string(data))
	if err != nil {
		return fmt.Errorf("%w: parse query: %v", ErrMalformedNotification, err)
	}

	notification := entity.PaymentRequest{
		SignatureVersion: params.Get("Ds_SignatureVersion"),
		Parameters:       params.Get("Ds_MerchantParameters"),
		Signature:        params.Get("Ds_Signature"),
	}
	if notification.Parameters == "" || notification.Signature == "" {
		p.count("malformed")
		return fmt.Errorf("%w: missing parameters or signature", ErrMalformedNotification)
	}

	result, err := p.readParameters(notification.Parameters)
	if err != nil {
		p.count("malformed")
		return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	// the order number used for key derivation comes from the decoded
	// payload, never from a separate untrusted field
	encryptor := NewEncryptor(p.conf.Merchant.Secret, notification.Parameters, result.Order, EncodingURLSafe)
	if !encryptor.VerifySignature(notification.Signature) {
		p.count("signature_mismatch")
		if p.metrics != nil {
			p.metrics.SignatureFailures.Inc()
		}
		p.logger.Warn(fmt.Sprintf("signature mismatch for order %s", result.Order))
		return ErrSignatureMismatch
	}

	return p.processResponse(ctx, result)
}

// VerifyReturn re-verifies signed gateway parameters found on a browser
// landing page URL. Landing pages never display gateway-supplied content from
// an unverified payload.
func (p *Payments) VerifyReturn(parameters string, signature string) (*entity.PaymentParameters, bool) {
	if parameters == "" || signature == "" {
		return nil, false
	}
	result, err := p.readParameters(parameters)
	if err != nil {
		return nil, false
	}
	encryptor := NewEncryptor(p.conf.Merchant.Secret, parameters, result.Order, EncodingURLSafe)
	if !encryptor.VerifySignature(signature) {
		return nil, false
	}
	return result, true
}

// ReturnByOrder submits a refund for a completed order through the gateway's
// REST endpoint. Uses per-order locking to allow concurrent refund operations.
func (p *Payments) ReturnByOrder(ctx context.Context, orderId string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount to return is %d", ErrInvalidAmount, amount)
	}
	if p.database == nil {
		return fmt.Errorf("%w: database not set", ErrConfiguration)
	}
	order, err := NormalizeOrder(orderId)
	if err != nil {
		return err
	}

	mutex := p.lockOrder(order)
	defer p.unlockOrder(order, mutex)

	stored, err := p.database.GetOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("%w: get order: %v", ErrPersistence, err)
	}
	if stored.PaymentStatus != entity.PaymentCompleted && stored.PaymentStatus != entity.PaymentRefunded {
		return fmt.Errorf("order %s is not paid", order)
	}
	if stored.Amount-stored.RefundAmount < amount {
		return fmt.Errorf("%w: order %s refundable amount is %d, requested %d",
			ErrInvalidAmount, order, stored.Amount-stored.RefundAmount, amount)
	}

	parameters := &entity.MerchantParameters{
		Amount:          fmt.Sprintf("%d", amount),
		Order:           order,
		MerchantCode:    p.conf.Merchant.Code,
		Currency:        currencyEUR,
		TransactionType: typeRefund,
		Terminal:        p.conf.Merchant.Terminal,
	}

	request, err := p.newRequest(parameters)
	if err != nil {
		p.logger.Error("return by order: create request", err)
		return err
	}

	attempt := &entity.PaymentAttempt{
		AttemptId:   uuid.NewString(),
		Order:       order,
		Gateway:     entity.GatewayRedirect,
		Amount:      amount,
		Currency:    currencyEUR,
		Description: "refund",
		TimeCreated: time.Now(),
	}
	if err = p.database.SavePaymentAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("%w: save payment attempt: %v", ErrPersistence, err)
	}
	p.recordAttempt(ctx, attempt)

	// Process refund request asynchronously with timeout
	go p.processRequestWithTimeout(context.WithoutCancel(ctx), request)

	return nil
}

// recordAttempt appends the attempt to the order document when the order
// already exists. The storefront may persist the order after composing the
// payment, so a missing order is not an error here; the attempt itself is
// always in the attempts collection.
func (p *Payments) recordAttempt(ctx context.Context, attempt *entity.PaymentAttempt) {
	order, err := p.database.GetOrder(ctx, attempt.Order)
	if err != nil {
		p.logger.Debug(fmt.Sprintf("attempt %s: order %s not stored yet", attempt.AttemptId, attempt.Order))
		return
	}
	order.AddAttempt(*attempt)
	if err = p.database.SaveOrder(ctx, order); err != nil {
		p.logger.Error(fmt.Sprintf("record attempt on order %s", attempt.Order), err)
	}
}

func (p *Payments) newRequest(parameters *entity.MerchantParameters) (*entity.PaymentRequest, error) {
	// encode parameters to Base64
	parametersBase64, err := p.createParameters(parameters)
	if err != nil {
		return nil, fmt.Errorf("parameters encode base64: %v", err)
	}

	encryptor := NewEncryptor(p.conf.Merchant.Secret, parametersBase64, parameters.Order, EncodingStandard)
	signature, err := encryptor.CreateSignature()
	if err != nil {
		return nil, fmt.Errorf("create signature: %w", err)
	}

	request := &entity.PaymentRequest{
		Parameters:       parametersBase64,
		Signature:        signature,
		SignatureVersion: entity.SignatureVersion,
	}

	return request, nil
}

func (p *Payments) createParameters(parameters *entity.MerchantParameters) (string, error) {
	// convert parameters to JSON string
	parametersJson, err := json.Marshal(parameters)
	if err != nil {
		return "", err
	}
	p.logger.Debug(fmt.Sprintf("request parameters: %s", string(parametersJson)))
	// encode parameters to Base64
	return base64.StdEncoding.EncodeToString(parametersJson), nil
}

// processRequestWithTimeout wraps processRequest with timeout and panic recovery.
// This ensures goroutines don't hang indefinitely and panics are logged.
func (p *Payments) processRequestWithTimeout(parentCtx context.Context, request *entity.PaymentRequest) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in processRequest", fmt.Errorf("panic: %v", r))
		}
	}()

	// Create context with timeout for external API call
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	p.processRequest(ctx, request)
}

// processRequest sends a payment request to the gateway REST endpoint and
// processes the response. This runs in a goroutine to avoid blocking the
// HTTP handler. The context should have a timeout to prevent hanging.
func (p *Payments) processRequest(ctx context.Context, request *entity.PaymentRequest) {
	requestData, err := json.Marshal(request)
	if err != nil {
		p.logger.Error("create request", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.requestUrl, bytes.NewBuffer(requestData))
	if err != nil {
		p.logger.Error("create http request", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Error("request timeout or cancelled", ctx.Err())
		} else {
			p.logger.Error("post request", err)
		}
		return
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			p.logger.Error("close response body", err)
		}
	}(response.Body)

	body, err := io.ReadAll(response.Body)
	if err != nil {
		p.logger.Error("read response body", err)
		return
	}

	paymentResult, err := p.readResponse(body)
	if err != nil {
		// check if we have an error response from the gateway
		code, e := p.checkErrorResponse(body)
		if e != nil {
			p.logger.Warn(fmt.Sprintf("unrecognized response: %s", string(body)))
		} else {
			p.logger.Warn(fmt.Sprintf("response error code: %s", code))
		}
		return
	}

	if err = p.processResponse(ctx, paymentResult); err != nil {
		p.logger.Error("process response", err)
	}
}

func (p *Payments) readResponse(body []byte) (*entity.PaymentParameters, error) {
	var paymentResponse entity.PaymentRequest
	err := json.Unmarshal(body, &paymentResponse)
	if err != nil {
		return nil, fmt.Errorf("parse response: %v", err)
	}
	return p.readParameters(paymentResponse.Parameters)
}

func (p *Payments) checkErrorResponse(responseBody []byte) (string, error) {
	var errorCode entity.ErrorCodeResponse
	err := json.Unmarshal(responseBody, &errorCode)
	if err != nil {
		return "", err
	}
	return errorCode.Code, nil
}

func (p *Payments) readParameters(parameters string) (*entity.PaymentParameters, error) {
	if parameters == "" {
		return nil, fmt.Errorf("empty parameters")
	}
	parametersBytes, err := decodePayload(parameters)
	if err != nil {
		return nil, fmt.Errorf("decode parameters: %v", err)
	}
	var paymentResult entity.PaymentParameters
	err = json.Unmarshal(parametersBytes, &paymentResult)
	if err != nil {
		p.logger.Warn(fmt.Sprintf("parameters: %s", string(parametersBytes)))
		return nil, fmt.Errorf("parse parameters: %v", err)
	}
	if paymentResult.Order == "" {
		return nil, fmt.Errorf("parameters carry no order number")
	}
	p.logger.Debug(fmt.Sprintf("received parameters: %s", string(parametersBytes)))
	return &paymentResult, nil
}

// decodePayload decodes a base64 payload that may arrive with either
// alphabet depending on the gateway endpoint that produced it.
func decodePayload(parameters string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(parameters)
	if err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(parameters)
}

// processResponse applies one verified payment result to the stored order.
// The response code allow-list decides the outcome: codes outside it,
// including unknown ones, are failures.
func (p *Payments) processResponse(ctx context.Context, paymentResult *entity.PaymentParameters) error {
	// Add timeout for database operations if not already set
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	p.logger.Info(fmt.Sprintf("response: type: %s; result: %s; order: %s; amount: %s",
		paymentResult.TransactionType, paymentResult.Response, paymentResult.Order, paymentResult.Amount))

	// audit trail; failure to audit never blocks the payment transition
	if err := p.database.SavePaymentResult(ctx, paymentResult); err != nil {
		p.logger.Error("save payment result", err)
	}

	amount, err := strconv.Atoi(paymentResult.Amount)
	if err != nil {
		p.count("malformed")
		return fmt.Errorf("%w: read amount: %v", ErrMalformedNotification, err)
	}

	if paymentResult.TransactionType == typeRefund {
		return p.applyRefund(ctx, paymentResult, amount)
	}

	if !authorizationApproved(paymentResult.Response) {
		return p.applyFailure(ctx, paymentResult)
	}
	return p.applySuccess(ctx, paymentResult, amount)
}

func (p *Payments) applySuccess(ctx context.Context, result *entity.PaymentParameters, amount int) error {
	order, err := p.database.GetOrder(ctx, result.Order)
	if err != nil {
		p.count("unknown_order")
		return fmt.Errorf("%w: get order %s: %v", ErrPersistence, result.Order, err)
	}
	if order.Amount != amount {
		p.logger.Warn(fmt.Sprintf("order %s amount mismatch: stored %d, notified %d", result.Order, order.Amount, amount))
	}
	if !order.IsPending() {
		p.count("duplicate")
		p.logger.Info(fmt.Sprintf("order %s already closed, notification ignored", result.Order))
		return nil
	}

	confirmed, err := p.database.ConfirmOrder(ctx, result.Order, result.AuthorisationCode)
	if err != nil {
		return fmt.Errorf("%w: confirm order %s: %v", ErrPersistence, result.Order, err)
	}
	if !confirmed {
		// duplicate delivery; the final state is already applied
		p.count("duplicate")
		p.logger.Info(fmt.Sprintf("order %s already closed, notification ignored", result.Order))
		return nil
	}

	p.count("confirmed")
	if p.metrics != nil {
		p.metrics.PaymentsConfirmed.Inc()
	}
	p.logger.Info(fmt.Sprintf("order %s confirmed, auth code %s", result.Order, result.AuthorisationCode))

	order.Status = entity.StatusConfirmed
	order.PaymentStatus = entity.PaymentCompleted
	order.AuthCode = result.AuthorisationCode
	p.sendMail(order, true)
	return nil
}

func (p *Payments) applyFailure(ctx context.Context, result *entity.PaymentParameters) error {
	cancelled, err := p.database.CancelOrder(ctx, result.Order, entity.PaymentFailed)
	if err != nil {
		return fmt.Errorf("%w: cancel order %s: %v", ErrPersistence, result.Order, err)
	}
	if !cancelled {
		p.count("duplicate")
		p.logger.Info(fmt.Sprintf("order %s already closed, failure notification ignored", result.Order))
		return nil
	}
	p.count("failed")
	p.logger.Warn(fmt.Sprintf("order %s payment failed with code %s", result.Order, result.Response))

	if order, e := p.database.GetOrder(ctx, result.Order); e == nil {
		p.sendMail(order, false)
	}
	return nil
}

func (p *Payments) applyRefund(ctx context.Context, result *entity.PaymentParameters, amount int) error {
	if result.Response != refundApproved {
		p.count("failed")
		p.logger.Warn(fmt.Sprintf("order %s refund failed with code %s", result.Order, result.Response))
		return nil
	}
	if err := p.database.MarkRefund(ctx, result.Order, amount); err != nil {
		return fmt.Errorf("%w: mark refund %s: %v", ErrPersistence, result.Order, err)
	}
	p.count("refunded")
	p.logger.Info(fmt.Sprintf("order %s refunded %d", result.Order, amount))
	return nil
}

// sendMail dispatches the outcome email without blocking or failing the
// payment transition. It runs only when the caller just applied the
// transition, so at-least-once notification delivery yields one email.
func (p *Payments) sendMail(order *entity.Order, success bool) {
	if p.mailer == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic in mailer", fmt.Errorf("panic: %v", r))
			}
		}()
		var err error
		if success {
			err = p.mailer.SendPaymentConfirmation(order)
		} else {
			err = p.mailer.SendPaymentFailed(order)
		}
		if err != nil {
			p.logger.Error(fmt.Sprintf("send mail for order %s", order.Order), err)
		}
	}()
}

func (p *Payments) count(result string) {
	if p.metrics != nil {
		p.metrics.Notifications.WithLabelValues(result).Inc()
	}
}

// refundApproved is the single response code confirming a refund.
const refundApproved = "0900"

// authorizationApproved reports whether a response code is in the approved
// range for authorizations ("0000".."0099"). Everything else, including codes
// this service has never seen, is a failure.
func authorizationApproved(code string) bool {
	if len(code) != 4 {
		return false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n >= 0 && n <= 99
}

func secret(some string) string {
	if len(some) > 5 {
		return fmt.Sprintf("%s***", some[0:5])
	}
	if some == "" {
		return "?"
	}
	return "***"
}
