package internal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"pedalpay/entity"
	"pedalpay/services"
	"sync"
	"testing"
	"time"
)

// fakeDatabase is an in-memory services.Database for handler tests.
type fakeDatabase struct {
	mu       sync.Mutex
	orders   map[string]*entity.Order
	attempts []entity.PaymentAttempt
	results  []entity.PaymentParameters
	logs     []entity.LogMessage
	failing  bool
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{orders: make(map[string]*entity.Order)}
}

func (f *fakeDatabase) WriteLogMessage(data services.Data) error {
	if message, ok := data.(*entity.LogMessage); ok {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logs = append(f.logs, *message)
	}
	return nil
}

func (f *fakeDatabase) ReadLog(context.Context) ([]entity.LogMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, fmt.Errorf("storage down")
	}
	return append([]entity.LogMessage(nil), f.logs...), nil
}

func (f *fakeDatabase) GetOrder(_ context.Context, order string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, fmt.Errorf("storage down")
	}
	stored, ok := f.orders[order]
	if !ok {
		return nil, fmt.Errorf("order %s not found", order)
	}
	clone := *stored
	return &clone, nil
}

func (f *fakeDatabase) GetOrderByPaymentIntent(_ context.Context, intentId string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, fmt.Errorf("storage down")
	}
	for _, stored := range f.orders {
		if stored.PaymentIntentId == intentId && intentId != "" {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeDatabase) SaveOrder(_ context.Context, order *entity.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("storage down")
	}
	clone := *order
	f.orders[order.Order] = &clone
	return nil
}

func (f *fakeDatabase) ConfirmOrder(_ context.Context, order string, authCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, fmt.Errorf("storage down")
	}
	stored, ok := f.orders[order]
	if !ok {
		return false, fmt.Errorf("order %s not found", order)
	}
	if stored.Status != entity.StatusPending {
		return false, nil
	}
	stored.Status = entity.StatusConfirmed
	stored.PaymentStatus = entity.PaymentCompleted
	stored.AuthCode = authCode
	stored.TimeClosed = time.Now()
	return true, nil
}

func (f *fakeDatabase) CancelOrder(_ context.Context, order string, paymentStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, fmt.Errorf("storage down")
	}
	stored, ok := f.orders[order]
	if !ok {
		return false, fmt.Errorf("order %s not found", order)
	}
	if stored.Status != entity.StatusPending {
		return false, nil
	}
	stored.Status = entity.StatusCancelled
	stored.PaymentStatus = paymentStatus
	stored.TimeClosed = time.Now()
	return true, nil
}

func (f *fakeDatabase) MarkRefund(_ context.Context, order string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[order]
	if !ok {
		return fmt.Errorf("order %s not found", order)
	}
	stored.PaymentStatus = entity.PaymentRefunded
	stored.RefundAmount += amount
	stored.RefundTime = time.Now()
	return nil
}

func (f *fakeDatabase) SavePaymentAttempt(_ context.Context, attempt *entity.PaymentAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("storage down")
	}
	f.attempts = append(f.attempts, *attempt)
	return nil
}

func (f *fakeDatabase) SavePaymentResult(_ context.Context, parameters *entity.PaymentParameters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, *parameters)
	return nil
}

func (f *fakeDatabase) order(t *testing.T, number string) *entity.Order {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[number]
	if !ok {
		t.Fatalf("order %s not stored", number)
	}
	clone := *stored
	return &clone
}

type fakeLogger struct{}

func (fakeLogger) Debug(string)        {}
func (fakeLogger) Info(string)         {}
func (fakeLogger) Warn(string)         {}
func (fakeLogger) Error(string, error) {}

// fakeMailer counts dispatches; emails are sent fire-and-forget, so tests
// poll it with waitForMail.
type fakeMailer struct {
	mu            sync.Mutex
	confirmations int
	failures      int
}

func (m *fakeMailer) SendPaymentConfirmation(*entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations++
	return nil
}

func (m *fakeMailer) SendPaymentFailed(*entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	return nil
}

func (m *fakeMailer) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmations, m.failures
}

func waitForMail(t *testing.T, m *fakeMailer, confirmations, failures int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c, f := m.counts()
		if c == confirmations && f == failures {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c, f := m.counts()
	t.Fatalf("mail counts = (%d, %d), want (%d, %d)", c, f, confirmations, failures)
}

func newTestPayments(db *fakeDatabase, mailer *fakeMailer) *Payments {
	payments := NewPayments(testConfig())
	payments.SetLogger(fakeLogger{})
	payments.SetDatabase(db)
	payments.SetMetrics(NewMetrics())
	if mailer != nil {
		payments.SetMailer(mailer)
	}
	return payments
}

func pendingOrder(number string, amount int) *entity.Order {
	return &entity.Order{
		Order:         number,
		CustomerEmail: "rider@example.com",
		Amount:        amount,
		Currency:      "978",
		Status:        entity.StatusPending,
		PaymentStatus: entity.PaymentPending,
		TimeCreated:   time.Now(),
	}
}

// notificationBody builds a gateway notification the way the gateway does:
// URL-safe base64 payload signed with the URL-safe alphabet.
func notificationBody(t *testing.T, result *entity.PaymentParameters) string {
	t.Helper()
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	payload := base64.URLEncoding.EncodeToString(data)
	signature, err := NewEncryptor(testSecret, payload, result.Order, EncodingURLSafe).CreateSignature()
	if err != nil {
		t.Fatalf("sign notification: %v", err)
	}
	values := url.Values{}
	values.Set("Ds_SignatureVersion", entity.SignatureVersion)
	values.Set("Ds_MerchantParameters", payload)
	values.Set("Ds_Signature", signature)
	return values.Encode()
}

func TestNotifyConfirmsOrderOnce(t *testing.T) {
	db := newFakeDatabase()
	mailer := &fakeMailer{}
	payments := newTestPayments(db, mailer)
	_ = db.SaveOrder(context.Background(), pendingOrder("000000000001", 3000))

	body := notificationBody(t, &entity.PaymentParameters{
		Order:             "000000000001",
		Amount:            "3000",
		Response:          "0000",
		TransactionType:   "0",
		AuthorisationCode: "181042",
	})

	if err := payments.Notify(context.Background(), []byte(body)); err != nil {
		t.Fatalf("notify: %v", err)
	}

	order := db.order(t, "000000000001")
	if order.Status != entity.StatusConfirmed {
		t.Errorf("status = %q, want %q", order.Status, entity.StatusConfirmed)
	}
	if order.PaymentStatus != entity.PaymentCompleted {
		t.Errorf("payment status = %q, want %q", order.PaymentStatus, entity.PaymentCompleted)
	}
	if order.AuthCode != "181042" {
		t.Errorf("auth code = %q, want %q", order.AuthCode, "181042")
	}
	waitForMail(t, mailer, 1, 0)

	// at-least-once delivery: the same notification again is a no-op
	if err := payments.Notify(context.Background(), []byte(body)); err != nil {
		t.Fatalf("duplicate notify: %v", err)
	}
	order = db.order(t, "000000000001")
	if order.Status != entity.StatusConfirmed {
		t.Errorf("duplicate changed status to %q", order.Status)
	}
	time.Sleep(50 * time.Millisecond)
	waitForMail(t, mailer, 1, 0)
}

func TestNotifyRejectsBadSignature(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)
	_ = db.SaveOrder(context.Background(), pendingOrder("000000000001", 3000))

	body := notificationBody(t, &entity.PaymentParameters{
		Order:           "000000000001",
		Amount:          "3000",
		Response:        "0000",
		TransactionType: "0",
	})
	values, _ := url.ParseQuery(body)
	values.Set("Ds_Signature", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")

	err := payments.Notify(context.Background(), []byte(values.Encode()))
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("want ErrSignatureMismatch, got %v", err)
	}

	order := db.order(t, "000000000001")
	if order.Status != entity.StatusPending {
		t.Errorf("rejected notification mutated order to %q", order.Status)
	}
	if len(db.results) != 0 {
		t.Error("rejected notification was persisted")
	}
}

func TestNotifyRejectsTamperedPayload(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)
	_ = db.SaveOrder(context.Background(), pendingOrder("000000000001", 3000))

	body := notificationBody(t, &entity.PaymentParameters{
		Order:           "000000000001",
		Amount:          "3000",
		Response:        "0180",
		TransactionType: "0",
	})
	values, _ := url.ParseQuery(body)

	// re-encode the payload with a different amount but keep the signature
	forged := &entity.PaymentParameters{
		Order:           "000000000001",
		Amount:          "1",
		Response:        "0000",
		TransactionType: "0",
	}
	data, _ := json.Marshal(forged)
	values.Set("Ds_MerchantParameters", base64.URLEncoding.EncodeToString(data))

	err := payments.Notify(context.Background(), []byte(values.Encode()))
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("want ErrSignatureMismatch, got %v", err)
	}
	if db.order(t, "000000000001").Status != entity.StatusPending {
		t.Error("forged payload mutated the order")
	}
}

func TestNotifyMalformed(t *testing.T) {
	payments := newTestPayments(newFakeDatabase(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"missing signature", "Ds_MerchantParameters=eyJ9"},
		{"missing parameters", "Ds_Signature=abc"},
		{"payload not base64", "Ds_MerchantParameters=%%%&Ds_Signature=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := payments.Notify(context.Background(), []byte(tt.body))
			if !errors.Is(err, ErrMalformedNotification) {
				t.Fatalf("want ErrMalformedNotification, got %v", err)
			}
		})
	}
}

func TestNotifyFailureCodeCancelsOrder(t *testing.T) {
	db := newFakeDatabase()
	mailer := &fakeMailer{}
	payments := newTestPayments(db, mailer)
	_ = db.SaveOrder(context.Background(), pendingOrder("000000000002", 4500))

	body := notificationBody(t, &entity.PaymentParameters{
		Order:           "000000000002",
		Amount:          "4500",
		Response:        "0190",
		TransactionType: "0",
	})
	if err := payments.Notify(context.Background(), []byte(body)); err != nil {
		t.Fatalf("notify: %v", err)
	}

	order := db.order(t, "000000000002")
	if order.Status != entity.StatusCancelled {
		t.Errorf("status = %q, want %q", order.Status, entity.StatusCancelled)
	}
	if order.PaymentStatus != entity.PaymentFailed {
		t.Errorf("payment status = %q, want %q", order.PaymentStatus, entity.PaymentFailed)
	}
	waitForMail(t, mailer, 0, 1)
}

func TestNotifyUnknownCodeIsFailure(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)
	_ = db.SaveOrder(context.Background(), pendingOrder("000000000003", 1000))

	// a code this service has never seen must not be treated as success
	body := notificationBody(t, &entity.PaymentParameters{
		Order:           "000000000003",
		Amount:          "1000",
		Response:        "9915",
		TransactionType: "0",
	})
	if err := payments.Notify(context.Background(), []byte(body)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if db.order(t, "000000000003").Status != entity.StatusCancelled {
		t.Error("unknown response code did not cancel the order")
	}
}

func TestNotifyPersistenceFailure(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)
	_ = db.SaveOrder(context.Background(), pendingOrder("000000000001", 3000))
	db.failing = true

	body := notificationBody(t, &entity.PaymentParameters{
		Order:           "000000000001",
		Amount:          "3000",
		Response:        "0000",
		TransactionType: "0",
	})
	err := payments.Notify(context.Background(), []byte(body))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("want ErrPersistence so the gateway retries, got %v", err)
	}
}

func TestNotifyRefund(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)
	order := pendingOrder("000000000009", 3000)
	order.Status = entity.StatusConfirmed
	order.PaymentStatus = entity.PaymentCompleted
	_ = db.SaveOrder(context.Background(), order)

	body := notificationBody(t, &entity.PaymentParameters{
		Order:           "000000000009",
		Amount:          "3000",
		Response:        "0900",
		TransactionType: "3",
	})
	if err := payments.Notify(context.Background(), []byte(body)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	stored := db.order(t, "000000000009")
	if stored.PaymentStatus != entity.PaymentRefunded {
		t.Errorf("payment status = %q, want %q", stored.PaymentStatus, entity.PaymentRefunded)
	}
	if stored.RefundAmount != 3000 {
		t.Errorf("refund amount = %d, want 3000", stored.RefundAmount)
	}
}

func TestCreateRedirectRequest(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)

	form, err := payments.CreateRedirectRequest(context.Background(), &entity.RedirectRequest{
		Order:       "1",
		Amount:      30.00,
		Locale:      "en",
		Description: "City bike, 2 days",
	})
	if err != nil {
		t.Fatalf("create redirect request: %v", err)
	}

	if form.Url != testConfig().Merchant.FormUrl {
		t.Errorf("form url = %q", form.Url)
	}
	if form.SignatureVersion != entity.SignatureVersion {
		t.Errorf("signature version = %q", form.SignatureVersion)
	}

	// the form must carry exactly what verifies against the shared secret
	data, err := base64.StdEncoding.DecodeString(form.Parameters)
	if err != nil {
		t.Fatalf("decode parameters: %v", err)
	}
	var parameters entity.MerchantParameters
	if err = json.Unmarshal(data, &parameters); err != nil {
		t.Fatalf("unmarshal parameters: %v", err)
	}
	if parameters.Amount != "3000" || parameters.Order != "000000000001" {
		t.Errorf("parameters = %+v", parameters)
	}
	if !NewEncryptor(testSecret, form.Parameters, parameters.Order, EncodingStandard).VerifySignature(form.Signature) {
		t.Error("form signature does not verify")
	}

	if len(db.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(db.attempts))
	}
	attempt := db.attempts[0]
	if attempt.Order != "000000000001" || attempt.Amount != 3000 || attempt.Gateway != entity.GatewayRedirect {
		t.Errorf("attempt = %+v", attempt)
	}
	if attempt.AttemptId == "" {
		t.Error("attempt has no id")
	}
}

func TestCreateRedirectRequestRecordsAttemptOnOrder(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)
	_ = db.SaveOrder(context.Background(), pendingOrder("000000000008", 3000))

	_, err := payments.CreateRedirectRequest(context.Background(), &entity.RedirectRequest{Order: "8", Amount: 30.00})
	if err != nil {
		t.Fatalf("create redirect request: %v", err)
	}

	order := db.order(t, "000000000008")
	if len(order.Attempts) != 1 {
		t.Fatalf("order attempts = %d, want 1", len(order.Attempts))
	}
	if order.Attempts[0].Order != "000000000008" || order.Attempts[0].Amount != 3000 {
		t.Errorf("attempt = %+v", order.Attempts[0])
	}
	if order.Attempts[0].AttemptId != db.attempts[0].AttemptId {
		t.Error("order attempt does not match the persisted attempt record")
	}

	// a retried redirect adds a second attempt without touching the first
	_, err = payments.CreateRedirectRequest(context.Background(), &entity.RedirectRequest{Order: "8", Amount: 30.00})
	if err != nil {
		t.Fatalf("second redirect request: %v", err)
	}
	order = db.order(t, "000000000008")
	if len(order.Attempts) != 2 {
		t.Errorf("order attempts = %d, want 2", len(order.Attempts))
	}
	if order.Status != entity.StatusPending {
		t.Errorf("recording attempts changed status to %q", order.Status)
	}
}

func TestCreateRedirectRequestValidation(t *testing.T) {
	payments := newTestPayments(newFakeDatabase(), nil)

	_, err := payments.CreateRedirectRequest(context.Background(), &entity.RedirectRequest{Order: "1", Amount: 0})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("want ErrInvalidAmount, got %v", err)
	}
	_, err = payments.CreateRedirectRequest(context.Background(), &entity.RedirectRequest{Order: "abc", Amount: 10})
	if !errors.Is(err, ErrInvalidOrderId) {
		t.Errorf("want ErrInvalidOrderId, got %v", err)
	}
}

func TestVerifyReturn(t *testing.T) {
	payments := newTestPayments(newFakeDatabase(), nil)

	result := &entity.PaymentParameters{
		Order:           "000000000001",
		Amount:          "3000",
		Response:        "0000",
		TransactionType: "0",
	}
	body := notificationBody(t, result)
	values, _ := url.ParseQuery(body)

	decoded, ok := payments.VerifyReturn(values.Get("Ds_MerchantParameters"), values.Get("Ds_Signature"))
	if !ok {
		t.Fatal("signed return parameters did not verify")
	}
	if decoded.Order != result.Order || decoded.Response != result.Response {
		t.Errorf("decoded = %+v", decoded)
	}

	if _, ok = payments.VerifyReturn(values.Get("Ds_MerchantParameters"), "AAAA"); ok {
		t.Error("forged return signature verified")
	}
	if _, ok = payments.VerifyReturn("", ""); ok {
		t.Error("empty return parameters verified")
	}
}

func TestReturnByOrderValidation(t *testing.T) {
	db := newFakeDatabase()
	payments := newTestPayments(db, nil)

	order := pendingOrder("000000000005", 3000)
	order.Status = entity.StatusConfirmed
	order.PaymentStatus = entity.PaymentCompleted
	_ = db.SaveOrder(context.Background(), order)

	if err := payments.ReturnByOrder(context.Background(), "5", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: want ErrInvalidAmount, got %v", err)
	}
	if err := payments.ReturnByOrder(context.Background(), "5", 5000); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("excessive amount: want ErrInvalidAmount, got %v", err)
	}

	unpaid := pendingOrder("000000000006", 3000)
	_ = db.SaveOrder(context.Background(), unpaid)
	if err := payments.ReturnByOrder(context.Background(), "6", 100); err == nil {
		t.Error("refund of an unpaid order accepted")
	}
}
