package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"pedalpay/config"
	"pedalpay/entity"
	"pedalpay/services"

	"github.com/julienschmidt/httprouter"
)

const (
	paymentRedirect = "/api/payment/redirect"
	returnByOrder   = "/api/return/order/:order_id"
	paymentNotify   = "/payment/notify"
	paymentSuccess  = "/payment/success"
	paymentFailure  = "/payment/failure"
	cardWebhook     = "/webhook/card"
	metricsPath     = "/metrics"
	apiLog          = "/api/log"
)

type Server struct {
	conf        *config.Config
	httpServer  *http.Server
	payments    services.Payments
	cardHandler *CardWebhook
	database    services.Database
	metrics     *Metrics
	logger      services.LogHandler
}

func NewServer(conf *config.Config) *Server {

	server := Server{
		conf: conf,
	}

	// register itself as a router for httpServer handler
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler: router,
	}

	return &server
}

func (s *Server) Register(router *httprouter.Router) {
	router.POST(paymentRedirect, s.paymentRedirect)
	router.POST(returnByOrder, s.returnOrder)
	router.POST(paymentNotify, s.paymentNotify)
	router.GET(paymentSuccess, s.paymentReturn)
	router.GET(paymentFailure, s.paymentReturn)
	router.POST(cardWebhook, s.cardWebhook)
	router.GET(metricsPath, s.metricsHandler)
	router.GET(apiLog, s.readLog)
}

func (s *Server) SetPaymentsService(payments services.Payments) {
	s.payments = payments
}

func (s *Server) SetCardWebhook(handler *CardWebhook) {
	s.cardHandler = handler
}

func (s *Server) SetDatabase(database services.Database) {
	s.database = database
}

func (s *Server) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

func (s *Server) SetLogger(logger services.LogHandler) {
	s.logger = logger
}

func (s *Server) Start() error {
	if s.conf == nil {
		return fmt.Errorf("%w: configuration not loaded", ErrConfiguration)
	}

	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	if s.conf.Listen.TLS {
		s.logger.Info(fmt.Sprintf("starting https TLS on %s", serverAddress))
		err = s.httpServer.ServeTLS(listener, s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	} else {
		s.logger.Info(fmt.Sprintf("starting http on %s", serverAddress))
		err = s.httpServer.Serve(listener)
	}

	return err
}

// paymentRedirect composes the signed auto-submit form fields for a redirect
// payment. Validation failures are reported back with the sentinel name only;
// response bodies never carry secrets or derived keys.
func (s *Server) paymentRedirect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := WithRequestID(r.Context())
	reqID := GetRequestID(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment redirect: read request body", reqID), err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var request entity.RedirectRequest
	if err = json.Unmarshal(body, &request); err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment redirect: decode request body", reqID), err)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	form, err := s.payments.CreateRedirectRequest(ctx, &request)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment redirect: order %s", reqID, request.Order), err)
		switch {
		case errors.Is(err, ErrInvalidAmount):
			s.writeError(w, http.StatusBadRequest, ErrInvalidAmount.Error())
		case errors.Is(err, ErrInvalidOrderId):
			s.writeError(w, http.StatusBadRequest, ErrInvalidOrderId.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, "payment request failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(form); err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment redirect: encode response", reqID), err)
	}
}

// paymentNotify is the gateway's server-to-server callback. It answers 2xx
// only after the order update has committed; any rejection is a generic
// non-2xx without detail, so the response can't be used as a signing oracle.
func (s *Server) paymentNotify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := WithRequestID(r.Context())
	reqID := GetRequestID(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment notify: get body", reqID), err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	err = s.payments.Notify(ctx, body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment notify: process body", reqID), err)
		switch {
		case errors.Is(err, ErrMalformedNotification), errors.Is(err, ErrSignatureMismatch):
			s.writeError(w, http.StatusBadRequest, "notification rejected")
		default:
			// non-2xx so the gateway retries
			s.writeError(w, http.StatusInternalServerError, "notification not applied")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// paymentReturn serves the browser landing pages. Gateway parameters found in
// the query string are re-verified before any of their content is rendered;
// query-string content is never trusted blindly.
func (s *Server) paymentReturn(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	parameters := query.Get("Ds_MerchantParameters")
	signature := query.Get("Ds_Signature")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if parameters == "" && signature == "" {
		if r.URL.Path == paymentFailure {
			fmt.Fprintln(w, "The payment was not completed.")
			return
		}
		fmt.Fprintln(w, "Thank you, your reservation is being confirmed.")
		return
	}

	result, ok := s.payments.VerifyReturn(parameters, signature)
	if !ok {
		s.logger.Warn("return page called with unverifiable parameters")
		fmt.Fprintln(w, "The payment result could not be verified.")
		return
	}

	if r.URL.Path == paymentSuccess && authorizationApproved(result.Response) {
		fmt.Fprintf(w, "Payment for order %s was approved. A confirmation is on its way.\n", result.Order)
		return
	}
	fmt.Fprintf(w, "Payment for order %s was not completed (code %s).\n", result.Order, result.Response)
}

func (s *Server) returnOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx := WithRequestID(r.Context())
	reqID := GetRequestID(ctx)

	orderId := ps.ByName("order_id")
	if orderId == "" {
		s.logger.Warn(fmt.Sprintf("[%s] return order: empty order id", reqID))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] return order: read request body", reqID), err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var refund struct {
		Amount int `json:"amount"`
	}
	if err = json.Unmarshal(body, &refund); err != nil {
		s.logger.Error(fmt.Sprintf("[%s] return order: decode request body", reqID), err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.logger.Info(fmt.Sprintf("[%s] processing request: return order %s, amount %d", reqID, orderId, refund.Amount))
	err = s.payments.ReturnByOrder(ctx, orderId, refund.Amount)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] return order %s", reqID, orderId), err)
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidOrderId):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, "refund failed")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) cardWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := WithRequestID(r.Context())
	reqID := GetRequestID(ctx)

	if s.cardHandler == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] card webhook: get body", reqID), err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	err = s.cardHandler.HandleEvent(ctx, body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] card webhook: process event", reqID), err)
		switch {
		case errors.Is(err, ErrSignatureMismatch), errors.Is(err, ErrMalformedNotification):
			s.writeError(w, http.StatusBadRequest, "event rejected")
		default:
			s.writeError(w, http.StatusInternalServerError, "event not applied")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) readLog(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.database == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	messages, err := s.database.ReadLog(r.Context())
	if err != nil {
		s.logger.Error("read log", err)
		s.writeError(w, http.StatusInternalServerError, "log unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(messages); err != nil {
		s.logger.Error("read log: encode response", err)
	}
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
