package internal

import (
	"fmt"
	"pedalpay/entity"
	"pedalpay/services"
)

// LogMailer is the default Mailer: it records what would have been sent.
// Real delivery belongs to an external dispatcher behind the same interface.
type LogMailer struct {
	logger services.LogHandler
}

func NewLogMailer(logger services.LogHandler) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPaymentConfirmation(order *entity.Order) error {
	m.logger.Info(fmt.Sprintf("confirmation mail for order %s to %s", order.Order, secret(order.CustomerEmail)))
	return nil
}

func (m *LogMailer) SendPaymentFailed(order *entity.Order) error {
	m.logger.Info(fmt.Sprintf("payment failed mail for order %s to %s", order.Order, secret(order.CustomerEmail)))
	return nil
}
