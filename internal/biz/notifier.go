package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flightwatch/internal/broker"
	"flightwatch/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sender delivers one notification to its recipient.
// Implementation is notifier.SMTPSender.
type Sender interface {
	Send(ctx context.Context, n *model.Notification) error
}

var (
	emailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Outbound notification emails, by delivery status.",
	}, []string{"status"})
	lastSendDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "email_last_send_duration_seconds",
		Help: "Duration of the most recent email delivery attempt.",
	})
)

// NotifierUsecase consumes notifications and delivers them over SMTP.
type NotifierUsecase struct {
	sender Sender
	logger *log.Helper

	// now is swappable for tests.
	now func() time.Time
}

// NewNotifierUsecase creates a notification deliverer.
func NewNotifierUsecase(sender Sender, logger log.Logger) *NotifierUsecase {
	return &NotifierUsecase{
		sender: sender,
		logger: log.NewHelper(logger),
		now:    time.Now,
	}
}

// HandleNotification processes one notifications-topic message.
// Delivery failures are left uncommitted: the message is redelivered and
// the email is retried. A duplicate email on redelivery is the accepted
// cost of never losing one.
func (uc *NotifierUsecase) HandleNotification(ctx context.Context, value []byte) error {
	var n model.Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return fmt.Errorf("%w: unparseable notification: %v", broker.ErrPoison, err)
	}
	if n.Email == "" {
		return fmt.Errorf("%w: notification has no recipient", broker.ErrPoison)
	}

	start := uc.now()
	err := uc.sender.Send(ctx, &n)
	lastSendDuration.Set(time.Since(start).Seconds())

	if err != nil {
		emailsSent.WithLabelValues("failure").Inc()
		uc.logger.Errorw("failed to send notification",
			"email", n.Email, "error", err)
		return fmt.Errorf("failed to send notification: %w", err)
	}

	emailsSent.WithLabelValues("success").Inc()
	uc.logger.Infow("notification delivered", "email", n.Email, "subject", n.Subject)
	return nil
}
