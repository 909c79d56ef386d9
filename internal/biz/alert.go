package biz

import (
	"context"
	"encoding/json"
	"fmt"

	"flightwatch/internal/broker"
	"flightwatch/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// AlertUsecase evaluates collection results against subscription
// thresholds and emits at most one notification per result.
//
// It sits between the two topics: collection results in, notifications
// out. Malformed results and results for deleted users are poison (they
// will never become processable); everything else that fails is left
// uncommitted for redelivery.
type AlertUsecase struct {
	users         UserManagerRPC
	notifications ResultPublisher
	logger        *log.Helper
}

// NewAlertUsecase creates an alert evaluator.
func NewAlertUsecase(users UserManagerRPC, notifications ResultPublisher, logger log.Logger) *AlertUsecase {
	return &AlertUsecase{
		users:         users,
		notifications: notifications,
		logger:        log.NewHelper(logger),
	}
}

// HandleResult processes one collection-results message.
func (uc *AlertUsecase) HandleResult(ctx context.Context, value []byte) error {
	var result model.CollectionResult
	if err := json.Unmarshal(value, &result); err != nil {
		return fmt.Errorf("%w: unparseable collection result: %v", broker.ErrPoison, err)
	}
	if result.UserEmail == "" || result.AirportICAO == "" {
		return fmt.Errorf("%w: collection result missing user or airport", broker.ErrPoison)
	}

	registered, err := uc.users.VerifyPrincipal(ctx, result.UserEmail)
	if err != nil {
		// Transient: the user-manager may be down. Leave uncommitted.
		return fmt.Errorf("failed to verify principal: %w", err)
	}
	if !registered {
		// The user deleted their account after the result was published.
		// The message can never become deliverable.
		uc.logger.Infow("dropping result for unregistered user",
			"email", result.UserEmail, "airport", result.AirportICAO)
		return fmt.Errorf("%w: user %s is not registered", broker.ErrPoison, result.UserEmail)
	}

	crossed := evaluateThresholds(&result)
	if len(crossed) == 0 {
		uc.logger.Debugw("no threshold crossed",
			"email", result.UserEmail,
			"airport", result.AirportICAO,
			"flights", result.FlightsCount)
		return nil
	}

	notification := buildNotification(&result, crossed)
	if err := uc.notifications.PublishJSON(ctx, notification.Email, notification); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	uc.logger.Infow("alert raised",
		"email", result.UserEmail,
		"airport", result.AirportICAO,
		"flights", result.FlightsCount,
		"thresholds", crossed)
	return nil
}

// evaluateThresholds returns which of the subscription's thresholds the
// flight count crossed. Both can cross in one result only in degenerate
// configurations; the notification reports whatever crossed.
func evaluateThresholds(r *model.CollectionResult) []string {
	var crossed []string
	if r.HighValue != nil && r.FlightsCount > *r.HighValue {
		crossed = append(crossed, "high")
	}
	if r.LowValue != nil && r.FlightsCount < *r.LowValue {
		crossed = append(crossed, "low")
	}
	return crossed
}

// buildNotification renders one email covering every crossed threshold.
func buildNotification(r *model.CollectionResult, crossed []string) *model.Notification {
	subject := fmt.Sprintf("Traffic alert for %s", r.AirportICAO)

	body := fmt.Sprintf("Airport %s recorded %d flights in the monitored window.\n",
		r.AirportICAO, r.FlightsCount)
	for _, c := range crossed {
		switch c {
		case "high":
			body += fmt.Sprintf("Traffic is above your high threshold of %d flights.\n", *r.HighValue)
		case "low":
			body += fmt.Sprintf("Traffic is below your low threshold of %d flights.\n", *r.LowValue)
		}
	}

	return &model.Notification{
		Email:   r.UserEmail,
		Subject: subject,
		Body:    body,
	}
}
