package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundCreated     = "refund.created"
)

type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity Refund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
}

// HandleWebhook authenticates body against signature before decoding it, then
// reconciles the correlated order. Every state change is a no-op when the
// order already reflects it, so redelivered events are harmless. Events for
// orders this service does not know are acknowledged. Without a webhook
// secret every delivery is refused.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.opts.WebhookSecret == "" {
		s.log.ErrorContext(ctx, "webhook received but no webhook secret is configured")
		return ErrWebhookNotConfigured
	}
	if !VerifyWebhookSignature(s.opts.WebhookSecret, body, signature) {
		s.log.WarnContext(ctx, "webhook signature mismatch")
		return ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.Invalid("body", "webhook body must be a JSON object")
	}

	log := s.log.With(slog.String("event", event.Event))
	log.InfoContext(ctx, "webhook received")

	var err error
	switch event.Event {
	case EventPaymentAuthorized:
		p := event.Payload.Payment.Entity
		log.InfoContext(ctx, "payment authorized",
			slog.String("razorpay_order_id", p.OrderID), slog.String("razorpay_payment_id", p.ID))
	case EventPaymentCaptured:
		err = s.reconcileCaptured(ctx, log, event.Payload.Payment.Entity)
	case EventPaymentFailed:
		err = s.reconcileFailed(ctx, log, event.Payload.Payment.Entity)
	case EventRefundCreated:
		err = s.reconcileRefund(ctx, log, event.Payload.Refund.Entity)
	default:
		log.InfoContext(ctx, "unhandled webhook event")
	}

	if errors.Is(err, database.ErrOrderNotFound) {
		log.WarnContext(ctx, "webhook for unknown order")
		return nil
	}
	return err
}

func (s *Service) reconcileCaptured(ctx context.Context, log *slog.Logger, p PaymentEntity) error {
	order, err := s.orders.GetOrderByRazorpayOrderID(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if models.PaymentSettled(order.PaymentStatus) {
		log.InfoContext(ctx, "captured event for settled order ignored",
			slog.String("order_id", order.ID), slog.String("payment_status", order.PaymentStatus))
		return nil
	}

	if _, err := s.orders.MarkOrderPaid(ctx, order.ID, p.OrderID, p.ID); err != nil {
		return err
	}
	log.InfoContext(ctx, "order marked paid from webhook", slog.String("order_id", order.ID))
	return nil
}

func (s *Service) reconcileFailed(ctx context.Context, log *slog.Logger, p PaymentEntity) error {
	order, err := s.orders.GetOrderByRazorpayOrderID(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if models.PaymentSettled(order.PaymentStatus) || order.PaymentStatus == models.PaymentStatusFailed {
		return nil
	}

	note := failureNote(&FailureDetail{Description: p.ErrorDescription})
	if _, err := s.orders.MarkPaymentFailed(ctx, order.ID, note); err != nil {
		return err
	}
	log.InfoContext(ctx, "order marked failed from webhook", slog.String("order_id", order.ID))
	return nil
}

func (s *Service) reconcileRefund(ctx context.Context, log *slog.Logger, r Refund) error {
	order, err := s.orders.GetOrderByRazorpayPaymentID(ctx, r.PaymentID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == models.PaymentStatusRefunded {
		return nil
	}
	if r.Amount < ToSmallestUnit(order.Total) {
		log.InfoContext(ctx, "partial refund left order status unchanged", slog.String("order_id", order.ID))
		return nil
	}

	if _, err := s.orders.RecordRefund(ctx, order.ID, true, "Refund "+r.ID+" confirmed by gateway"); err != nil {
		return err
	}
	log.InfoContext(ctx, "order marked refunded from webhook", slog.String("order_id", order.ID))
	return nil
}
