// Package payment implements the order payment lifecycle on top of a payment
// gateway: intent creation, signature verification, failure recording,
// webhook reconciliation and refunds.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

// OrderRepository is the order persistence the payment flow depends on.
type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByRazorpayOrderID(ctx context.Context, razorpayOrderID string) (*models.Order, error)
	GetOrderByRazorpayPaymentID(ctx context.Context, razorpayPaymentID string) (*models.Order, error)
	SetRazorpayOrderID(ctx context.Context, id, razorpayOrderID string) error
	MarkOrderPaid(ctx context.Context, id, razorpayOrderID, razorpayPaymentID string) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, id, note string) (*models.Order, error)
	RecordRefund(ctx context.Context, id string, full bool, note string) (*models.Order, error)
}

type Options struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
	// MinAmount is the smallest chargeable amount in the smallest currency unit.
	MinAmount int64
	// Tolerance is how far, in major units, a client-claimed amount may
	// drift from the order total before it is reported as overridden.
	Tolerance decimal.Decimal
}

type Service struct {
	gateway Gateway
	orders  OrderRepository
	opts    Options
	log     *slog.Logger
}

func NewService(gateway Gateway, orders OrderRepository, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{gateway: gateway, orders: orders, opts: opts, log: log.With(slog.String("component", "payment"))}
}

// ToSmallestUnit converts a major-unit amount (rupees) to the smallest unit
// (paise), rounding half away from zero.
func ToSmallestUnit(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type Intent struct {
	OrderID         string `json:"orderId"`
	RazorpayOrderID string `json:"razorpayOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	KeyID           string `json:"keyId"`
}

// CreateIntent opens a gateway order for the stored order total. The
// client-claimed amount is never charged; a divergence beyond the tolerance
// is logged.
func (s *Service) CreateIntent(ctx context.Context, orderID string, claimed decimal.Decimal) (*Intent, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, database.ErrAlreadyPaid
	}

	if claimed.Sub(order.Total).Abs().GreaterThan(s.opts.Tolerance) {
		s.log.WarnContext(ctx, "client amount differs from order total, using order total",
			slog.String("order_id", order.ID),
			slog.String("claimed", claimed.String()),
			slog.String("total", order.Total.String()))
	}

	amount := ToSmallestUnit(order.Total)
	if amount < s.opts.MinAmount {
		return nil, fmt.Errorf("%w: %d < %d", ErrAmountTooSmall, amount, s.opts.MinAmount)
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, GatewayOrderRequest{
		Amount:   amount,
		Currency: s.opts.Currency,
		Receipt:  order.OrderNumber,
		Notes:    map[string]string{"orderId": order.ID},
	})
	if err != nil {
		s.log.ErrorContext(ctx, "create gateway order failed",
			slog.String("order_id", order.ID), slog.Any("err", err))
		return nil, err
	}

	if err := s.orders.SetRazorpayOrderID(ctx, order.ID, gwOrder.ID); err != nil {
		return nil, fmt.Errorf("store gateway order id: %w", err)
	}

	s.log.InfoContext(ctx, "payment intent created",
		slog.String("order_id", order.ID),
		slog.String("razorpay_order_id", gwOrder.ID),
		slog.Int64("amount", gwOrder.Amount))

	return &Intent{
		OrderID:         order.ID,
		RazorpayOrderID: gwOrder.ID,
		Amount:          gwOrder.Amount,
		Currency:        gwOrder.Currency,
		KeyID:           s.opts.KeyID,
	}, nil
}

type VerifyRequest struct {
	OrderID           string `json:"orderId"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	Signature         string `json:"razorpay_signature"`
}

// Verify checks the widget signature and marks the order paid. The order is
// left untouched when the signature does not match or when the gateway order
// is not the one opened for this order by CreateIntent. Verifying an order
// that is already paid or refunded returns it unchanged.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !VerifyPaymentSignature(s.opts.KeySecret, req.RazorpayOrderID, req.RazorpayPaymentID, req.Signature) {
		s.log.WarnContext(ctx, "payment signature mismatch", slog.String("order_id", order.ID))
		return nil, ErrInvalidSignature
	}

	if order.RazorpayOrderID == "" || order.RazorpayOrderID != req.RazorpayOrderID {
		s.log.WarnContext(ctx, "payment belongs to another gateway order",
			slog.String("order_id", order.ID),
			slog.String("expected", order.RazorpayOrderID),
			slog.String("got", req.RazorpayOrderID))
		return nil, ErrOrderMismatch
	}

	paid, err := s.orders.MarkOrderPaid(ctx, order.ID, req.RazorpayOrderID, req.RazorpayPaymentID)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "payment verified",
		slog.String("order_id", paid.ID),
		slog.String("razorpay_payment_id", req.RazorpayPaymentID))
	return paid, nil
}

// FailureDetail is the error object the checkout widget reports.
type FailureDetail struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func failureNote(detail *FailureDetail) string {
	desc := "Unknown error"
	if detail != nil && detail.Description != "" {
		desc = detail.Description
	}
	return "Payment failed: " + desc
}

// RecordFailure marks the payment failed and appends a note to the order.
func (s *Service) RecordFailure(ctx context.Context, orderID string, detail *FailureDetail) (*models.Order, error) {
	note := failureNote(detail)

	order, err := s.orders.MarkPaymentFailed(ctx, orderID, note)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "payment failure recorded",
		slog.String("order_id", orderID), slog.String("note", note))
	return order, nil
}

func (s *Service) FetchPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return s.gateway.FetchPayment(ctx, paymentID)
}

type RefundResult struct {
	Refund *Refund       `json:"refund"`
	Order  *models.Order `json:"order,omitempty"`
}

// Refund refunds a captured payment, fully when amount is nil, and records
// the outcome on the local order in the same call.
func (s *Service) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) (*RefundResult, error) {
	var units int64
	if amount != nil {
		units = ToSmallestUnit(*amount)
		if units <= 0 {
			return nil, models.Invalid("amount", "amount must be positive")
		}
	}

	refund, err := s.gateway.Refund(ctx, paymentID, units)
	if err != nil {
		s.log.ErrorContext(ctx, "refund failed", slog.String("payment_id", paymentID), slog.Any("err", err))
		return nil, err
	}

	result := &RefundResult{Refund: refund}

	order, err := s.orders.GetOrderByRazorpayPaymentID(ctx, paymentID)
	if errors.Is(err, database.ErrOrderNotFound) {
		s.log.WarnContext(ctx, "refund for unknown payment", slog.String("payment_id", paymentID))
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	full := amount == nil || refund.Amount >= ToSmallestUnit(order.Total)
	note := fmt.Sprintf("Refund %s: %s", refund.ID, decimal.New(refund.Amount, -2).StringFixed(2))

	updated, err := s.orders.RecordRefund(ctx, order.ID, full, note)
	if err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}
	result.Order = updated

	s.log.InfoContext(ctx, "refund processed",
		slog.String("order_id", order.ID),
		slog.String("refund_id", refund.ID),
		slog.Bool("full", full))
	return result, nil
}
