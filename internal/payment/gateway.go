package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Gateway is the subset of the payment processor the service needs. Amounts
// are in the smallest currency unit.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (json.RawMessage, error)
	// Refund refunds amount, or the full captured amount when amount is 0.
	Refund(ctx context.Context, paymentID string, amount int64) (*Refund, error)
}

type GatewayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

type ErrorKind string

const (
	// KindConfig means the gateway rejected our credentials.
	KindConfig ErrorKind = "config"
	// KindValidation is a malformed request, passed through from the gateway.
	KindValidation ErrorKind = "validation"
	// KindUnavailable is a gateway-side failure; the call is safe to retry.
	KindUnavailable ErrorKind = "unavailable"
	KindGeneric     ErrorKind = "generic"
)

type GatewayError struct {
	Kind        ErrorKind
	StatusCode  int
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	switch e.Kind {
	case KindConfig:
		return "payment gateway configuration error: invalid credentials"
	case KindValidation:
		return fmt.Sprintf("payment validation error: %s", e.Description)
	case KindUnavailable:
		return "payment service temporarily unavailable, please retry"
	default:
		return fmt.Sprintf("payment service error: %s", e.Description)
	}
}

// Temporary reports whether the caller may retry the same request.
func (e *GatewayError) Temporary() bool {
	return e.Kind == KindUnavailable
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401:
		return KindConfig
	case status == 400:
		return KindValidation
	case status >= 500:
		return KindUnavailable
	default:
		return KindGeneric
	}
}

var (
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrOrderMismatch    = errors.New("payment does not belong to this order")
	ErrAmountTooSmall   = errors.New("amount is below the minimum charge")

	ErrWebhookNotConfigured = errors.New("webhook secret is not configured")
)
