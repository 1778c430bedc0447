package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentSettled reports whether a payment in status s is final for the
// verification flow: it can no longer become paid or failed.
func PaymentSettled(s string) bool {
	return s == PaymentStatusPaid || s == PaymentStatusRefunded
}

// Cancellable reports whether a buyer may still cancel an order in status s.
func Cancellable(s string) bool {
	return s != OrderStatusShipped && s != OrderStatusDelivered
}

type Order struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	OrderNumber       string          `json:"orderNumber"`
	Items             []OrderItem     `json:"items"`
	ShippingAddress   Address         `json:"shippingAddress"`
	BillingAddress    Address         `json:"billingAddress"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Shipping          decimal.Decimal `json:"shipping"`
	Tax               decimal.Decimal `json:"tax"`
	Total             decimal.Decimal `json:"total"`
	PaymentStatus     string          `json:"paymentStatus"`
	OrderStatus       string          `json:"orderStatus"`
	PaymentMethod     string          `json:"paymentMethod,omitempty"`
	RazorpayOrderID   string          `json:"razorpayOrderId,omitempty"`
	RazorpayPaymentID string          `json:"razorpayPaymentId,omitempty"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	DeliveredAt       *time.Time      `json:"deliveredAt,omitempty"`
	PaidAt            *time.Time      `json:"paidAt,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	Version           int             `json:"version"`
}

// OrderItem is a snapshot of the product at checkout time; later product
// edits do not change it.
type OrderItem struct {
	ProductID   string          `json:"productId"`
	ProductType string          `json:"productType"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Image       string          `json:"image,omitempty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Address struct {
	FullName string `json:"fullName"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zipCode"`
	Country  string `json:"country"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Validate returns a ValidationError naming the first missing field, using
// prefix as the path of the address in the request.
func (a Address) Validate(prefix string) error {
	fields := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"zipCode", a.ZipCode},
		{"country", a.Country},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			field := prefix + "." + f.name
			return &ValidationError{Field: field, Message: field + " is required"}
		}
	}
	return nil
}

func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *Address) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*a = Address{}
		return nil
	default:
		return fmt.Errorf("scan address: unsupported type %T", src)
	}
	if err := json.Unmarshal(data, a); err != nil {
		return errors.Join(errors.New("scan address"), err)
	}
	return nil
}

// OrderStats summarises the admin order listing.
type OrderStats struct {
	Total           int64            `json:"total"`
	ByOrderStatus   map[string]int64 `json:"byOrderStatus"`
	ByPaymentStatus map[string]int64 `json:"byPaymentStatus"`
	Revenue         decimal.Decimal  `json:"revenue"`
	Last30Days      int64            `json:"last30Days"`
}
