package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAddress() Address {
	return Address{
		FullName: "Asha Rao",
		Street:   "12 Loom Street",
		City:     "Jaipur",
		State:    "RJ",
		ZipCode:  "302001",
		Country:  "IN",
	}
}

func TestAddressValidate(t *testing.T) {
	require.NoError(t, validAddress().Validate("shippingAddress"))

	tests := []struct {
		name  string
		clear func(*Address)
		field string
	}{
		{"full name", func(a *Address) { a.FullName = "" }, "shippingAddress.fullName"},
		{"street", func(a *Address) { a.Street = "  " }, "shippingAddress.street"},
		{"city", func(a *Address) { a.City = "" }, "shippingAddress.city"},
		{"state", func(a *Address) { a.State = "" }, "shippingAddress.state"},
		{"zip", func(a *Address) { a.ZipCode = "" }, "shippingAddress.zipCode"},
		{"country", func(a *Address) { a.Country = "" }, "shippingAddress.country"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAddress()
			tt.clear(&a)

			err := a.Validate("shippingAddress")
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
			assert.Contains(t, vErr.Message, tt.field)
		})
	}
}

func TestAddressScanValue(t *testing.T) {
	a := validAddress()
	v, err := a.Value()
	require.NoError(t, err)

	var got Address
	require.NoError(t, got.Scan(v))
	assert.Equal(t, a, got)

	require.NoError(t, got.Scan(nil))
	assert.True(t, got.IsZero())

	assert.Error(t, got.Scan(42))
}

func TestCancellable(t *testing.T) {
	for _, s := range []string{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCancelled} {
		assert.True(t, Cancellable(s), s)
	}
	assert.False(t, Cancellable(OrderStatusShipped))
	assert.False(t, Cancellable(OrderStatusDelivered))
}

func TestStatusValidators(t *testing.T) {
	assert.True(t, ValidOrderStatus("processing"))
	assert.False(t, ValidOrderStatus("returned"))
	assert.True(t, ValidPaymentStatus("refunded"))
	assert.False(t, ValidPaymentStatus("settled"))
}

func TestPaymentSettled(t *testing.T) {
	assert.True(t, PaymentSettled(PaymentStatusPaid))
	assert.True(t, PaymentSettled(PaymentStatusRefunded))
	assert.False(t, PaymentSettled(PaymentStatusPending))
	assert.False(t, PaymentSettled(PaymentStatusFailed))
}

func TestLineTotal(t *testing.T) {
	item := OrderItem{Price: decimal.RequireFromString("249.50"), Quantity: 3}
	assert.True(t, item.LineTotal().Equal(decimal.RequireFromString("748.50")))
}
