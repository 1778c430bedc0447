package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

var orderNumberPattern = regexp.MustCompile(`^CC\d{6}\d{4}$`)

func TestGenerateOrderNumber(t *testing.T) {
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		n := generateOrderNumber(now)
		require.Regexp(t, orderNumberPattern, n)
		assert.Equal(t, "CC260307", n[:8])
	}
}

func TestCreateOrderRequestValidate(t *testing.T) {
	valid := func() CreateOrderRequest {
		return CreateOrderRequest{
			UserID:          "u1",
			Items:           []OrderItemRequest{{ProductID: "p1", Quantity: 1}},
			ShippingAddress: testAddress(),
			Subtotal:        decimal.NewFromInt(10),
			Total:           decimal.NewFromInt(10),
		}
	}

	t.Run("billing defaults to shipping", func(t *testing.T) {
		req := valid()
		require.NoError(t, req.Validate())
		assert.Equal(t, req.ShippingAddress, req.BillingAddress)
	})

	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
		field  string
	}{
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }, "items"},
		{"blank product", func(r *CreateOrderRequest) { r.Items[0].ProductID = " " }, "items[0].productId"},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"missing shipping", func(r *CreateOrderRequest) { r.ShippingAddress = models.Address{} }, "shippingAddress.fullName"},
		{"partial billing", func(r *CreateOrderRequest) { r.BillingAddress = models.Address{City: "Pune"} }, "billingAddress.fullName"},
		{"negative tax", func(r *CreateOrderRequest) { r.Tax = decimal.NewFromInt(-1) }, "tax"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)

			var vErr *models.ValidationError
			require.True(t, errors.As(req.Validate(), &vErr))
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestCreateOrderSnapshotsItems(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "buyer@example.com")
	product := seedProduct(t, s, user.ID, "100.00", 10)

	order, err := s.CreateOrder(ctx, CreateOrderRequest{
		UserID:          user.ID,
		Items:           []OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
		ShippingAddress: testAddress(),
		Subtotal:        decimal.RequireFromString("200.00"),
		Shipping:        decimal.RequireFromString("50.00"),
		Tax:             decimal.RequireFromString("36.00"),
		Total:           decimal.RequireFromString("286.00"),
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if !orderNumberPattern.MatchString(order.OrderNumber) {
		t.Errorf("Unexpected order number %q", order.OrderNumber)
	}
	if order.PaymentStatus != models.PaymentStatusPending || order.OrderStatus != models.OrderStatusPending {
		t.Errorf("Expected pending/pending, got %s/%s", order.PaymentStatus, order.OrderStatus)
	}

	if _, err := s.DB().Exec(`UPDATE products SET price = 999, name = 'Renamed' WHERE id = $1`, product.ID); err != nil {
		t.Fatalf("Update product: %v", err)
	}

	got, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(got.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(got.Items))
	}
	item := got.Items[0]
	if !item.Price.Equal(decimal.NewFromInt(100)) || item.Name != "Hand-thrown mug" || item.Quantity != 2 {
		t.Errorf("Item snapshot changed: %+v", item)
	}
	if !got.Total.Equal(decimal.RequireFromString("286.00")) {
		t.Errorf("Expected total 286.00, got %s", got.Total)
	}
	if got.BillingAddress != testAddress() {
		t.Errorf("Billing address should default to shipping, got %+v", got.BillingAddress)
	}
}

func TestCreateOrderEmptyItemsWritesNothing(t *testing.T) {
	s := setupTestStore(t)
	user := seedUser(t, s, "empty@example.com")

	_, err := s.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:          user.ID,
		ShippingAddress: testAddress(),
	})

	var vErr *models.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "items" {
		t.Fatalf("Expected items validation error, got %v", err)
	}
	if n := countRows(t, s, "orders"); n != 0 {
		t.Errorf("Expected no orders, got %d", n)
	}
}

func TestOrderNumbersAreUnique(t *testing.T) {
	s := setupTestStore(t)
	user := seedUser(t, s, "many@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 1)

	seen := map[string]bool{}
	for i := 0; i < 25; i++ {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		if seen[order.OrderNumber] {
			t.Fatalf("Duplicate order number %s", order.OrderNumber)
		}
		seen[order.OrderNumber] = true
	}
}

func TestCheckoutFromCart(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "cart@example.com")
	mug := seedProduct(t, s, user.ID, "100.00", 5)
	vase := seedProduct(t, s, user.ID, "250.50", 2)

	if _, err := s.AddCartItem(ctx, user.ID, mug.ID, 2); err != nil {
		t.Fatalf("Add mug: %v", err)
	}
	if _, err := s.AddCartItem(ctx, user.ID, vase.ID, 1); err != nil {
		t.Fatalf("Add vase: %v", err)
	}

	order, err := s.Checkout(ctx, CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: testAddress(),
		Shipping:        decimal.RequireFromString("40.00"),
		Tax:             decimal.RequireFromString("10.00"),
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if !order.Subtotal.Equal(decimal.RequireFromString("450.50")) {
		t.Errorf("Expected subtotal 450.50, got %s", order.Subtotal)
	}
	if !order.Total.Equal(decimal.RequireFromString("500.50")) {
		t.Errorf("Expected total 500.50, got %s", order.Total)
	}

	mugAfter, _ := s.GetProduct(ctx, mug.ID)
	if mugAfter.Stock != 3 {
		t.Errorf("Expected mug stock 3, got %d", mugAfter.Stock)
	}

	cart, err := s.GetCart(ctx, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("Cart should be empty after checkout, got %d items", len(cart.Items))
	}
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "short@example.com")
	plenty := seedProduct(t, s, user.ID, "10.00", 10)
	scarce := seedProduct(t, s, user.ID, "10.00", 1)

	if _, err := s.AddCartItem(ctx, user.ID, plenty.ID, 3); err != nil {
		t.Fatalf("Add plenty: %v", err)
	}
	if _, err := s.AddCartItem(ctx, user.ID, scarce.ID, 2); err != nil {
		t.Fatalf("Add scarce: %v", err)
	}

	_, err := s.Checkout(ctx, CheckoutRequest{UserID: user.ID, ShippingAddress: testAddress()})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock error, got: %v", err)
	}

	plentyAfter, _ := s.GetProduct(ctx, plenty.ID)
	if plentyAfter.Stock != 10 {
		t.Errorf("Stock should remain unchanged at 10, got %d", plentyAfter.Stock)
	}
	if n := countRows(t, s, "orders"); n != 0 {
		t.Errorf("Expected no orders, got %d", n)
	}
	if n := countRows(t, s, "cart_items"); n != 2 {
		t.Errorf("Cart should be untouched, got %d items", n)
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	s := setupTestStore(t)
	user := seedUser(t, s, "nocart@example.com")

	_, err := s.Checkout(context.Background(), CheckoutRequest{UserID: user.ID, ShippingAddress: testAddress()})
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Fatalf("Expected empty cart error, got: %v", err)
	}
}

func TestReserveStockFailsFastWhenLocked(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "lock@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 5)

	holder, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin holder: %v", err)
	}
	defer holder.Rollback()

	if _, err := ReserveStock(ctx, holder, product.ID, 1); err != nil {
		t.Fatalf("Holder reserve: %v", err)
	}

	contender, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin contender: %v", err)
	}
	defer contender.Rollback()

	if _, err := ReserveStock(ctx, contender, product.ID, 1); !errors.Is(err, database.ErrLockTimeout) {
		t.Fatalf("Expected lock timeout, got: %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "cancel@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 1)

	for _, status := range []string{models.OrderStatusShipped, models.OrderStatusDelivered} {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		if _, err := s.UpdateOrderStatus(ctx, order.ID, OrderStatusUpdate{OrderStatus: ptr(status)}); err != nil {
			t.Fatalf("Set %s: %v", status, err)
		}

		if _, err := s.CancelOrder(ctx, order.ID); !errors.Is(err, database.ErrOrderNotCancellable) {
			t.Errorf("Expected not cancellable for %s, got: %v", status, err)
		}
		got, _ := s.GetOrder(ctx, order.ID)
		if got.OrderStatus != status {
			t.Errorf("Status changed from %s to %s", status, got.OrderStatus)
		}
	}

	order := seedOrder(t, s, user.ID, product.ID, "10.00")
	cancelled, err := s.CancelOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("Cancel pending: %v", err)
	}
	if cancelled.OrderStatus != models.OrderStatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.OrderStatus)
	}

	if _, err := s.CancelOrder(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "status@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 1)
	order := seedOrder(t, s, user.ID, product.ID, "10.00")

	eta := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	shipped, err := s.UpdateOrderStatus(ctx, order.ID, OrderStatusUpdate{
		OrderStatus:       ptr(models.OrderStatusShipped),
		TrackingNumber:    ptr("TRK123"),
		EstimatedDelivery: &eta,
	})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if shipped.DeliveredAt != nil {
		t.Error("DeliveredAt should be unset while shipped")
	}
	if shipped.EstimatedDelivery == nil || !shipped.EstimatedDelivery.Equal(eta) {
		t.Errorf("Expected estimated delivery %v, got %v", eta, shipped.EstimatedDelivery)
	}

	delivered, err := s.UpdateOrderStatus(ctx, order.ID, OrderStatusUpdate{OrderStatus: ptr(models.OrderStatusDelivered)})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if delivered.DeliveredAt == nil {
		t.Error("DeliveredAt should be stamped")
	}
	if delivered.TrackingNumber != "TRK123" {
		t.Errorf("Tracking number lost: %q", delivered.TrackingNumber)
	}

	_, err = s.UpdateOrderStatus(ctx, order.ID, OrderStatusUpdate{OrderStatus: ptr("lost")})
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestPaymentTransitions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "pay@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 1)

	t.Run("mark paid is idempotent", func(t *testing.T) {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		if err := s.SetRazorpayOrderID(ctx, order.ID, "order_A"); err != nil {
			t.Fatalf("Set razorpay order: %v", err)
		}

		first, err := s.MarkOrderPaid(ctx, order.ID, "order_A", "pay_A")
		if err != nil {
			t.Fatalf("First mark paid: %v", err)
		}
		if first.PaymentStatus != models.PaymentStatusPaid || first.OrderStatus != models.OrderStatusProcessing || first.PaidAt == nil {
			t.Fatalf("Unexpected paid order: %+v", first)
		}

		second, err := s.MarkOrderPaid(ctx, order.ID, "order_A", "pay_A")
		if err != nil {
			t.Fatalf("Second mark paid: %v", err)
		}
		if !second.PaidAt.Equal(*first.PaidAt) || second.Version != first.Version {
			t.Errorf("Second call changed the order: paidAt %v -> %v, version %d -> %d",
				first.PaidAt, second.PaidAt, first.Version, second.Version)
		}

		byOrder, err := s.GetOrderByRazorpayOrderID(ctx, "order_A")
		if err != nil || byOrder.ID != order.ID {
			t.Errorf("Lookup by razorpay order id: %v", err)
		}
		byPayment, err := s.GetOrderByRazorpayPaymentID(ctx, "pay_A")
		if err != nil || byPayment.ID != order.ID {
			t.Errorf("Lookup by razorpay payment id: %v", err)
		}
	})

	t.Run("failure never demotes paid", func(t *testing.T) {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		if _, err := s.MarkOrderPaid(ctx, order.ID, "order_B", "pay_B"); err != nil {
			t.Fatalf("Mark paid: %v", err)
		}

		got, err := s.MarkPaymentFailed(ctx, order.ID, "Payment failed: late")
		if err != nil {
			t.Fatalf("Mark failed: %v", err)
		}
		if got.PaymentStatus != models.PaymentStatusPaid {
			t.Errorf("Paid order demoted to %s", got.PaymentStatus)
		}
		if got.Notes != "Payment failed: late" {
			t.Errorf("Expected note recorded, got %q", got.Notes)
		}
	})

	t.Run("failure notes accumulate", func(t *testing.T) {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		s.MarkPaymentFailed(ctx, order.ID, "first")
		got, err := s.MarkPaymentFailed(ctx, order.ID, "second")
		if err != nil {
			t.Fatalf("Mark failed: %v", err)
		}
		if got.PaymentStatus != models.PaymentStatusFailed || got.Notes != "first\nsecond" {
			t.Errorf("Unexpected order: status %s notes %q", got.PaymentStatus, got.Notes)
		}
	})

	t.Run("refunds", func(t *testing.T) {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		s.MarkOrderPaid(ctx, order.ID, "order_C", "pay_C")

		partial, err := s.RecordRefund(ctx, order.ID, false, "Refund rfnd_1: 2.50")
		if err != nil {
			t.Fatalf("Partial refund: %v", err)
		}
		if partial.PaymentStatus != models.PaymentStatusPaid {
			t.Errorf("Partial refund changed status to %s", partial.PaymentStatus)
		}

		full, err := s.RecordRefund(ctx, order.ID, true, "Refund rfnd_2: 7.50")
		if err != nil {
			t.Fatalf("Full refund: %v", err)
		}
		if full.PaymentStatus != models.PaymentStatusRefunded {
			t.Errorf("Expected refunded, got %s", full.PaymentStatus)
		}

		again, err := s.MarkOrderPaid(ctx, order.ID, "order_C", "pay_C")
		if err != nil {
			t.Fatalf("Mark paid after refund: %v", err)
		}
		if again.PaymentStatus != models.PaymentStatusRefunded || again.Version != full.Version {
			t.Errorf("Refunded order changed by mark paid: status %s version %d -> %d",
				again.PaymentStatus, full.Version, again.Version)
		}

		failed, err := s.MarkPaymentFailed(ctx, order.ID, "Payment failed: replay")
		if err != nil {
			t.Fatalf("Mark failed after refund: %v", err)
		}
		if failed.PaymentStatus != models.PaymentStatusRefunded {
			t.Errorf("Refunded order changed to %s", failed.PaymentStatus)
		}
	})

	t.Run("paying a cancelled order keeps it cancelled", func(t *testing.T) {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		if _, err := s.CancelOrder(ctx, order.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}

		got, err := s.MarkOrderPaid(ctx, order.ID, "order_D", "pay_D")
		if err != nil {
			t.Fatalf("Mark paid: %v", err)
		}
		if got.PaymentStatus != models.PaymentStatusPaid || got.OrderStatus != models.OrderStatusCancelled {
			t.Errorf("Unexpected order: payment %s status %s", got.PaymentStatus, got.OrderStatus)
		}
	})

	t.Run("admin paid confirms pending", func(t *testing.T) {
		order := seedOrder(t, s, user.ID, product.ID, "10.00")
		got, err := s.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid)
		if err != nil {
			t.Fatalf("Update payment status: %v", err)
		}
		if got.OrderStatus != models.OrderStatusConfirmed || got.PaidAt == nil {
			t.Errorf("Expected confirmed with paidAt, got %s %v", got.OrderStatus, got.PaidAt)
		}
	})
}

func TestListOrdersCursor(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "pages@example.com")
	other := seedUser(t, s, "other@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 1)

	for i := 0; i < 5; i++ {
		seedOrder(t, s, user.ID, product.ID, "10.00")
	}
	seedOrder(t, s, other.ID, product.ID, "10.00")

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("Pagination did not terminate")
		}
		page, err := s.ListOrdersCursor(ctx, user.ID, cursor, 2)
		if err != nil {
			t.Fatalf("List orders: %v", err)
		}
		for _, o := range page.Items.([]*models.Order) {
			if o.UserID != user.ID {
				t.Errorf("Foreign order %s in listing", o.ID)
			}
			if seen[o.ID] {
				t.Errorf("Order %s returned twice", o.ID)
			}
			seen[o.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 5 {
		t.Errorf("Expected 5 orders, got %d", len(seen))
	}

	if _, err := s.ListOrdersCursor(ctx, user.ID, "%%%", 2); err == nil {
		t.Error("Expected error for malformed cursor")
	}
}

func TestListOrdersAdmin(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "admin-list@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 1)

	paid := seedOrder(t, s, user.ID, product.ID, "120.00")
	seedOrder(t, s, user.ID, product.ID, "30.00")
	seedOrder(t, s, user.ID, product.ID, "50.00")
	if _, err := s.MarkOrderPaid(ctx, paid.ID, "order_X", "pay_X"); err != nil {
		t.Fatalf("Mark paid: %v", err)
	}

	list, err := s.ListOrdersAdmin(ctx, AdminOrderFilter{PaymentStatus: models.PaymentStatusPaid})
	if err != nil {
		t.Fatalf("List admin: %v", err)
	}
	if list.Total != 1 {
		t.Errorf("Expected 1 paid order, got %d", list.Total)
	}

	st := list.Stats
	if st.Total != 3 || st.Last30Days != 3 {
		t.Errorf("Unexpected totals: %+v", st)
	}
	if !st.Revenue.Equal(decimal.RequireFromString("120.00")) {
		t.Errorf("Expected revenue 120.00, got %s", st.Revenue)
	}
	if st.ByPaymentStatus[models.PaymentStatusPending] != 2 || st.ByOrderStatus[models.OrderStatusProcessing] != 1 {
		t.Errorf("Unexpected breakdown: %+v %+v", st.ByPaymentStatus, st.ByOrderStatus)
	}

	bySearch, err := s.ListOrdersAdmin(ctx, AdminOrderFilter{Search: paid.OrderNumber[4:]})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if bySearch.Total < 1 {
		t.Errorf("Search by order number fragment found nothing")
	}
}

func TestBulkUpdateOrders(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "bulk@example.com")
	product := seedProduct(t, s, user.ID, "10.00", 1)
	a := seedOrder(t, s, user.ID, product.ID, "10.00")
	b := seedOrder(t, s, user.ID, product.ID, "10.00")
	untouched := seedOrder(t, s, user.ID, product.ID, "10.00")

	n, err := s.BulkUpdateOrders(ctx, []string{a.ID, b.ID, "00000000-0000-0000-0000-000000000000"},
		map[string]any{"orderStatus": models.OrderStatusShipped, "trackingNumber": "BATCH-1"})
	if err != nil {
		t.Fatalf("Bulk update: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 modified, got %d", n)
	}

	got, _ := s.GetOrder(ctx, b.ID)
	if got.OrderStatus != models.OrderStatusShipped || got.TrackingNumber != "BATCH-1" {
		t.Errorf("Bulk fields not applied: %s %q", got.OrderStatus, got.TrackingNumber)
	}
	other, _ := s.GetOrder(ctx, untouched.ID)
	if other.OrderStatus != models.OrderStatusPending {
		t.Errorf("Unlisted order changed to %s", other.OrderStatus)
	}

	if _, err := s.BulkUpdateOrders(ctx, []string{a.ID}, map[string]any{"total": 0}); err == nil {
		t.Error("Expected whitelist rejection")
	}
}
