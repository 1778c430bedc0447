package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

type AdminOrderFilter struct {
	OrderStatus   string
	PaymentStatus string
	Search        string
	Page          int
	PageSize      int
}

type AdminOrderList struct {
	*OffsetPage
	Stats *models.OrderStats `json:"stats"`
}

// ListOrdersAdmin returns one filtered page of orders together with
// store-wide statistics. The page and the statistics are read concurrently.
func (s *Store) ListOrdersAdmin(ctx context.Context, f AdminOrderFilter) (*AdminOrderList, error) {
	f.Page, f.PageSize = NormalizePage(f.Page, f.PageSize)

	var (
		page  *OffsetPage
		stats *models.OrderStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.listOrdersFiltered(gctx, f)
		page = p
		return err
	})
	g.Go(func() error {
		st, err := s.OrderStats(gctx, time.Now())
		stats = st
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &AdminOrderList{OffsetPage: page, Stats: stats}, nil
}

const adminOrderWhere = `
	WHERE ($1 = '' OR order_status = $1)
	  AND ($2 = '' OR payment_status = $2)
	  AND ($3 = '' OR order_number ILIKE '%' || $3 || '%')`

func (s *Store) listOrdersFiltered(ctx context.Context, f AdminOrderFilter) (*OffsetPage, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders`+adminOrderWhere,
		f.OrderStatus, f.PaymentStatus, f.Search).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (f.Page - 1) * f.PageSize
	query := `SELECT ` + orderColumns + ` FROM orders` + adminOrderWhere + `
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.db.QueryContext(ctx, query, f.OrderStatus, f.PaymentStatus, f.Search, f.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := attachItems(ctx, s.db, orders); err != nil {
		return nil, err
	}

	return newOffsetPage(orders, total, f.Page, f.PageSize), nil
}

// OrderStats counts orders by status, sums revenue over paid orders and counts
// orders created in the 30 days before now.
func (s *Store) OrderStats(ctx context.Context, now time.Time) (*models.OrderStats, error) {
	stats := &models.OrderStats{
		ByOrderStatus:   map[string]int64{},
		ByPaymentStatus: map[string]int64{},
		Revenue:         decimal.Zero,
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE created_at >= $1),
		        COALESCE(SUM(total) FILTER (WHERE payment_status = 'paid'), 0)
		 FROM orders`,
		now.AddDate(0, 0, -30)).Scan(&stats.Total, &stats.Last30Days, &stats.Revenue)
	if err != nil {
		return nil, fmt.Errorf("order totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT 'order' AS dim, order_status, COUNT(*) FROM orders GROUP BY order_status
		 UNION ALL
		 SELECT 'payment' AS dim, payment_status, COUNT(*) FROM orders GROUP BY payment_status`)
	if err != nil {
		return nil, fmt.Errorf("order status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dim, status string
		var count int64
		if err := rows.Scan(&dim, &status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		if dim == "order" {
			stats.ByOrderStatus[status] = count
		} else {
			stats.ByPaymentStatus[status] = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return stats, nil
}

// bulkUpdateColumns whitelists the fields a bulk update may set.
var bulkUpdateColumns = map[string]string{
	"orderStatus":       "order_status",
	"paymentStatus":     "payment_status",
	"trackingNumber":    "tracking_number",
	"estimatedDelivery": "estimated_delivery",
	"notes":             "notes",
}

// BuildBulkUpdate validates updates and returns the SET clause and its
// arguments, numbered from $2 ($1 is reserved for the id list).
func BuildBulkUpdate(updates map[string]any) (string, []any, error) {
	if len(updates) == 0 {
		return "", nil, models.Invalid("updates", "updates must contain at least one field")
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys)+2)
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		column, ok := bulkUpdateColumns[key]
		if !ok {
			return "", nil, models.Invalid("updates."+key, fmt.Sprintf("field %q cannot be bulk updated", key))
		}

		value, err := bulkValue(key, updates[key])
		if err != nil {
			return "", nil, err
		}

		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	sets = append(sets, "updated_at = NOW()", "version = version + 1")

	return strings.Join(sets, ", "), args, nil
}

func bulkValue(key string, raw any) (any, error) {
	field := "updates." + key

	if key == "estimatedDelivery" {
		if raw == nil {
			return nil, nil
		}
		str, ok := raw.(string)
		if !ok {
			return nil, models.Invalid(field, field+" must be an RFC 3339 timestamp")
		}
		t, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return nil, models.Invalid(field, field+" must be an RFC 3339 timestamp")
		}
		return t, nil
	}

	str, ok := raw.(string)
	if !ok {
		return nil, models.Invalid(field, field+" must be a string")
	}

	switch key {
	case "orderStatus":
		if !models.ValidOrderStatus(str) {
			return nil, models.Invalid(field, fmt.Sprintf("invalid orderStatus %q", str))
		}
	case "paymentStatus":
		if !models.ValidPaymentStatus(str) {
			return nil, models.Invalid(field, fmt.Sprintf("invalid paymentStatus %q", str))
		}
	}
	return str, nil
}

// BulkUpdateOrders sets the same whitelisted fields on every listed order and
// returns the number of orders changed.
func (s *Store) BulkUpdateOrders(ctx context.Context, ids []string, updates map[string]any) (int64, error) {
	if len(ids) == 0 {
		return 0, models.Invalid("orderIds", "orderIds must contain at least one id")
	}
	for _, id := range ids {
		if parseID(id, database.ErrOrderNotFound) != nil {
			return 0, models.Invalid("orderIds", "orderIds must contain valid order ids")
		}
	}

	set, args, err := BuildBulkUpdate(updates)
	if err != nil {
		return 0, err
	}

	query := `UPDATE orders SET ` + set + ` WHERE id = ANY($1)`
	result, err := s.db.ExecContext(ctx, query, append([]any{pq.Array(ids)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("bulk update orders: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected, nil
}
