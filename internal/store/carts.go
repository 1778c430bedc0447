package store

import (
	"context"
	"fmt"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

func listCartItems(ctx context.Context, q database.Querier, userID string, forUpdate bool) ([]models.CartItem, error) {
	query := `
		SELECT product_id, product_type, quantity, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at, product_id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ProductID, &item.ProductType, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (s *Store) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	items, err := listCartItems(ctx, s.db, userID, false)
	if err != nil {
		return nil, err
	}
	return &models.Cart{UserID: userID, Items: items}, nil
}

// AddCartItem adds quantity units of the product, incrementing the existing
// line atomically when the product is already in the cart.
func (s *Store) AddCartItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return nil, models.Invalid("quantity", "quantity must be positive")
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, product_type, quantity, added_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id, product_id)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		userID, product.ID, product.Kind, quantity)
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return s.GetCart(ctx, userID)
}

func (s *Store) RemoveCartItem(ctx context.Context, userID, productID string) (*models.Cart, error) {
	if err := parseID(productID, database.ErrProductNotFound); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID)
	if err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}

	return s.GetCart(ctx, userID)
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
