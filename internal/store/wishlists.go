package store

import (
	"context"
	"fmt"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

func (s *Store) GetWishlist(ctx context.Context, userID string) ([]models.WishlistItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, product_type, added_at
		 FROM wishlist_items
		 WHERE user_id = $1
		 ORDER BY added_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	defer rows.Close()

	items := []models.WishlistItem{}
	for rows.Next() {
		var item models.WishlistItem
		if err := rows.Scan(&item.ProductID, &item.ProductType, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// ToggleWishlist removes the product if present, otherwise adds it. It
// reports whether the product is in the wishlist afterwards.
func (s *Store) ToggleWishlist(ctx context.Context, userID, productID string) (bool, error) {
	if err := parseID(productID, database.ErrProductNotFound); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID)
	if err != nil {
		return false, fmt.Errorf("remove wishlist item: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if removed > 0 {
		return false, nil
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wishlist_items (user_id, product_id, product_type, added_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, product_id) DO NOTHING`,
		userID, product.ID, product.Kind)
	if err != nil {
		return false, fmt.Errorf("add wishlist item: %w", err)
	}

	return true, nil
}
