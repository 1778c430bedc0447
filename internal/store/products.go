package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

const productColumns = `id, seller_id, kind, name, description, price, image, stock, available, views, likes, created_at, updated_at, version`

func scanProduct(row scanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.SellerID,
		&product.Kind,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Image,
		&product.Stock,
		&product.Available,
		&product.Views,
		&product.Likes,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

type CreateProductParams struct {
	SellerID    string
	Kind        string
	Name        string
	Description string
	Price       decimal.Decimal
	Image       string
	Stock       int
}

func (p CreateProductParams) Validate() error {
	if !models.ValidProductKind(p.Kind) {
		return models.Invalid("kind", "kind must be artisan-product or collectible")
	}
	if strings.TrimSpace(p.Name) == "" {
		return models.Invalid("name", "name is required")
	}
	if p.Price.IsNegative() {
		return models.Invalid("price", "price cannot be negative")
	}
	if p.Stock < 0 {
		return models.Invalid("stock", "stock cannot be negative")
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, p CreateProductParams) (*models.Product, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO products (id, seller_id, kind, name, description, price, image, stock, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(s.db.QueryRowContext(ctx, query,
		uuid.NewString(), p.SellerID, p.Kind, p.Name, p.Description, p.Price, p.Image, p.Stock))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, q database.Querier, id string) (*models.Product, error) {
	if err := parseID(id, database.ErrProductNotFound); err != nil {
		return nil, err
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ViewProduct returns the product after atomically bumping its view counter.
func (s *Store) ViewProduct(ctx context.Context, id string) (*models.Product, error) {
	if err := parseID(id, database.ErrProductNotFound); err != nil {
		return nil, err
	}
	query := `
		UPDATE products
		SET views = views + 1
		WHERE id = $1
		RETURNING ` + productColumns

	product, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("view product: %w", err)
	}

	return product, nil
}

func (s *Store) LikeProduct(ctx context.Context, id string) (int64, error) {
	if err := parseID(id, database.ErrProductNotFound); err != nil {
		return 0, err
	}
	var likes int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE products SET likes = likes + 1 WHERE id = $1 RETURNING likes`,
		id).Scan(&likes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, database.ErrProductNotFound
		}
		return 0, fmt.Errorf("like product: %w", err)
	}

	return likes, nil
}

// ReserveStock locks the product row with NOWAIT and checks it can supply
// quantity units. A row already locked by another checkout yields
// ErrLockTimeout instead of blocking.
func ReserveStock(ctx context.Context, tx *sql.Tx, productID string, quantity int) (*models.Product, error) {
	if err := parseID(productID, database.ErrProductNotFound); err != nil {
		return nil, err
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE NOWAIT`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, productID))
	if err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, database.ErrLockTimeout
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if !product.Available {
		return nil, database.ErrProductUnavailable
	}
	if product.Stock < quantity {
		return nil, database.ErrInsufficientStock
	}

	return product, nil
}

func DecrementStock(ctx context.Context, tx *sql.Tx, productID string, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock - $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

// UpdateStockOptimistic sets stock only if the caller's version is current.
func (s *Store) UpdateStockOptimistic(ctx context.Context, productID string, newStock int, version int) (*models.Product, error) {
	if newStock < 0 {
		return nil, models.Invalid("stock", "stock cannot be negative")
	}
	if err := parseID(productID, database.ErrProductNotFound); err != nil {
		return nil, err
	}

	query := `
		UPDATE products
		SET stock = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING ` + productColumns

	product, err := scanProduct(s.db.QueryRowContext(ctx, query, newStock, productID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetProduct(ctx, productID); getErr != nil {
				return nil, getErr
			}
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update stock: %w", err)
	}

	return product, nil
}

func (s *Store) ListProducts(ctx context.Context, kind string, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE ($1 = '' OR kind = $1)`, kind).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, kind, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
