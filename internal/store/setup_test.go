package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/craftcurio/marketplace/internal/migrations"
	"github.com/craftcurio/marketplace/internal/models"
)

// setupTestStore starts a throwaway Postgres, applies the embedded schema and
// returns a Store on it. The container is terminated when the test ends.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "craftcurio",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/craftcurio?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := migrations.Apply(ctx, db, migrations.Up); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return New(db)
}

func seedUser(t *testing.T, s *Store, email string) *models.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), email, "Test User", "hash", models.RoleBuyer)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func seedProduct(t *testing.T, s *Store, sellerID, price string, stock int) *models.Product {
	t.Helper()
	product, err := s.CreateProduct(context.Background(), CreateProductParams{
		SellerID: sellerID,
		Kind:     models.ProductKindArtisan,
		Name:     "Hand-thrown mug",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func testAddress() models.Address {
	return models.Address{
		FullName: "Asha Rao",
		Street:   "12 Loom Street",
		City:     "Jaipur",
		State:    "RJ",
		ZipCode:  "302001",
		Country:  "IN",
	}
}

func seedOrder(t *testing.T, s *Store, userID, productID, total string) *models.Order {
	t.Helper()
	order, err := s.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:          userID,
		Items:           []OrderItemRequest{{ProductID: productID, Quantity: 1}},
		ShippingAddress: testAddress(),
		Subtotal:        decimal.RequireFromString(total),
		Total:           decimal.RequireFromString(total),
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return order
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}

func ptr[T any](v T) *T {
	return &v
}
