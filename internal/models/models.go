package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleBuyer   = "buyer"
	RoleArtisan = "artisan"
	RoleAdmin   = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      int       `json:"version"`
}

const (
	ProductKindArtisan     = "artisan-product"
	ProductKindCollectible = "collectible"
)

func ValidProductKind(kind string) bool {
	return kind == ProductKindArtisan || kind == ProductKindCollectible
}

type Product struct {
	ID          string          `json:"id"`
	SellerID    string          `json:"sellerId"`
	Kind        string          `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image,omitempty"`
	Stock       int             `json:"stock"`
	Available   bool            `json:"available"`
	Views       int64           `json:"views"`
	Likes       int64           `json:"likes"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Version     int             `json:"version"`
}

type CartItem struct {
	ProductID   string    `json:"productId"`
	ProductType string    `json:"productType"`
	Quantity    int       `json:"quantity"`
	AddedAt     time.Time `json:"addedAt"`
}

type Cart struct {
	UserID string     `json:"userId"`
	Items  []CartItem `json:"items"`
}

type WishlistItem struct {
	ProductID   string    `json:"productId"`
	ProductType string    `json:"productType"`
	AddedAt     time.Time `json:"addedAt"`
}

const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

type Verification struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Status      string     `json:"status"`
	Documents   []string   `json:"documents"`
	Message     string     `json:"message,omitempty"`
	ReviewNotes string     `json:"reviewNotes,omitempty"`
	ReviewerID  *string    `json:"reviewerId,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
