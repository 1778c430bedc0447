package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/store"
)

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind        string          `json:"kind"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		Image       string          `json:"image"`
		Stock       int             `json:"stock"`
	}
	if err := decodeBody(r, createProductSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := s.products.CreateProduct(r.Context(), store.CreateProductParams{
		SellerID:    principalFrom(r).UserID,
		Kind:        body.Kind,
		Name:        body.Name,
		Description: body.Description,
		Price:       body.Price,
		Image:       body.Image,
		Stock:       body.Stock,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusCreated, "Product created successfully", product)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := s.products.ListProducts(r.Context(), r.URL.Query().Get("kind"), page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetProduct counts a view on every read.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.products.ViewProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

func (s *Server) handleLikeProduct(w http.ResponseWriter, r *http.Request) {
	likes, err := s.products.LikeProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"likes": likes})
}

// handleUpdateStock replaces a product's stock when the caller holds the
// current version.
func (s *Server) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Stock   int `json:"stock"`
		Version int `json:"version"`
	}
	if err := decodeBody(r, stockUpdateSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := s.products.UpdateStockOptimistic(r.Context(), chi.URLParam(r, "id"), body.Stock, body.Version)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.carts.GetCart(r.Context(), principalFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

func (s *Server) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	}
	if err := decodeBody(r, cartItemSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Quantity == 0 {
		body.Quantity = 1
	}

	cart, err := s.carts.AddCartItem(r.Context(), principalFrom(r).UserID, body.ProductID, body.Quantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Item added to cart", cart)
}

func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := s.carts.RemoveCartItem(r.Context(), principalFrom(r).UserID, chi.URLParam(r, "productId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Item removed from cart", cart)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := s.carts.ClearCart(r.Context(), principalFrom(r).UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Cart cleared", nil)
}

func (s *Server) handleGetWishlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.carts.GetWishlist(r.Context(), principalFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleToggleWishlist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID string `json:"productId"`
	}
	if err := decodeBody(r, wishlistToggleSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	in, err := s.carts.ToggleWishlist(r.Context(), principalFrom(r).UserID, body.ProductID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"productId": body.ProductID, "inWishlist": in})
}
