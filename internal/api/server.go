// Package api is the HTTP surface of the marketplace. Every response uses
// the same JSON envelope.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/auth"
	"github.com/craftcurio/marketplace/internal/models"
	"github.com/craftcurio/marketplace/internal/payment"
	"github.com/craftcurio/marketplace/internal/store"
)

type UserStore interface {
	CreateUser(ctx context.Context, email, name, passwordHash, role string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
	PromoteToArtisan(ctx context.Context, userID string) (*models.User, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, req store.CreateOrderRequest) (*models.Order, error)
	Checkout(ctx context.Context, req store.CheckoutRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersCursor(ctx context.Context, userID, cursor string, limit int) (*store.CursorPage, error)
	UpdateOrderStatus(ctx context.Context, id string, u store.OrderStatusUpdate) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, id, paymentStatus string) (*models.Order, error)
	CancelOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateShippingAddress(ctx context.Context, id string, addr models.Address) (*models.Order, error)
	ListOrdersAdmin(ctx context.Context, f store.AdminOrderFilter) (*store.AdminOrderList, error)
	BulkUpdateOrders(ctx context.Context, ids []string, updates map[string]any) (int64, error)
}

type PaymentService interface {
	CreateIntent(ctx context.Context, orderID string, claimed decimal.Decimal) (*payment.Intent, error)
	Verify(ctx context.Context, req payment.VerifyRequest) (*models.Order, error)
	RecordFailure(ctx context.Context, orderID string, detail *payment.FailureDetail) (*models.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (json.RawMessage, error)
	Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) (*payment.RefundResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

type ProductStore interface {
	CreateProduct(ctx context.Context, p store.CreateProductParams) (*models.Product, error)
	ListProducts(ctx context.Context, kind string, page, pageSize int) (*store.OffsetPage, error)
	ViewProduct(ctx context.Context, id string) (*models.Product, error)
	LikeProduct(ctx context.Context, id string) (int64, error)
	UpdateStockOptimistic(ctx context.Context, id string, stock, version int) (*models.Product, error)
}

type CartStore interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	AddCartItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error)
	RemoveCartItem(ctx context.Context, userID, productID string) (*models.Cart, error)
	ClearCart(ctx context.Context, userID string) error
	GetWishlist(ctx context.Context, userID string) ([]models.WishlistItem, error)
	ToggleWishlist(ctx context.Context, userID, productID string) (bool, error)
}

type VerificationStore interface {
	SubmitVerification(ctx context.Context, userID string, documents []string, message string) (*models.Verification, error)
	GetVerification(ctx context.Context, id string) (*models.Verification, error)
	LatestVerification(ctx context.Context, userID string) (*models.Verification, error)
	ListVerifications(ctx context.Context, status string, page, pageSize int) (*store.OffsetPage, error)
	ApproveVerification(ctx context.Context, id, reviewerID, notes string) (*models.Verification, *models.User, error)
	RejectVerification(ctx context.Context, id, reviewerID, notes string) (*models.Verification, error)
}

// Deps are the collaborators a Server is built from. Any store may be nil in
// tests that do not exercise its routes.
type Deps struct {
	Users         UserStore
	Orders        OrderStore
	Payments      PaymentService
	Products      ProductStore
	Carts         CartStore
	Verifications VerificationStore
	Tokens        *auth.Issuer
	BcryptCost    int
	RateRPS       float64
	RateBurst     int
	// Health reports whether the backing database is reachable.
	Health func(ctx context.Context) error
	Log    *slog.Logger
}

type Server struct {
	users         UserStore
	orders        OrderStore
	payments      PaymentService
	products      ProductStore
	carts         CartStore
	verifications VerificationStore
	tokens        *auth.Issuer
	bcryptCost    int
	limiter       *ipRateLimiter
	health        func(ctx context.Context) error
	log           *slog.Logger
}

func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	rps, burst := d.RateRPS, d.RateBurst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}

	return &Server{
		users:         d.Users,
		orders:        d.Orders,
		payments:      d.Payments,
		products:      d.Products,
		carts:         d.Carts,
		verifications: d.Verifications,
		tokens:        d.Tokens,
		bcryptCost:    d.BcryptCost,
		limiter:       newIPRateLimiter(rps, burst),
		health:        d.Health,
		log:           log,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.middleware)
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/webhook", s.handleWebhook)

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.Use(s.limiter.middleware)
				r.Post("/create-order", s.handleCreateIntent)
				r.Post("/verify", s.handleVerifyPayment)
				r.Post("/failure", s.handlePaymentFailure)
				r.Get("/{paymentId}", s.handleFetchPayment)
				r.With(requireRole(models.RoleAdmin)).Post("/refund", s.handleRefund)
			})
		})

		r.Get("/products", s.handleListProducts)
		r.Get("/products/{id}", s.handleGetProduct)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/auth/me", s.handleMe)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", s.handleCreateOrder)
				r.Post("/checkout", s.handleCheckout)
				r.Get("/my-orders", s.handleMyOrders)
				r.Get("/{id}", s.handleGetOrder)
				r.Patch("/{id}/cancel", s.handleCancelOrder)
				r.Patch("/{id}/shipping-address", s.handleUpdateShippingAddress)

				r.Group(func(r chi.Router) {
					r.Use(requireRole(models.RoleAdmin))
					r.Get("/all", s.handleListAllOrders)
					r.Post("/bulk-update", s.handleBulkUpdate)
					r.Patch("/{id}/status", s.handleUpdateOrderStatus)
					r.Patch("/{id}/payment", s.handleUpdatePaymentStatus)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(models.RoleArtisan, models.RoleAdmin))
				r.Post("/products", s.handleCreateProduct)
				r.Patch("/products/{id}/stock", s.handleUpdateStock)
			})
			r.Post("/products/{id}/like", s.handleLikeProduct)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", s.handleGetCart)
				r.Delete("/", s.handleClearCart)
				r.Post("/items", s.handleAddCartItem)
				r.Delete("/items/{productId}", s.handleRemoveCartItem)
			})

			r.Get("/wishlist", s.handleGetWishlist)
			r.Post("/wishlist/toggle", s.handleToggleWishlist)

			r.Route("/verifications", func(r chi.Router) {
				r.Post("/", s.handleSubmitVerification)
				r.Get("/me", s.handleMyVerification)

				r.Group(func(r chi.Router) {
					r.Use(requireRole(models.RoleAdmin))
					r.Get("/", s.handleListVerifications)
					r.Get("/{id}", s.handleGetVerification)
					r.Patch("/{id}/approve", s.handleApproveVerification)
					r.Patch("/{id}/reject", s.handleRejectVerification)
				})
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(requireRole(models.RoleAdmin))
				r.Get("/", s.handleListUsers)
				r.Post("/{id}/promote", s.handlePromoteUser)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.WarnContext(r.Context(), "health check failed", slog.Any("err", err))
			respondError(w, http.StatusServiceUnavailable, "unhealthy", "database unreachable")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pageParams reads page and pageSize from the query string, clamped.
func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	return store.NormalizePage(page, pageSize)
}
