package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/models"
	"github.com/craftcurio/marketplace/internal/payment"
)

const signatureHeader = "X-Razorpay-Signature"

// ownOrAdmin checks the caller placed the order or is an admin.
func (s *Server) ownOrAdmin(r *http.Request, orderID string) error {
	order, err := s.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		return err
	}
	p := principalFrom(r)
	if order.UserID != p.UserID && p.Role != models.RoleAdmin {
		return errForbidden
	}
	return nil
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID string          `json:"orderId"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, createIntentSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.ownOrAdmin(r, body.OrderID); err != nil {
		s.fail(w, r, err)
		return
	}

	intent, err := s.payments.CreateIntent(r.Context(), body.OrderID, body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, intent)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var body payment.VerifyRequest
	if err := decodeBody(r, verifyPaymentSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.ownOrAdmin(r, body.OrderID); err != nil {
		s.fail(w, r, err)
		return
	}

	order, err := s.payments.Verify(r.Context(), body)
	if errors.Is(err, payment.ErrInvalidSignature) {
		respondError(w, http.StatusInternalServerError, "invalid_signature", "Payment verification failed: invalid signature")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Payment verified successfully", order)
}

func (s *Server) handlePaymentFailure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID string                 `json:"orderId"`
		Error   *payment.FailureDetail `json:"error"`
	}
	if err := decodeBody(r, paymentFailureSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.ownOrAdmin(r, body.OrderID); err != nil {
		s.fail(w, r, err)
		return
	}

	order, err := s.payments.RecordFailure(r.Context(), body.OrderID, body.Error)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Payment failure recorded", order)
}

func (s *Server) handleFetchPayment(w http.ResponseWriter, r *http.Request) {
	details, err := s.payments.FetchPayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, details)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentID string           `json:"paymentId"`
		Amount    *decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, refundSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.payments.Refund(r.Context(), body.PaymentID, body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Refund processed successfully", result)
}

// handleWebhook authenticates the raw body before anything reads it as JSON.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.payments.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader)); err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
