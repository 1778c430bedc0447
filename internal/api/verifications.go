package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/craftcurio/marketplace/internal/models"
)

func (s *Server) handleSubmitVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Documents []string `json:"documents"`
		Message   string   `json:"message"`
	}
	if err := decodeBody(r, submitVerificationSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	v, err := s.verifications.SubmitVerification(r.Context(), principalFrom(r).UserID, body.Documents, body.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusCreated, "Verification request submitted", v)
}

func (s *Server) handleMyVerification(w http.ResponseWriter, r *http.Request) {
	v, err := s.verifications.LatestVerification(r.Context(), principalFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleListVerifications(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := s.verifications.ListVerifications(r.Context(), r.URL.Query().Get("status"), page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	v, err := s.verifications.GetVerification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, v)
}

type reviewBody struct {
	Notes string `json:"notes"`
}

// decodeReview accepts an empty body.
func decodeReview(r *http.Request) (reviewBody, error) {
	var body reviewBody
	if r.ContentLength == 0 {
		return body, nil
	}
	err := decodeBody(r, reviewVerificationSchema, &body)
	return body, err
}

func (s *Server) handleApproveVerification(w http.ResponseWriter, r *http.Request) {
	body, err := decodeReview(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	v, user, err := s.verifications.ApproveVerification(r.Context(), chi.URLParam(r, "id"), principalFrom(r).UserID, body.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Verification approved", struct {
		Verification *models.Verification `json:"verification"`
		User         *models.User         `json:"user"`
	}{v, user})
}

func (s *Server) handleRejectVerification(w http.ResponseWriter, r *http.Request) {
	body, err := decodeReview(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	v, err := s.verifications.RejectVerification(r.Context(), chi.URLParam(r, "id"), principalFrom(r).UserID, body.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Verification rejected", v)
}
