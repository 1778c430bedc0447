package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/craftcurio/marketplace/internal/auth"
	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, registerSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	hash, err := auth.HashPassword(body.Password, s.bcryptCost)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.users.CreateUser(r.Context(), body.Email, body.Name, hash, models.RoleBuyer)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusCreated, "Registered successfully", authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, loginSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), body.Email)
	if errors.Is(err, database.ErrUserNotFound) {
		s.fail(w, r, auth.ErrInvalidCredentials)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, body.Password); err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUser(r.Context(), principalFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := s.users.ListUsers(r.Context(), page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handlePromoteUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.PromoteToArtisan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "User promoted to artisan", user)
}
