package server

import (
	"encoding/json"
	"net/http"

	"github.com/TauNeutrino/kantine-overview/internal/bessa"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmployeeID string `json:"employeeId"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.EmployeeID == "" || req.Password == "" {
		s.respondError(w, http.StatusBadRequest, "Employee ID and password are required")
		return
	}

	result, err := s.upstream.Login(r.Context(), req.EmployeeID, req.Password)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authHeader(w, r)
	if !ok {
		return
	}
	user, err := s.upstream.UserInfo(r.Context(), auth)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"email":     user.Email,
	})
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authHeader(w, r)
	if !ok {
		return
	}
	dates, err := s.upstream.MenuDates(r.Context(), auth)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"dateOrders": dates})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Date        string   `json:"date"`
		ArticleID   int      `json:"articleId"`
		Name        string   `json:"name"`
		Price       *float64 `json:"price"`
		VAT         string   `json:"vat"`
		Description string   `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Date == "" || req.ArticleID == 0 || req.Name == "" || req.Price == nil {
		s.respondError(w, http.StatusBadRequest, "Missing required fields: date, articleId, name, price")
		return
	}

	result, err := s.upstream.PlaceOrder(r.Context(), auth, bessa.OrderRequest{
		Date:        req.Date,
		ArticleID:   req.ArticleID,
		Name:        req.Name,
		Description: req.Description,
		Price:       *req.Price,
		VAT:         req.VAT,
	})
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, result)
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.OrderID == 0 {
		s.respondError(w, http.StatusBadRequest, "Missing required field: orderId")
		return
	}

	result, err := s.upstream.CancelOrder(r.Context(), auth, req.OrderID)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"success": true,
		"orderId": result.OrderID,
		"state":   result.State,
	})
}

func (s *Server) handleCheckItem(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Date      string `json:"date"`
		ArticleID int    `json:"articleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Date == "" || req.ArticleID == 0 {
		s.respondError(w, http.StatusBadRequest, "Missing date or articleId")
		return
	}

	available, err := s.upstream.CheckItem(r.Context(), auth, req.Date, req.ArticleID)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"available": available})
}
